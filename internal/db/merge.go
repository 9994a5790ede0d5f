package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes rows staged through COPY and folded into Table keyed on
// Keys. Refresh lists the columns overwritten when a key already exists; when
// empty every non-key column is refreshed.
type Merge struct {
	Table   string
	Columns []string
	Keys    []string
	Refresh []string
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: table is required")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: no columns", m.Table)
	case len(m.Keys) == 0:
		return eris.Errorf("db: merge %s: no key columns", m.Table)
	}
	return nil
}

// stage is the session-local table rows are copied into.
func (m Merge) stage() pgx.Identifier {
	return pgx.Identifier{"stage_" + strings.ReplaceAll(m.Table, ".", "_")}
}

func (m Merge) refreshed() []string {
	if len(m.Refresh) > 0 {
		return m.Refresh
	}
	keys := make(map[string]struct{}, len(m.Keys))
	for _, k := range m.Keys {
		keys[k] = struct{}{}
	}
	var cols []string
	for _, c := range m.Columns {
		if _, ok := keys[c]; !ok {
			cols = append(cols, c)
		}
	}
	return cols
}

func (m Merge) createStageSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		m.stage().Sanitize(), tableIdent(m.Table).Sanitize())
}

// collapseSQL keeps the last staged row per key. A single INSERT ... ON
// CONFLICT cannot touch the same target row twice.
func (m Merge) collapseSQL() string {
	stage := m.stage().Sanitize()
	match := make([]string, len(m.Keys))
	for i, k := range m.Keys {
		id := pgx.Identifier{k}.Sanitize()
		match[i] = fmt.Sprintf("older.%s = newer.%s", id, id)
	}
	return fmt.Sprintf("DELETE FROM %s older USING %s newer WHERE older.ctid < newer.ctid AND %s",
		stage, stage, strings.Join(match, " AND "))
}

func (m Merge) insertSQL() string {
	cols := identList(m.Columns)
	refresh := m.refreshed()
	set := make([]string, len(refresh))
	for i, c := range refresh {
		id := pgx.Identifier{c}.Sanitize()
		set[i] = id + " = EXCLUDED." + id
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		tableIdent(m.Table).Sanitize(), cols, cols, m.stage().Sanitize(), identList(m.Keys), action)
}

// MergeRows copies rows into a staging table and merges them into the target
// in one transaction. It returns the number of target rows inserted or updated.
func MergeRows(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.createStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, m.stage(), m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy %d rows", m.Table, len(rows))
	}
	if _, err := tx.Exec(ctx, m.collapseSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: collapse duplicate keys", m.Table)
	}
	tag, err := tx.Exec(ctx, m.insertSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

// tableIdent splits an optional schema qualifier.
func tableIdent(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
