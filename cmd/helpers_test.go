package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/config"
	"github.com/sells-group/signal-outcomes/internal/store"
)

// useTestConfig installs a config with the defaults the commands rely on and
// pins the clock.
func useTestConfig(t *testing.T) {
	t.Helper()

	prevCfg, prevNow := cfg, nowFunc
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite"},
		Prices: config.PricesConfig{LookbackDays: 7},
		Report: config.ReportConfig{
			Horizon:         7,
			MinOutcomes:     1,
			ConfidenceEdges: []float64{0.5, 0.7, 0.9},
		},
		Backfill: config.BackfillConfig{IncrementalDays: 45},
	}
	nowFunc = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		cfg, nowFunc = prevCfg, prevNow
	})
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(t.Context()))
	return st
}
