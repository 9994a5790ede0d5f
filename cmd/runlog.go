package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/orchestrator"
	"github.com/sells-group/signal-outcomes/internal/store"
)

// startRun opens a run log entry. A failure to log is not fatal; the
// returned id is empty in that case.
func startRun(ctx context.Context, runs store.RunLog, kind model.RunKind) string {
	run, err := runs.CreateRun(ctx, kind)
	if err != nil {
		zap.L().Warn("create run log entry", zap.String("kind", string(kind)), zap.Error(err))
		return ""
	}
	return run.ID
}

// finishRun closes a run log entry with a fresh context so a cancelled
// command still records how it ended.
func finishRun(runs store.RunLog, runID string, status orchestrator.ExitStatus, summary map[string]any, runErr error) {
	if runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := runs.FinishRun(ctx, runID, status.RunStatus(), summary, msg); err != nil {
		zap.L().Warn("finish run log entry", zap.String("run_id", runID), zap.Error(err))
	}
}
