package main

import (
	"fmt"

	"github.com/sells-group/signal-outcomes/internal/orchestrator"
)

// statusError turns a non-success run status into an exitError.
func statusError(stage string, status orchestrator.ExitStatus, failed int) error {
	switch status {
	case orchestrator.StatusSuccess:
		return nil
	case orchestrator.StatusPartial:
		return &exitError{code: status.Code(), msg: fmt.Sprintf("%s finished with %d failures", stage, failed)}
	default:
		return &exitError{code: status.Code(), msg: fmt.Sprintf("%s failed", stage)}
	}
}

// countStatus is the exit status for a stage that reports a failure count.
func countStatus(failed int) orchestrator.ExitStatus {
	if failed > 0 {
		return orchestrator.StatusPartial
	}
	return orchestrator.StatusSuccess
}
