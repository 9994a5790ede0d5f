package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/config"
)

var cfg *config.Config

// nowFunc is the clock used for relative date flags.
var nowFunc = time.Now

var rootCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Prediction outcome tracker",
	Long:  "Backfills daily prices for predicted assets and scores each prediction against what the market actually did at T+1, T+3, T+7 and T+30.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// exitCode maps a command error to the process exit status: 0 on success,
// 2 for partial failures, 1 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	os.Exit(exitCode(err))
}
