package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/orchestrator"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"backfill", "calculate", "pipeline", "schedule", "report", "serve", "runs", "migrate", "prices"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "outcomes", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestBackfillCommand_Flags(t *testing.T) {
	for _, name := range []string{"symbols", "since", "incremental", "force"} {
		assert.NotNil(t, backfillCmd.Flags().Lookup(name), "backfill should have --%s flag", name)
	}
}

func TestCalculateCommand_Flags(t *testing.T) {
	for _, name := range []string{"force", "since", "until", "window"} {
		assert.NotNil(t, calculateCmd.Flags().Lookup(name), "calculate should have --%s flag", name)
	}
}

func TestPipelineCommand_Flags(t *testing.T) {
	flag := pipelineCmd.Flags().Lookup("window")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, pipelineCmd.Flags().Lookup("force"))
}

func TestReportCommand_Flags(t *testing.T) {
	flag := reportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	for _, name := range []string{"since", "until", "horizon", "symbol", "min-outcomes"} {
		assert.NotNil(t, reportCmd.Flags().Lookup(name), "report should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestScheduleCommand_Flags(t *testing.T) {
	assert.NotNil(t, scheduleCmd.Flags().Lookup("cron"))
	assert.NotNil(t, scheduleCmd.Flags().Lookup("window"))
}

func TestRunsAndPrices_HaveSubcommands(t *testing.T) {
	has := func(names map[string]bool, want ...string) {
		for _, n := range want {
			assert.True(t, names[n], "missing subcommand %q", n)
		}
	}

	runs := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		runs[c.Name()] = true
	}
	has(runs, "list", "show")

	prices := make(map[string]bool)
	for _, c := range pricesCmd.Commands() {
		prices[c.Name()] = true
	}
	has(prices, "get", "range")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(&exitError{code: 2, msg: "partial"}))
	assert.Equal(t, 2, exitCode(statusError("backfill", orchestrator.StatusPartial, 3)))
	assert.Equal(t, 1, exitCode(statusError("pipeline", orchestrator.StatusFailed, 0)))
}

func TestStatusError(t *testing.T) {
	assert.NoError(t, statusError("calculate", orchestrator.StatusSuccess, 0))

	err := statusError("calculate", orchestrator.StatusPartial, 4)
	require.Error(t, err)
	assert.Equal(t, "calculate finished with 4 failures", err.Error())

	assert.Equal(t, orchestrator.StatusPartial, countStatus(1))
	assert.Equal(t, orchestrator.StatusSuccess, countStatus(0))
}
