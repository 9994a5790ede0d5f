// Package orchestrator drives backfill followed by outcome calculation over
// a rolling window.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/backfill"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/outcome"
	"github.com/sells-group/signal-outcomes/internal/store"
)

// ErrAlreadyRunning is returned by RunOnce while another run is in flight.
var ErrAlreadyRunning = eris.New("orchestrator: a run is already in progress")

// ExitStatus summarizes a pipeline run for operators and exit codes.
type ExitStatus string

const (
	StatusSuccess ExitStatus = "success"
	StatusPartial ExitStatus = "partial"
	StatusFailed  ExitStatus = "failed"
)

// Code maps the status to a process exit code.
func (s ExitStatus) Code() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

// RunStatus maps the exit status to the run log status.
func (s ExitStatus) RunStatus() model.RunStatus {
	switch s {
	case StatusSuccess:
		return model.RunStatusComplete
	case StatusPartial:
		return model.RunStatusPartial
	default:
		return model.RunStatusFailed
	}
}

// Backfiller is the backfill stage.
type Backfiller interface {
	Run(ctx context.Context, req backfill.Request) (*backfill.Summary, error)
}

// Calculator is the outcome stage.
type Calculator interface {
	Run(ctx context.Context, req outcome.Request) (*outcome.Summary, error)
}

// Result carries both stage summaries.
type Result struct {
	RunID      string            `json:"run_id,omitempty"`
	WindowDays int               `json:"window_days"`
	Since      time.Time         `json:"since"`
	Backfill   *backfill.Summary `json:"backfill,omitempty"`
	Outcome    *outcome.Summary  `json:"outcome,omitempty"`
	Status     ExitStatus        `json:"status"`
	Errors     []string          `json:"errors,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Orchestrator runs the pipeline. Only one run executes at a time per
// Orchestrator; the guard is in-process only.
type Orchestrator struct {
	backfill Backfiller
	calc     Calculator
	runs     store.RunLog
	force    bool
	nowFunc  func() time.Time
	running  atomic.Bool
}

// New creates an Orchestrator. runs may be nil to skip the run log.
func New(b Backfiller, c Calculator, runs store.RunLog) *Orchestrator {
	return &Orchestrator{backfill: b, calc: c, runs: runs, nowFunc: time.Now}
}

// WithClock replaces the clock used to compute the window start.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.nowFunc = now
	return o
}

// WithForce makes every run refetch prices and recompute complete outcomes.
func (o *Orchestrator) WithForce(force bool) *Orchestrator {
	o.force = force
	return o
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunOnce backfills prices for predictions in the last windowDays days, then
// calculates outcomes for the same window. A stage error marks the result
// failed; the calculation still runs after a backfill error since stored
// prices remain valid.
func (o *Orchestrator) RunOnce(ctx context.Context, windowDays int) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	start := time.Now()
	since := model.AddDays(model.Day(o.nowFunc()), -max(windowDays, 0))
	res := &Result{WindowDays: windowDays, Since: since}

	log := zap.L().With(zap.String("component", "orchestrator"), zap.Int("window_days", windowDays))
	log.Info("pipeline starting", zap.String("since", model.FormatDate(since)))

	if o.runs != nil {
		run, err := o.runs.CreateRun(ctx, model.RunKindPipeline)
		if err != nil {
			log.Warn("create run log entry", zap.Error(err))
		} else {
			res.RunID = run.ID
		}
	}

	var hardFailure bool

	bsum, err := o.backfill.Run(ctx, backfill.Request{Since: since, Force: o.force, IncludeIncomplete: true})
	res.Backfill = bsum
	if err != nil {
		hardFailure = true
		res.Errors = append(res.Errors, eris.Wrap(err, "orchestrator: backfill").Error())
		log.Error("backfill stage failed", zap.Error(err))
	}

	if ctx.Err() == nil {
		osum, err := o.calc.Run(ctx, outcome.Request{Since: since, Force: o.force})
		res.Outcome = osum
		if err != nil {
			hardFailure = true
			res.Errors = append(res.Errors, eris.Wrap(err, "orchestrator: calculate").Error())
			log.Error("calculate stage failed", zap.Error(err))
		}
	} else {
		hardFailure = true
		res.Errors = append(res.Errors, eris.Wrap(ctx.Err(), "orchestrator: cancelled before calculate").Error())
	}

	switch {
	case hardFailure:
		res.Status = StatusFailed
	case (bsum != nil && bsum.Failed > 0) || (res.Outcome != nil && res.Outcome.Failed > 0):
		res.Status = StatusPartial
	default:
		res.Status = StatusSuccess
	}
	res.Elapsed = time.Since(start)

	o.finish(res)

	log.Info("pipeline complete",
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// finish records the result in the run log. It uses a fresh context so a
// cancelled run is still closed out.
func (o *Orchestrator) finish(res *Result) {
	if o.runs == nil || res.RunID == "" {
		return
	}
	summary := map[string]any{
		"window_days": res.WindowDays,
		"since":       model.FormatDate(res.Since),
		"status":      string(res.Status),
	}
	if res.Backfill != nil {
		summary["backfill"] = res.Backfill.Map()
	}
	if res.Outcome != nil {
		summary["outcome"] = res.Outcome.Map()
	}
	var errMsg string
	if len(res.Errors) > 0 {
		errMsg = res.Errors[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.runs.FinishRun(ctx, res.RunID, res.Status.RunStatus(), summary, errMsg); err != nil {
		zap.L().Warn("orchestrator: finish run log entry", zap.String("run_id", res.RunID), zap.Error(err))
	}
}
