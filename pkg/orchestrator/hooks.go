package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/diffplan"
)

// Run is what a hook sees after an outcome has been produced.
type Run struct {
	Plan     *diffplan.Plan
	RepoURL  string
	DryRun   bool
	Outcome  Outcome
	Started  time.Time
	Duration time.Duration
}

// Hook observes completed runs. Returned errors are logged and never change
// the outcome.
type Hook interface {
	AfterRun(ctx context.Context, run Run) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, run Run) error

func (f HookFunc) AfterRun(ctx context.Context, run Run) error {
	return f(ctx, run)
}

func (o *Orchestrator) runHooks(ctx context.Context, run Run) {
	for i, h := range o.hooks {
		if err := h.AfterRun(ctx, run); err != nil {
			o.logger.Warn("run hook failed",
				zap.Int("hook", i),
				zap.String("status", string(run.Outcome.Status())),
				zap.Error(err))
		}
	}
}
