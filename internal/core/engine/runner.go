package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quotapace/quotapace/internal/core"
)

// Target is one remote endpoint driven through the shared controller.
type Target struct {
	Name   string
	Prober Prober
}

// CallResult describes one paced call.
type CallResult struct {
	Target    string            `json:"target"`
	Iteration int               `json:"iteration"`
	Status    *core.QuotaStatus `json:"status,omitempty"`
	Err       error             `json:"-"`
	Interval  int               `json:"interval_seconds"`
	At        time.Time         `json:"at"`
}

// Runner paces calls to several targets through one Controller. Each target
// gets its own goroutine; they share the interval, the sample ring and the
// quota map.
type Runner struct {
	Controller *Controller
	Targets    []Target

	// Iterations bounds the calls per target; zero runs until ctx ends.
	Iterations int

	// OnResult, if set, is called after every call. It may run concurrently.
	OnResult func(CallResult)

	Clock func() time.Time
}

// Run drives every target until its iteration budget is spent or ctx ends.
// Cancellation is a clean stop and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r == nil || r.Controller == nil {
		return fmt.Errorf("runner requires a controller")
	}
	if len(r.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	for _, target := range r.Targets {
		if strings.TrimSpace(target.Name) == "" {
			return fmt.Errorf("target name is required")
		}
		if target.Prober == nil {
			return fmt.Errorf("target %s has no prober", target.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range r.Targets {
		g.Go(func() error {
			return r.drive(gctx, target)
		})
	}

	err := g.Wait()
	if errors.Is(err, ErrWaitCanceled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) drive(ctx context.Context, target Target) error {
	for i := 1; r.Iterations <= 0 || i <= r.Iterations; i++ {
		if err := r.Controller.BeforeCall(ctx); err != nil {
			return err
		}

		status, err := target.Prober.Probe(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.Controller.AfterCall(target.Name, status, err)

		if r.OnResult != nil {
			r.OnResult(CallResult{
				Target:    target.Name,
				Iteration: i,
				Status:    status,
				Err:       err,
				Interval:  r.Controller.Interval(),
				At:        r.now(),
			})
		}
	}
	return nil
}

func (r *Runner) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
