package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWaitSlice is the longest single sleep inside a pacing wait.
	DefaultWaitSlice = 30 * time.Second

	// Waits at or below this length run as a single slice.
	wholeWaitCutoff = 60 * time.Second

	// Progress is logged every this many slices.
	waitProgressEvery = 4
)

// ErrWaitCanceled is returned when a pacing wait is interrupted by its context.
var ErrWaitCanceled = errors.New("pacing wait canceled")

// sliceFor returns the slice length used to wait for total.
func sliceFor(total, slice time.Duration) time.Duration {
	if total <= wholeWaitCutoff {
		return total
	}
	if slice <= 0 || slice > DefaultWaitSlice {
		return DefaultWaitSlice
	}
	return slice
}

// wait blocks for total in slices, returning ErrWaitCanceled as soon as ctx is done.
func (c *Controller) wait(ctx context.Context, total time.Duration) error {
	if total <= 0 {
		return nil
	}

	slice := sliceFor(total, c.waitSlice)
	var (
		elapsed time.Duration
		slices  int
	)
	for elapsed < total {
		if err := ctx.Err(); err != nil {
			return canceled(err, elapsed, total)
		}

		step := slice
		if remaining := total - elapsed; remaining < step {
			step = remaining
		}

		select {
		case <-ctx.Done():
			return canceled(ctx.Err(), elapsed, total)
		case <-c.after(step):
		}

		elapsed += step
		slices++
		if slices%waitProgressEvery == 0 && elapsed < total {
			c.logDebug("Pacing wait progress",
				zap.Duration("elapsed", elapsed),
				zap.Duration("remaining", total-elapsed))
		}
	}
	return nil
}

func canceled(cause error, elapsed, total time.Duration) error {
	return fmt.Errorf("%w after %s of %s: %w", ErrWaitCanceled, elapsed, total, cause)
}
