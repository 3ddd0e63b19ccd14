package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/core"
)

// Calibration tuning.
const (
	// CalibrationFallbackInterval is used when no candidate proves safe.
	CalibrationFallbackInterval = 120

	calibrationProbesPerCandidate = 5
	calibrationCandidateBudget    = 5 * time.Minute
	calibrationAbortRate          = 0.8
	calibrationQualifyRate        = 0.9
	calibrationMinFloor           = 15
	calibrationFloorMargin        = 15

	// CalibrationEndpoint labels samples recorded from probe calls.
	CalibrationEndpoint = "calibration"
)

// DefaultCalibrationLadder is the ascending list of candidate intervals, in seconds.
var DefaultCalibrationLadder = []int{15, 30, 45, 60, 90, 120, 180}

var (
	// ErrCalibrationActive is returned when a calibration is already running.
	ErrCalibrationActive = errors.New("calibration already in progress")

	// ErrNoProber is returned when Calibrate is called without a prober.
	ErrNoProber = errors.New("calibration requires a prober")
)

// Prober issues one lightweight call against the remote service and returns
// whatever quota metadata the response carried.
type Prober interface {
	Probe(ctx context.Context) (*core.QuotaStatus, error)
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) (*core.QuotaStatus, error)

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context) (*core.QuotaStatus, error) {
	return f(ctx)
}

// Calibrate searches the ladder for the shortest interval the remote service
// tolerates. A non-positive duration leaves the ladder unbounded in time.
//
// While it runs, recompute is suppressed and BeforeCall keeps pacing with the
// last committed interval. On cancellation the partial result is returned with
// the error and nothing is committed.
func (c *Controller) Calibrate(ctx context.Context, duration time.Duration) (core.CalibrationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.prober == nil {
		return core.CalibrationResult{}, ErrNoProber
	}

	c.mu.Lock()
	if c.calibrating {
		c.mu.Unlock()
		return core.CalibrationResult{}, ErrCalibrationActive
	}
	c.calibrating = true
	c.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			c.finishCalibrating()
		}
	}()

	start := c.now()
	result := core.CalibrationResult{RunID: uuid.NewString()}

	c.logInfo("Calibration started",
		zap.String("run_id", result.RunID),
		zap.Ints("ladder", c.ladder),
		zap.Duration("duration", duration))

	expired := func() bool {
		return duration > 0 && c.now().Sub(start) >= duration
	}

	for _, candidate := range c.ladder {
		if expired() {
			c.logInfo("Calibration time budget spent", zap.String("run_id", result.RunID))
			break
		}

		trial, err := c.runTrial(ctx, candidate, expired)
		if trial.Cycles > 0 {
			result.Trials = append(result.Trials, trial)
		}
		if err != nil {
			result.Duration = c.now().Sub(start)
			c.logWarn("Calibration interrupted",
				zap.String("run_id", result.RunID),
				zap.Error(err))
			return result, err
		}
		if trial.Cycles == 0 {
			continue
		}

		c.logInfo("Calibration candidate tested",
			zap.String("run_id", result.RunID),
			zap.Int("interval", candidate),
			zap.Int("cycles", trial.Cycles),
			zap.Int("errors", trial.Errors),
			zap.Float64("success_rate", trial.SuccessRate))

		// Failures below the first safe rung are the lower edge being found;
		// a failing rung above it ends the search.
		if trial.SuccessRate < calibrationAbortRate && qualifying(result.Trials) > 0 {
			result.Aborted = true
			break
		}
	}

	result.Optimal = qualifying(result.Trials)
	if result.Optimal == 0 {
		result.Optimal = CalibrationFallbackInterval
		result.Fallback = true
	}
	result.Recommendation = core.Recommendation(result.Optimal)
	result.Duration = c.now().Sub(start)

	c.commitCalibration(result)
	committed = true
	return result, nil
}

// runTrial probes candidate until the probe count or per-candidate budget is
// spent, or the first failure.
func (c *Controller) runTrial(ctx context.Context, candidate int, expired func() bool) (core.CalibrationTrial, error) {
	trial := core.CalibrationTrial{IntervalSeconds: candidate}
	trialStart := c.now()
	interval := time.Duration(candidate) * time.Second

	finish := func() core.CalibrationTrial {
		trial.SuccessRate = float64(trial.Cycles-trial.Errors) / float64(max(trial.Cycles, 1))
		trial.FinishedAt = c.now()
		return trial
	}

	for trial.Cycles < calibrationProbesPerCandidate && c.now().Sub(trialStart) < calibrationCandidateBudget {
		if expired() {
			break
		}
		if err := c.wait(ctx, interval); err != nil {
			return finish(), err
		}

		status, err := c.prober.Probe(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(), fmt.Errorf("calibration probe: %w", ctxErr)
		}
		trial.Cycles++
		c.recordProbe(status)

		if err == nil {
			continue
		}

		trial.Errors++
		if errors.Is(err, core.ErrQuotaExceeded) {
			c.recorder.QuotaExceeded(CalibrationEndpoint)
			c.logWarn("Calibration probe hit quota",
				zap.Int("interval", candidate),
				zap.Duration("cooldown", c.calibrationCooldown))
			if c.calibrationCooldown > 0 {
				if werr := c.wait(ctx, c.calibrationCooldown); werr != nil {
					return finish(), werr
				}
			}
		} else {
			c.logDebug("Calibration probe failed",
				zap.Int("interval", candidate),
				zap.Error(err))
		}
		break
	}
	return finish(), nil
}

// recordProbe feeds probe metadata into the tracker and ring without
// triggering a recompute.
func (c *Controller) recordProbe(status *core.QuotaStatus) {
	if status == nil {
		return
	}

	c.mu.Lock()
	err := c.tracker.Update(CalibrationEndpoint, *status)
	if err == nil {
		c.appendSampleLocked(CalibrationEndpoint, *status)
	}
	c.mu.Unlock()

	if err != nil {
		c.logWarn("Rejected malformed quota status", zap.String("endpoint", CalibrationEndpoint), zap.Error(err))
	}
}

func (c *Controller) commitCalibration(result core.CalibrationResult) {
	c.mu.Lock()
	from := c.current
	c.current = result.Optimal
	c.cfg.MinInterval = max(calibrationMinFloor, result.Optimal-calibrationFloorMargin)
	if c.cfg.MaxInterval < result.Optimal {
		c.cfg.MaxInterval = result.Optimal
	}
	c.tracker.Remove(CalibrationEndpoint)
	c.calibrating = false
	c.mu.Unlock()

	c.logInfo("Calibration finished",
		zap.String("run_id", result.RunID),
		zap.Int("optimal", result.Optimal),
		zap.Bool("fallback", result.Fallback),
		zap.Bool("aborted", result.Aborted),
		zap.String("recommendation", result.Recommendation),
		zap.Duration("took", result.Duration))

	if from != result.Optimal {
		c.recorder.IntervalChanged(from, result.Optimal, "calibration")
	}
	c.recorder.CalibrationFinished(result)
	c.persist()
}

// finishCalibrating ends an uncommitted run. Probe quotas are dropped because
// no later traffic reports under the calibration endpoint.
func (c *Controller) finishCalibrating() {
	c.mu.Lock()
	c.tracker.Remove(CalibrationEndpoint)
	c.calibrating = false
	c.mu.Unlock()
}

// Calibrating reports whether a calibration run is in progress.
func (c *Controller) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibrating
}

// qualifying returns the smallest trial interval with a qualifying success
// rate, or 0 when none qualifies.
func qualifying(trials []core.CalibrationTrial) int {
	best := 0
	for _, trial := range trials {
		if trial.SuccessRate < calibrationQualifyRate {
			continue
		}
		if best == 0 || trial.IntervalSeconds < best {
			best = trial.IntervalSeconds
		}
	}
	return best
}
