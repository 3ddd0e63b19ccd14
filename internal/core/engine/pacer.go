package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/core"
)

// Algorithm constants for the steady-state recompute.
const (
	minSamplesForRecompute = 5
	recomputeWindow        = 10
	trendSpan              = 3
	targetBand             = 0.1
	trendThreshold         = 0.05
	trendAmplifier         = 1.5

	// HysteresisSeconds is the smallest interval change worth committing.
	HysteresisSeconds = 5

	summaryWindow = 20
)

// Emergency and backoff ceilings, in seconds.
const (
	MaxEmergencyInterval = 300
	MaxBackoffInterval   = 300

	DefaultBackoffFactor = 1.5
	minBackoffFactor     = 1.2
	maxBackoffFactor     = 1.5
)

const defaultPersistTimeout = 5 * time.Second

// StateStore persists the controller snapshot.
type StateStore interface {
	// LoadPacingState returns nil, nil when no snapshot exists yet.
	LoadPacingState(ctx context.Context) (*core.ControllerState, error)
	SavePacingState(ctx context.Context, state *core.ControllerState) error
}

// Recorder observes controller events, typically to emit metrics.
type Recorder interface {
	IntervalChanged(from, to int, reason string)
	QuotaExceeded(endpoint string)
	WaitFinished(waited time.Duration, mode core.PacingMode, canceled bool)
	CalibrationFinished(result core.CalibrationResult)
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Store    StateStore
	Prober   Prober
	Logger   *logging.Logger
	Recorder Recorder

	// Defaults seeds the state when nothing usable is persisted.
	Defaults *core.ControllerState

	Clock func() time.Time
	After func(time.Duration) <-chan time.Time

	BackoffFactor       float64
	WaitSlice           time.Duration
	CriticalThreshold   float64
	CalibrationLadder   []int
	CalibrationCooldown time.Duration
	PersistTimeout      time.Duration
}

// Controller decides how long to wait between calls to a quota-limited service.
//
// One mutex guards the interval, the sample ring, the quota tracker and the
// policy. BeforeCall snapshots the decision under that lock and sleeps without
// it, so a concurrent recompute never stretches or shortens a wait in flight.
type Controller struct {
	mu          sync.Mutex
	current     int
	samples     []core.PerformanceSample
	cfg         core.ControllerConfig
	tracker     *QuotaTracker
	calibrating bool
	updatedAt   time.Time

	// saveMu orders snapshots with their writes.
	saveMu sync.Mutex

	store    StateStore
	prober   Prober
	logger   *logging.Logger
	recorder Recorder

	clock func() time.Time
	after func(time.Duration) <-chan time.Time

	backoffFactor       float64
	waitSlice           time.Duration
	criticalThreshold   float64
	ladder              []int
	calibrationCooldown time.Duration
	persistTimeout      time.Duration
}

// NewController builds a controller and loads its persisted state. A missing
// snapshot is created from defaults; an unreadable or invalid one is logged and
// replaced with defaults.
func NewController(ctx context.Context, opts Options) *Controller {
	if ctx == nil {
		ctx = context.Background()
	}

	c := &Controller{
		tracker:             NewQuotaTracker(),
		store:               opts.Store,
		prober:              opts.Prober,
		logger:              opts.Logger,
		recorder:            opts.Recorder,
		clock:               opts.Clock,
		after:               opts.After,
		backoffFactor:       opts.BackoffFactor,
		waitSlice:           opts.WaitSlice,
		criticalThreshold:   opts.CriticalThreshold,
		ladder:              opts.CalibrationLadder,
		calibrationCooldown: opts.CalibrationCooldown,
		persistTimeout:      opts.PersistTimeout,
	}
	if c.recorder == nil {
		c.recorder = noopRecorder{}
	}
	if c.clock == nil {
		c.clock = func() time.Time { return time.Now().UTC() }
	}
	c.tracker.clock = c.clock
	if c.after == nil {
		c.after = time.After
	}
	if c.backoffFactor < minBackoffFactor || c.backoffFactor > maxBackoffFactor {
		c.backoffFactor = DefaultBackoffFactor
	}
	if c.criticalThreshold <= 0 || c.criticalThreshold >= 1 {
		c.criticalThreshold = DefaultCriticalThreshold
	}
	if len(c.ladder) == 0 {
		c.ladder = DefaultCalibrationLadder
	}
	if c.calibrationCooldown < 0 {
		c.calibrationCooldown = 0
	}
	if c.persistTimeout <= 0 {
		c.persistTimeout = defaultPersistTimeout
	}

	defaults := opts.Defaults.Clone()
	if defaults == nil || defaults.Config.Validate() != nil {
		defaults = core.NewControllerState()
	}

	state, created := c.loadState(ctx, defaults)
	c.apply(state)
	if created {
		c.persist()
	}
	return c
}

func (c *Controller) loadState(ctx context.Context, defaults *core.ControllerState) (*core.ControllerState, bool) {
	if c.store == nil {
		return defaults, false
	}

	state, err := c.store.LoadPacingState(ctx)
	switch {
	case err != nil:
		c.logWarn("Pacing state unreadable, using defaults", zap.Error(err))
		return defaults, true
	case state == nil:
		c.logInfo("No pacing state found, creating defaults",
			zap.Int("interval", defaults.CurrentInterval))
		return defaults, true
	}

	if err := state.Config.Validate(); err != nil {
		c.logWarn("Persisted pacing config invalid, using defaults", zap.Error(err))
		return defaults, true
	}
	if state.CurrentInterval <= 0 {
		state.CurrentInterval = defaults.CurrentInterval
	}

	c.logInfo("Pacing state loaded",
		zap.Int("interval", state.CurrentInterval),
		zap.Int("samples", len(state.Samples)))
	return state, false
}

func (c *Controller) apply(state *core.ControllerState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = state.CurrentInterval
	c.cfg = state.Config
	c.samples = trimSamples(append([]core.PerformanceSample(nil), state.Samples...))
	c.tracker.restore(state.Quotas)
	c.updatedAt = state.UpdatedAt
}

// BeforeCall waits for the currently decided interval. It returns an error
// wrapping ErrWaitCanceled if ctx ends first.
func (c *Controller) BeforeCall(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	decision := c.Decide()
	total := time.Duration(decision.IntervalSeconds) * time.Second

	if decision.Mode == core.ModeEmergency {
		c.logWarn("Critical quota, emergency pacing",
			zap.Int("interval", decision.IntervalSeconds),
			zap.Any("critical", decision.Critical))
	} else {
		c.logDebug("Pacing wait",
			zap.String("mode", string(decision.Mode)),
			zap.Int("interval", decision.IntervalSeconds),
			zap.Time("next_call", c.now().Add(total)))
	}

	start := c.now()
	err := c.wait(ctx, total)
	c.recorder.WaitFinished(c.now().Sub(start), decision.Mode, err != nil)
	if err != nil {
		c.logInfo("Pacing wait interrupted", zap.Error(err))
	}
	return err
}

// Decide resolves the interval BeforeCall would use right now.
func (c *Controller) Decide() core.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calibrating {
		return core.Decision{Mode: core.ModeCalibrating, IntervalSeconds: c.current}
	}

	critical := c.tracker.CriticalEndpoints(c.criticalThreshold)
	if len(critical) > 0 {
		return core.Decision{
			Mode:            core.ModeEmergency,
			IntervalSeconds: EmergencyInterval(c.current, critical[0].RemainingRatio, c.criticalThreshold),
			Critical:        critical,
		}
	}
	return core.Decision{Mode: core.ModeNormal, IntervalSeconds: c.current}
}

// EmergencyInterval inflates current as criticalRatio approaches zero, capped
// at MaxEmergencyInterval.
func EmergencyInterval(current int, criticalRatio, threshold float64) int {
	if threshold <= 0 {
		threshold = DefaultCriticalThreshold
	}
	inflated := int(math.Round(float64(current) * (1 + (threshold-criticalRatio)*10)))
	if inflated > MaxEmergencyInterval {
		return MaxEmergencyInterval
	}
	if inflated < current {
		return current
	}
	return inflated
}

// AfterCall ingests the outcome of one remote call. status may be nil when the
// response carried no quota metadata.
func (c *Controller) AfterCall(endpoint string, status *core.QuotaStatus, callErr error) {
	var (
		sampled   bool
		rejectErr error
		backedOff bool
		from, to  int
	)

	c.mu.Lock()
	if status != nil {
		if err := c.tracker.Update(endpoint, *status); err != nil {
			rejectErr = err
		} else {
			c.appendSampleLocked(endpoint, *status)
			sampled = true
		}
	}
	if errors.Is(callErr, core.ErrQuotaExceeded) {
		from, to = c.backoffLocked()
		backedOff = true
	}
	c.mu.Unlock()

	if rejectErr != nil {
		c.logWarn("Rejected malformed quota status",
			zap.String("endpoint", endpoint),
			zap.Error(rejectErr))
	}

	if backedOff {
		c.recorder.QuotaExceeded(endpoint)
		c.logWarn("Quota exceeded, backing off",
			zap.String("endpoint", endpoint),
			zap.Int("from", from),
			zap.Int("to", to))
		if from != to {
			c.recorder.IntervalChanged(from, to, "quota_exceeded")
		}
		c.persist()
		return
	}

	if sampled {
		c.RecomputeInterval()
	}
}

// backoffLocked multiplies the interval after a quota rejection, bounded by the
// backoff ceiling and never lowering it.
func (c *Controller) backoffLocked() (int, int) {
	ceiling := MaxBackoffInterval
	if c.cfg.MaxInterval < ceiling {
		ceiling = c.cfg.MaxInterval
	}

	from := c.current
	to := int(math.Round(float64(from) * c.backoffFactor))
	if to > ceiling {
		to = ceiling
	}
	if to < from {
		to = from
	}
	c.current = to
	return from, to
}

func (c *Controller) appendSampleLocked(endpoint string, status core.QuotaStatus) {
	c.samples = append(c.samples, core.PerformanceSample{
		Timestamp:       c.now(),
		Endpoint:        endpoint,
		RemainingRatio:  status.RemainingRatio(),
		IntervalSeconds: c.current,
		ResetAt:         status.ResetAt,
	})
	c.samples = trimSamples(c.samples)
}

func trimSamples(samples []core.PerformanceSample) []core.PerformanceSample {
	if len(samples) <= core.SampleCapacity {
		return samples
	}
	return append([]core.PerformanceSample(nil), samples[len(samples)-core.SampleCapacity:]...)
}

// RecomputeInterval runs the steady-state algorithm and returns the interval in
// effect afterwards. Changes within HysteresisSeconds are discarded, and
// nothing changes while a calibration is running.
func (c *Controller) RecomputeInterval() int {
	c.mu.Lock()
	if c.calibrating {
		current := c.current
		c.mu.Unlock()
		return current
	}

	from := c.current
	next, ok := computeInterval(c.samples, from, c.cfg)
	if !ok || absInt(next-from) <= HysteresisSeconds {
		c.mu.Unlock()
		return from
	}
	c.current = next
	c.mu.Unlock()

	c.logInfo("Pacing interval adjusted", zap.Int("from", from), zap.Int("to", next))
	c.recorder.IntervalChanged(from, next, "recompute")
	c.persist()
	return next
}

// computeInterval is the pure trend algorithm. ok is false when there is not
// enough signal to decide.
func computeInterval(samples []core.PerformanceSample, current int, cfg core.ControllerConfig) (int, bool) {
	if len(samples) < minSamplesForRecompute {
		return current, false
	}

	recent := samples
	if len(recent) > recomputeWindow {
		recent = recent[len(recent)-recomputeWindow:]
	}
	avg := meanRatio(recent)

	trend := 0.0
	if len(recent) >= 2*trendSpan {
		n := len(recent)
		trend = meanRatio(recent[n-trendSpan:]) - meanRatio(recent[n-2*trendSpan:n-trendSpan])
	}

	cur := float64(current)
	target := cfg.TargetRemainingRatio

	var adjustment float64
	switch {
	case avg > target+targetBand:
		adjustment = -math.Max(10, cur*0.1)
		if trend > 0 {
			adjustment *= trendAmplifier
		}
	case avg < target-targetBand:
		adjustment = math.Max(15, cur*0.2)
		if trend < 0 {
			adjustment *= trendAmplifier
		}
	case trend > trendThreshold:
		adjustment = -math.Max(5, cur*0.05)
	case trend < -trendThreshold:
		adjustment = math.Max(5, cur*0.05)
	}

	next := int(math.Round(cur + adjustment*cfg.LearningRate))
	return clampInt(next, cfg.MinInterval, cfg.MaxInterval), true
}

// Summary reports recent pacing performance.
func (c *Controller) Summary() core.PerformanceSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := core.PerformanceSummary{
		CurrentInterval:      c.current,
		TargetRemainingRatio: c.cfg.TargetRemainingRatio,
		TotalSamples:         len(c.samples),
		RecentEndpoints:      []string{},
		Critical:             c.tracker.CriticalEndpoints(c.criticalThreshold),
		Config:               c.cfg,
	}
	if len(c.samples) == 0 {
		return summary
	}

	recent := c.samples
	if len(recent) > summaryWindow {
		recent = recent[len(recent)-summaryWindow:]
	}

	var intervals float64
	endpoints := map[string]struct{}{}
	for _, sample := range recent {
		intervals += float64(sample.IntervalSeconds)
		endpoints[sample.Endpoint] = struct{}{}
	}
	summary.AvgRemainingRatio = meanRatio(recent)
	summary.AvgInterval = intervals / float64(len(recent))

	if len(recent) >= 2 {
		span := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp).Seconds()
		if span > 0 {
			summary.SamplesPerMinute = float64(len(recent)) / span * 60
		}
	}

	if c.cfg.TargetRemainingRatio > 0 {
		summary.EfficiencyScore = math.Min(100, summary.AvgRemainingRatio/c.cfg.TargetRemainingRatio*100)
	}

	for endpoint := range endpoints {
		summary.RecentEndpoints = append(summary.RecentEndpoints, endpoint)
	}
	sort.Strings(summary.RecentEndpoints)
	return summary
}

// SetProfile switches between the speed and stability presets.
func (c *Controller) SetProfile(aggressive bool) {
	c.ApplyProfile(core.ProfileFor(aggressive))
}

// ApplyProfile overlays a preset on the policy and pulls the current interval
// back inside the new bounds.
func (c *Controller) ApplyProfile(profile core.Profile) {
	c.mu.Lock()
	c.cfg = profile.Apply(c.cfg)
	from := c.current
	c.current = clampInt(c.current, c.cfg.MinInterval, c.cfg.MaxInterval)
	to := c.current
	cfg := c.cfg
	c.mu.Unlock()

	c.logInfo("Pacing profile applied",
		zap.String("profile", profile.Name),
		zap.Int("min_interval", cfg.MinInterval),
		zap.Float64("target_remaining_ratio", cfg.TargetRemainingRatio),
		zap.Float64("learning_rate", cfg.LearningRate))
	if from != to {
		c.recorder.IntervalChanged(from, to, "profile")
	}
	c.persist()
}

// Interval returns the committed interval in seconds.
func (c *Controller) Interval() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Config returns the current policy.
func (c *Controller) Config() core.ControllerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Quota returns the last status reported for endpoint.
func (c *Controller) Quota(endpoint string) (core.QuotaStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Get(endpoint)
}

// Quotas returns every endpoint's last status.
func (c *Controller) Quotas() map[string]core.QuotaStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Snapshot()
}

// State returns a copy of the full controller snapshot.
func (c *Controller) State() *core.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &core.ControllerState{
		CurrentInterval: c.current,
		Samples:         append([]core.PerformanceSample(nil), c.samples...),
		Config:          c.cfg,
		Quotas:          c.tracker.Snapshot(),
		UpdatedAt:       c.updatedAt,
	}
}

// persist writes the snapshot. Failures are logged; in-memory state stays
// authoritative.
func (c *Controller) persist() {
	if c.store == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snapshot := c.State()
	snapshot.UpdatedAt = c.now()

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	if err := c.store.SavePacingState(ctx, snapshot); err != nil {
		c.logWarn("Failed to persist pacing state", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.updatedAt = snapshot.UpdatedAt
	c.mu.Unlock()
}

func (c *Controller) now() time.Time {
	return c.clock()
}

func (c *Controller) logDebug(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Debug(msg, fields...)
	}
}

func (c *Controller) logInfo(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) logWarn(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}

func meanRatio(samples []core.PerformanceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += sample.RemainingRatio
	}
	return sum / float64(len(samples))
}

func clampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type noopRecorder struct{}

func (noopRecorder) IntervalChanged(int, int, string)                  {}
func (noopRecorder) QuotaExceeded(string)                              {}
func (noopRecorder) WaitFinished(time.Duration, core.PacingMode, bool) {}
func (noopRecorder) CalibrationFinished(core.CalibrationResult)        {}
