package core

import "time"

// Defaults for a freshly created controller state.
const (
	DefaultInterval             = 120
	DefaultMinInterval          = 30
	DefaultMaxInterval          = 900
	DefaultTargetRemainingRatio = 0.2
	DefaultLearningRate         = 0.1

	// SampleCapacity bounds the performance sample ring.
	SampleCapacity = 100
)

// PerformanceSample is one observed call, appended in time order.
type PerformanceSample struct {
	Timestamp       time.Time `json:"timestamp"`
	Endpoint        string    `json:"endpoint"`
	RemainingRatio  float64   `json:"remaining_ratio"`
	IntervalSeconds int       `json:"interval_seconds"`
	ResetAt         time.Time `json:"reset_at"`
}

// ControllerConfig holds the tunable pacing policy.
type ControllerConfig struct {
	MinInterval          int     `json:"min_interval"`
	MaxInterval          int     `json:"max_interval"`
	TargetRemainingRatio float64 `json:"target_remaining_ratio"`
	Aggressive           bool    `json:"aggressive"`
	LearningRate         float64 `json:"learning_rate"`
}

// DefaultControllerConfig returns the stable out-of-the-box policy.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinInterval:          DefaultMinInterval,
		MaxInterval:          DefaultMaxInterval,
		TargetRemainingRatio: DefaultTargetRemainingRatio,
		Aggressive:           false,
		LearningRate:         DefaultLearningRate,
	}
}

// Validate reports whether the policy can drive the controller.
func (c ControllerConfig) Validate() error {
	switch {
	case c.MinInterval <= 0:
		return invalidConfig("min_interval must be positive")
	case c.MaxInterval < c.MinInterval:
		return invalidConfig("max_interval must be >= min_interval")
	case c.TargetRemainingRatio <= 0 || c.TargetRemainingRatio >= 1:
		return invalidConfig("target_remaining_ratio must be in (0,1)")
	case c.LearningRate < 0 || c.LearningRate > 1:
		return invalidConfig("learning_rate must be in [0,1]")
	}
	return nil
}

// ControllerState is the durable pacing snapshot.
type ControllerState struct {
	CurrentInterval int                    `json:"current_interval"`
	Samples         []PerformanceSample    `json:"performance_history"`
	Config          ControllerConfig       `json:"config"`
	Quotas          map[string]QuotaStatus `json:"quotas,omitempty"`
	UpdatedAt       time.Time              `json:"last_updated"`
}

// NewControllerState returns a state populated with defaults.
func NewControllerState() *ControllerState {
	return &ControllerState{
		CurrentInterval: DefaultInterval,
		Samples:         []PerformanceSample{},
		Config:          DefaultControllerConfig(),
		Quotas:          map[string]QuotaStatus{},
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *ControllerState) Clone() *ControllerState {
	if s == nil {
		return nil
	}
	out := *s
	out.Samples = append([]PerformanceSample(nil), s.Samples...)
	out.Quotas = make(map[string]QuotaStatus, len(s.Quotas))
	for endpoint, status := range s.Quotas {
		out.Quotas[endpoint] = status
	}
	return &out
}

// CriticalEndpoint pairs an endpoint with its remaining ratio.
type CriticalEndpoint struct {
	Endpoint       string  `json:"endpoint"`
	RemainingRatio float64 `json:"remaining_ratio"`
}

// PacingMode identifies how an interval decision was resolved.
type PacingMode string

const (
	ModeNormal      PacingMode = "normal"
	ModeEmergency   PacingMode = "emergency"
	ModeCalibrating PacingMode = "calibrating"
)

// Decision is the interval BeforeCall would wait for right now.
type Decision struct {
	Mode            PacingMode         `json:"mode"`
	IntervalSeconds int                `json:"interval_seconds"`
	Critical        []CriticalEndpoint `json:"critical,omitempty"`
}

// PerformanceSummary is a read-only view over the recent sample window.
type PerformanceSummary struct {
	CurrentInterval      int                `json:"current_interval"`
	AvgRemainingRatio    float64            `json:"avg_remaining_ratio"`
	AvgInterval          float64            `json:"avg_interval"`
	SamplesPerMinute     float64            `json:"samples_per_minute"`
	EfficiencyScore      float64            `json:"efficiency_score"`
	TargetRemainingRatio float64            `json:"target_remaining_ratio"`
	TotalSamples         int                `json:"total_samples"`
	RecentEndpoints      []string           `json:"recent_endpoints"`
	Critical             []CriticalEndpoint `json:"critical,omitempty"`
	Config               ControllerConfig   `json:"config"`
}

// CalibrationTrial records one rung of the calibration ladder.
type CalibrationTrial struct {
	IntervalSeconds int       `json:"interval_seconds"`
	Cycles          int       `json:"cycles"`
	Errors          int       `json:"errors"`
	SuccessRate     float64   `json:"success_rate"`
	FinishedAt      time.Time `json:"finished_at"`
}

// CalibrationResult is the outcome of a calibration run.
type CalibrationResult struct {
	RunID          string             `json:"run_id"`
	Optimal        int                `json:"optimal_interval"`
	Fallback       bool               `json:"fallback"`
	Aborted        bool               `json:"aborted"`
	Trials         []CalibrationTrial `json:"trials"`
	Duration       time.Duration      `json:"duration"`
	Recommendation string             `json:"recommendation"`
}

// Recommendation labels an optimal interval the way operators talk about it.
func Recommendation(optimal int) string {
	switch {
	case optimal <= 60:
		return "speed"
	case optimal <= 120:
		return "balanced"
	default:
		return "conservative"
	}
}
