package core

import (
	"fmt"
	"strings"
)

// Profile is a named pacing policy preset.
type Profile struct {
	Name                 string  `json:"name"`
	Description          string  `json:"description,omitempty"`
	Aggressive           bool    `json:"aggressive"`
	MinInterval          int     `json:"min_interval"`
	TargetRemainingRatio float64 `json:"target_remaining_ratio"`
	LearningRate         float64 `json:"learning_rate"`
}

// Apply overlays the preset onto cfg. MaxInterval is left untouched.
func (p Profile) Apply(cfg ControllerConfig) ControllerConfig {
	cfg.Aggressive = p.Aggressive
	cfg.MinInterval = p.MinInterval
	cfg.TargetRemainingRatio = p.TargetRemainingRatio
	cfg.LearningRate = p.LearningRate
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	return cfg
}

var (
	// SpeedProfile spends most of the quota and adapts quickly.
	SpeedProfile = Profile{
		Name:                 "aggressive",
		Description:          "Use ~95% of the quota; short floor, fast adaptation",
		Aggressive:           true,
		MinInterval:          15,
		TargetRemainingRatio: 0.05,
		LearningRate:         0.2,
	}

	// StabilityProfile keeps a wide safety margin and adapts slowly.
	StabilityProfile = Profile{
		Name:                 "stable",
		Description:          "Use ~70% of the quota; long floor, slow adaptation",
		Aggressive:           false,
		MinInterval:          60,
		TargetRemainingRatio: 0.3,
		LearningRate:         0.05,
	}
)

// ProfileFor returns the preset selected by the aggressive switch.
func ProfileFor(aggressive bool) Profile {
	if aggressive {
		return SpeedProfile
	}
	return StabilityProfile
}

// FindProfile looks up a preset by name.
func FindProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aggressive", "speed", "fast":
		return SpeedProfile, nil
	case "stable", "stability", "conservative", "safe":
		return StabilityProfile, nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q (want aggressive or stable)", name)
	}
}
