package risk

import (
	"errors"
	"fmt"
)

// ErrConfig is returned for invalid risk configuration.
var ErrConfig = errors.New("risk config invalid")

// Weights are the score contributions of each factor. All are non-negative;
// KnownDeviceBonus is subtracted.
type Weights struct {
	TokenReusePenalty        int
	KnownDeviceBonus         int
	NewDevicePenalty         int
	NewCountryPenalty        int
	UnresolvedCountryPenalty int
	DatacenterPenalty        int
}

// Thresholds are inclusive lower bounds: score >= Block means BLOCK, and so on.
type Thresholds struct {
	SoftChallenge int
	StepUp        int
	Block         int
}

// Config is the explicit configuration surface of the engine.
type Config struct {
	Weights    Weights
	Thresholds Thresholds
}

// DefaultConfig returns the production weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			TokenReusePenalty:        100,
			KnownDeviceBonus:         10,
			NewDevicePenalty:         20,
			NewCountryPenalty:        15,
			UnresolvedCountryPenalty: 0,
			DatacenterPenalty:        25,
		},
		Thresholds: Thresholds{
			SoftChallenge: 30,
			StepUp:        50,
			Block:         80,
		},
	}
}

// Validate checks that weights are non-negative and thresholds strictly ascending.
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]int{
		"token_reuse_penalty":        w.TokenReusePenalty,
		"known_device_bonus":         w.KnownDeviceBonus,
		"new_device_penalty":         w.NewDevicePenalty,
		"new_country_penalty":        w.NewCountryPenalty,
		"unresolved_country_penalty": w.UnresolvedCountryPenalty,
		"datacenter_penalty":         w.DatacenterPenalty,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrConfig, name)
		}
	}

	t := c.Thresholds
	if t.SoftChallenge <= 0 {
		return fmt.Errorf("%w: soft_challenge threshold must be > 0", ErrConfig)
	}
	if !(t.SoftChallenge < t.StepUp && t.StepUp < t.Block) {
		return fmt.Errorf("%w: thresholds must ascend (soft=%d step_up=%d block=%d)",
			ErrConfig, t.SoftChallenge, t.StepUp, t.Block)
	}
	return nil
}

// Decide maps a clamped score to an action.
func (t Thresholds) Decide(score int) Action {
	switch {
	case score >= t.Block:
		return ActionBlock
	case score >= t.StepUp:
		return ActionStepUp
	case score >= t.SoftChallenge:
		return ActionSoftChallenge
	default:
		return ActionAllow
	}
}
