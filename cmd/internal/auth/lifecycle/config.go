package lifecycle

import (
	"fmt"
	"time"
)

// Config tunes the controller.
type Config struct {
	// DecisionTimeout bounds credential verification plus risk evaluation.
	DecisionTimeout time.Duration

	// ReuseGracePeriod is how long after rotation a retired token presented
	// by the rotating device is treated as a benign concurrent retry rather
	// than theft.
	ReuseGracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		DecisionTimeout:  300 * time.Millisecond,
		ReuseGracePeriod: 2 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.DecisionTimeout <= 0 || c.DecisionTimeout > time.Minute {
		return fmt.Errorf("%w: decision_timeout", ErrConfig)
	}
	if c.ReuseGracePeriod < 0 || c.ReuseGracePeriod > time.Minute {
		return fmt.Errorf("%w: reuse_grace_period", ErrConfig)
	}
	return nil
}
