package mqtt

import (
	"math"
	"math/rand"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// Backoff is the reconnect policy: bounded exponential delays with jitter
// and an optional cap on attempts per cycle.
type Backoff struct {
	// Enabled allows more than one attempt per cycle and automatic
	// reconnection after a drop.
	Enabled bool

	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter is the fraction of each delay that is randomised downwards.
	Jitter float64

	// MaxAttempts caps attempts per cycle. 0 means unlimited.
	MaxAttempts int

	// rand returns a value in [0, 1). Tests replace it.
	rand func() float64
}

// Backoff defaults used when the configuration leaves a value unset.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultMultiplier   = 2.0
)

// newBackoff builds the policy from configuration.
func newBackoff(cfg config.MQTTReconnectConfig) Backoff {
	b := Backoff{
		Enabled:     cfg.Enabled,
		Initial:     cfg.InitialDelay,
		Max:         cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
		MaxAttempts: cfg.MaxAttempts,
		rand:        rand.Float64,
	}
	if b.Initial <= 0 {
		b.Initial = defaultInitialDelay
	}
	if b.Max <= 0 {
		b.Max = defaultMaxDelay
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = defaultMultiplier
	}
	return b
}

// Allows reports whether attempt (1-based) may be made in the current cycle.
func (b Backoff) Allows(attempt int) bool {
	if attempt <= 1 {
		return true
	}
	if !b.Enabled {
		return false
	}
	return b.MaxAttempts == 0 || attempt <= b.MaxAttempts
}

// Delay returns the wait before retry number retry (1 = first retry).
//
// The base delay is Initial * Multiplier^(retry-1), capped at Max. Jitter
// subtracts up to Jitter*base so concurrent clients spread out.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	base := float64(b.Initial) * math.Pow(b.Multiplier, float64(retry-1))
	if base > float64(b.Max) || math.IsInf(base, 0) {
		base = float64(b.Max)
	}

	if b.Jitter > 0 && b.rand != nil {
		base -= base * b.Jitter * b.rand()
	}
	return time.Duration(base)
}
