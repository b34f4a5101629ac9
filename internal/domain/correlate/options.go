package correlate

import (
	"fmt"
	"time"

	"github.com/okian/shotlink/pkg/logger"
)

// Default correlator configuration constants.
const (
	defaultWindow        = 1500 * time.Millisecond
	defaultHorizon       = 10 * time.Second
	defaultPrior         = 500 * time.Millisecond
	defaultPersistDelta  = 5 * time.Millisecond
	defaultSweepInterval = 250 * time.Millisecond
)

// TieBreak decides between shots equally close to the expected delay.
type TieBreak uint8

// Tie break rules.
const (
	EarliestShot TieBreak = iota
	LatestShot
)

func (t TieBreak) String() string {
	if t == LatestShot {
		return "latest"
	}
	return "earliest"
}

// ParseTieBreak maps "earliest" and "latest" to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "earliest":
		return EarliestShot, nil
	case "latest":
		return LatestShot, nil
	}
	return EarliestShot, fmt.Errorf("%w: %q", ErrUnknownTieBreak, s)
}

type config struct {
	window        time.Duration
	horizon       time.Duration
	prior         time.Duration
	persistDelta  time.Duration
	tieBreak      TieBreak
	sweepInterval time.Duration
	now           func() time.Time
	logger        logger.Logger
}

func defaultConfig() config {
	return config{
		window:        defaultWindow,
		horizon:       defaultHorizon,
		prior:         defaultPrior,
		persistDelta:  defaultPersistDelta,
		tieBreak:      EarliestShot,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		logger:        logger.Nop(),
	}
}

// Option configures a Correlator or Runner.
type Option func(*config)

// WithWindow sets the maximum shot to impact delay considered a candidate.
func WithWindow(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithRetentionHorizon sets how long unmatched events are kept before expiring.
func WithRetentionHorizon(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.horizon = d
		}
	}
}

// WithPriorDelay sets the expected delay used before a pairing has data.
func WithPriorDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.prior = d
		}
	}
}

// WithPersistDelta sets how far a model mean must move before it is saved again.
func WithPersistDelta(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.persistDelta = d
		}
	}
}

// WithTieBreak sets the tie break rule.
func WithTieBreak(t TieBreak) Option {
	return func(c *config) {
		c.tieBreak = t
	}
}

// WithSweepInterval sets how often the runner expires stale events.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithClock sets the time source used by the runner for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
