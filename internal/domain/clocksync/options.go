package clocksync

import (
	"time"

	"github.com/okian/shotlink/pkg/logger"
)

// Default synchronizer configuration constants.
const (
	defaultInterval            = time.Minute
	defaultQueryTimeout        = 2 * time.Second
	defaultAlertThreshold      = 25 * time.Millisecond
	defaultCorrectionThreshold = 10 * time.Millisecond
	defaultMaxCorrection       = 100 * time.Millisecond
	defaultHistory             = 32
)

type config struct {
	interval            time.Duration
	queryTimeout        time.Duration
	alertThreshold      time.Duration
	correctionThreshold time.Duration
	maxCorrection       time.Duration
	correctionEnabled   bool
	history             int
	wall                func() time.Time
	local               func() time.Time
	logger              logger.Logger
}

// Option configures a Synchronizer.
type Option func(*config)

// WithInterval sets the period between checks.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithQueryTimeout bounds each reference query.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.queryTimeout = d
		}
	}
}

// WithAlertThreshold sets the drift above which a DriftAlert is emitted.
func WithAlertThreshold(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.alertThreshold = d
		}
	}
}

// WithCorrection enables bounded corrections for drift above threshold,
// applying at most maxStep per check.
func WithCorrection(enabled bool, threshold, maxStep time.Duration) Option {
	return func(c *config) {
		c.correctionEnabled = enabled
		if threshold >= 0 {
			c.correctionThreshold = threshold
		}
		if maxStep > 0 {
			c.maxCorrection = maxStep
		}
	}
}

// WithHistory sets how many measured offsets the state keeps.
func WithHistory(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.history = n
		}
	}
}

// WithClock replaces both the wall clock and the local clock. Tests use it
// to make measured offsets exact.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.wall, c.local = now, now
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
