package link

import (
	"time"

	"github.com/okian/shotlink/pkg/logger"
)

// Default link manager configuration constants.
const (
	defaultStaleAfter      = 3 * time.Second
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
	defaultMaxRetries      = 10
	defaultFrameBuffer     = 256
	defaultStatusBuffer    = 64
	defaultRandomization   = 0.2
	defaultMultiplier      = 2.0
)

type config struct {
	staleAfter      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	maxRetries      int
	randomization   float64
	frameBuffer     int
	statusBuffer    int
	now             func() time.Time
	logger          logger.Logger
}

// Option configures a Manager.
type Option func(*config)

// WithStaleAfter sets how long a connected peripheral may stay silent before
// it is reported stale.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithReconnect bounds reconnection: the first wait, the longest wait and
// the number of consecutive failed attempts before the link is lost.
func WithReconnect(initial, maxInterval time.Duration, maxRetries int) Option {
	return func(c *config) {
		if initial > 0 {
			c.initialInterval = initial
		}
		if maxInterval > 0 {
			c.maxInterval = maxInterval
		}
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithJitter sets the backoff randomization factor in [0, 1].
func WithJitter(f float64) Option {
	return func(c *config) {
		if f >= 0 && f <= 1 {
			c.randomization = f
		}
	}
}

// WithFrameBuffer sets the per-session frame channel capacity.
func WithFrameBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.frameBuffer = n
		}
	}
}

// WithClock sets the function used to stamp received frames. The service
// passes the clock synchronizer's corrected time.
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
