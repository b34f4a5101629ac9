package sim

import "time"

// Default simulation constants.
const (
	defaultImpactDelay    = 520 * time.Millisecond
	defaultShotInterval   = 1500 * time.Millisecond
	defaultStringPause    = 5 * time.Second
	defaultSampleInterval = 10 * time.Millisecond
	defaultShotsPerString = 5
	defaultNoiseG         = 0.004
	defaultTempC          = 24.5
	defaultRSSI           = -58
)

// impactProfile is the deviation from rest in g, one entry per sample.
var impactProfile = []float64{0.8, 3.2, 6.5, 2.4, 0.9, 0.2}

type config struct {
	impactDelay    time.Duration
	shotInterval   time.Duration
	stringPause    time.Duration
	sampleInterval time.Duration
	shotsPerString int
	noiseG         float64
	seed           uint64
	// timerDropAfter ends a timer connection after that many strings; 0 never.
	timerDropAfter int
}

// Option configures a Driver.
type Option func(*config)

// WithImpactDelay sets the shot to impact delay the sensors observe.
func WithImpactDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.impactDelay = d
		}
	}
}

// WithShotInterval sets the time between shots of a string.
func WithShotInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.shotInterval = d
		}
	}
}

// WithStringPause sets the pause between a string's stop and the next start.
func WithStringPause(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.stringPause = d
		}
	}
}

// WithSampleInterval sets the motion sample period.
func WithSampleInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sampleInterval = d
		}
	}
}

// WithShotsPerString sets how many shots a string has.
func WithShotsPerString(n int) Option {
	return func(c *config) {
		if n > 0 && n < 256 {
			c.shotsPerString = n
		}
	}
}

// WithNoise sets the resting noise amplitude in g.
func WithNoise(g float64) Option {
	return func(c *config) {
		if g >= 0 {
			c.noiseG = g
		}
	}
}

// WithSeed makes the resting noise reproducible.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithTimerDropAfter makes every timer connection go out of range after n
// strings. A reconnected timer starts over with its frame sequence at zero.
func WithTimerDropAfter(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.timerDropAfter = n
		}
	}
}
