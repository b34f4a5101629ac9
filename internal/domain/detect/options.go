package detect

import (
	"time"

	"github.com/okian/shotlink/pkg/logger"
)

// Default detector configuration constants.
const (
	defaultOnsetThreshold      = 0.5 // g
	defaultPeakThreshold       = 2.0 // g
	defaultMinDuration         = 2
	defaultMaxDuration         = 25
	defaultPeakWindow          = 5
	defaultMinInterval         = 150 * time.Millisecond
	defaultWindowSize          = 64
	defaultCalibrationSamples  = 20
	defaultCalibrationVariance = 0.01 // g²
	defaultCalibrationTimeout  = 10 * time.Second
)

type config struct {
	onset               float64
	peak                float64
	minDuration         int
	maxDuration         int
	peakWindow          int
	minInterval         time.Duration
	windowSize          int
	calibrationSamples  int
	calibrationVariance float64
	calibrationTimeout  time.Duration
	logger              logger.Logger
}

func defaultConfig() config {
	return config{
		onset:               defaultOnsetThreshold,
		peak:                defaultPeakThreshold,
		minDuration:         defaultMinDuration,
		maxDuration:         defaultMaxDuration,
		peakWindow:          defaultPeakWindow,
		minInterval:         defaultMinInterval,
		windowSize:          defaultWindowSize,
		calibrationSamples:  defaultCalibrationSamples,
		calibrationVariance: defaultCalibrationVariance,
		calibrationTimeout:  defaultCalibrationTimeout,
		logger:              logger.Nop(),
	}
}

// Option configures a Detector or a Pipeline.
type Option func(*config)

// WithThresholds sets the onset and peak deviation thresholds in g.
// Pairs where peak < onset are ignored.
func WithThresholds(onset, peak float64) Option {
	return func(c *config) {
		if onset > 0 && peak >= onset {
			c.onset, c.peak = onset, peak
		}
	}
}

// WithDurationRange sets the accepted event duration in samples.
func WithDurationRange(minSamples, maxSamples int) Option {
	return func(c *config) {
		if minSamples > 0 && maxSamples >= minSamples {
			c.minDuration, c.maxDuration = minSamples, maxSamples
		}
	}
}

// WithPeakWindow bounds how many samples after onset the peak may arrive.
func WithPeakWindow(samples int) Option {
	return func(c *config) {
		if samples > 0 {
			c.peakWindow = samples
		}
	}
}

// WithMinInterval sets the refractory interval after an emitted event.
func WithMinInterval(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.minInterval = d
		}
	}
}

// WithWindowSize sets the sliding sample window length.
func WithWindowSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.windowSize = n
		}
	}
}

// WithCalibration sets the number of stable samples, their variance bound in g²
// and the time allowed to find them.
func WithCalibration(samples int, variance float64, timeout time.Duration) Option {
	return func(c *config) {
		if samples > 1 {
			c.calibrationSamples = samples
		}
		if variance > 0 {
			c.calibrationVariance = variance
		}
		if timeout > 0 {
			c.calibrationTimeout = timeout
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
