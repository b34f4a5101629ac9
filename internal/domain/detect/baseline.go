package detect

import (
	"time"

	"github.com/okian/shotlink/internal/domain/model"
)

// calibrator looks for N consecutive magnitudes whose variance stays under a bound.
type calibrator struct {
	need    int
	maxVar  float64
	timeout time.Duration
	run     []float64
	started time.Time
}

func newCalibrator(need int, maxVar float64, timeout time.Duration) *calibrator {
	return &calibrator{need: need, maxVar: maxVar, timeout: timeout, run: make([]float64, 0, need)}
}

func (c *calibrator) reset() {
	c.run = c.run[:0]
	c.started = time.Time{}
}

// add feeds one magnitude. It returns the baseline once the run is complete,
// or ErrCalibrationTimeout once the sample clock passes the deadline.
func (c *calibrator) add(mag float64, at time.Time) (model.Baseline, bool, error) {
	if c.started.IsZero() {
		c.started = at
	}
	c.run = append(c.run, mag)

	mean, variance := meanVar(c.run)
	if variance > c.maxVar {
		// the newest sample starts a fresh run
		c.run = append(c.run[:0], mag)
		mean, variance = mag, 0
	}

	if len(c.run) >= c.need {
		return model.Baseline{Mean: mean, Variance: variance, Samples: len(c.run), EstablishedAt: at}, true, nil
	}
	if at.Sub(c.started) > c.timeout {
		return model.Baseline{}, false, ErrCalibrationTimeout
	}
	return model.Baseline{}, false, nil
}

func meanVar(xs []float64) (float64, float64) {
	var mean, m2 float64
	for i, x := range xs {
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}
	if len(xs) == 0 {
		return 0, 0
	}
	return mean, m2 / float64(len(xs))
}
