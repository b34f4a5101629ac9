package clocksync

import (
	"sort"
	"time"

	"github.com/okian/shotlink/internal/domain/model"
)

// Quality band upper bounds.
const (
	excellentBelow = 5 * time.Millisecond
	goodBelow      = 10 * time.Millisecond
	fairBelow      = 25 * time.Millisecond
	poorUpTo       = 50 * time.Millisecond
)

// Classify maps a drift to its quality band. The sign is ignored.
func Classify(drift time.Duration) model.Quality {
	d := abs(drift)
	switch {
	case d < excellentBelow:
		return model.QualityExcellent
	case d < goodBelow:
		return model.QualityGood
	case d < fairBelow:
		return model.QualityFair
	case d <= poorUpTo:
		return model.QualityPoor
	default:
		return model.QualityCritical
	}
}

// median returns the median of offsets; it sorts a copy.
func median(offsets []time.Duration) time.Duration {
	s := append([]time.Duration(nil), offsets...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clamp(d, limit time.Duration) time.Duration {
	switch {
	case d > limit:
		return limit
	case d < -limit:
		return -limit
	}
	return d
}
