package model

import "time"

// Quality is the clock quality band.
type Quality uint8

// Quality bands, tightest first.
const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityCritical
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "critical"
	}
}

// MarshalText renders the band name.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// ClockState is an immutable snapshot of the clock synchronizer.
type ClockState struct {
	// Offset is added to local time to obtain reference time.
	Offset time.Duration
	// Drift is the last measured offset minus the applied one.
	Drift   time.Duration
	Quality Quality
	// History holds the most recent measured offsets, oldest first.
	History             []time.Duration
	ReferencesReachable int
	ReferencesTotal     int
	LastCheck           time.Time
	LastCorrection      time.Time
	Corrections         int
}
