package model

import (
	"math"
	"time"
)

// PairKey identifies one logical timer/sensor pairing.
type PairKey struct {
	TimerID  string `json:"timer_id"`
	SensorID string `json:"sensor_id"`
}

func (k PairKey) String() string {
	return k.TimerID + "/" + k.SensorID
}

// CorrelationModel is the learned shot to impact delay distribution of one
// pairing. Mean and M2 are maintained with Welford's online update.
type CorrelationModel struct {
	Key       PairKey   `json:"key"`
	MeanMS    float64   `json:"mean_ms"`
	M2        float64   `json:"m2"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
	WindowMS  float64   `json:"window_ms"`
}

// NewCorrelationModel returns an empty model whose mean starts at prior.
func NewCorrelationModel(key PairKey, prior, window time.Duration) *CorrelationModel {
	return &CorrelationModel{
		Key:      key,
		MeanMS:   durationMS(prior),
		WindowMS: durationMS(window),
	}
}

// Update folds one observed delay into the model.
func (m *CorrelationModel) Update(delay time.Duration, at time.Time) {
	x := durationMS(delay)
	m.Count++
	if m.Count == 1 {
		m.MeanMS = x
		m.M2 = 0
	} else {
		d := x - m.MeanMS
		m.MeanMS += d / float64(m.Count)
		m.M2 += d * (x - m.MeanMS)
	}
	if m.M2 < 0 {
		m.M2 = 0
	}
	m.UpdatedAt = at
}

// Mean returns the expected delay.
func (m *CorrelationModel) Mean() time.Duration {
	return time.Duration(m.MeanMS * float64(time.Millisecond))
}

// Variance returns the sample variance in ms². It is never negative.
func (m *CorrelationModel) Variance() float64 {
	if m.Count < 2 {
		return 0
	}
	return math.Max(0, m.M2/float64(m.Count-1))
}

// StdDev returns the sample standard deviation in ms.
func (m *CorrelationModel) StdDev() float64 {
	return math.Sqrt(m.Variance())
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// MatchedPair binds a shot to the impact it produced.
type MatchedPair struct {
	SessionID string
	Shot      TimerEvent
	// ShotAt is the shot time on the host clock used for the pairing.
	ShotAt time.Time
	Impact ImpactEvent
	Delay  time.Duration
}

// ExpiredKind names which side of a pairing went unmatched.
type ExpiredKind string

// Expired event kinds.
const (
	ExpiredShot   ExpiredKind = "expired_shot"
	ExpiredImpact ExpiredKind = "expired_impact"
)

// Expired is an event that stayed unmatched past the retention horizon.
// Exactly one of Shot and Impact is set.
type Expired struct {
	Kind      ExpiredKind
	SessionID string
	Shot      *TimerEvent
	ShotAt    time.Time
	Impact    *ImpactEvent
}
