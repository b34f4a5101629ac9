package model

import "time"

// OutcomeKind classifies published records.
type OutcomeKind string

// OutcomeMatched marks a record built from a MatchedPair.
const OutcomeMatched OutcomeKind = "matched"

// Outcome is the record handed to the reporting layer.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	SessionID  string      `json:"session_id,omitempty"`
	TimerID    string      `json:"timer_id,omitempty"`
	SensorID   string      `json:"sensor_id,omitempty"`
	ShotNumber int         `json:"shot_number,omitempty"`
	ShotAt     *time.Time  `json:"shot_at,omitempty"`
	ImpactAt   *time.Time  `json:"impact_at,omitempty"`
	DelayMS    float64     `json:"delay_ms,omitempty"`
	MagnitudeG float64     `json:"magnitude_g,omitempty"`
}

// Key returns a partition key that keeps one pairing's records ordered.
func (o Outcome) Key() string {
	if o.TimerID != "" {
		return o.TimerID
	}
	return o.SensorID
}

// Outcome converts the pair into a record.
func (p MatchedPair) Outcome() Outcome {
	shotAt, impactAt := p.ShotAt, p.Impact.Onset
	return Outcome{
		Kind:       OutcomeMatched,
		SessionID:  p.SessionID,
		TimerID:    p.Shot.PeripheralID,
		SensorID:   p.Impact.PeripheralID,
		ShotNumber: p.Shot.ShotNumber,
		ShotAt:     &shotAt,
		ImpactAt:   &impactAt,
		DelayMS:    durationMS(p.Delay),
		MagnitudeG: p.Impact.PeakG,
	}
}

// Outcome converts the expired event into a record.
func (e Expired) Outcome() Outcome {
	o := Outcome{Kind: OutcomeKind(e.Kind), SessionID: e.SessionID}
	if e.Shot != nil {
		shotAt := e.ShotAt
		o.TimerID = e.Shot.PeripheralID
		o.ShotNumber = e.Shot.ShotNumber
		o.ShotAt = &shotAt
	}
	if e.Impact != nil {
		impactAt := e.Impact.Onset
		o.SensorID = e.Impact.PeripheralID
		o.ImpactAt = &impactAt
		o.MagnitudeG = e.Impact.PeakG
	}
	return o
}
