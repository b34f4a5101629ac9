// Package types contains the read-only status shapes served to observers.
package types

import (
	"time"

	"github.com/okian/shotlink/internal/domain/model"
)

// LinkStatus is the health of one peripheral link.
type LinkStatus struct {
	PeripheralID string     `json:"peripheral_id"`
	Name         string     `json:"name,omitempty"`
	Kind         string     `json:"kind"`
	State        string     `json:"state"`
	Stale        bool       `json:"stale"`
	RSSI         *int       `json:"rssi,omitempty"`
	LastFrameAt  *time.Time `json:"last_frame_at,omitempty"`
	Attempts     int        `json:"reconnect_attempts"`
	LastError    string     `json:"last_error,omitempty"`
}

// ClockStatus is the JSON form of model.ClockState.
type ClockStatus struct {
	OffsetMS            float64    `json:"offset_ms"`
	DriftMS             float64    `json:"drift_ms"`
	Quality             string     `json:"quality"`
	HistoryMS           []float64  `json:"history_ms"`
	ReferencesReachable int        `json:"references_reachable"`
	ReferencesTotal     int        `json:"references_total"`
	LastCheck           *time.Time `json:"last_check,omitempty"`
	LastCorrection      *time.Time `json:"last_correction,omitempty"`
	Corrections         int        `json:"corrections"`
}

// NewClockStatus converts a synchronizer snapshot.
func NewClockStatus(s model.ClockState) ClockStatus {
	out := ClockStatus{
		OffsetMS:            ms(s.Offset),
		DriftMS:             ms(s.Drift),
		Quality:             s.Quality.String(),
		HistoryMS:           make([]float64, len(s.History)),
		ReferencesReachable: s.ReferencesReachable,
		ReferencesTotal:     s.ReferencesTotal,
		LastCheck:           optTime(s.LastCheck),
		LastCorrection:      optTime(s.LastCorrection),
		Corrections:         s.Corrections,
	}
	for i, h := range s.History {
		out.HistoryMS[i] = ms(h)
	}
	return out
}

// ModelStatus is one learned timer/sensor delay distribution.
type ModelStatus struct {
	TimerID   string     `json:"timer_id"`
	SensorID  string     `json:"sensor_id"`
	MeanMS    float64    `json:"mean_ms"`
	StdDevMS  float64    `json:"stddev_ms"`
	Count     int64      `json:"count"`
	WindowMS  float64    `json:"window_ms"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NewModelStatus converts a correlation model.
func NewModelStatus(m model.CorrelationModel) ModelStatus {
	return ModelStatus{
		TimerID:   m.Key.TimerID,
		SensorID:  m.Key.SensorID,
		MeanMS:    m.MeanMS,
		StdDevMS:  m.StdDev(),
		Count:     m.Count,
		WindowMS:  m.WindowMS,
		UpdatedAt: optTime(m.UpdatedAt),
	}
}

// CorrelationStatus summarises the correlator.
type CorrelationStatus struct {
	Models         []ModelStatus `json:"models"`
	PendingShots   int           `json:"pending_shots"`
	PendingImpacts int           `json:"pending_impacts"`
	Matches        int64         `json:"matches"`
	Expired        int64         `json:"expired"`
}

// ClockEvent is the stream payload for synchronizer notifications.
type ClockEvent struct {
	Event        string      `json:"event"`
	CorrectionMS float64     `json:"correction_ms,omitempty"`
	Clock        ClockStatus `json:"clock"`
}

// NewClockEvent builds a ClockEvent from the event name, the applied
// correction and the state after the check.
func NewClockEvent(event string, correction time.Duration, s model.ClockState) ClockEvent {
	return ClockEvent{Event: event, CorrectionMS: ms(correction), Clock: NewClockStatus(s)}
}

// StreamMessage is one frame on the status stream.
type StreamMessage struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Stream message types.
const (
	StreamOutcome = "outcome"
	StreamLink    = "link"
	StreamClock   = "clock"
)

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
