package model

import "time"

// CorrelationState tracks whether an impact has been paired with a shot.
type CorrelationState uint8

// Correlation states. The only legal transition is Unmatched -> Matched.
const (
	Unmatched CorrelationState = iota
	Matched
)

func (s CorrelationState) String() string {
	if s == Matched {
		return "matched"
	}
	return "unmatched"
}

// ImpactEvent is a discrete physical event found in a motion stream.
type ImpactEvent struct {
	ID           string
	PeripheralID string
	// Onset is the timestamp of the earliest sample above the onset threshold.
	Onset time.Time
	Peak  time.Time
	// PeakG is the largest deviation from baseline seen during the event.
	PeakG           float64
	DurationSamples int

	state CorrelationState
}

// State returns the correlation state.
func (e *ImpactEvent) State() CorrelationState {
	return e.state
}

// Match marks the event as paired. It fails if the event was already matched.
func (e *ImpactEvent) Match() error {
	if e.state == Matched {
		return ErrAlreadyMatched
	}
	e.state = Matched
	return nil
}
