package model

import "time"

// TimerKind discriminates timer records.
type TimerKind uint8

// Timer record kinds, valued as the wire discriminator.
const (
	TimerSessionStart TimerKind = 0x05
	TimerShot         TimerKind = 0x03
	TimerSessionStop  TimerKind = 0x08
)

func (k TimerKind) String() string {
	switch k {
	case TimerSessionStart:
		return "session_start"
	case TimerShot:
		return "shot"
	case TimerSessionStop:
		return "session_stop"
	default:
		return "unknown"
	}
}

// TimerEvent is a decoded shot timer record.
type TimerEvent struct {
	PeripheralID  string
	Kind          TimerKind
	ShotNumber    int
	ShotsInString int
	// Elapsed is the time since the session start beep as measured by the timer.
	Elapsed   time.Duration
	Split     time.Duration
	FirstShot time.Duration
	Sequence  uint16
	// Timestamp is the corrected receipt time of the frame.
	Timestamp time.Time
	// Connection is copied from the frame the record was decoded from.
	Connection int
}
