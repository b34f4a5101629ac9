// Package model contains domain models passed between the pipeline stages.
package model

import "time"

// PeripheralKind tells which protocol a peripheral speaks.
type PeripheralKind string

// Supported peripheral kinds.
const (
	PeripheralTimer  PeripheralKind = "timer"
	PeripheralMotion PeripheralKind = "motion"
)

// RawFrame is one notification payload as it came off the link.
// It is consumed once by the codec layer and never mutated.
type RawFrame struct {
	PeripheralID string
	Kind         PeripheralKind
	Data         []byte
	// ReceivedAt is the corrected receipt time. It keeps the monotonic
	// reading when produced by the clock synchronizer.
	ReceivedAt time.Time
	// Connection numbers the link connection the frame arrived on, starting
	// at 0 and advancing on every reconnect.
	Connection int
}
