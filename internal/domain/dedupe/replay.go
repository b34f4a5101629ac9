package dedupe

import (
	"context"
	"strconv"
	"sync"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/metrics"
)

// ReplayFilter drops timer notifications a timer re-sends after a reconnect.
// Shots are keyed by (timer, session, shot number) where the session is a
// per-timer counter advanced by every accepted SessionStart. Starts and stops
// are keyed by the link connection and their frame sequence, since a timer
// may restart its sequence when it reconnects.
type ReplayFilter struct {
	d Deduper

	mu       sync.Mutex
	sessions map[string]uint64
}

// NewReplayFilter wraps d.
func NewReplayFilter(d Deduper) *ReplayFilter {
	return &ReplayFilter{d: d, sessions: make(map[string]uint64)}
}

// Replayed reports whether ev repeats a notification already accepted. A
// first delivery is recorded and returns false.
func (f *ReplayFilter) Replayed(ctx context.Context, ev model.TimerEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.key(ev)
	if f.d.SeenAndRecord(ctx, key) {
		metrics.RecordReplaySuppressed()
		return true
	}
	if ev.Kind == model.TimerSessionStart {
		f.sessions[ev.PeripheralID]++
	}
	return false
}

// Forget undoes the record of ev, for a notification that was accepted but
// not delivered.
func (f *ReplayFilter) Forget(ctx context.Context, ev model.TimerEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev.Kind == model.TimerSessionStart && f.sessions[ev.PeripheralID] > 0 {
		f.sessions[ev.PeripheralID]--
	}
	f.d.Unrecord(ctx, f.key(ev))
}

func (f *ReplayFilter) key(ev model.TimerEvent) string {
	session := strconv.FormatUint(f.sessions[ev.PeripheralID], 10)
	frame := "c" + strconv.Itoa(ev.Connection) + "|" + strconv.FormatUint(uint64(ev.Sequence), 10)
	switch ev.Kind {
	case model.TimerSessionStart:
		// the session it opens is not known until it is accepted
		return ev.PeripheralID + "|start|" + frame
	case model.TimerShot:
		return ev.PeripheralID + "|" + session + "|shot|" + strconv.Itoa(ev.ShotNumber)
	default:
		return ev.PeripheralID + "|" + session + "|stop|" + frame
	}
}
