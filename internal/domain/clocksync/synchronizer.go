// Package clocksync keeps the host's offset to external reference time and
// supplies the corrected clock used to stamp every frame.
package clocksync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

// Reference is an external time source.
type Reference interface {
	Name() string
	// Query returns the reference time minus the host wall clock.
	Query(ctx context.Context) (time.Duration, error)
}

// EventKind names a synchronizer notification.
type EventKind uint8

// Notification kinds.
const (
	EventUpdate EventKind = iota
	EventDriftAlert
	EventCorrectionApplied
)

func (k EventKind) String() string {
	switch k {
	case EventDriftAlert:
		return "drift_alert"
	case EventCorrectionApplied:
		return "correction_applied"
	default:
		return "update"
	}
}

// Event is delivered to subscribers after a check.
type Event struct {
	Kind  EventKind
	State model.ClockState
	// Correction is set for EventCorrectionApplied.
	Correction time.Duration
}

// Synchronizer measures drift against its references and corrects its offset.
type Synchronizer struct {
	refs  []Reference
	cfg   config
	log   logger.Logger
	state atomic.Pointer[model.ClockState]

	checkMu sync.Mutex

	subMu sync.Mutex
	subs  map[int]chan Event
	next  int
}

// New creates a synchronizer. At least one reference is required.
func New(refs []Reference, opts ...Option) (*Synchronizer, error) {
	if len(refs) == 0 {
		return nil, ErrNoReferences
	}
	epoch := time.Now()
	cfg := config{
		interval:            defaultInterval,
		queryTimeout:        defaultQueryTimeout,
		alertThreshold:      defaultAlertThreshold,
		correctionThreshold: defaultCorrectionThreshold,
		maxCorrection:       defaultMaxCorrection,
		correctionEnabled:   true,
		history:             defaultHistory,
		wall:                time.Now,
		// monotonic derived wall time, immune to system clock steps
		local:  func() time.Time { return epoch.Add(time.Since(epoch)) },
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Synchronizer{
		refs: refs,
		cfg:  cfg,
		log:  cfg.logger,
		subs: make(map[int]chan Event),
	}
	s.state.Store(&model.ClockState{ReferencesTotal: len(refs)})
	return s, nil
}

// State returns the current snapshot.
func (s *Synchronizer) State() model.ClockState {
	return *s.state.Load()
}

// CorrectedNow returns local time plus the applied offset.
func (s *Synchronizer) CorrectedNow() time.Time {
	return s.cfg.local().Add(s.state.Load().Offset)
}

// Subscribe returns a channel of notifications and a function to cancel it.
// Slow subscribers miss events rather than stall the synchronizer.
func (s *Synchronizer) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Synchronizer) notify(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run checks immediately and then every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.log.Info(ctx, "clock monitoring started",
		logger.Int("references", len(s.refs)),
		logger.Duration("interval", s.cfg.interval))

	s.ForceCheck(ctx)
	ticker := time.NewTicker(s.cfg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ForceCheck(ctx)
		}
	}
}

// ForceCheck queries every reference now and returns the resulting state.
// If no reference answers, the last offset is held.
func (s *Synchronizer) ForceCheck(ctx context.Context) model.ClockState {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	offsets := s.queryAll(ctx)
	prev := s.state.Load()
	next := *prev
	next.History = append([]time.Duration(nil), prev.History...)
	next.ReferencesReachable = len(offsets)
	next.ReferencesTotal = len(s.refs)
	next.LastCheck = s.cfg.wall()
	metrics.UpdateReferencesReachable(len(offsets))

	if len(offsets) == 0 {
		s.log.Warn(ctx, "no time reference reachable, holding offset", logger.Duration("offset", prev.Offset))
		s.state.Store(&next)
		s.notify(Event{Kind: EventUpdate, State: next})
		return next
	}
	if len(offsets) < len(s.refs) {
		s.log.Warn(ctx, "clock check degraded",
			logger.Int("reachable", len(offsets)),
			logger.Int("configured", len(s.refs)))
	}

	measured := median(offsets)
	drift := measured - prev.Offset
	next.History = append(next.History, measured)
	if over := len(next.History) - s.cfg.history; over > 0 {
		next.History = next.History[over:]
	}
	next.Drift = drift
	next.Quality = Classify(drift)

	var correction time.Duration
	if s.cfg.correctionEnabled && abs(drift) > s.cfg.correctionThreshold {
		correction = clamp(drift, s.cfg.maxCorrection)
		next.Offset = prev.Offset + correction
		next.LastCorrection = next.LastCheck
		next.Corrections++
	}

	s.state.Store(&next)

	driftMS := float64(drift) / float64(time.Millisecond)
	metrics.UpdateClockDrift(driftMS)
	metrics.UpdateClockQuality(int(next.Quality))

	s.notify(Event{Kind: EventUpdate, State: next})
	if abs(drift) > s.cfg.alertThreshold {
		metrics.RecordDriftAlert()
		s.log.Warn(ctx, "clock drift above alert threshold",
			logger.Duration("drift", drift),
			logger.String("quality", next.Quality.String()))
		s.notify(Event{Kind: EventDriftAlert, State: next})
	}
	if correction != 0 {
		metrics.RecordClockCorrection(float64(correction) / float64(time.Millisecond))
		s.log.Info(ctx, "clock correction applied",
			logger.Duration("correction", correction),
			logger.Duration("offset", next.Offset))
		s.notify(Event{Kind: EventCorrectionApplied, State: next, Correction: correction})
	}
	return next
}

// queryAll asks every reference concurrently, each under its own timeout,
// and returns the offsets relative to the local clock of those that answered.
func (s *Synchronizer) queryAll(ctx context.Context) []time.Duration {
	results := make([]*time.Duration, len(s.refs))

	var g errgroup.Group
	for i, ref := range s.refs {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
			defer cancel()

			type answer struct {
				off time.Duration
				err error
			}
			ch := make(chan answer, 1)
			go func() {
				off, err := ref.Query(qctx)
				ch <- answer{off, err}
			}()

			var off time.Duration
			select {
			case a := <-ch:
				if a.err != nil {
					s.log.Debug(ctx, "time reference unreachable", logger.String("reference", ref.Name()), logger.Error(a.err))
					return nil
				}
				off = a.off
			case <-qctx.Done():
				s.log.Debug(ctx, "time reference timed out", logger.String("reference", ref.Name()))
				return nil
			}
			// Query is relative to the wall clock; re-base it on the local clock
			rebased := off + s.cfg.wall().Round(0).Sub(s.cfg.local().Round(0))
			results[i] = &rebased
			return nil
		})
	}
	_ = g.Wait()

	out := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
