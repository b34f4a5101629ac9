package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

var errDisconnected = errors.New("peripheral disconnected")

// State is the connection state of a session.
type State uint8

// Session states.
const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateLost:
		return "lost"
	default:
		return "closed"
	}
}

// Health is a point-in-time view of one session.
type Health struct {
	PeripheralID string
	Kind         model.PeripheralKind
	Name         string
	State        State
	// Stale is set while connected but silent for longer than the
	// staleness window.
	Stale          bool
	SignalStrength int
	HasSignal      bool
	LastFrameAt    time.Time
	LastFrameAge   time.Duration
	ReconnectCount int
	// Attempt counts consecutive failed connects; NextAttemptAt is when the
	// next one is allowed.
	Attempt       int
	NextAttemptAt time.Time
	LastError     error
}

// Session owns the link to one peripheral across reconnects.
type Session struct {
	desc   Descriptor
	m      *Manager
	log    logger.Logger
	frames chan model.RawFrame
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	health    Health
	lastSeen  time.Time
	connected bool
	err       error
}

func newSession(m *Manager, d Descriptor, cancel context.CancelFunc) *Session {
	return &Session{
		desc:   d,
		m:      m,
		log:    m.log.Named(d.ID),
		frames: make(chan model.RawFrame, m.cfg.frameBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		health: Health{PeripheralID: d.ID, Kind: d.Kind, Name: d.Name, State: StateConnecting},
	}
}

// Descriptor returns the peripheral this session serves.
func (s *Session) Descriptor() Descriptor { return s.desc }

// Events returns the frame stream. It spans reconnects and is closed once
// when the session ends; Err then tells why.
func (s *Session) Events() <-chan model.RawFrame { return s.frames }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns ErrLinkLost or ErrSessionClosed after the session ended, nil
// before.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Health returns the current health of the session.
func (s *Session) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health
	if !h.LastFrameAt.IsZero() {
		h.LastFrameAge = time.Since(h.LastFrameAt)
	}
	return h
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)

	bo := s.m.newBackOff()
	for {
		conn, err := s.m.driver.Connect(ctx, s.desc)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(ctx, ErrSessionClosed)
				return
			}
			wait, ok := s.connectFailed(ctx, err, bo)
			if !ok {
				s.finish(ctx, fmt.Errorf("%w: %s: %w", ErrLinkLost, s.desc.ID, err))
				return
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				s.finish(ctx, ErrSessionClosed)
				return
			case <-t.C:
			}
			continue
		}

		bo.Reset()
		s.up(ctx, conn)
		err = s.pump(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			s.log.Debug(ctx, "close connection", logger.Error(cerr))
		}
		if ctx.Err() != nil {
			s.finish(ctx, ErrSessionClosed)
			return
		}
		s.down(ctx, err)
	}
}

func (s *Session) connectFailed(ctx context.Context, err error, bo backoff.BackOff) (time.Duration, bool) {
	s.mu.Lock()
	s.health.Attempt++
	s.health.LastError = err
	attempt := s.health.Attempt
	if attempt > s.m.cfg.maxRetries {
		s.mu.Unlock()
		return 0, false
	}
	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		wait = s.m.cfg.maxInterval
	}
	s.health.NextAttemptAt = time.Now().Add(wait)
	if s.connected {
		s.health.State = StateReconnecting
	}
	h := s.health
	s.mu.Unlock()

	s.log.Warn(ctx, "connect failed",
		logger.Int("attempt", attempt),
		logger.Duration("retry_in", wait),
		logger.Error(err))
	s.m.publish(h)
	return wait, true
}

func (s *Session) up(ctx context.Context, conn Conn) {
	s.mu.Lock()
	reconnect := s.connected
	s.connected = true
	if reconnect {
		s.health.ReconnectCount++
	}
	s.health.State = StateConnected
	s.health.Attempt = 0
	s.health.NextAttemptAt = time.Time{}
	s.health.Stale = false
	s.lastSeen = time.Now()
	if rssi, ok := conn.RSSI(); ok {
		s.health.SignalStrength, s.health.HasSignal = rssi, true
	}
	h := s.health
	s.mu.Unlock()

	metrics.UpdateLinkConnected(s.desc.ID, true)
	metrics.UpdateLinkStale(s.desc.ID, false)
	if reconnect {
		metrics.RecordLinkReconnect(s.desc.ID)
		s.log.Info(ctx, "peripheral reconnected", logger.Int("reconnects", h.ReconnectCount))
	} else {
		s.log.Info(ctx, "peripheral connected", logger.String("kind", string(s.desc.Kind)))
	}
	s.m.publish(h)
}

func (s *Session) down(ctx context.Context, err error) {
	s.mu.Lock()
	s.health.State = StateReconnecting
	s.health.LastError = err
	h := s.health
	s.mu.Unlock()

	metrics.UpdateLinkConnected(s.desc.ID, false)
	s.log.Warn(ctx, "peripheral disconnected, reconnecting", logger.Error(err))
	s.m.publish(h)
}

func (s *Session) finish(ctx context.Context, err error) {
	s.mu.Lock()
	s.err = err
	if errors.Is(err, ErrLinkLost) {
		s.health.State = StateLost
	} else {
		s.health.State = StateClosed
	}
	s.health.Stale = false
	s.health.NextAttemptAt = time.Time{}
	h := s.health
	s.mu.Unlock()

	metrics.UpdateLinkConnected(s.desc.ID, false)
	metrics.UpdateLinkStale(s.desc.ID, false)
	if h.State == StateLost {
		metrics.RecordLinkLost(s.desc.ID)
		s.log.Error(ctx, "peripheral link lost", logger.Int("attempts", h.Attempt), logger.Error(err))
	} else {
		s.log.Info(ctx, "session closed")
	}
	s.m.publish(h)
}

func (s *Session) pump(ctx context.Context, conn Conn) error {
	tick := s.m.cfg.staleAfter / 4
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	notes := conn.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-notes:
			if !ok {
				return errDisconnected
			}
			s.deliver(ctx, data)
		case <-ticker.C:
			s.check(ctx, conn)
		}
	}
}

func (s *Session) deliver(ctx context.Context, data []byte) {
	now := time.Now()
	s.mu.Lock()
	s.lastSeen = now
	s.health.LastFrameAt = now
	wasStale := s.health.Stale
	s.health.Stale = false
	h := s.health
	s.mu.Unlock()

	if wasStale {
		metrics.UpdateLinkStale(s.desc.ID, false)
		s.log.Info(ctx, "peripheral producing frames again")
		s.m.publish(h)
	}

	frame := model.RawFrame{
		PeripheralID: s.desc.ID,
		Kind:         s.desc.Kind,
		Data:         append([]byte(nil), data...),
		ReceivedAt:   s.m.cfg.now(),
		Connection:   h.ReconnectCount,
	}
	select {
	case s.frames <- frame:
	default:
		metrics.RecordFrameDropped(string(s.desc.Kind), "backpressure")
		if s.desc.Kind == model.PeripheralTimer {
			// a lost timer frame is a lost shot
			s.log.Warn(ctx, "timer frame dropped, consumer behind", logger.Int("length", len(data)))
		} else {
			s.log.Debug(ctx, "frame dropped, consumer behind")
		}
	}
}

func (s *Session) check(ctx context.Context, conn Conn) {
	rssi, hasRSSI := conn.RSSI()

	s.mu.Lock()
	if hasRSSI {
		s.health.SignalStrength, s.health.HasSignal = rssi, true
	}
	silent := time.Since(s.lastSeen)
	becameStale := !s.health.Stale && silent > s.m.cfg.staleAfter
	if becameStale {
		s.health.Stale = true
	}
	h := s.health
	s.mu.Unlock()

	if hasRSSI {
		metrics.UpdateLinkRSSI(s.desc.ID, rssi)
	}
	if becameStale {
		metrics.UpdateLinkStale(s.desc.ID, true)
		s.log.Warn(ctx, "peripheral stale", logger.Duration("silent_for", silent))
		s.m.publish(h)
	}
}
