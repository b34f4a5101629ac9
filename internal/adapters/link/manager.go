// Package link keeps one persistent session per peripheral and turns its
// notifications into a stream of timestamped raw frames.
package link

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/shotlink/pkg/logger"
)

// Manager opens and tracks peripheral sessions over one driver.
type Manager struct {
	driver Driver
	cfg    config
	log    logger.Logger
	status chan Health

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager over driver.
func NewManager(driver Driver, opts ...Option) *Manager {
	cfg := config{
		staleAfter:      defaultStaleAfter,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxRetries:      defaultMaxRetries,
		randomization:   defaultRandomization,
		frameBuffer:     defaultFrameBuffer,
		statusBuffer:    defaultStatusBuffer,
		now:             time.Now,
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		driver:   driver,
		cfg:      cfg,
		log:      cfg.logger,
		status:   make(chan Health, cfg.statusBuffer),
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for d and returns its handle immediately; the
// connection is made in the background. The session lives until Close, ctx
// is cancelled or the reconnect budget runs out.
func (m *Manager) Open(ctx context.Context, d Descriptor) (*Session, error) {
	if d.ID == "" || d.Kind == "" {
		return nil, ErrInvalidDescriptor
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[d.ID]; ok {
		select {
		case <-old.done:
		default:
			return nil, ErrSessionExists
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := newSession(m, d, cancel)
	m.sessions[d.ID] = s
	go s.run(sctx)
	return s, nil
}

// Session returns the session for id.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Health returns the health of the session for id.
func (m *Manager) Health(id string) (Health, error) {
	s, err := m.Session(id)
	if err != nil {
		return Health{}, err
	}
	return s.Health(), nil
}

// Sessions returns the health of every tracked session ordered by id.
func (m *Manager) Sessions() []Health {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Health, len(all))
	for i, s := range all {
		out[i] = s.Health()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeripheralID < out[j].PeripheralID })
	return out
}

// Close unsubscribes and ends the session for id, waiting for it to stop.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	s.cancel()
	<-s.done
	return nil
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Status delivers a Health snapshot on every state or staleness transition.
// Transitions are dropped when nobody keeps up.
func (m *Manager) Status() <-chan Health { return m.status }

func (m *Manager) publish(h Health) {
	select {
	case m.status <- h:
	default:
	}
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.initialInterval
	b.MaxInterval = m.cfg.maxInterval
	b.RandomizationFactor = m.cfg.randomization
	b.Multiplier = defaultMultiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
