// Package correlate pairs timer shots with detected impacts and learns the
// expected delay between them.
//
// A Correlator is owned by exactly one goroutine (see Runner); it holds the
// correlation models and all unmatched events and does no locking.
package correlate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

type pendingShot struct {
	ev      model.TimerEvent
	at      time.Time
	session string
}

type timerSession struct {
	id       string
	anchor   time.Time
	anchored bool
}

type modelEntry struct {
	m         *model.CorrelationModel
	savedMean float64
	saved     bool
	force     bool
}

// Correlator holds unmatched shots and impacts and the per-pairing models.
type Correlator struct {
	cfg      config
	log      logger.Logger
	models   map[model.PairKey]*modelEntry
	sessions map[string]*timerSession
	shots    []*pendingShot
	impacts  []*model.ImpactEvent
	matches  []model.MatchedPair
	expired  []model.Expired
}

// New creates a correlator.
func New(opts ...Option) *Correlator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Correlator{
		cfg:      cfg,
		log:      cfg.logger,
		models:   make(map[model.PairKey]*modelEntry),
		sessions: make(map[string]*timerSession),
	}
}

// Restore installs previously persisted models. Models already present are
// replaced. The persisted window is overwritten by the configured one, which
// is the window matching uses.
func (c *Correlator) Restore(models []model.CorrelationModel) {
	for i := range models {
		m := models[i]
		m.WindowMS = float64(c.cfg.window) / float64(time.Millisecond)
		c.models[m.Key] = &modelEntry{m: &m, savedMean: m.MeanMS, saved: true}
		metrics.UpdateModelMean(m.Key.String(), m.MeanMS)
	}
}

// Model returns the model of a pairing, creating it from the prior if needed.
func (c *Correlator) Model(key model.PairKey) *model.CorrelationModel {
	return c.entry(key).m
}

func (c *Correlator) entry(key model.PairKey) *modelEntry {
	e, ok := c.models[key]
	if !ok {
		e = &modelEntry{m: model.NewCorrelationModel(key, c.cfg.prior, c.cfg.window)}
		c.models[key] = e
	}
	return e
}

// Models returns a copy of every model, ordered by key.
func (c *Correlator) Models() []model.CorrelationModel {
	out := make([]model.CorrelationModel, 0, len(c.models))
	for _, e := range c.models {
		out = append(out, *e.m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Pending reports how many shots and impacts are waiting for a partner.
func (c *Correlator) Pending() (shots, impacts int) {
	return len(c.shots), len(c.impacts)
}

// Session returns the current session id of a timer, if it has one.
func (c *Correlator) Session(timerID string) (string, bool) {
	s, ok := c.sessions[timerID]
	if !ok {
		return "", false
	}
	return s.id, true
}

// OnTimerEvent records a timer event. Shots are matched against impacts that
// arrived before them; session starts expire the previous session's shots.
func (c *Correlator) OnTimerEvent(ev model.TimerEvent) {
	switch ev.Kind {
	case model.TimerSessionStart:
		c.startSession(ev)
	case model.TimerSessionStop:
		c.stopSession(ev)
	case model.TimerShot:
		c.addShot(ev)
	}
}

func (c *Correlator) startSession(ev model.TimerEvent) {
	if prev, ok := c.sessions[ev.PeripheralID]; ok {
		kept := c.shots[:0]
		for _, s := range c.shots {
			if s.ev.PeripheralID == ev.PeripheralID && s.session == prev.id {
				c.expire(model.Expired{Kind: model.ExpiredShot, SessionID: s.session, Shot: &s.ev, ShotAt: s.at})
				continue
			}
			kept = append(kept, s)
		}
		c.shots = kept
	}

	s := &timerSession{
		id:       uuid.NewString(),
		anchor:   ev.Timestamp.Add(-ev.Elapsed),
		anchored: true,
	}
	c.sessions[ev.PeripheralID] = s
	c.log.Info(context.Background(), "session started",
		logger.String("timer_id", ev.PeripheralID),
		logger.String("session_id", s.id),
		logger.Time("anchor", s.anchor))
}

func (c *Correlator) stopSession(ev model.TimerEvent) {
	for key, e := range c.models {
		if key.TimerID == ev.PeripheralID && e.m.Count > 0 {
			e.force = true
		}
	}
	if s, ok := c.sessions[ev.PeripheralID]; ok {
		c.log.Info(context.Background(), "session stopped",
			logger.String("timer_id", ev.PeripheralID),
			logger.String("session_id", s.id),
			logger.Int("shots", ev.ShotsInString))
	}
}

// shotTime is the anchored session time when known, the receipt time otherwise.
func (c *Correlator) shotTime(ev model.TimerEvent) (time.Time, string) {
	s, ok := c.sessions[ev.PeripheralID]
	if !ok {
		s = &timerSession{id: uuid.NewString()}
		c.sessions[ev.PeripheralID] = s
	}
	if s.anchored {
		return s.anchor.Add(ev.Elapsed), s.id
	}
	return ev.Timestamp, s.id
}

func (c *Correlator) addShot(ev model.TimerEvent) {
	at, session := c.shotTime(ev)
	c.shots = append(c.shots, &pendingShot{ev: ev, at: at, session: session})

	// the timer notification may trail the impact it caused
	sort.Slice(c.impacts, func(i, j int) bool { return c.impacts[i].Onset.Before(c.impacts[j].Onset) })
	kept := c.impacts[:0]
	for _, imp := range c.impacts {
		if !c.tryMatch(imp) {
			kept = append(kept, imp)
		}
	}
	c.impacts = kept
}

// OnImpactEvent records an impact and matches it to the best pending shot.
// An impact that was already matched is rejected with model.ErrAlreadyMatched.
func (c *Correlator) OnImpactEvent(ev model.ImpactEvent) error {
	if ev.State() == model.Matched {
		return model.ErrAlreadyMatched
	}
	imp := &ev
	if !c.tryMatch(imp) {
		c.impacts = append(c.impacts, imp)
	}
	return nil
}

// tryMatch pairs imp with the qualifying shot whose delay is closest to the
// model mean. It reports whether a pair was made.
func (c *Correlator) tryMatch(imp *model.ImpactEvent) bool {
	best := -1
	var bestDist time.Duration
	for i, s := range c.shots {
		delay := imp.Onset.Sub(s.at)
		if delay < 0 || delay > c.cfg.window {
			continue
		}
		mean := c.Model(model.PairKey{TimerID: s.ev.PeripheralID, SensorID: imp.PeripheralID}).Mean()
		dist := absDuration(delay - mean)
		if best < 0 || dist < bestDist || (dist == bestDist && c.preferTie(s, c.shots[best])) {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return false
	}
	if err := imp.Match(); err != nil {
		return false
	}

	s := c.shots[best]
	c.shots = append(c.shots[:best], c.shots[best+1:]...)

	delay := imp.Onset.Sub(s.at)
	key := model.PairKey{TimerID: s.ev.PeripheralID, SensorID: imp.PeripheralID}
	m := c.Model(key)
	m.Update(delay, imp.Onset)

	c.matches = append(c.matches, model.MatchedPair{
		SessionID: s.session,
		Shot:      s.ev,
		ShotAt:    s.at,
		Impact:    *imp,
		Delay:     delay,
	})

	delayMS := float64(delay) / float64(time.Millisecond)
	metrics.RecordMatch(delayMS)
	metrics.UpdateModelMean(key.String(), m.MeanMS)
	c.log.Debug(context.Background(), "shot matched",
		logger.String("pair", key.String()),
		logger.Int("shot", s.ev.ShotNumber),
		logger.Float64("delay_ms", delayMS),
		logger.Float64("mean_ms", m.MeanMS),
		logger.Float64("stddev_ms", m.StdDev()))
	return true
}

func (c *Correlator) preferTie(candidate, current *pendingShot) bool {
	if c.cfg.tieBreak == LatestShot {
		return candidate.at.After(current.at)
	}
	return candidate.at.Before(current.at)
}

// DrainMatches returns the pairs made since the last call.
func (c *Correlator) DrainMatches() []model.MatchedPair {
	out := c.matches
	c.matches = nil
	return out
}

// Expire removes events older than the retention horizon and returns them
// together with shots dropped by a session restart. Each event is returned once.
func (c *Correlator) Expire(now time.Time) []model.Expired {
	keptShots := c.shots[:0]
	for _, s := range c.shots {
		if now.Sub(s.at) > c.cfg.horizon {
			c.expire(model.Expired{Kind: model.ExpiredShot, SessionID: s.session, Shot: &s.ev, ShotAt: s.at})
			continue
		}
		keptShots = append(keptShots, s)
	}
	c.shots = keptShots

	keptImpacts := c.impacts[:0]
	for _, imp := range c.impacts {
		if now.Sub(imp.Onset) > c.cfg.horizon {
			c.expire(model.Expired{Kind: model.ExpiredImpact, Impact: imp})
			continue
		}
		keptImpacts = append(keptImpacts, imp)
	}
	c.impacts = keptImpacts

	out := c.expired
	c.expired = nil
	return out
}

func (c *Correlator) expire(e model.Expired) {
	c.expired = append(c.expired, e)
	metrics.RecordExpired(string(e.Kind))
}

// Dirty returns the models that should be saved: those whose mean moved more
// than the persist delta since the last save, and those flagged by a session
// stop. They are considered saved once returned.
func (c *Correlator) Dirty() []model.CorrelationModel {
	delta := float64(c.cfg.persistDelta) / float64(time.Millisecond)
	var out []model.CorrelationModel
	for _, e := range c.models {
		if e.m.Count == 0 {
			continue
		}
		if e.force || !e.saved || math.Abs(e.m.MeanMS-e.savedMean) > delta {
			out = append(out, *e.m)
			e.savedMean, e.saved, e.force = e.m.MeanMS, true, false
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
