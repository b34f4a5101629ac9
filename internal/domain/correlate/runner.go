package correlate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

// ModelStore persists correlation models across restarts.
type ModelStore interface {
	Load(ctx context.Context) ([]model.CorrelationModel, error)
	Save(ctx context.Context, models []model.CorrelationModel) error
}

// Publisher receives every outcome the correlator produces.
type Publisher interface {
	Publish(ctx context.Context, o model.Outcome) error
}

// Snapshot is a read-only view of the correlator for status reporting.
type Snapshot struct {
	Models         []model.CorrelationModel
	PendingShots   int
	PendingImpacts int
	Matches        int64
	Expired        int64
	TakenAt        time.Time
}

// Runner is the single task that owns a Correlator.
type Runner struct {
	c        *Correlator
	cfg      config
	store    ModelStore
	pub      Publisher
	log      logger.Logger
	snapshot atomic.Pointer[Snapshot]
	matches  int64
	expired  int64
}

// NewRunner creates the correlator task. store may be nil to disable persistence.
func NewRunner(store ModelStore, pub Publisher, opts ...Option) *Runner {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Runner{
		c:     New(opts...),
		cfg:   cfg,
		store: store,
		pub:   pub,
		log:   cfg.logger,
	}
	r.snapshot.Store(&Snapshot{})
	return r
}

// Snapshot returns the most recent published view. Safe for concurrent use.
func (r *Runner) Snapshot() Snapshot {
	return *r.snapshot.Load()
}

// Run loads persisted models, then consumes timer and impact events until ctx
// is done. All models are saved on the way out.
func (r *Runner) Run(ctx context.Context, timers <-chan model.TimerEvent, impacts <-chan model.ImpactEvent) error {
	if r.store != nil {
		models, err := r.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load correlation models: %w", err)
		}
		r.c.Restore(models)
		r.log.Info(ctx, "correlation models restored", logger.Int("models", len(models)))
	}
	r.publishSnapshot()

	ticker := time.NewTicker(r.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			r.saveAll()
			return nil

		case ev, ok := <-timers:
			if !ok {
				timers = nil
				continue
			}
			r.c.OnTimerEvent(ev)
			r.flush(ctx)

		case ev, ok := <-impacts:
			if !ok {
				impacts = nil
				continue
			}
			if err := r.c.OnImpactEvent(ev); err != nil {
				r.log.Warn(ctx, "impact dropped", logger.String("impact_id", ev.ID), logger.Error(err))
			}
			r.flush(ctx)

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush publishes new matches and expirations and saves models that moved.
func (r *Runner) flush(ctx context.Context) {
	for _, pair := range r.c.DrainMatches() {
		r.matches++
		r.publish(ctx, pair.Outcome())
	}
	for _, e := range r.c.Expire(r.cfg.now()) {
		r.expired++
		r.log.Info(ctx, "event expired unmatched",
			logger.String("kind", string(e.Kind)),
			logger.String("session_id", e.SessionID))
		r.publish(ctx, e.Outcome())
	}
	if dirty := r.c.Dirty(); len(dirty) > 0 {
		r.save(ctx, dirty)
	}
	r.publishSnapshot()
}

func (r *Runner) publish(ctx context.Context, o model.Outcome) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(ctx, o); err != nil {
		metrics.RecordErrorByComponent("correlate", "publish")
		r.log.Warn(ctx, "outcome not published", logger.String("kind", string(o.Kind)), logger.Error(err))
	}
}

func (r *Runner) save(ctx context.Context, models []model.CorrelationModel) {
	if r.store == nil {
		return
	}
	err := r.store.Save(ctx, models)
	metrics.RecordModelPersist(err)
	if err != nil {
		r.log.Error(ctx, "saving correlation models", logger.Int("models", len(models)), logger.Error(err))
	}
}

// saveAll runs after cancellation, so it uses a fresh bounded context.
func (r *Runner) saveAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var learned []model.CorrelationModel
	for _, m := range r.c.Models() {
		if m.Count > 0 {
			learned = append(learned, m)
		}
	}
	if len(learned) > 0 {
		r.save(ctx, learned)
	}
}

func (r *Runner) publishSnapshot() {
	shots, impacts := r.c.Pending()
	r.snapshot.Store(&Snapshot{
		Models:         r.c.Models(),
		PendingShots:   shots,
		PendingImpacts: impacts,
		Matches:        r.matches,
		Expired:        r.expired,
		TakenAt:        r.cfg.now(),
	})
}
