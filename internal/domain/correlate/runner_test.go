package correlate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/domain/correlate"
	"github.com/okian/shotlink/internal/domain/model"
)

type memStore struct {
	mu      sync.Mutex
	initial []model.CorrelationModel
	saved   [][]model.CorrelationModel
	loadErr error
}

func (s *memStore) Load(context.Context) ([]model.CorrelationModel, error) {
	return s.initial, s.loadErr
}

func (s *memStore) Save(_ context.Context, models []model.CorrelationModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, models)
	return nil
}

func (s *memStore) saves() [][]model.CorrelationModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]model.CorrelationModel(nil), s.saved...)
}

type memPublisher struct {
	mu  sync.Mutex
	out []model.Outcome
}

func (p *memPublisher) Publish(_ context.Context, o model.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, o)
	return nil
}

func (p *memPublisher) outcomes() []model.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Outcome(nil), p.out...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestRunner(t *testing.T) {
	convey.Convey("Given a runner with a restored model", t, func() {
		key := model.PairKey{TimerID: "timer-1", SensorID: "sensor-1"}
		store := &memStore{initial: []model.CorrelationModel{{Key: key, MeanMS: 526, Count: 10, M2: 90}}}
		pub := &memPublisher{}
		r := correlate.NewRunner(store, pub,
			correlate.WithClock(func() time.Time { return t0.Add(2 * time.Second) }),
			correlate.WithSweepInterval(10*time.Millisecond),
		)

		ctx, cancel := context.WithCancel(context.Background())
		timers := make(chan model.TimerEvent, 8)
		impacts := make(chan model.ImpactEvent, 8)
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx, timers, impacts) }()

		convey.Convey("When a shot and its impact flow through", func() {
			timers <- sessionStart("timer-1", t0)
			timers <- shot("timer-1", 1, time.Second)
			convey.So(eventually(func() bool { return r.Snapshot().PendingShots == 1 }), convey.ShouldBeTrue)
			impacts <- impact("sensor-1", t0.Add(ms(1526)))

			convey.Convey("Then a matched outcome is published", func() {
				convey.So(eventually(func() bool { return len(pub.outcomes()) == 1 }), convey.ShouldBeTrue)
				o := pub.outcomes()[0]
				convey.So(o.Kind, convey.ShouldEqual, model.OutcomeMatched)
				convey.So(o.DelayMS, convey.ShouldAlmostEqual, 526.0, 0.5)
				convey.So(o.TimerID, convey.ShouldEqual, "timer-1")
				convey.So(r.Snapshot().Matches, convey.ShouldEqual, 1)

				convey.Convey("And models are saved on shutdown", func() {
					cancel()
					convey.So(<-done, convey.ShouldBeNil)
					saves := store.saves()
					convey.So(saves, convey.ShouldNotBeEmpty)
					last := saves[len(saves)-1]
					convey.So(last, convey.ShouldHaveLength, 1)
					convey.So(last[0].Count, convey.ShouldEqual, 11)
				})
			})
		})

		convey.Reset(func() {
			cancel()
		})
	})

	convey.Convey("Given a store that fails to load", t, func() {
		r := correlate.NewRunner(&memStore{loadErr: errors.New("corrupt")}, nil)
		err := r.Run(context.Background(), nil, nil)

		convey.Convey("Then Run refuses to start", func() {
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "corrupt")
		})
	})
}
