package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/shotlink/internal/adapters/mq/queue"
	worker "github.com/okian/shotlink/internal/adapters/mq/worker"
	model "github.com/okian/shotlink/internal/domain/model"
)

// Mock implementations for testing.
type mockQueue struct {
	eventChan chan queue.Event
	closeOnce sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{eventChan: make(chan queue.Event, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Event {
	return mq.eventChan
}

func (mq *mockQueue) Close() error {
	mq.closeOnce.Do(func() { close(mq.eventChan) })
	return nil
}

func (mq *mockQueue) addEvent(event queue.Event) { //nolint:gocritic // hugeParam
	mq.eventChan <- event
}

type mockSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []model.Outcome
}

func (ms *mockSink) Name() string { return ms.name }

func (ms *mockSink) Publish(_ context.Context, o model.Outcome) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.err != nil {
		return ms.err
	}
	ms.got = append(ms.got, o)
	return nil
}

func (ms *mockSink) received() []model.Outcome {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]model.Outcome(nil), ms.got...)
}

func outcome(shot int) model.Outcome {
	return model.Outcome{Kind: model.OutcomeMatched, SessionID: "s1", TimerID: "timer-1", SensorID: "sensor-1", ShotNumber: shot, DelayMS: 520}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		q := newMockQueue()
		good := &mockSink{name: "log"}
		bad := &mockSink{name: "kafka", err: errors.New("broker down")}

		convey.Convey("When running a worker with two sinks", func() {
			w := worker.NewInMemoryWorker(q, []worker.Sink{bad, good}, worker.WithName("worker-test"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			q.addEvent(outcome(1))
			q.addEvent(outcome(2))

			convey.Convey("Then a failing sink does not starve the other", func() {
				convey.So(waitFor(func() bool { return len(good.received()) == 2 }), convey.ShouldBeTrue)
				convey.So(good.received()[0].ShotNumber, convey.ShouldEqual, 1)
			})

			convey.Convey("Then it shuts down gracefully", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the queue is closed", func() {
			w := worker.NewInMemoryWorker(q, []worker.Sink{good})
			q.addEvent(outcome(1))
			_ = q.Close()
			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()

			convey.Convey("Then the worker drains it and stops", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
				}
				convey.So(len(good.received()), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			w := worker.NewInMemoryWorker(q, []worker.Sink{good})
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				w.Run(ctx)
				close(done)
			}()
			cancel()

			convey.Convey("Then the worker stops", func() {
				stopped := false
				select {
				case <-done:
					stopped = true
				case <-time.After(time.Second):
				}
				convey.So(stopped, convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool over a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		sink := &mockSink{name: "log"}
		pool := worker.NewPool(4, q, []worker.Sink{sink})
		pool.Start(context.Background())

		convey.Convey("When outcomes are published and the pool shut down", func() {
			for i := 1; i <= 50; i++ {
				convey.So(q.Publish(context.Background(), outcome(i)), convey.ShouldBeNil)
			}
			err := pool.Shutdown(context.Background())

			convey.Convey("Then every queued outcome reached the sink", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(sink.received()), convey.ShouldEqual, 50)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool with no explicit size", t, func() {
		pool := worker.NewPool(0, newMockQueue(), nil)

		convey.Convey("Then it still starts and stops", func() {
			pool.Start(context.Background())
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}
