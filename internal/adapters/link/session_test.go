package link_test

import (
	"context"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/adapters/link/stub"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

type logLine struct {
	level string
	msg   string
}

type captureLogger struct {
	mu    *sync.Mutex
	lines *[]logLine
}

func newCaptureLogger() captureLogger {
	return captureLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (c captureLogger) add(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.lines = append(*c.lines, logLine{level, msg})
}

func (c captureLogger) has(level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range *c.lines {
		if l.level == level && l.msg == msg {
			return true
		}
	}
	return false
}

func (c captureLogger) Info(_ context.Context, msg string, _ ...logger.Field) { c.add("info", msg) }
func (c captureLogger) Error(_ context.Context, msg string, _ ...logger.Field) { c.add("error", msg) }
func (c captureLogger) Debug(_ context.Context, msg string, _ ...logger.Field) { c.add("debug", msg) }
func (c captureLogger) Warn(_ context.Context, msg string, _ ...logger.Field) { c.add("warn", msg) }
func (c captureLogger) Fatal(_ context.Context, msg string, _ ...logger.Field) { c.add("fatal", msg) }
func (c captureLogger) Named(string) logger.Logger { return c }

var timer = link.Descriptor{ID: "timer-1", Kind: model.PeripheralTimer}

func TestBackpressure(t *testing.T) {
	Convey("Given sessions whose consumer has stopped reading", t, func() {
		drv := stub.New()
		log := newCaptureLogger()
		m := newManager(drv, link.WithFrameBuffer(1), link.WithLogger(log))
		defer m.CloseAll()

		Convey("When a timer keeps notifying", func() {
			_, err := m.Open(context.Background(), timer)
			So(err, ShouldBeNil)
			So(eventually(connected(m, timer.ID)), ShouldBeTrue)
			for i := 0; i < 4; i++ {
				drv.Inject(timer.ID, []byte{0x01, 0x03})
			}

			Convey("Then the dropped frames are warned about", func() {
				So(eventually(func() bool { return log.has("warn", "timer frame dropped, consumer behind") }), ShouldBeTrue)
			})
		})

		Convey("When a sensor keeps notifying", func() {
			_, err := m.Open(context.Background(), sensor)
			So(err, ShouldBeNil)
			So(eventually(connected(m, sensor.ID)), ShouldBeTrue)
			for i := 0; i < 4; i++ {
				drv.Inject(sensor.ID, []byte{0x55, 0x61})
			}

			Convey("Then the drops stay at debug level", func() {
				So(eventually(func() bool { return log.has("debug", "frame dropped, consumer behind") }), ShouldBeTrue)
				So(log.has("warn", "timer frame dropped, consumer behind"), ShouldBeFalse)
			})
		})
	})
}

func TestFrameConnection(t *testing.T) {
	Convey("Given an open timer session", t, func() {
		drv := stub.New()
		m := newManager(drv)
		defer m.CloseAll()
		s, err := m.Open(context.Background(), timer)
		So(err, ShouldBeNil)
		So(eventually(connected(m, timer.ID)), ShouldBeTrue)

		Convey("When frames arrive before and after a reconnect", func() {
			So(drv.Inject(timer.ID, []byte{1}), ShouldBeTrue)
			before := <-s.Events()
			drv.Drop(timer.ID)
			So(eventually(func() bool {
				h, _ := m.Health(timer.ID)
				return h.State == link.StateConnected && h.ReconnectCount == 1
			}), ShouldBeTrue)
			So(drv.Inject(timer.ID, []byte{2}), ShouldBeTrue)
			after := <-s.Events()

			Convey("Then each frame carries the connection it arrived on", func() {
				So(before.Connection, ShouldEqual, 0)
				So(after.Connection, ShouldEqual, 1)
			})
		})
	})
}
