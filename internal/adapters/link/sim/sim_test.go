package sim_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/adapters/link/sim"
	"github.com/okian/shotlink/internal/domain/codec"
	"github.com/okian/shotlink/internal/domain/model"
)

func TestDriver(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fast simulation", t, func() {
		d := sim.New(
			sim.WithShotInterval(40*time.Millisecond),
			sim.WithImpactDelay(15*time.Millisecond),
			sim.WithSampleInterval(2*time.Millisecond),
			sim.WithShotsPerString(2),
			sim.WithStringPause(50*time.Millisecond),
			sim.WithSeed(7),
		)

		Convey("When an unsupported kind connects", func() {
			_, err := d.Connect(ctx, link.Descriptor{ID: "x", Kind: "radar"})

			Convey("Then it is refused", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a timer connects", func() {
			c, err := d.Connect(ctx, link.Descriptor{ID: "timer-1", Kind: model.PeripheralTimer})
			So(err, ShouldBeNil)
			defer c.Close()

			Convey("Then it emits a decodable start, shots and stop", func() {
				var kinds []model.TimerKind
				var shots []uint8
				for len(kinds) < 4 {
					f, err := codec.ParseTimerFrame(<-c.Notifications())
					So(err, ShouldBeNil)
					So(f.Sequence, ShouldEqual, uint16(len(kinds)))
					kinds = append(kinds, f.Kind)
					if f.Kind == model.TimerShot {
						shots = append(shots, f.ShotNumber)
						So(f.ElapsedCS, ShouldBeGreaterThanOrEqualTo, f.SplitCS)
					}
				}
				So(kinds, ShouldResemble, []model.TimerKind{
					model.TimerSessionStart, model.TimerShot, model.TimerShot, model.TimerSessionStop,
				})
				So(shots, ShouldResemble, []uint8{1, 2})
			})
		})

		Convey("When a sensor connects alongside a timer", func() {
			sensor, _ := d.Connect(ctx, link.Descriptor{ID: "sensor-1", Kind: model.PeripheralMotion})
			defer sensor.Close()
			timer, _ := d.Connect(ctx, link.Descriptor{ID: "timer-1", Kind: model.PeripheralTimer})
			defer timer.Close()
			go func() {
				for range timer.Notifications() {
				}
			}()

			Convey("Then resting samples sit near 1 g and an impact follows the first shot", func() {
				var rest, peak float64
				deadline := time.After(2 * time.Second)
				for i := 0; peak < 3; i++ {
					select {
					case data := <-sensor.Notifications():
						f, err := codec.ParseMotionFrame(data)
						So(err, ShouldBeNil)
						m := f.Sample("sensor-1", time.Now()).Magnitude()
						if i == 0 {
							rest = m
						}
						if m > peak {
							peak = m
						}
					case <-deadline:
						So("no impact within deadline", ShouldBeEmpty)
						return
					}
				}
				So(rest, ShouldAlmostEqual, 1.0, 0.02)
				So(peak, ShouldBeGreaterThan, 3.0)
			})
		})

		Convey("When a connection is closed", func() {
			c, _ := d.Connect(ctx, link.Descriptor{ID: "sensor-2", Kind: model.PeripheralMotion})
			So(c.Close(), ShouldBeNil)
			So(c.Close(), ShouldBeNil)

			Convey("Then its notifications end", func() {
				for range c.Notifications() {
				}
				rssi, ok := c.RSSI()
				So(ok, ShouldBeTrue)
				So(rssi, ShouldBeLessThan, 0)
			})
		})
	})
	Convey("Given timers that go out of range after one string", t, func() {
		d := sim.New(
			sim.WithShotInterval(10*time.Millisecond),
			sim.WithShotsPerString(2),
			sim.WithTimerDropAfter(1),
		)

		read := func() []codec.TimerFrame {
			c, err := d.Connect(ctx, link.Descriptor{ID: "timer-1", Kind: model.PeripheralTimer})
			So(err, ShouldBeNil)
			defer c.Close()
			var frames []codec.TimerFrame
			for data := range c.Notifications() {
				f, err := codec.ParseTimerFrame(data)
				So(err, ShouldBeNil)
				frames = append(frames, f)
			}
			return frames
		}

		Convey("When the timer connects twice", func() {
			first, second := read(), read()

			Convey("Then each connection carries one string and the sequence restarts", func() {
				So(first, ShouldHaveLength, 4)
				So(second, ShouldHaveLength, 4)
				So(first[0].Kind, ShouldEqual, model.TimerSessionStart)
				So(first[3].Kind, ShouldEqual, model.TimerSessionStop)
				So(second[0].Kind, ShouldEqual, model.TimerSessionStart)
				So(second[0].Sequence, ShouldEqual, uint16(0))
			})
		})
	})
}
