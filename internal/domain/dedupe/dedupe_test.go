package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/domain/dedupe"
	"github.com/okian/shotlink/internal/domain/model"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When a key is new", func() {
			seen := d.SeenAndRecord(ctx, "t1|0|shot|1")

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a key repeats", func() {
			d.SeenAndRecord(ctx, "t1|0|shot|1")
			seen := d.SeenAndRecord(ctx, "t1|0|shot|1")

			Convey("Then it is reported as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a recorded key is unrecorded", func() {
			d.SeenAndRecord(ctx, "k")
			d.Unrecord(ctx, "k")
			d.Unrecord(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "k"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := 1; i <= 4; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
		}

		Convey("Then the oldest key is evicted first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 10000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 10000)
			So(d.SeenAndRecord(ctx, "k0"), ShouldBeTrue)
		})
	})

	Convey("Given concurrent writers of the same keys", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each key is new exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}

func shot(timer string, n int, seq uint16) model.TimerEvent {
	return model.TimerEvent{PeripheralID: timer, Kind: model.TimerShot, ShotNumber: n, Sequence: seq}
}

func start(timer string, seq uint16) model.TimerEvent {
	return model.TimerEvent{PeripheralID: timer, Kind: model.TimerSessionStart, Sequence: seq}
}

func onConnection(ev model.TimerEvent, n int) model.TimerEvent {
	ev.Connection = n
	return ev
}

func TestReplayFilter(t *testing.T) {
	ctx := context.Background()

	Convey("Given a replay filter", t, func() {
		f := dedupe.NewReplayFilter(dedupe.NewInMemoryDeduper())
		So(f.Replayed(ctx, start("t1", 1)), ShouldBeFalse)
		So(f.Replayed(ctx, shot("t1", 1, 2)), ShouldBeFalse)

		Convey("When the timer re-sends its last shot after a reconnect", func() {
			replayed := f.Replayed(ctx, shot("t1", 1, 2))

			Convey("Then it is suppressed", func() {
				So(replayed, ShouldBeTrue)
			})
		})

		Convey("When the session start is re-sent", func() {
			So(f.Replayed(ctx, start("t1", 1)), ShouldBeTrue)

			Convey("Then the session does not advance", func() {
				So(f.Replayed(ctx, shot("t1", 1, 2)), ShouldBeTrue)
			})
		})

		Convey("When a new session starts", func() {
			So(f.Replayed(ctx, start("t1", 9)), ShouldBeFalse)

			Convey("Then shot numbers are accepted again", func() {
				So(f.Replayed(ctx, shot("t1", 1, 10)), ShouldBeFalse)
			})
		})

		Convey("When another timer sends the same shot number", func() {
			Convey("Then it is independent", func() {
				So(f.Replayed(ctx, shot("t2", 1, 2)), ShouldBeFalse)
			})
		})

		Convey("When an accepted shot is forgotten", func() {
			f.Forget(ctx, shot("t1", 1, 2))

			Convey("Then its redelivery is accepted", func() {
				So(f.Replayed(ctx, shot("t1", 1, 2)), ShouldBeFalse)
			})
		})
	})

	Convey("Given a string accepted on the first connection", t, func() {
		f := dedupe.NewReplayFilter(dedupe.NewInMemoryDeduper())
		So(f.Replayed(ctx, start("t1", 0)), ShouldBeFalse)
		for n := 1; n <= 3; n++ {
			So(f.Replayed(ctx, shot("t1", n, uint16(n))), ShouldBeFalse)
		}

		Convey("When the timer reconnects with its sequence restarted and shoots a new string", func() {
			var replayed []bool
			replayed = append(replayed, f.Replayed(ctx, onConnection(start("t1", 0), 1)))
			for n := 1; n <= 3; n++ {
				replayed = append(replayed, f.Replayed(ctx, onConnection(shot("t1", n, uint16(n)), 1)))
			}

			Convey("Then every record of the new string is accepted", func() {
				So(replayed, ShouldResemble, []bool{false, false, false, false})
			})
		})

		Convey("When the timer reconnects and only re-sends its last shot", func() {
			replayed := f.Replayed(ctx, onConnection(shot("t1", 3, 0), 1))

			Convey("Then the shot is still suppressed", func() {
				So(replayed, ShouldBeTrue)
			})
		})
	})
}
