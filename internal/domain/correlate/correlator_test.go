package correlate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/domain/correlate"
	"github.com/okian/shotlink/internal/domain/model"
)

var t0 = time.Date(2026, 5, 9, 14, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func sessionStart(timer string, at time.Time) model.TimerEvent {
	return model.TimerEvent{PeripheralID: timer, Kind: model.TimerSessionStart, Timestamp: at}
}

// shot builds a shot whose notification arrives 80ms after it happened.
func shot(timer string, n int, elapsed time.Duration) model.TimerEvent {
	return model.TimerEvent{
		PeripheralID: timer,
		Kind:         model.TimerShot,
		ShotNumber:   n,
		Elapsed:      elapsed,
		Timestamp:    t0.Add(elapsed + ms(80)),
	}
}

func impact(sensor string, onset time.Time) model.ImpactEvent {
	return model.ImpactEvent{ID: sensor + onset.String(), PeripheralID: sensor, Onset: onset, PeakG: 2.5}
}

func TestEndToEndScenario(t *testing.T) {
	convey.Convey("Given a session start, a shot at 1.000s and an impact at 1.526s", t, func() {
		c := correlate.New()
		c.OnTimerEvent(sessionStart("timer-1", t0))
		c.OnTimerEvent(shot("timer-1", 1, time.Second))
		err := c.OnImpactEvent(impact("sensor-1", t0.Add(ms(1526))))

		convey.Convey("Then exactly one pair with a 526ms delay is produced", func() {
			convey.So(err, convey.ShouldBeNil)
			pairs := c.DrainMatches()
			convey.So(pairs, convey.ShouldHaveLength, 1)
			convey.So(pairs[0].Delay, convey.ShouldAlmostEqual, ms(526), ms(1))
			convey.So(pairs[0].ShotAt, convey.ShouldEqual, t0.Add(time.Second))
			convey.So(pairs[0].Impact.State(), convey.ShouldEqual, model.Matched)

			sid, ok := c.Session("timer-1")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(pairs[0].SessionID, convey.ShouldEqual, sid)

			convey.So(c.DrainMatches(), convey.ShouldBeEmpty)
			shots, impacts := c.Pending()
			convey.So(shots, convey.ShouldEqual, 0)
			convey.So(impacts, convey.ShouldEqual, 0)
		})

		convey.Convey("Then the pairing model learns the delay", func() {
			m := c.Model(model.PairKey{TimerID: "timer-1", SensorID: "sensor-1"})
			convey.So(m.Count, convey.ShouldEqual, 1)
			convey.So(m.MeanMS, convey.ShouldAlmostEqual, 526.0, 1.0)
		})
	})
}

func TestClosestMatch(t *testing.T) {
	convey.Convey("Given two shots 500ms and 520ms before an impact and a model mean of 526ms", t, func() {
		c := correlate.New(correlate.WithPriorDelay(ms(526)))
		c.OnTimerEvent(sessionStart("timer-1", t0))
		c.OnTimerEvent(shot("timer-1", 1, ms(1006)))
		c.OnTimerEvent(shot("timer-1", 2, ms(1026)))
		_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(1526))))

		convey.Convey("Then the impact matches the 520ms shot", func() {
			pairs := c.DrainMatches()
			convey.So(pairs, convey.ShouldHaveLength, 1)
			convey.So(pairs[0].Shot.ShotNumber, convey.ShouldEqual, 1)
			convey.So(pairs[0].Delay, convey.ShouldEqual, ms(520))

			shots, _ := c.Pending()
			convey.So(shots, convey.ShouldEqual, 1)
		})
	})
}

func TestTieBreak(t *testing.T) {
	convey.Convey("Given two shots equally far from a 510ms mean", t, func() {
		setup := func(opts ...correlate.Option) []model.MatchedPair {
			c := correlate.New(append([]correlate.Option{correlate.WithPriorDelay(ms(510))}, opts...)...)
			c.OnTimerEvent(sessionStart("timer-1", t0))
			c.OnTimerEvent(shot("timer-1", 1, ms(1000)))
			c.OnTimerEvent(shot("timer-1", 2, ms(1020)))
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(1520))))
			return c.DrainMatches()
		}

		convey.Convey("When the default rule applies", func() {
			pairs := setup()
			convey.Convey("Then the earliest shot wins", func() {
				convey.So(pairs, convey.ShouldHaveLength, 1)
				convey.So(pairs[0].Shot.ShotNumber, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the latest rule is configured", func() {
			pairs := setup(correlate.WithTieBreak(correlate.LatestShot))
			convey.Convey("Then the latest shot wins", func() {
				convey.So(pairs, convey.ShouldHaveLength, 1)
				convey.So(pairs[0].Shot.ShotNumber, convey.ShouldEqual, 2)
			})
		})
	})

	convey.Convey("Given tie break names", t, func() {
		tb, err := correlate.ParseTieBreak("latest")
		convey.So(err, convey.ShouldBeNil)
		convey.So(tb, convey.ShouldEqual, correlate.LatestShot)
		tb, err = correlate.ParseTieBreak("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(tb.String(), convey.ShouldEqual, "earliest")
		_, err = correlate.ParseTieBreak("closest")
		convey.So(errors.Is(err, correlate.ErrUnknownTieBreak), convey.ShouldBeTrue)
	})
}

func TestWindowBounds(t *testing.T) {
	convey.Convey("Given a 1500ms window", t, func() {
		c := correlate.New(correlate.WithWindow(ms(1500)))
		c.OnTimerEvent(sessionStart("timer-1", t0))
		c.OnTimerEvent(shot("timer-1", 1, time.Second))

		convey.Convey("When the impact precedes the shot", func() {
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(900))))
			convey.Convey("Then it is not matched", func() {
				convey.So(c.DrainMatches(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the impact comes after the window", func() {
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(2501))))
			convey.Convey("Then it is held as unmatched", func() {
				convey.So(c.DrainMatches(), convey.ShouldBeEmpty)
				_, impacts := c.Pending()
				convey.So(impacts, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the impact is exactly at the window edge", func() {
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(2500))))
			convey.Convey("Then it is matched", func() {
				convey.So(c.DrainMatches(), convey.ShouldHaveLength, 1)
			})
		})
	})
}

func TestLateTimerEvent(t *testing.T) {
	convey.Convey("Given an impact that arrives before its shot notification", t, func() {
		c := correlate.New()
		c.OnTimerEvent(sessionStart("timer-1", t0))
		_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(1530))))
		convey.So(c.DrainMatches(), convey.ShouldBeEmpty)

		c.OnTimerEvent(shot("timer-1", 1, time.Second))

		convey.Convey("Then the shot picks up the waiting impact", func() {
			pairs := c.DrainMatches()
			convey.So(pairs, convey.ShouldHaveLength, 1)
			convey.So(pairs[0].Delay, convey.ShouldEqual, ms(530))
		})
	})
}

func TestUnmatchedExpiry(t *testing.T) {
	convey.Convey("Given an impact with no qualifying shot", t, func() {
		c := correlate.New(correlate.WithRetentionHorizon(10 * time.Second))
		onset := t0.Add(time.Second)
		_ = c.OnImpactEvent(impact("sensor-1", onset))

		convey.Convey("When the horizon has not elapsed", func() {
			convey.Convey("Then nothing expires", func() {
				convey.So(c.Expire(onset.Add(9*time.Second)), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the horizon elapses", func() {
			first := c.Expire(onset.Add(11 * time.Second))
			second := c.Expire(onset.Add(20 * time.Second))

			convey.Convey("Then it is reported exactly once", func() {
				convey.So(first, convey.ShouldHaveLength, 1)
				convey.So(first[0].Kind, convey.ShouldEqual, model.ExpiredImpact)
				convey.So(first[0].Impact.PeripheralID, convey.ShouldEqual, "sensor-1")
				convey.So(first[0].Impact.State(), convey.ShouldEqual, model.Unmatched)
				convey.So(second, convey.ShouldBeEmpty)
			})
		})
	})

	convey.Convey("Given a shot with no impact followed by a new session", t, func() {
		c := correlate.New()
		c.OnTimerEvent(sessionStart("timer-1", t0))
		oldSession, _ := c.Session("timer-1")
		c.OnTimerEvent(shot("timer-1", 1, time.Second))
		c.OnTimerEvent(sessionStart("timer-1", t0.Add(5*time.Second)))

		convey.Convey("Then the old shot expires immediately", func() {
			expired := c.Expire(t0.Add(5 * time.Second))
			convey.So(expired, convey.ShouldHaveLength, 1)
			convey.So(expired[0].Kind, convey.ShouldEqual, model.ExpiredShot)
			convey.So(expired[0].SessionID, convey.ShouldEqual, oldSession)
			convey.So(expired[0].Shot.ShotNumber, convey.ShouldEqual, 1)

			newSession, _ := c.Session("timer-1")
			convey.So(newSession, convey.ShouldNotEqual, oldSession)
			convey.So(c.Expire(t0.Add(30*time.Second)), convey.ShouldBeEmpty)
		})
	})
}

func TestAlreadyMatched(t *testing.T) {
	convey.Convey("Given an impact already marked matched", t, func() {
		c := correlate.New()
		ev := impact("sensor-1", t0)
		convey.So(ev.Match(), convey.ShouldBeNil)

		convey.Convey("Then the correlator refuses it", func() {
			err := c.OnImpactEvent(ev)
			convey.So(errors.Is(err, model.ErrAlreadyMatched), convey.ShouldBeTrue)
		})
	})
}

func TestPersistence(t *testing.T) {
	convey.Convey("Given a correlator with a 5ms persist delta", t, func() {
		c := correlate.New(correlate.WithPersistDelta(ms(5)))
		c.OnTimerEvent(sessionStart("timer-1", t0))

		match := func(n int, elapsed time.Duration, delay time.Duration) {
			c.OnTimerEvent(shot("timer-1", n, elapsed))
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(elapsed+delay)))
		}

		match(1, time.Second, ms(520))

		convey.Convey("Then a new model is dirty once", func() {
			convey.So(c.Dirty(), convey.ShouldHaveLength, 1)
			convey.So(c.Dirty(), convey.ShouldBeEmpty)
		})

		convey.Convey("When the mean moves by less than the delta", func() {
			_ = c.Dirty()
			match(2, 3*time.Second, ms(524))

			convey.Convey("Then nothing is saved", func() {
				convey.So(c.Dirty(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the mean moves by more than the delta", func() {
			_ = c.Dirty()
			match(2, 3*time.Second, ms(540))

			convey.Convey("Then the model is saved again", func() {
				dirty := c.Dirty()
				convey.So(dirty, convey.ShouldHaveLength, 1)
				convey.So(dirty[0].MeanMS, convey.ShouldAlmostEqual, 530.0, 1e-6)
			})
		})

		convey.Convey("When the session stops", func() {
			_ = c.Dirty()
			c.OnTimerEvent(model.TimerEvent{PeripheralID: "timer-1", Kind: model.TimerSessionStop})

			convey.Convey("Then the timer's models are saved regardless of delta", func() {
				convey.So(c.Dirty(), convey.ShouldHaveLength, 1)
			})
		})
	})

	convey.Convey("Given restored models", t, func() {
		c := correlate.New(correlate.WithWindow(ms(800)))
		key := model.PairKey{TimerID: "timer-1", SensorID: "sensor-1"}
		c.Restore([]model.CorrelationModel{{Key: key, MeanMS: 526, Count: 40, M2: 400, WindowMS: 1500}})

		convey.Convey("Then they drive matching and are not re-saved", func() {
			convey.So(c.Model(key).Mean(), convey.ShouldEqual, ms(526))
			convey.So(c.Dirty(), convey.ShouldBeEmpty)
			convey.So(c.Models(), convey.ShouldHaveLength, 1)
		})

		convey.Convey("Then they report the configured window, not the persisted one", func() {
			convey.So(c.Model(key).WindowMS, convey.ShouldEqual, 800.0)
		})

		convey.Convey("When an impact falls outside the configured window but inside the persisted one", func() {
			c.OnTimerEvent(shot("timer-1", 1, ms(1000)))
			_ = c.OnImpactEvent(impact("sensor-1", t0.Add(ms(1000+1000))))

			convey.Convey("Then it is not matched", func() {
				convey.So(c.DrainMatches(), convey.ShouldBeEmpty)
			})
		})
	})
}
