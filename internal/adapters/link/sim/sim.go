// Package sim is a link driver backed by synthetic peripherals. Timers shoot
// strings on a fixed cadence and every connected motion sensor registers an
// impact a fixed delay after each shot.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/domain/codec"
	"github.com/okian/shotlink/internal/domain/model"
)

// Driver implements link.Driver.
type Driver struct {
	cfg config

	mu      sync.Mutex
	sensors map[*conn]struct{}
}

// New creates a simulation driver.
func New(opts ...Option) *Driver {
	cfg := config{
		impactDelay:    defaultImpactDelay,
		shotInterval:   defaultShotInterval,
		stringPause:    defaultStringPause,
		sampleInterval: defaultSampleInterval,
		shotsPerString: defaultShotsPerString,
		noiseG:         defaultNoiseG,
		seed:           1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Driver{cfg: cfg, sensors: make(map[*conn]struct{})}
}

// Connect implements link.Driver.
func (d *Driver) Connect(ctx context.Context, desc link.Descriptor) (link.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		notes:  make(chan []byte, 64),
		cancel: cancel,
		exited: make(chan struct{}),
	}
	switch desc.Kind {
	case model.PeripheralTimer:
		go d.runTimer(cctx, c)
	case model.PeripheralMotion:
		h := fnv.New64a()
		_, _ = h.Write([]byte(desc.ID))
		c.rng = rand.New(rand.NewPCG(d.cfg.seed, h.Sum64()))
		d.mu.Lock()
		d.sensors[c] = struct{}{}
		d.mu.Unlock()
		go d.runMotion(cctx, c)
	default:
		cancel()
		return nil, fmt.Errorf("sim: unsupported peripheral kind %q", desc.Kind)
	}
	return c, nil
}

// fire schedules an impact on every connected sensor.
func (d *Driver) fire(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.sensors {
		c.mu.Lock()
		c.impacts = append(c.impacts, at.Add(d.cfg.impactDelay))
		c.mu.Unlock()
	}
}

func (d *Driver) runTimer(ctx context.Context, c *conn) {
	defer close(c.exited)
	defer close(c.notes)

	var seq uint16
	send := func(f codec.TimerFrame) bool {
		f.Sequence = seq
		seq++
		select {
		case c.notes <- f.Encode():
			return true
		case <-ctx.Done():
			return false
		}
	}
	wait := func(dur time.Duration) bool {
		t := time.NewTimer(dur)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		}
	}

	n := uint8(d.cfg.shotsPerString)
	var completed int
	for {
		start := time.Now()
		if !send(codec.TimerFrame{Kind: model.TimerSessionStart, ShotsInString: n}) {
			return
		}
		var prev, first uint16
		for shot := uint8(1); shot <= n; shot++ {
			if !wait(d.cfg.shotInterval) {
				return
			}
			now := time.Now()
			elapsed := centiseconds(now.Sub(start))
			if shot == 1 {
				first = elapsed
			}
			d.fire(now)
			if !send(codec.TimerFrame{
				Kind:          model.TimerShot,
				ShotNumber:    shot,
				ShotsInString: n,
				ElapsedCS:     elapsed,
				SplitCS:       elapsed - prev,
				FirstCS:       first,
			}) {
				return
			}
			prev = elapsed
		}
		if !wait(d.cfg.shotInterval) {
			return
		}
		if !send(codec.TimerFrame{Kind: model.TimerSessionStop, ShotsInString: n, ElapsedCS: prev, FirstCS: first}) {
			return
		}
		completed++
		if d.cfg.timerDropAfter > 0 && completed >= d.cfg.timerDropAfter {
			return
		}
		if !wait(d.cfg.stringPause) {
			return
		}
	}
}

func (d *Driver) runMotion(ctx context.Context, c *conn) {
	defer close(c.exited)
	defer close(c.notes)
	defer func() {
		d.mu.Lock()
		delete(d.sensors, c)
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.cfg.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f := codec.MotionFrame{
				Accel: [3]int16{
					codec.AccelCounts(c.noise(d.cfg.noiseG)),
					codec.AccelCounts(c.noise(d.cfg.noiseG)),
					codec.AccelCounts(1 + c.noise(d.cfg.noiseG) + c.impactAt(now, d.cfg.sampleInterval)),
				},
				Temp: codec.TempCounts(defaultTempC),
			}
			select {
			case c.notes <- f.Encode():
			case <-ctx.Done():
				return
			}
		}
	}
}

func centiseconds(d time.Duration) uint16 {
	cs := d / (10 * time.Millisecond)
	if cs > 59_999 {
		cs = 59_999
	}
	return uint16(cs)
}

type conn struct {
	notes  chan []byte
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
	rng    *rand.Rand

	mu      sync.Mutex
	impacts []time.Time
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

func (c *conn) RSSI() (int, bool) { return defaultRSSI, true }

func (c *conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		// drain so the producer is never stuck on a full buffer
		go func() {
			for range c.notes {
			}
		}()
		<-c.exited
	})
	return nil
}

func (c *conn) noise(amp float64) float64 {
	if amp == 0 {
		return 0
	}
	return (c.rng.Float64()*2 - 1) * amp
}

// impactAt returns the extra deviation at now from scheduled impacts and
// forgets the ones that are over.
func (c *conn) impactAt(now time.Time, period time.Duration) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var g float64
	kept := c.impacts[:0]
	for _, at := range c.impacts {
		if now.Before(at) {
			kept = append(kept, at)
			continue
		}
		k := int(now.Sub(at) / period)
		if k < len(impactProfile) {
			g += impactProfile[k]
			kept = append(kept, at)
		}
	}
	c.impacts = kept
	return g
}
