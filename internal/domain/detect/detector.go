// Package detect turns a stream of motion samples into discrete impact events.
//
// A Detector is a per-sensor state machine:
//
//	Calibrating -> Idle -> OnsetCandidate -> Confirmed -> Idle
//
// It is not safe for concurrent use; a Pipeline owns one and feeds it from a
// single goroutine.
package detect

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

// State is the detector state.
type State uint8

// Detector states.
const (
	Calibrating State = iota
	Idle
	OnsetCandidate
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Calibrating:
		return "calibrating"
	case Idle:
		return "idle"
	case OnsetCandidate:
		return "onset_candidate"
	case Confirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// Rejection reasons reported to metrics and logs.
const (
	rejectNoPeak   = "no_peak"
	rejectTooShort = "too_short"
	rejectTooLong  = "too_long"
)

// impactNamespace seeds deterministic impact ids.
var impactNamespace = uuid.MustParse("6f1c4f1e-3a3b-5d1e-9b7a-2f0c1d9e8a41") //nolint:gochecknoglobals // constant namespace

type candidate struct {
	startSeq uint64
	count    int
	peak     float64
	peakSeq  uint64
	peakAt   time.Time
}

// Detector finds impacts in one sensor's sample stream.
type Detector struct {
	id     string
	cfg    config
	log    logger.Logger
	state  State
	cal    *calibrator
	base   model.Baseline
	win    *window
	seq    uint64
	cand   candidate
	muted  bool // set after a rejection until deviation falls below onset
	lastAt time.Time
}

// NewDetector creates a detector for the given sensor, starting in Calibrating.
func NewDetector(sensorID string, opts ...Option) *Detector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.windowSize < cfg.maxDuration+1 {
		cfg.windowSize = cfg.maxDuration + 1
	}
	return &Detector{
		id:    sensorID,
		cfg:   cfg,
		log:   cfg.logger,
		state: Calibrating,
		cal:   newCalibrator(cfg.calibrationSamples, cfg.calibrationVariance, cfg.calibrationTimeout),
		win:   newWindow(cfg.windowSize),
	}
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Baseline returns the current baseline and whether one is established.
func (d *Detector) Baseline() (model.Baseline, bool) {
	return d.base, d.state != Calibrating && d.state != Failed
}

// Recalibrate discards the baseline and any candidate and starts calibrating again.
func (d *Detector) Recalibrate() {
	d.state = Calibrating
	d.cal.reset()
	d.win.reset()
	d.cand = candidate{}
	d.muted = false
}

// Flush abandons an open candidate without emitting. It reports whether one was open.
func (d *Detector) Flush() bool {
	if d.state != OnsetCandidate && d.state != Confirmed {
		return false
	}
	d.state = Idle
	d.cand = candidate{}
	metrics.RecordCandidateAbandoned(d.id)
	return true
}

// Process feeds one sample. It returns an event when one is confirmed, and
// ErrCalibrationTimeout when no baseline could be established in time.
func (d *Detector) Process(s model.MotionSample) (*model.ImpactEvent, error) {
	mag := s.Magnitude()

	switch d.state {
	case Failed:
		return nil, ErrCalibrationTimeout
	case Calibrating:
		return nil, d.calibrate(mag, s.Timestamp)
	}

	dev := d.base.Deviation(mag)
	d.seq++
	p := point{seq: d.seq, at: s.Timestamp, dev: dev}
	d.win.push(p)

	if d.state == Idle && !d.lastAt.IsZero() && s.Timestamp.Sub(d.lastAt) < d.cfg.minInterval {
		// ringing from the previous impact must settle before a new candidate
		if dev >= d.cfg.onset {
			d.muted = true
		}
		return nil, nil
	}

	switch d.state {
	case Idle:
		d.idle(p)
		return nil, nil
	case OnsetCandidate, Confirmed:
		return d.track(p), nil
	}
	return nil, nil
}

func (d *Detector) calibrate(mag float64, at time.Time) error {
	base, ok, err := d.cal.add(mag, at)
	if err != nil {
		d.state = Failed
		metrics.RecordCalibration(d.id, "timeout")
		return err
	}
	if ok {
		d.base = base
		d.state = Idle
		d.lastAt = time.Time{}
		metrics.RecordCalibration(d.id, "ok")
		d.log.Info(context.Background(), "baseline established",
			logger.Float64("mean_g", base.Mean),
			logger.Float64("variance", base.Variance),
			logger.Int("samples", base.Samples))
	}
	return nil
}

// failCalibration moves a calibrating detector into Failed. Used by the
// pipeline when samples stop arriving before the sample clock can expire.
func (d *Detector) failCalibration() bool {
	if d.state != Calibrating {
		return false
	}
	d.state = Failed
	metrics.RecordCalibration(d.id, "timeout")
	return true
}

func (d *Detector) idle(p point) {
	if p.dev < d.cfg.onset {
		d.muted = false
		return
	}
	if d.muted {
		return
	}
	d.cand = candidate{startSeq: p.seq, count: 1, peak: p.dev, peakSeq: p.seq, peakAt: p.at}
	d.state = OnsetCandidate
	if p.dev >= d.cfg.peak {
		d.state = Confirmed
	}
}

func (d *Detector) track(p point) *model.ImpactEvent {
	if p.dev < d.cfg.onset {
		return d.finish(p)
	}

	d.cand.count++
	if p.dev > d.cand.peak {
		d.cand.peak, d.cand.peakSeq, d.cand.peakAt = p.dev, p.seq, p.at
	}

	switch {
	case d.cand.count > d.cfg.maxDuration:
		d.reject(rejectTooLong, true)
	case d.state == OnsetCandidate && p.dev >= d.cfg.peak:
		d.state = Confirmed
	case d.state == OnsetCandidate && d.cand.count >= d.cfg.peakWindow:
		d.reject(rejectNoPeak, true)
	}
	return nil
}

// finish handles the falling edge of a candidate.
func (d *Detector) finish(p point) *model.ImpactEvent {
	if d.state != Confirmed {
		d.reject(rejectNoPeak, false)
		return nil
	}
	if d.cand.count < d.cfg.minDuration {
		d.reject(rejectTooShort, false)
		return nil
	}

	onset, ok := d.win.onset(d.cand.peakSeq, d.cand.startSeq, d.cfg.onset)
	if !ok {
		onset = point{seq: d.cand.peakSeq, at: d.cand.peakAt}
	}

	ev := &model.ImpactEvent{
		ID:              impactID(d.id, onset.at, d.cand.peakAt),
		PeripheralID:    d.id,
		Onset:           onset.at,
		Peak:            d.cand.peakAt,
		PeakG:           d.cand.peak,
		DurationSamples: d.cand.count,
	}
	d.state = Idle
	d.cand = candidate{}
	d.lastAt = p.at

	metrics.RecordImpactEmitted(d.id, ev.PeakG)
	d.log.Debug(context.Background(), "impact confirmed",
		logger.String("impact_id", ev.ID),
		logger.Time("onset", ev.Onset),
		logger.Float64("peak_g", ev.PeakG),
		logger.Int("duration_samples", ev.DurationSamples))
	return ev
}

func (d *Detector) reject(reason string, mute bool) {
	metrics.RecordCandidateRejected(d.id, reason)
	d.log.Debug(context.Background(), "candidate rejected",
		logger.String("reason", reason),
		logger.Int("samples", d.cand.count),
		logger.Float64("peak_g", d.cand.peak))
	d.state = Idle
	d.cand = candidate{}
	d.muted = mute
}

func impactID(sensorID string, onset, peak time.Time) string {
	key := sensorID + "|" + strconv.FormatInt(onset.UnixNano(), 10) + "|" + strconv.FormatInt(peak.UnixNano(), 10)
	return uuid.NewSHA1(impactNamespace, []byte(key)).String()
}
