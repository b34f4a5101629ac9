package detect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

// Pipeline runs a Detector over one sensor's sample stream.
type Pipeline struct {
	sensorID string
	cfg      config
	det      *Detector
	recal    chan struct{}
	state    atomic.Uint32
	impacts  atomic.Int64
	log      logger.Logger
}

// NewPipeline creates a pipeline for the given sensor.
func NewPipeline(sensorID string, opts ...Option) *Pipeline {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &Pipeline{
		sensorID: sensorID,
		cfg:      cfg,
		det:      NewDetector(sensorID, opts...),
		recal:    make(chan struct{}, 1),
		log:      cfg.logger,
	}
	p.state.Store(uint32(Calibrating))
	return p
}

// SensorID returns the sensor this pipeline serves.
func (p *Pipeline) SensorID() string { return p.sensorID }

// State returns the detector state as last observed by Run.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Impacts returns how many events the pipeline has emitted.
func (p *Pipeline) Impacts() int64 { return p.impacts.Load() }

// Recalibrate asks the running pipeline to re-establish its baseline.
// Requests made while one is pending are coalesced.
func (p *Pipeline) Recalibrate() {
	select {
	case p.recal <- struct{}{}:
	default:
	}
}

// Run consumes samples until in is closed or ctx is done. A candidate open
// at that point is abandoned. It returns ErrCalibrationTimeout if no baseline
// is found in time; that error is terminal for this sensor only.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.MotionSample, out chan<- model.ImpactEvent) error {
	calTimer := time.NewTimer(p.cfg.calibrationTimeout)
	defer calTimer.Stop()
	calC := calTimer.C

	p.log.Info(ctx, "detection pipeline started", logger.Duration("calibration_timeout", p.cfg.calibrationTimeout))

	for {
		select {
		case <-ctx.Done():
			p.abandon(ctx)
			return ctx.Err()

		case <-p.recal:
			p.det.Recalibrate()
			p.state.Store(uint32(Calibrating))
			calTimer.Reset(p.cfg.calibrationTimeout)
			calC = calTimer.C
			p.log.Info(ctx, "recalibration requested")

		case <-calC:
			calC = nil
			if p.det.failCalibration() {
				p.state.Store(uint32(Failed))
				p.log.Error(ctx, "no baseline before timeout, sensor stopped")
				return ErrCalibrationTimeout
			}

		case s, ok := <-in:
			if !ok {
				p.abandon(ctx)
				return nil
			}
			ev, err := p.det.Process(s)
			p.state.Store(uint32(p.det.State()))
			if err != nil {
				p.log.Error(ctx, "calibration failed, sensor stopped", logger.Error(err))
				return err
			}
			if calC != nil && p.det.State() != Calibrating {
				calTimer.Stop()
				calC = nil
			}
			if ev == nil {
				continue
			}
			select {
			case out <- *ev:
				p.impacts.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) abandon(ctx context.Context) {
	if p.det.Flush() {
		p.log.Info(ctx, "stream ended with open candidate, abandoned")
	}
	p.state.Store(uint32(p.det.State()))
}
