package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/shotlink/internal/adapters/http/api"
	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/adapters/sink"
	"github.com/okian/shotlink/internal/domain/clocksync"
	"github.com/okian/shotlink/internal/domain/codec"
	"github.com/okian/shotlink/internal/domain/dedupe"
	"github.com/okian/shotlink/internal/domain/detect"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/internal/domain/types"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

const clockSubscriberBuffer = 16

// pumpTimer decodes a timer session's frames into the correlator's input.
func (s *Service) pumpTimer(ctx context.Context, sess *link.Session, replay *dedupe.ReplayFilter, out chan<- model.TimerEvent) error {
	for raw := range sess.Events() {
		ev, ok := s.decodeTimer(ctx, raw, replay)
		if !ok {
			continue
		}
		if !forwardTimer(ctx, ev, replay, out) {
			return nil
		}
	}
	s.sessionEnded(ctx, sess)
	return nil
}

// forwardTimer hands ev to the correlator. An event that cannot be handed
// over is forgotten by the replay filter so a redelivery is not suppressed.
func forwardTimer(ctx context.Context, ev model.TimerEvent, replay *dedupe.ReplayFilter, out chan<- model.TimerEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		replay.Forget(context.WithoutCancel(ctx), ev)
		return false
	}
}

// decodeTimer reports false for frames that are malformed or replayed.
func (s *Service) decodeTimer(ctx context.Context, raw model.RawFrame, replay *dedupe.ReplayFilter) (model.TimerEvent, bool) {
	ev, err := codec.DecodeTimer(raw)
	if err != nil {
		s.dropFrame(ctx, raw, err)
		return model.TimerEvent{}, false
	}
	metrics.RecordFrameReceived(string(raw.Kind))
	if replay.Replayed(ctx, ev) {
		s.log.Debug(ctx, "replayed timer frame suppressed",
			logger.String("peripheral_id", ev.PeripheralID),
			logger.Int("shot", ev.ShotNumber),
			logger.Int("sequence", int(ev.Sequence)))
		return model.TimerEvent{}, false
	}
	return ev, true
}

// pumpMotion decodes a sensor session's frames into its pipeline and closes
// out when the session ends.
func (s *Service) pumpMotion(ctx context.Context, sess *link.Session, out chan<- model.MotionSample) error {
	defer close(out)
	for raw := range sess.Events() {
		sample, err := codec.DecodeMotion(raw)
		if err != nil {
			s.dropFrame(ctx, raw, err)
			continue
		}
		metrics.RecordFrameReceived(string(raw.Kind))
		select {
		case out <- sample:
		case <-sess.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	s.sessionEnded(ctx, sess)
	return nil
}

func (s *Service) dropFrame(ctx context.Context, raw model.RawFrame, err error) {
	reason := "invalid"
	var fe *codec.FrameError
	if errors.As(err, &fe) {
		reason = fe.Kind.String()
	}
	metrics.RecordFrameDropped(string(raw.Kind), reason)
	s.log.Warn(ctx, "frame dropped",
		logger.String("peripheral_id", raw.PeripheralID),
		logger.Int("length", len(raw.Data)),
		logger.Error(err))
}

func (s *Service) sessionEnded(ctx context.Context, sess *link.Session) {
	err := sess.Err()
	if errors.Is(err, link.ErrLinkLost) {
		s.log.Error(ctx, "peripheral dropped from service",
			logger.String("peripheral_id", sess.Descriptor().ID), logger.Error(err))
	}
}

// runPipeline runs one sensor's detection. A sensor that fails calibration
// has its link closed; it never stops the group.
func (s *Service) runPipeline(ctx context.Context, m *link.Manager, pipe *detect.Pipeline, in <-chan model.MotionSample, out chan<- model.ImpactEvent) error {
	err := pipe.Run(ctx, in, out)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	s.log.Error(ctx, "sensor pipeline stopped",
		logger.String("peripheral_id", pipe.SensorID()), logger.Error(err))
	if cerr := m.Close(pipe.SensorID()); cerr != nil && !errors.Is(cerr, link.ErrUnknownSession) {
		s.log.Warn(ctx, "closing sensor link", logger.Error(cerr))
	}
	// Keep the session's frames moving so its pump can finish.
	for range in {
	}
	return nil
}

// forwardLinks streams link transitions and recalibrates a sensor whose link
// came back.
func (s *Service) forwardLinks(ctx context.Context, m *link.Manager, hub *sink.Hub, pipelines map[string]*detect.Pipeline) error {
	reconnects := make(map[string]int)
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-m.Status():
			if pipe, ok := pipelines[h.PeripheralID]; ok && h.State == link.StateConnected && h.ReconnectCount > reconnects[h.PeripheralID] {
				reconnects[h.PeripheralID] = h.ReconnectCount
				pipe.Recalibrate()
			}
			if err := hub.Broadcast(types.StreamMessage{Type: types.StreamLink, At: time.Now(), Payload: api.LinkStatus(h)}); err != nil {
				s.log.Debug(ctx, "link status not streamed", logger.Error(err))
			}
		}
	}
}

func (s *Service) forwardClock(ctx context.Context, clock *clocksync.Synchronizer, hub *sink.Hub) error {
	events, cancel := clock.Subscribe(clockSubscriberBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload := types.NewClockEvent(ev.Kind.String(), ev.Correction, ev.State)
			if err := hub.Broadcast(types.StreamMessage{Type: types.StreamClock, At: ev.State.LastCheck, Payload: payload}); err != nil {
				s.log.Debug(ctx, "clock event not streamed", logger.Error(err))
			}
		}
	}
}
