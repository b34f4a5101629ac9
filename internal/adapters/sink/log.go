package sink

import (
	"context"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

// Log writes every outcome to the structured log.
type Log struct {
	log logger.Logger
}

// NewLog returns a log sink.
func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.Nop()
	}
	return &Log{log: l}
}

// Name implements worker.Sink.
func (l *Log) Name() string { return "log" }

// Publish logs o.
func (l *Log) Publish(ctx context.Context, o model.Outcome) error {
	fields := []logger.Field{
		logger.String("kind", string(o.Kind)),
		logger.String("session", o.SessionID),
		logger.String("timer", o.TimerID),
		logger.String("sensor", o.SensorID),
	}
	if o.ShotNumber > 0 {
		fields = append(fields, logger.Int("shot", int(o.ShotNumber)))
	}
	if o.Kind == model.OutcomeMatched {
		fields = append(fields,
			logger.Float64("delay_ms", o.DelayMS),
			logger.Float64("magnitude_g", o.MagnitudeG))
		l.log.Info(ctx, "shot matched", fields...)
		return nil
	}
	l.log.Info(ctx, "event expired unmatched", fields...)
	return nil
}
