// Package service wires the link manager, decoders, detection pipelines,
// correlator, clock synchronizer and status surface into one process.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/shotlink/internal/adapters/http/api"
	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/adapters/link/ble"
	"github.com/okian/shotlink/internal/adapters/link/mqttbridge"
	"github.com/okian/shotlink/internal/adapters/link/sim"
	"github.com/okian/shotlink/internal/adapters/mq/queue"
	"github.com/okian/shotlink/internal/adapters/mq/worker"
	"github.com/okian/shotlink/internal/adapters/ntp"
	"github.com/okian/shotlink/internal/adapters/repository"
	"github.com/okian/shotlink/internal/adapters/sink"
	"github.com/okian/shotlink/internal/config"
	"github.com/okian/shotlink/internal/domain/clocksync"
	"github.com/okian/shotlink/internal/domain/correlate"
	"github.com/okian/shotlink/internal/domain/dedupe"
	"github.com/okian/shotlink/internal/domain/detect"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
	"github.com/okian/shotlink/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

const (
	eventBuffer  = 64
	sampleBuffer = 256
)

// Service runs the shot-to-impact pipeline for the configured peripherals.
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	driver   link.Driver
	refs     []clocksync.Reference
	store    repository.Store
	sinks    []worker.Sink
	listener net.Listener
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDriver replaces the driver selected by Config.Driver.
func WithDriver(d link.Driver) Option {
	return func(s *Service) { s.driver = d }
}

// WithReferences replaces the NTP references from Config.TimeReferences.
func WithReferences(refs ...clocksync.Reference) Option {
	return func(s *Service) { s.refs = refs }
}

// WithStore replaces the store selected by Config.Store. The service closes it.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithSinks adds outcome sinks next to the built-in ones.
func WithSinks(sinks ...worker.Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithListener serves the status API on l instead of Config.Addr.
func WithListener(l net.Listener) Option {
	return func(s *Service) { s.listener = l }
}

// New constructs a Service for cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts every component and blocks until ctx is done or one of them
// fails. A peripheral whose link is lost or whose sensor cannot calibrate is
// reported and dropped; the others keep running.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg := s.cfg

	clock, err := s.newSynchronizer()
	if err != nil {
		return err
	}

	driver, closeDriver, err := s.newDriver()
	if err != nil {
		return err
	}
	defer closeDriver()

	store := s.store
	if store == nil {
		store, err = repository.Open(ctx, cfg.Store, cfg.StorePath, repository.WithLogger(s.log.Named("repository")))
		if err != nil {
			return fmt.Errorf("open model store: %w", err)
		}
	}
	defer func() {
		if err := store.Close(); err != nil {
			s.log.Warn(context.Background(), "closing model store", logger.Error(err))
		}
	}()

	tie, err := correlate.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	hub := sink.NewHub(s.log.Named("stream"))
	sinks, closeSinks := s.newSinks(hub)
	defer closeSinks()

	// Workers outlive ctx so the correlator's final flush still drains.
	pool := worker.NewPool(cfg.WorkerCount, q, sinks, worker.WithLogger(s.log))
	pool.Start(context.WithoutCancel(ctx))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pool.Shutdown(drainCtx); err != nil {
			s.log.Warn(drainCtx, "outcome queue not fully drained", logger.Error(err))
		}
	}()

	manager := link.NewManager(driver,
		link.WithStaleAfter(millis(cfg.StaleAfterMS)),
		link.WithReconnect(millis(cfg.ReconnectInitialMS), millis(cfg.ReconnectMaxMS), cfg.ReconnectMaxRetries),
		link.WithClock(clock.CorrectedNow),
		link.WithLogger(s.log.Named("link")),
	)
	defer manager.CloseAll()

	runner := correlate.NewRunner(store, q,
		correlate.WithWindow(millis(cfg.CorrelationWindowMS)),
		correlate.WithRetentionHorizon(millis(cfg.RetentionHorizonMS)),
		correlate.WithPriorDelay(millis(cfg.PriorDelayMS)),
		correlate.WithPersistDelta(millis(cfg.PersistDeltaMS)),
		correlate.WithSweepInterval(millis(cfg.SweepIntervalMS)),
		correlate.WithTieBreak(tie),
		correlate.WithClock(clock.CorrectedNow),
		correlate.WithLogger(s.log.Named("correlate")),
	)

	timers := make(chan model.TimerEvent, eventBuffer)
	impacts := make(chan model.ImpactEvent, eventBuffer)
	replay := dedupe.NewReplayFilter(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize)))

	s.log.Info(ctx, "starting shotlink",
		logger.String("driver", cfg.Driver),
		logger.Int("peripherals", len(s.peripherals())),
		logger.String("store", cfg.Store))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return clock.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx, timers, impacts) })

	pipelines := make(map[string]*detect.Pipeline)
	for _, p := range s.peripherals() {
		sess, err := manager.Open(gctx, link.Descriptor{
			ID:      p.ID,
			Kind:    model.PeripheralKind(p.Kind),
			Name:    p.Name,
			Address: p.Address,
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("open peripheral %s: %w", p.ID, err)
		}

		switch sess.Descriptor().Kind {
		case model.PeripheralTimer:
			g.Go(func() error { return s.pumpTimer(gctx, sess, replay, timers) })
		case model.PeripheralMotion:
			samples := make(chan model.MotionSample, sampleBuffer)
			pipe := detect.NewPipeline(p.ID, s.detectOptions(p.ID)...)
			pipelines[p.ID] = pipe
			g.Go(func() error { return s.pumpMotion(gctx, sess, samples) })
			g.Go(func() error { return s.runPipeline(gctx, manager, pipe, samples, impacts) })
		}
	}

	g.Go(func() error { return s.forwardLinks(gctx, manager, hub, pipelines) })
	g.Go(func() error { return s.forwardClock(gctx, clock, hub) })
	g.Go(func() error { return metrics.RunRuntimeSampler(gctx) })

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(api.Dependencies{Links: manager, Clock: clock, Correlation: runner, Stream: hub}, s.log.Named("api")).Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Go(func() error { return s.serve(gctx, srv) })
	g.Go(func() error {
		<-gctx.Done()
		// websocket clients are hijacked and invisible to Shutdown
		_ = hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error(shutdownCtx, "status server shutdown failed", logger.Error(err))
		}
		return nil
	})

	err = g.Wait()
	s.log.Info(context.Background(), "shotlink stopped", logger.Int64("matches", runner.Snapshot().Matches))
	return err
}

func (s *Service) serve(ctx context.Context, srv *http.Server) error {
	var err error
	if s.listener != nil {
		s.log.Info(ctx, "starting HTTP server", logger.String("addr", s.listener.Addr().String()))
		err = srv.Serve(s.listener)
	} else {
		s.log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("status server: %w", err)
}

func (s *Service) newSynchronizer() (*clocksync.Synchronizer, error) {
	cfg := s.cfg
	refs := s.refs
	if len(refs) == 0 {
		for _, r := range ntp.References(cfg.TimeReferences) {
			refs = append(refs, r)
		}
	}
	clock, err := clocksync.New(refs,
		clocksync.WithInterval(millis(cfg.SyncIntervalMS)),
		clocksync.WithQueryTimeout(millis(cfg.QueryTimeoutMS)),
		clocksync.WithAlertThreshold(millis(cfg.DriftAlertMS)),
		clocksync.WithCorrection(cfg.CorrectionEnabled, millis(cfg.DriftCorrectionMS), millis(cfg.MaxCorrectionMS)),
		clocksync.WithHistory(cfg.OffsetHistory),
		clocksync.WithLogger(s.log.Named("clocksync")),
	)
	if err != nil {
		return nil, fmt.Errorf("clock synchronizer: %w", err)
	}
	return clock, nil
}

func (s *Service) newDriver() (link.Driver, func(), error) {
	if s.driver != nil {
		return s.driver, func() {}, nil
	}
	switch s.cfg.Driver {
	case config.DriverBLE:
		return ble.New(s.log.Named("ble")), func() {}, nil
	case config.DriverMQTT:
		d := mqttbridge.New(s.cfg.MQTTBroker, s.cfg.MQTTTopicPrefix, s.log.Named("mqttbridge"))
		return d, d.Disconnect, nil
	case config.DriverSim:
		return sim.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: driver %q", config.ErrInvalidConfig, s.cfg.Driver)
	}
}

func (s *Service) newSinks(hub *sink.Hub) ([]worker.Sink, func()) {
	sinks := []worker.Sink{sink.NewLog(s.log.Named("outcome")), hub}
	var kafka *sink.Kafka
	if len(s.cfg.KafkaBrokers) > 0 {
		kafka = sink.NewKafka(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		sinks = append(sinks, kafka)
	}
	sinks = append(sinks, s.sinks...)
	return sinks, func() {
		if kafka == nil {
			return
		}
		if err := kafka.Close(); err != nil {
			s.log.Warn(context.Background(), "closing kafka writer", logger.Error(err))
		}
	}
}

func (s *Service) detectOptions(sensorID string) []detect.Option {
	cfg := s.cfg
	return []detect.Option{
		detect.WithThresholds(cfg.OnsetThresholdG, cfg.PeakThresholdG),
		detect.WithDurationRange(cfg.MinDurationSamples, cfg.MaxDurationSamples),
		detect.WithPeakWindow(cfg.PeakWindowSamples),
		detect.WithMinInterval(millis(cfg.MinIntervalMS)),
		detect.WithWindowSize(cfg.WindowSize),
		detect.WithCalibration(cfg.CalibrationSamples, cfg.CalibrationVariance, millis(cfg.CalibrationTimeoutMS)),
		detect.WithLogger(s.log.Named("detect." + sensorID)),
	}
}

// simPeripherals is the pair served by the sim driver when none are configured.
var simPeripherals = []config.PeripheralConfig{
	{ID: "timer-1", Kind: config.KindTimer, Name: "sim timer"},
	{ID: "sensor-1", Kind: config.KindMotion, Name: "sim sensor"},
}

func (s *Service) peripherals() []config.PeripheralConfig {
	if len(s.cfg.Peripherals) == 0 && s.cfg.Driver == config.DriverSim {
		return simPeripherals
	}
	return s.cfg.Peripherals
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
