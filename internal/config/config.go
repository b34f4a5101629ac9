// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Keys are flat snake_case so they map one-to-one onto SHOTLINK_ env vars.
//   - New() returns a Config populated with defaults; Load layers file and env on top.
//   - Core packages never read Config; internal/app translates it into options.
package config

import (
	"runtime"
)

// Peripheral kinds accepted in PeripheralConfig.Kind.
const (
	KindTimer  = "timer"
	KindMotion = "motion"
)

// Link drivers accepted in Config.Driver.
const (
	DriverBLE  = "ble"
	DriverMQTT = "mqtt"
	DriverSim  = "sim"
)

// Model store backends accepted in Config.Store.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// PeripheralConfig describes one peripheral the service keeps a link to.
type PeripheralConfig struct {
	// ID is the stable identity used for rediscovery and in every record.
	ID string `koanf:"id"`
	// Kind is "timer" or "motion".
	Kind string `koanf:"kind"`
	// Address is the radio address (BLE MAC) or bridge topic suffix.
	Address string `koanf:"address"`
	// Name is the advertised local name, used when Address is empty.
	Name string `koanf:"name"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects "text" or "json" output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the status HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Driver selects the link driver: ble, mqtt or sim.
	Driver          string `koanf:"driver"`
	MQTTBroker      string `koanf:"mqtt_broker"`
	MQTTTopicPrefix string `koanf:"mqtt_topic_prefix"`

	// Detection thresholds are deviations from baseline in g.
	OnsetThresholdG      float64 `koanf:"onset_threshold_g"`
	PeakThresholdG       float64 `koanf:"peak_threshold_g"`
	MinDurationSamples   int     `koanf:"min_duration_samples"`
	MaxDurationSamples   int     `koanf:"max_duration_samples"`
	PeakWindowSamples    int     `koanf:"peak_window_samples"`
	MinIntervalMS        int     `koanf:"min_interval_ms"`
	WindowSize           int     `koanf:"window_size"`
	CalibrationSamples   int     `koanf:"calibration_samples"`
	CalibrationVariance  float64 `koanf:"calibration_variance"`
	CalibrationTimeoutMS int     `koanf:"calibration_timeout_ms"`

	// Correlation.
	CorrelationWindowMS int    `koanf:"correlation_window_ms"`
	RetentionHorizonMS  int    `koanf:"retention_horizon_ms"`
	SweepIntervalMS     int    `koanf:"sweep_interval_ms"`
	PriorDelayMS        int    `koanf:"prior_delay_ms"`
	PersistDeltaMS      int    `koanf:"persist_delta_ms"`
	TieBreak            string `koanf:"tie_break"`

	// Clock synchronisation.
	TimeReferences    []string `koanf:"time_references"`
	SyncIntervalMS    int      `koanf:"sync_interval_ms"`
	QueryTimeoutMS    int      `koanf:"query_timeout_ms"`
	DriftAlertMS      int      `koanf:"drift_alert_ms"`
	DriftCorrectionMS int      `koanf:"drift_correction_ms"`
	MaxCorrectionMS   int      `koanf:"max_correction_ms"`
	CorrectionEnabled bool     `koanf:"correction_enabled"`
	OffsetHistory     int      `koanf:"offset_history"`

	// Link sessions.
	StaleAfterMS        int `koanf:"stale_after_ms"`
	ReconnectInitialMS  int `koanf:"reconnect_initial_ms"`
	ReconnectMaxMS      int `koanf:"reconnect_max_ms"`
	ReconnectMaxRetries int `koanf:"reconnect_max_retries"`

	// QueueSize bounds the in-memory outcome queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of outcome publisher workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the timer replay cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Store selects the model store: file or sqlite.
	Store     string `koanf:"store"`
	StorePath string `koanf:"store_path"`

	// KafkaBrokers enables the Kafka sink when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	Peripherals []PeripheralConfig `koanf:"peripherals"`
}

// New creates a Config populated with defaults tuned for a single-board host.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		Driver:          DriverBLE,
		MQTTBroker:      "tcp://localhost:1883",
		MQTTTopicPrefix: "shotlink/peripherals",

		OnsetThresholdG:      0.5,
		PeakThresholdG:       2.0,
		MinDurationSamples:   2,
		MaxDurationSamples:   25,
		PeakWindowSamples:    5,
		MinIntervalMS:        150,
		WindowSize:           64,
		CalibrationSamples:   20,
		CalibrationVariance:  0.01,
		CalibrationTimeoutMS: 10_000,

		CorrelationWindowMS: 1_500,
		RetentionHorizonMS:  10_000,
		SweepIntervalMS:     250,
		PriorDelayMS:        500,
		PersistDeltaMS:      5,
		TieBreak:            "earliest",

		TimeReferences:    []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org"},
		SyncIntervalMS:    60_000,
		QueryTimeoutMS:    2_000,
		DriftAlertMS:      25,
		DriftCorrectionMS: 10,
		MaxCorrectionMS:   100,
		CorrectionEnabled: true,
		OffsetHistory:     32,

		StaleAfterMS:        3_000,
		ReconnectInitialMS:  500,
		ReconnectMaxMS:      30_000,
		ReconnectMaxRetries: 10,

		QueueSize:   1_024,
		WorkerCount: runtime.NumCPU(),
		DedupeSize:  4_096,

		Store:     StoreFile,
		StorePath: "shotlink-models.json",

		KafkaTopic: "shotlink.outcomes",
	}
}
