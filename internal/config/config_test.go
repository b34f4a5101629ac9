package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/okian/shotlink/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Driver, convey.ShouldEqual, "ble")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1_024)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.TieBreak, convey.ShouldEqual, "earliest")
			convey.So(cfg.PeakThresholdG, convey.ShouldBeGreaterThan, cfg.OnsetThresholdG)
			convey.So(cfg.TimeReferences, convey.ShouldHaveLength, 3)
		})

		convey.Convey("Then the defaults validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting", t, func() {
		cases := map[string]func(c *config.Config){
			"peak below onset":      func(c *config.Config) { c.PeakThresholdG = c.OnsetThresholdG / 2 },
			"empty duration range":  func(c *config.Config) { c.MaxDurationSamples = c.MinDurationSamples - 1 },
			"window too small":      func(c *config.Config) { c.WindowSize = c.MaxDurationSamples - 1 },
			"unknown tie break":     func(c *config.Config) { c.TieBreak = "nearest" },
			"no time references":    func(c *config.Config) { c.TimeReferences = nil },
			"horizon shorter":       func(c *config.Config) { c.RetentionHorizonMS = c.CorrelationWindowMS - 1 },
			"unknown driver":        func(c *config.Config) { c.Driver = "usb" },
			"unknown store":         func(c *config.Config) { c.Store = "redis" },
			"peripheral without id": func(c *config.Config) { c.Peripherals = []config.PeripheralConfig{{Kind: config.KindTimer}} },
			"peripheral bad kind":   func(c *config.Config) { c.Peripherals = []config.PeripheralConfig{{ID: "a", Kind: "radar"}} },
			"duplicate peripheral": func(c *config.Config) {
				c.Peripherals = []config.PeripheralConfig{{ID: "a", Kind: "timer"}, {ID: "a", Kind: "motion"}}
			},
			"zero workers":            func(c *config.Config) { c.WorkerCount = 0 },
			"negative max correction": func(c *config.Config) { c.MaxCorrectionMS = -1 },
		}

		for name, mutate := range cases {
			convey.Convey("When "+name, func() {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()

				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
