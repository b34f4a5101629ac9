package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	app "github.com/okian/shotlink/internal/app"
	"github.com/okian/shotlink/internal/config"
	"github.com/okian/shotlink/pkg/logger"
)

type runFlags struct {
	driver string
	addr   string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the correlation service until interrupted.",
		Long: `Load configuration (defaults, then the YAML file named by SHOTLINK_CONFIG,
then SHOTLINK_* environment variables), open every configured peripheral and
serve the status API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runService(ctx, f)
		},
	}
	cmd.Flags().StringVar(&f.driver, "driver", "", "link driver: ble, mqtt or sim (overrides config)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "status API listen address (overrides config)")
	return cmd
}

// loadConfig applies flag overrides on top of the layered config.
func loadConfig(ctx context.Context, f runFlags) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if f.driver != "" {
		cfg.Driver = f.driver
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runService(ctx context.Context, f runFlags) error {
	cfg, err := loadConfig(ctx, f)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	return app.New(cfg, app.WithLogger(log)).Run(ctx)
}
