package repository

import (
	"os"
	"time"

	"github.com/okian/shotlink/pkg/logger"
)

type options struct {
	perm        os.FileMode
	busyTimeout time.Duration
	logger      logger.Logger
}

func defaults() options {
	return options{perm: 0o644, busyTimeout: 5 * time.Second, logger: logger.Nop()}
}

// Option configures a store.
type Option func(*options)

// WithFileMode sets the permissions of a newly written model file.
func WithFileMode(perm os.FileMode) Option {
	return func(o *options) {
		if perm != 0 {
			o.perm = perm
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
