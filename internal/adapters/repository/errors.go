package repository

import "errors"

// Sentinel errors for model persistence.
var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrCorrupt        = errors.New("model store corrupt")
)
