package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrUnavailable = errors.New("status source not configured")
	ErrHijack      = errors.New("response writer does not support hijacking")
)
