package clocksync

import "errors"

// ErrNoReferences is returned by New when no time references are configured.
var ErrNoReferences = errors.New("clocksync: no time references configured")
