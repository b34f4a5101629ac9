package correlate

import "errors"

// ErrUnknownTieBreak is returned by ParseTieBreak for unrecognised names.
var ErrUnknownTieBreak = errors.New("correlate: unknown tie break")
