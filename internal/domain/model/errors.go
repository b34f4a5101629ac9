package model

import "errors"

// ErrAlreadyMatched is returned when an impact is matched a second time.
var ErrAlreadyMatched = errors.New("impact already matched")
