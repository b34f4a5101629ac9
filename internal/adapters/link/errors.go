package link

import "errors"

// Link errors.
var (
	// ErrLinkLost means the reconnect budget of a session was exhausted.
	ErrLinkLost = errors.New("link lost")
	// ErrSessionClosed means the session was closed by its owner.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnknownSession is returned for an id with no open session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExists is returned when opening a peripheral twice.
	ErrSessionExists = errors.New("session already open")
	// ErrInvalidDescriptor is returned for a descriptor without id or kind.
	ErrInvalidDescriptor = errors.New("invalid peripheral descriptor")
)
