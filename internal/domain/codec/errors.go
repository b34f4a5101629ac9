package codec

import (
	"errors"
	"fmt"

	"github.com/okian/shotlink/internal/domain/model"
)

// Sentinel errors, one per FrameError kind.
var (
	ErrWrongLength = errors.New("wrong frame length")
	ErrOutOfRange  = errors.New("field out of range")
	ErrUnknownKind = errors.New("unknown frame kind")
)

// FrameErrorKind classifies a rejected frame.
type FrameErrorKind uint8

// Frame error kinds.
const (
	WrongLength FrameErrorKind = iota + 1
	OutOfRange
	UnknownKind
)

func (k FrameErrorKind) String() string {
	switch k {
	case WrongLength:
		return "wrong_length"
	case OutOfRange:
		return "out_of_range"
	case UnknownKind:
		return "unknown_kind"
	default:
		return "unknown"
	}
}

// FrameError reports why a frame was dropped. All kinds are recoverable.
type FrameError struct {
	Kind         FrameErrorKind
	Protocol     model.PeripheralKind
	PeripheralID string
	Detail       string
}

func (e *FrameError) Error() string {
	src := ""
	if e.PeripheralID != "" {
		src = " from " + e.PeripheralID
	}
	return fmt.Sprintf("codec: %s frame%s: %s: %s", e.Protocol, src, e.Unwrap(), e.Detail)
}

// Unwrap returns the sentinel matching Kind.
func (e *FrameError) Unwrap() error {
	switch e.Kind {
	case WrongLength:
		return ErrWrongLength
	case OutOfRange:
		return ErrOutOfRange
	default:
		return ErrUnknownKind
	}
}

func frameErr(kind FrameErrorKind, proto model.PeripheralKind, format string, args ...any) *FrameError {
	return &FrameError{Kind: kind, Protocol: proto, Detail: fmt.Sprintf(format, args...)}
}

// withSource stamps the peripheral id on a FrameError and passes others through.
func withSource(err error, id string) error {
	var fe *FrameError
	if errors.As(err, &fe) {
		fe.PeripheralID = id
	}
	return err
}
