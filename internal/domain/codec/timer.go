// Package codec encodes and decodes the fixed-layout peripheral frames.
//
// Timer frame, 14 bytes:
//
//	0-1   kind word, big endian, 0x01xx; low byte is the record kind
//	2     shot number
//	3     shots in string
//	4-5   elapsed since start, centiseconds, big endian
//	6-7   split since previous shot, centiseconds, big endian
//	8-9   first shot time, centiseconds, big endian
//	10-11 frame sequence, little endian
//	12-13 reserved
package codec

import (
	"encoding/binary"
	"time"

	"github.com/okian/shotlink/internal/domain/model"
)

// Timer layout constants.
const (
	TimerFrameSize   = 14
	timerFamily      = 0x01
	maxCentiseconds  = 59_999
	centisecond      = 10 * time.Millisecond
	timerReservedOff = 12
)

// TimerFrame is the wire form of a timer record.
type TimerFrame struct {
	Kind          model.TimerKind
	ShotNumber    uint8
	ShotsInString uint8
	ElapsedCS     uint16
	SplitCS       uint16
	FirstCS       uint16
	Sequence      uint16
	Reserved      [2]byte
}

// ParseTimerFrame validates and decodes a timer frame.
func ParseTimerFrame(data []byte) (TimerFrame, error) {
	if len(data) != TimerFrameSize {
		return TimerFrame{}, frameErr(WrongLength, model.PeripheralTimer, "got %d bytes, want %d", len(data), TimerFrameSize)
	}
	word := binary.BigEndian.Uint16(data[0:2])
	if word>>8 != timerFamily {
		return TimerFrame{}, frameErr(UnknownKind, model.PeripheralTimer, "kind word %#04x outside 0x01xx family", word)
	}
	kind := model.TimerKind(word & 0xff)
	switch kind {
	case model.TimerSessionStart, model.TimerShot, model.TimerSessionStop:
	default:
		return TimerFrame{}, frameErr(UnknownKind, model.PeripheralTimer, "kind %#02x", uint8(kind))
	}

	f := TimerFrame{
		Kind:          kind,
		ShotNumber:    data[2],
		ShotsInString: data[3],
		ElapsedCS:     binary.BigEndian.Uint16(data[4:6]),
		SplitCS:       binary.BigEndian.Uint16(data[6:8]),
		FirstCS:       binary.BigEndian.Uint16(data[8:10]),
		Sequence:      binary.LittleEndian.Uint16(data[10:12]),
	}
	copy(f.Reserved[:], data[timerReservedOff:])

	if err := f.validate(); err != nil {
		return TimerFrame{}, err
	}
	return f, nil
}

func (f TimerFrame) validate() error {
	switch {
	case f.ElapsedCS > maxCentiseconds:
		return frameErr(OutOfRange, model.PeripheralTimer, "elapsed %dcs exceeds %dcs", f.ElapsedCS, maxCentiseconds)
	case f.SplitCS > f.ElapsedCS:
		return frameErr(OutOfRange, model.PeripheralTimer, "split %dcs exceeds elapsed %dcs", f.SplitCS, f.ElapsedCS)
	case f.FirstCS > f.ElapsedCS:
		return frameErr(OutOfRange, model.PeripheralTimer, "first shot %dcs exceeds elapsed %dcs", f.FirstCS, f.ElapsedCS)
	case f.Kind == model.TimerShot && f.ShotNumber == 0:
		return frameErr(OutOfRange, model.PeripheralTimer, "shot frame with shot number 0")
	}
	return nil
}

// Encode renders the frame. It does not validate.
func (f TimerFrame) Encode() []byte {
	data := make([]byte, TimerFrameSize)
	binary.BigEndian.PutUint16(data[0:2], timerFamily<<8|uint16(f.Kind))
	data[2] = f.ShotNumber
	data[3] = f.ShotsInString
	binary.BigEndian.PutUint16(data[4:6], f.ElapsedCS)
	binary.BigEndian.PutUint16(data[6:8], f.SplitCS)
	binary.BigEndian.PutUint16(data[8:10], f.FirstCS)
	binary.LittleEndian.PutUint16(data[10:12], f.Sequence)
	copy(data[timerReservedOff:], f.Reserved[:])
	return data
}

// Event converts the frame into a TimerEvent stamped with the receipt time.
func (f TimerFrame) Event(peripheralID string, receivedAt time.Time) model.TimerEvent {
	return model.TimerEvent{
		PeripheralID:  peripheralID,
		Kind:          f.Kind,
		ShotNumber:    int(f.ShotNumber),
		ShotsInString: int(f.ShotsInString),
		Elapsed:       time.Duration(f.ElapsedCS) * centisecond,
		Split:         time.Duration(f.SplitCS) * centisecond,
		FirstShot:     time.Duration(f.FirstCS) * centisecond,
		Sequence:      f.Sequence,
		Timestamp:     receivedAt,
	}
}

// TimerFrameFromEvent builds the wire form of ev, truncating times to centiseconds.
func TimerFrameFromEvent(ev model.TimerEvent) TimerFrame {
	return TimerFrame{
		Kind:          ev.Kind,
		ShotNumber:    uint8(ev.ShotNumber),    //nolint:gosec // wire field is one byte
		ShotsInString: uint8(ev.ShotsInString), //nolint:gosec // wire field is one byte
		ElapsedCS:     toCS(ev.Elapsed),
		SplitCS:       toCS(ev.Split),
		FirstCS:       toCS(ev.FirstShot),
		Sequence:      ev.Sequence,
	}
}

func toCS(d time.Duration) uint16 {
	cs := d / centisecond
	if cs < 0 {
		return 0
	}
	if cs > maxCentiseconds {
		return maxCentiseconds
	}
	return uint16(cs)
}

// DecodeTimer decodes a raw timer frame.
func DecodeTimer(raw model.RawFrame) (model.TimerEvent, error) {
	f, err := ParseTimerFrame(raw.Data)
	if err != nil {
		return model.TimerEvent{}, withSource(err, raw.PeripheralID)
	}
	ev := f.Event(raw.PeripheralID, raw.ReceivedAt)
	ev.Connection = raw.Connection
	return ev, nil
}

// EncodeTimer renders ev as a timer frame.
func EncodeTimer(ev model.TimerEvent) []byte {
	return TimerFrameFromEvent(ev).Encode()
}
