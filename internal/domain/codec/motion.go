package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/okian/shotlink/internal/domain/model"
)

// Motion frame layout. Channels are little endian int16.
//
//	0-1   header 0x55 0x61
//	2-7   acceleration x, y, z
//	8-13  angle roll, pitch, yaw
//	14-15 temperature, hundredths of a degree
//	16-21 displacement x, y, z in micrometres (extended only)
//	22-27 frequency x, y, z in hertz (extended only)
const (
	MotionFrameSize         = 16
	MotionFrameSizeExtended = 28

	motionHeader0 = 0x55
	motionHeader1 = 0x61
)

// Scale factors from raw counts to physical units.
//
// AccelScale is full scale 16 g over the int16 range, so 2048 counts are 1 g.
// Older firmware notes give 16/32.768, which is a thousand times too large.
const (
	AccelScale = 16.0 / 32768.0
	AngleScale = 180.0 / 32768.0
	TempScale  = 0.01

	minTempC = -40.0
	maxTempC = 125.0
)

// MotionFrame is the wire form of a motion record.
type MotionFrame struct {
	Accel        [3]int16
	Angle        [3]int16
	Temp         int16
	Extended     bool
	Displacement [3]int16
	Frequency    [3]int16
}

// ParseMotionFrame validates and decodes a motion frame.
func ParseMotionFrame(data []byte) (MotionFrame, error) {
	if len(data) != MotionFrameSize && len(data) != MotionFrameSizeExtended {
		return MotionFrame{}, frameErr(WrongLength, model.PeripheralMotion, "got %d bytes, want %d or %d",
			len(data), MotionFrameSize, MotionFrameSizeExtended)
	}
	if data[0] != motionHeader0 || data[1] != motionHeader1 {
		return MotionFrame{}, frameErr(UnknownKind, model.PeripheralMotion, "header %#02x %#02x", data[0], data[1])
	}

	var f MotionFrame
	readTriple(data[2:8], &f.Accel)
	readTriple(data[8:14], &f.Angle)
	f.Temp = int16(binary.LittleEndian.Uint16(data[14:16])) //nolint:gosec // two's complement channel
	if len(data) == MotionFrameSizeExtended {
		f.Extended = true
		readTriple(data[16:22], &f.Displacement)
		readTriple(data[22:28], &f.Frequency)
	}

	if err := f.validate(); err != nil {
		return MotionFrame{}, err
	}
	return f, nil
}

func readTriple(b []byte, out *[3]int16) {
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:])) //nolint:gosec // two's complement channel
	}
}

func putTriple(b []byte, in [3]int16) {
	for i, v := range in {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v)) //nolint:gosec // two's complement channel
	}
}

func (f MotionFrame) validate() error {
	if t := float64(f.Temp) * TempScale; t < minTempC || t > maxTempC {
		return frameErr(OutOfRange, model.PeripheralMotion, "temperature %.2fC outside [%v, %v]", t, minTempC, maxTempC)
	}
	if f.Extended {
		for i, hz := range f.Frequency {
			if hz < 0 {
				return frameErr(OutOfRange, model.PeripheralMotion, "frequency axis %d is negative (%d)", i, hz)
			}
		}
	}
	return nil
}

// Encode renders the frame in base or extended form. It does not validate.
func (f MotionFrame) Encode() []byte {
	size := MotionFrameSize
	if f.Extended {
		size = MotionFrameSizeExtended
	}
	data := make([]byte, size)
	data[0], data[1] = motionHeader0, motionHeader1
	putTriple(data[2:8], f.Accel)
	putTriple(data[8:14], f.Angle)
	binary.LittleEndian.PutUint16(data[14:16], uint16(f.Temp)) //nolint:gosec // two's complement channel
	if f.Extended {
		putTriple(data[16:22], f.Displacement)
		putTriple(data[22:28], f.Frequency)
	}
	return data
}

// Sample converts the frame into physical units.
func (f MotionFrame) Sample(peripheralID string, receivedAt time.Time) model.MotionSample {
	s := model.MotionSample{
		PeripheralID: peripheralID,
		AccelRaw:     f.Accel,
		AngleRaw:     f.Angle,
		TempRaw:      f.Temp,
		TempC:        float64(f.Temp) * TempScale,
		Extended:     f.Extended,
		Timestamp:    receivedAt,
	}
	for i := range 3 {
		s.Accel[i] = float64(f.Accel[i]) * AccelScale
		s.Angle[i] = float64(f.Angle[i]) * AngleScale
		if f.Extended {
			s.Displacement[i] = float64(f.Displacement[i])
			s.Frequency[i] = float64(f.Frequency[i])
		}
	}
	return s
}

// DecodeMotion decodes a raw motion frame.
func DecodeMotion(raw model.RawFrame) (model.MotionSample, error) {
	f, err := ParseMotionFrame(raw.Data)
	if err != nil {
		return model.MotionSample{}, withSource(err, raw.PeripheralID)
	}
	return f.Sample(raw.PeripheralID, raw.ReceivedAt), nil
}

// AccelCounts converts g into raw counts, saturating at the int16 range.
func AccelCounts(g float64) int16 {
	return saturate(math.Round(g / AccelScale))
}

// TempCounts converts degrees Celsius into raw counts.
func TempCounts(c float64) int16 {
	return saturate(math.Round(c / TempScale))
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// String renders the frame for the decode tool.
func (f MotionFrame) String() string {
	s := f.Sample("", time.Time{})
	out := fmt.Sprintf("accel=[%.3f %.3f %.3f]g angle=[%.1f %.1f %.1f]deg temp=%.2fC",
		s.Accel[0], s.Accel[1], s.Accel[2], s.Angle[0], s.Angle[1], s.Angle[2], s.TempC)
	if f.Extended {
		out += fmt.Sprintf(" disp=[%v %v %v]um freq=[%v %v %v]Hz",
			f.Displacement[0], f.Displacement[1], f.Displacement[2], f.Frequency[0], f.Frequency[1], f.Frequency[2])
	}
	return out
}

// String renders the frame for the decode tool.
func (f TimerFrame) String() string {
	return fmt.Sprintf("%s shot=%d/%d elapsed=%.2fs split=%.2fs first=%.2fs seq=%d",
		f.Kind, f.ShotNumber, f.ShotsInString,
		float64(f.ElapsedCS)/100, float64(f.SplitCS)/100, float64(f.FirstCS)/100, f.Sequence)
}
