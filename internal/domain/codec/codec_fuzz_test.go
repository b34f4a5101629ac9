package codec_test

import (
	"bytes"
	"testing"

	"github.com/okian/shotlink/internal/domain/codec"
)

func FuzzTimerFrame(f *testing.F) {
	f.Add([]byte{0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	f.Add([]byte{0x01, 0x03, 0x01, 0x01, 0x00, 0x64, 0x00, 0x64, 0x00, 0x64, 0x02, 0x00, 0x00, 0x00})
	f.Add([]byte{0x01, 0x08})

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := codec.ParseTimerFrame(data)
		if err != nil {
			return
		}
		if out := frame.Encode(); !bytes.Equal(out, data) {
			t.Fatalf("round trip mismatch: % x != % x", out, data)
		}
	})
}

func FuzzMotionFrame(f *testing.F) {
	f.Add(codec.MotionFrame{Temp: 2000}.Encode())
	f.Add(codec.MotionFrame{Temp: 2000, Extended: true, Frequency: [3]int16{10, 10, 10}}.Encode())
	f.Add([]byte{0x55, 0x61, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := codec.ParseMotionFrame(data)
		if err != nil {
			return
		}
		if out := frame.Encode(); !bytes.Equal(out, data) {
			t.Fatalf("round trip mismatch: % x != % x", out, data)
		}
	})
}
