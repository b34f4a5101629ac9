package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/okian/shotlink/internal/domain/codec"
)

// Frame kinds accepted by --kind.
const (
	decodeAuto   = "auto"
	decodeTimer  = "timer"
	decodeMotion = "motion"
)

var (
	okColor   = color.New(color.FgGreen)
	kindColor = color.New(color.FgCyan, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
)

// errRejected is returned when at least one frame failed to decode.
var errRejected = errors.New("one or more frames rejected")

func newDecodeCmd() *cobra.Command {
	var kind string
	var noColor bool
	cmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode captured timer or motion frames.",
		Long: `Decode one frame per argument. Hex may contain spaces, colons or dashes.
With --kind auto, frames starting 55 61 are decoded as motion frames and all
others as timer frames.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			switch kind {
			case decodeAuto, decodeTimer, decodeMotion:
			default:
				return fmt.Errorf("unknown --kind %q: want auto, timer or motion", kind)
			}
			rejected := false
			for _, arg := range args {
				if !decodeOne(cmd.OutOrStdout(), kind, arg) {
					rejected = true
				}
			}
			if rejected {
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", decodeAuto, "frame kind: auto, timer or motion")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	return cmd
}

func decodeOne(w io.Writer, kind, arg string) bool {
	data, err := parseHex(arg)
	if err != nil {
		errColor.Fprintf(w, "%-6s ", "error")
		fmt.Fprintf(w, "%s: %v\n", arg, err)
		return false
	}
	if kind == decodeAuto {
		kind = guessKind(data)
	}

	var text string
	switch kind {
	case decodeMotion:
		var f codec.MotionFrame
		if f, err = codec.ParseMotionFrame(data); err == nil {
			text = f.String()
		}
	default:
		var f codec.TimerFrame
		if f, err = codec.ParseTimerFrame(data); err == nil {
			text = f.String()
		}
	}
	if err != nil {
		errColor.Fprintf(w, "%-6s ", "reject")
		fmt.Fprintln(w, err)
		return false
	}
	kindColor.Fprintf(w, "%-6s ", kind)
	okColor.Fprintln(w, text)
	return true
}

func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(strings.ToLower(s))
	return hex.DecodeString(clean)
}

func guessKind(data []byte) string {
	if len(data) >= 2 && data[0] == 0x55 && data[1] == 0x61 {
		return decodeMotion
	}
	return decodeTimer
}
