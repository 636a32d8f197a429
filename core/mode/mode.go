package mode

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the operating mode of the installation.
type Mode int

const (
	Auto Mode = iota
	Manual
	Off
)

var (
	ErrInvalidMode    = errors.New("invalid operating mode")
	ErrNotManual      = errors.New("manual commands are only accepted in MANUAL mode")
	ErrUnknownPump    = errors.New("unknown pump")
	ErrInvalidCommand = errors.New("invalid pump command")
)

// Modes lists the valid modes in display order.
var Modes = []Mode{Auto, Manual, Off}

func (m Mode) String() string {
	switch m {
	case Auto:
		return "AUTO"
	case Manual:
		return "MANUAL"
	case Off:
		return "OFF"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Parse converts a mode name. Matching ignores case and surrounding spaces.
func Parse(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return Auto, nil
	case "MANUAL":
		return Manual, nil
	case "OFF":
		return Off, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// ParseCommand converts an ON/OFF pump command.
func ParseCommand(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}
