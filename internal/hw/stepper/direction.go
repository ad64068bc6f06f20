package stepper

import (
	"fmt"
	"strings"
)

// Direction selects which phase set is applied to the coils.
// CW and CCW are relative: swap the coil wiring to swap them.
type Direction int

const (
	Off Direction = iota
	CW
	CCW
)

// Phases is one row of the transition table, in channel order a1, a2, b1, b2.
type Phases [4]uint32

// For CW/CCW each coil pair is 180 degrees out of phase and the two pairs are
// 90 degrees apart. For Off both terminals of a coil share a phase so no
// current flows through it.
var phaseTable = map[Direction]Phases{
	CW:  {0, 180, 90, 270},
	CCW: {90, 270, 0, 180},
	Off: {0, 0, 90, 90},
}

// Phases returns the four phase angles (degrees) for d.
func (d Direction) Phases() (Phases, error) {
	p, ok := phaseTable[d]
	if !ok {
		return Phases{}, fmt.Errorf("%w: %d", ErrUnknownDirection, int(d))
	}
	return p, nil
}

func (d Direction) String() string {
	switch d {
	case CW:
		return "cw"
	case CCW:
		return "ccw"
	case Off:
		return "off"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "cw", "ccw" or "off" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cw", "clockwise":
		return CW, nil
	case "ccw", "counterclockwise":
		return CCW, nil
	case "off", "":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
	}
}

// UnmarshalText lets Direction be used in YAML config and flag.TextVar.
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Direction) MarshalText() ([]byte, error) {
	if _, ok := phaseTable[d]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDirection, int(d))
	}
	return []byte(d.String()), nil
}
