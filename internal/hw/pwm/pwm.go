package pwm

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/PhaseStep/internal/debug"
)

// Number identifies a PWM channel on the controller.
type Number int

// UpdateBit is the conf register bit that confirms a latched update.
const UpdateBit = 1 << 4

var (
	ErrChannelConfiguration = errors.New("channel configuration rejected")
	ErrTimerConfiguration   = errors.New("timer configuration rejected")
	ErrUpdateNotConfirmed   = errors.New("unable to update channel")
	ErrRegisterOverflow     = errors.New("value exceeds register range")
)

// Timer describes the shared timer driving the channels.
type Timer struct {
	Number         int
	FrequencyHz    uint32
	ResolutionBits uint8 // duty/phase resolution, 14 = 16384 points per cycle
}

// MaxHPoint is the raw register value for a full cycle (360 degrees).
func (t Timer) MaxHPoint() uint32 {
	return 1 << t.ResolutionBits
}

func (t Timer) validate() error {
	if t.FrequencyHz == 0 {
		return fmt.Errorf("%w: frequency must be > 0", ErrTimerConfiguration)
	}
	if t.ResolutionBits == 0 || t.ResolutionBits > 20 {
		return fmt.Errorf("%w: resolution must be 1-20 bits, got %d", ErrTimerConfiguration, t.ResolutionBits)
	}
	return nil
}

// Controller is the register-level contract of a PWM peripheral.
// This allows plugging in real hardware or a simulated register bank.
type Controller interface {
	ConfigureTimer(t Timer) error
	// ConfigureChannel binds pin to channel ch as a push-pull output on
	// timer t at the given duty.
	ConfigureChannel(ch Number, t Timer, pin int, dutyPct uint8) error
	// WriteHPoint writes the phase register and returns its read-back.
	// raw above the timer's MaxHPoint fails with ErrRegisterOverflow.
	WriteHPoint(ch Number, raw uint32) (uint32, error)
	// LatchUpdate sets the update bit, leaving other conf bits untouched,
	// and returns the conf register as written.
	LatchUpdate(ch Number) (uint32, error)
	SetDuty(ch Number, dutyPct uint8) error
	Close() error
}

// NewController creates a controller based on the chosen mode.
// If mock is true, returns a SimController (for dev/test).
// If mock is false, returns a real RPiController (for Raspberry Pi).
func NewController(mock bool) (Controller, error) {
	if mock {
		debug.Info("Using simulated PWM controller (development mode)")
		return NewSimController(), nil
	}
	return NewRPiController()
}

// PhaseToRaw maps deg (0-360) onto the raw phase register range [0, maxHPoint].
func PhaseToRaw(deg, maxHPoint uint32) uint32 {
	return uint32(uint64(deg) * uint64(maxHPoint) / 360)
}
