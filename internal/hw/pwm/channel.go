package pwm

import (
	"fmt"

	"github.com/cjeanneret/PhaseStep/internal/debug"
	"github.com/cjeanneret/PhaseStep/internal/hw/stepper"
)

const (
	maxAngleDeg = 360
	maxDutyPct  = 100

	// BaselineDuty is applied to every channel at construction.
	BaselineDuty uint8 = 50
)

// Channel adapts one controller channel to stepper.PhaseChannel.
type Channel struct {
	ctrl  Controller
	timer Timer
	num   Number
	pin   int
}

var _ stepper.PhaseChannel = (*Channel)(nil)

// NewChannel binds pin to channel num on the shared timer and configures it
// for push-pull output at BaselineDuty.
func NewChannel(ctrl Controller, timer Timer, pin int, num Number) (*Channel, error) {
	if err := ctrl.ConfigureChannel(num, timer, pin, BaselineDuty); err != nil {
		return nil, fmt.Errorf("channel %d (pin %d): %w: %v", num, pin, ErrChannelConfiguration, err)
	}
	debug.Verbose("PWM: channel %d bound to pin %d on timer %d", num, pin, timer.Number)

	return &Channel{
		ctrl:  ctrl,
		timer: timer,
		num:   num,
		pin:   pin,
	}, nil
}

// Number returns the controller channel number.
func (c *Channel) Number() Number {
	return c.num
}

// SetPhase writes the phase offset in degrees, confirms it by read-back and
// latches it into the running PWM cycle.
func (c *Channel) SetPhase(deg uint32) error {
	if deg > maxAngleDeg {
		return fmt.Errorf("channel %d: %w: got %d", c.num, stepper.ErrPhaseOutOfRange, deg)
	}

	raw := PhaseToRaw(deg, c.timer.MaxHPoint())
	got, err := c.ctrl.WriteHPoint(c.num, raw)
	if err != nil {
		return fmt.Errorf("channel %d: %w: %v", c.num, stepper.ErrPhaseConfiguration, err)
	}
	if got != raw {
		return fmt.Errorf("channel %d: %w: wrote %d, read back %d", c.num, stepper.ErrPhaseConfiguration, raw, got)
	}

	return c.update()
}

// update latches pending register writes and checks the update bit.
func (c *Channel) update() error {
	conf, err := c.ctrl.LatchUpdate(c.num)
	if err != nil {
		return fmt.Errorf("channel %d: %w: %v", c.num, ErrUpdateNotConfirmed, err)
	}
	if conf&UpdateBit == 0 {
		return fmt.Errorf("channel %d: %w", c.num, ErrUpdateNotConfirmed)
	}
	return nil
}

// SetDuty sets the duty cycle in percent.
func (c *Channel) SetDuty(pct uint8) error {
	if pct > maxDutyPct {
		return fmt.Errorf("channel %d: %w: got %d", c.num, stepper.ErrDutyOutOfRange, pct)
	}
	if err := c.ctrl.SetDuty(c.num, pct); err != nil {
		return fmt.Errorf("channel %d: %w: %v", c.num, stepper.ErrDutyConfiguration, err)
	}
	return nil
}

// ConfigureStepper configures the timer and binds pins (a1, a2, b1, b2) to
// channels 0-3, returning the stepper built on them.
func ConfigureStepper(ctrl Controller, timer Timer, pins [4]int) (*stepper.Stepper, error) {
	if err := timer.validate(); err != nil {
		return nil, err
	}
	if err := ctrl.ConfigureTimer(timer); err != nil {
		return nil, fmt.Errorf("timer %d: %w: %v", timer.Number, ErrTimerConfiguration, err)
	}
	debug.Info("Timer %d configured: %d Hz, %d-bit", timer.Number, timer.FrequencyHz, timer.ResolutionBits)

	var chans [4]*Channel
	for i, pin := range pins {
		ch, err := NewChannel(ctrl, timer, pin, Number(i))
		if err != nil {
			return nil, err
		}
		chans[i] = ch
	}

	return stepper.New(chans[0], chans[1], chans[2], chans[3]), nil
}
