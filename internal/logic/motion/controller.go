package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PhaseStep/internal/debug"
	"github.com/cjeanneret/PhaseStep/internal/hw/stepper"
)

// Driver is the part of *stepper.Stepper the motion loop needs.
type Driver interface {
	Drive(d stepper.Direction) error
	DriveFor(ctx context.Context, d stepper.Direction, duration time.Duration) error
	SetDuty(pct uint8) error
}

// Plan describes a run of discrete motion pulses.
type Plan struct {
	Direction stepper.Direction
	Pulse     time.Duration // energized time per pulse
	Pulses    int           // number of pulses
	Pause     time.Duration // de-energized time between pulses
}

// Controller turns a Plan into timed drive calls. It sits between the
// application (CLI, config) and the stepper driver.
type Controller struct {
	drv Driver
}

func NewController(drv Driver) *Controller {
	return &Controller{drv: drv}
}

// Pulse performs a single timed drive followed by Off.
func (c *Controller) Pulse(ctx context.Context, d stepper.Direction, duration time.Duration) error {
	return c.drv.DriveFor(ctx, d, duration)
}

// Run executes every pulse of p. It stops at the first error or when ctx is
// done; the coils are left Off in both cases unless the Off drive itself
// failed.
func (c *Controller) Run(ctx context.Context, p Plan) error {
	if p.Pulses < 0 {
		return fmt.Errorf("pulses must be >= 0, got %d", p.Pulses)
	}
	if p.Pulse < 0 || p.Pause < 0 {
		return errors.New("pulse and pause durations must be >= 0")
	}

	for i := 0; i < p.Pulses; i++ {
		select {
		case <-ctx.Done():
			return c.stopWith(ctx.Err())
		default:
		}

		if debug.IsEnabled(debug.LevelLive) {
			debug.Pulse(i+1, p.Pulses, p.Direction.String())
		}
		if err := c.drv.DriveFor(ctx, p.Direction, p.Pulse); err != nil {
			return fmt.Errorf("pulse %d/%d: %w", i+1, p.Pulses, err)
		}

		if i < p.Pulses-1 && p.Pause > 0 {
			if err := sleep(ctx, p.Pause); err != nil {
				return c.stopWith(err)
			}
		}
	}
	return nil
}

// SetDuty changes the duty cycle on all four channels.
func (c *Controller) SetDuty(pct uint8) error {
	return c.drv.SetDuty(pct)
}

// Stop de-energizes the coils.
func (c *Controller) Stop() error {
	debug.Live("Motion: stop")
	return c.drv.Drive(stepper.Off)
}

func (c *Controller) stopWith(err error) error {
	if stopErr := c.Stop(); stopErr != nil {
		return errors.Join(err, fmt.Errorf("stop: %w", stopErr))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
