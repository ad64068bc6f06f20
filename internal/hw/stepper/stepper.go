package stepper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/PhaseStep/internal/debug"
)

// PhaseChannel is the only capability the Stepper uses on a coil output.
// Implementations own their hardware binding.
type PhaseChannel interface {
	// SetPhase sets the output phase offset. 0 <= deg <= 360.
	SetPhase(deg uint32) error
	// SetDuty sets the PWM duty cycle. 0 <= pct <= 100.
	SetDuty(pct uint8) error
}

var channelNames = [4]string{"a1", "a2", "b1", "b2"}

// Stepper drives a bipolar stepper motor through four phase-shifted PWM
// channels, two per coil. It keeps no direction state: every Drive call
// rewrites all four channels.
type Stepper struct {
	mu       sync.Mutex
	channels [4]PhaseChannel
}

// New creates a stepper from four already configured channels.
// Coil A is a1/a2, coil B is b1/b2.
func New(a1, a2, b1, b2 PhaseChannel) *Stepper {
	return &Stepper{channels: [4]PhaseChannel{a1, a2, b1, b2}}
}

// Drive applies the phase set for d in channel order a1, a2, b1, b2.
// It stops at the first failing channel; the motor state is then unknown and
// the caller should issue Drive(Off) once the fault clears.
func (s *Stepper) Drive(d Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drive(d)
}

func (s *Stepper) drive(d Direction) error {
	phases, err := d.Phases()
	if err != nil {
		return err
	}

	debug.Drive(d.String(), phases)

	for i, ch := range s.channels {
		if err := ch.SetPhase(phases[i]); err != nil {
			debug.Live("Stepper: %s failed on %s: %v", d, channelNames[i], err)
			return fmt.Errorf("%s: %w", channelNames[i], err)
		}
	}
	return nil
}

// DriveFor drives in direction d, waits for duration without blocking other
// goroutines, then drives Off.
//
// Off is attempted on every exit path. If the initial drive fails the wait is
// skipped and the Off error (if any) is joined to it. If ctx is done before
// duration elapses the coils are switched Off and ctx.Err() is returned.
// The stepper stays locked for the whole sequence.
func (s *Stepper) DriveFor(ctx context.Context, d Direction, duration time.Duration) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if offErr := s.drive(Off); offErr != nil {
			err = errors.Join(err, fmt.Errorf("drive off: %w", offErr))
		}
	}()

	if err := s.drive(d); err != nil {
		return err
	}

	debug.Verbose("Stepper: holding %s for %s", d, duration)

	t := time.NewTimer(duration)
	defer t.Stop()

	select {
	case <-ctx.Done():
		debug.Live("Stepper: %s interrupted: %v", d, ctx.Err())
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetDuty applies the same duty cycle to all four channels, stopping at the
// first failure.
func (s *Stepper) SetDuty(pct uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ch := range s.channels {
		if err := ch.SetDuty(pct); err != nil {
			return fmt.Errorf("%s: %w", channelNames[i], err)
		}
	}
	return nil
}
