package pwm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/PhaseStep/internal/debug"
)

var errSimFault = errors.New("simulated fault")

// SimChannel is the register state of one simulated channel.
type SimChannel struct {
	Timer      int
	Pin        int
	Duty       uint8
	HPoint     uint32
	Conf       uint32
	Configured bool
}

// Write is one journaled register access on the simulated controller.
type Write struct {
	Op    string // "hpoint", "update", "duty"
	Ch    Number
	Value uint32
}

// SimController is an in-memory PWM register bank used for development on
// PC and in tests. Faults can be injected per channel.
type SimController struct {
	mu       sync.Mutex
	timers   map[int]Timer
	channels map[Number]*SimChannel
	journal  []Write
	closed   bool

	// Fault injection.
	RejectTimer     bool
	RejectConfigure map[Number]bool
	LockedHPoint    map[Number]bool // writes are ignored, read-back returns the old value
	DropUpdate      map[Number]bool // update bit never reads as set
	FailDuty        map[Number]bool
	FailHPointAfter int // >0: hpoint writes beyond this count fail
	hpointWrites    int
}

// NewSimController returns an empty simulated controller.
func NewSimController() *SimController {
	return &SimController{
		timers:          make(map[int]Timer),
		channels:        make(map[Number]*SimChannel),
		RejectConfigure: make(map[Number]bool),
		LockedHPoint:    make(map[Number]bool),
		DropUpdate:      make(map[Number]bool),
		FailDuty:        make(map[Number]bool),
	}
}

func (s *SimController) ConfigureTimer(t Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	debug.Trace("Sim timer %d: %d Hz, %d-bit", t.Number, t.FrequencyHz, t.ResolutionBits)
	if s.RejectTimer {
		return errSimFault
	}
	s.timers[t.Number] = t
	return nil
}

func (s *SimController) ConfigureChannel(ch Number, t Timer, pin int, dutyPct uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	debug.Register("configure", int(ch), pin)
	if s.RejectConfigure[ch] {
		return errSimFault
	}
	if _, ok := s.timers[t.Number]; !ok {
		return fmt.Errorf("timer %d not configured", t.Number)
	}
	s.channels[ch] = &SimChannel{
		Timer:      t.Number,
		Pin:        pin,
		Duty:       dutyPct,
		Configured: true,
	}
	return nil
}

func (s *SimController) channel(ch Number) (*SimChannel, error) {
	c, ok := s.channels[ch]
	if !ok {
		return nil, fmt.Errorf("channel %d not configured", ch)
	}
	return c, nil
}

func (s *SimController) WriteHPoint(ch Number, raw uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	debug.Register("hpoint", int(ch), raw)
	c, err := s.channel(ch)
	if err != nil {
		return 0, err
	}
	if points := s.timers[c.Timer].MaxHPoint(); raw > points {
		return 0, fmt.Errorf("%w: %d > %d", ErrRegisterOverflow, raw, points)
	}
	s.hpointWrites++
	if s.FailHPointAfter > 0 && s.hpointWrites > s.FailHPointAfter {
		return 0, errSimFault
	}
	s.journal = append(s.journal, Write{Op: "hpoint", Ch: ch, Value: raw})
	if !s.LockedHPoint[ch] {
		c.HPoint = raw
		c.Conf &^= UpdateBit
	}
	return c.HPoint, nil
}

func (s *SimController) LatchUpdate(ch Number) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.channel(ch)
	if err != nil {
		return 0, err
	}
	if !s.DropUpdate[ch] {
		c.Conf |= UpdateBit
	}
	debug.Register("update", int(ch), c.Conf)
	s.journal = append(s.journal, Write{Op: "update", Ch: ch, Value: c.Conf})
	return c.Conf, nil
}

func (s *SimController) SetDuty(ch Number, dutyPct uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	debug.Register("duty", int(ch), dutyPct)
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	if s.FailDuty[ch] {
		return errSimFault
	}
	c.Duty = dutyPct
	s.journal = append(s.journal, Write{Op: "duty", Ch: ch, Value: uint32(dutyPct)})
	return nil
}

func (s *SimController) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	debug.Trace("PWM Close (simulated)")
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SimController) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Channel returns a copy of the register state of ch.
func (s *SimController) Channel(ch Number) (SimChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[ch]
	if !ok {
		return SimChannel{}, false
	}
	return *c, true
}

// HPoints returns the current phase registers of channels 0-3.
func (s *SimController) HPoints() [4]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [4]uint32
	for i := range out {
		if c, ok := s.channels[Number(i)]; ok {
			out[i] = c.HPoint
		}
	}
	return out
}

// Journal returns a copy of all successful register writes so far.
func (s *SimController) Journal() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.journal...)
}

// ResetJournal clears the write journal.
func (s *SimController) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}
