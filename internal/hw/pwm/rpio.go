package pwm

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/PhaseStep/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

const (
	// softSlots is the number of output updates per PWM cycle.
	softSlots = 100
	// maxSoftTickHz bounds frequency * softSlots.
	maxSoftTickHz = 20000
)

// outputPin is the part of rpio.Pin the generator drives.
type outputPin interface {
	Output()
	Input()
	High()
	Low()
}

// RPiController is the real implementation for Raspberry Pi using go-rpio.
//
// The BCM2835 PWM block has two channels and no phase register, so the four
// coil outputs are generated in software on plain GPIO pins. A generator
// goroutine walks each PWM cycle in softSlots steps. Phase offsets are
// quantized to one slot: WriteHPoint reads back the value the generator will
// actually produce, so offsets it cannot realize fail the read-back compare.
// A latched update is adopted on the next cycle boundary and the update bit
// is only set once the generator has taken it.
type RPiController struct {
	mu      sync.Mutex
	open    func(pin int) outputPin
	release func() error

	timer   *Timer
	chans   map[Number]*rpiChannel
	pins    map[int]Number
	waiters []chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

type rpiChannel struct {
	out    outputPin
	pin    int
	duty   uint8
	hpoint uint32 // phase register, adopted on latch
	active uint32 // phase being generated
	conf   uint32
	latch  bool
	level  bool
}

// NewRPiController opens /dev/gpiomem and returns a controller.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiController() (*RPiController, error) {
	debug.Info("Initializing real PWM controller (go-rpio, software phase generator)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return newRPiController(func(pin int) outputPin { return rpio.Pin(pin) }, rpio.Close), nil
}

func newRPiController(open func(pin int) outputPin, release func() error) *RPiController {
	return &RPiController{
		open:    open,
		release: release,
		chans:   make(map[Number]*rpiChannel),
		pins:    make(map[int]Number),
	}
}

func (r *RPiController) ConfigureTimer(t Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	debug.Trace("RPi timer %d: %d Hz, %d-bit", t.Number, t.FrequencyHz, t.ResolutionBits)
	if r.timer != nil && *r.timer != t {
		return fmt.Errorf("software generator already runs timer %d, cannot add timer %d", r.timer.Number, t.Number)
	}
	if uint64(t.FrequencyHz)*softSlots > maxSoftTickHz {
		return fmt.Errorf("frequency %d Hz too high for software PWM (max %d Hz)", t.FrequencyHz, maxSoftTickHz/softSlots)
	}
	r.timer = &t
	return nil
}

func (r *RPiController) ConfigureChannel(ch Number, t Timer, pin int, dutyPct uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	debug.Register("configure", int(ch), pin)
	if r.timer == nil || *r.timer != t {
		return fmt.Errorf("timer %d not configured", t.Number)
	}
	if pin < 0 {
		return fmt.Errorf("invalid pin %d", pin)
	}
	if owner, ok := r.pins[pin]; ok && owner != ch {
		return fmt.Errorf("pin %d already drives channel %d", pin, owner)
	}
	if prev, ok := r.chans[ch]; ok && prev.pin != pin {
		return fmt.Errorf("channel %d already bound to pin %d", ch, prev.pin)
	}

	out := r.open(pin)
	out.Output()
	out.Low()

	r.chans[ch] = &rpiChannel{out: out, pin: pin, duty: dutyPct}
	r.pins[pin] = ch

	if r.stop == nil {
		r.stop = make(chan struct{})
		r.done = make(chan struct{})
		go r.run(r.tick(), r.stop, r.done)
	}
	return nil
}

func (r *RPiController) WriteHPoint(ch Number, raw uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	debug.Register("hpoint", int(ch), raw)
	c, ok := r.chans[ch]
	if !ok {
		return 0, fmt.Errorf("channel %d not configured", ch)
	}
	points := r.timer.MaxHPoint()
	if raw > points {
		return 0, fmt.Errorf("%w: %d > %d", ErrRegisterOverflow, raw, points)
	}
	c.hpoint = quantize(raw, points)
	c.conf &^= UpdateBit
	return c.hpoint, nil
}

func (r *RPiController) LatchUpdate(ch Number) (uint32, error) {
	r.mu.Lock()
	c, ok := r.chans[ch]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("channel %d not configured", ch)
	}
	c.latch = true
	ack := make(chan struct{})
	r.waiters = append(r.waiters, ack)
	done := r.done
	wait := 10 * r.tick() * softSlots
	r.mu.Unlock()

	select {
	case <-ack:
	case <-done:
	case <-time.After(wait):
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Register("update", int(ch), c.conf)
	return c.conf, nil
}

func (r *RPiController) SetDuty(ch Number, dutyPct uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	debug.Register("duty", int(ch), dutyPct)
	c, ok := r.chans[ch]
	if !ok {
		return fmt.Errorf("channel %d not configured", ch)
	}
	c.duty = dutyPct
	return nil
}

func (r *RPiController) Close() error {
	debug.Trace("PWM Close (real controller)")

	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop = nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	r.mu.Lock()
	// Reset all pins to input (safe state)
	for ch, c := range r.chans {
		debug.Verbose("Resetting channel %d (pin %d) to input", ch, c.pin)
		c.out.Low()
		c.out.Input()
	}
	r.mu.Unlock()

	return r.release()
}

func (r *RPiController) tick() time.Duration {
	return time.Second / time.Duration(uint64(r.timer.FrequencyHz)*softSlots)
}

// run drives the outputs until stop is closed.
func (r *RPiController) run(tick time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(tick)
	defer t.Stop()

	for slot := 0; ; slot = (slot + 1) % softSlots {
		r.mu.Lock()
		if slot == 0 {
			r.commitLocked()
		}
		r.outputLocked(slot)
		r.mu.Unlock()

		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// commitLocked adopts latched phase registers at a cycle boundary.
func (r *RPiController) commitLocked() {
	for _, c := range r.chans {
		if c.latch {
			c.active = c.hpoint
			c.conf |= UpdateBit
			c.latch = false
		}
	}
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}

func (r *RPiController) outputLocked(slot int) {
	points := r.timer.MaxHPoint()
	pos := uint32(uint64(slot) * uint64(points) / softSlots)
	for _, c := range r.chans {
		lvl := levelAt(pos, c.active, dutyPoints(c.duty, points), points)
		if lvl == c.level {
			continue
		}
		if lvl {
			c.out.High()
		} else {
			c.out.Low()
		}
		c.level = lvl
	}
}

// levelAt reports whether an output whose pulse starts at hpoint and lasts
// duty points is high at cycle position pos.
func levelAt(pos, hpoint, duty, points uint32) bool {
	if duty == 0 {
		return false
	}
	if duty >= points {
		return true
	}
	return (pos+points-hpoint%points)%points < duty
}

// quantize rounds raw down to the nearest generator slot.
func quantize(raw, points uint32) uint32 {
	slot := uint64(raw) * softSlots / uint64(points)
	return uint32(slot * uint64(points) / softSlots)
}

func dutyPoints(pct uint8, points uint32) uint32 {
	return uint32(uint64(pct) * uint64(points) / 100)
}
