package pwm

import (
	"errors"
	"testing"

	"github.com/cjeanneret/PhaseStep/internal/hw/stepper"
)

var testTimer = Timer{Number: 0, FrequencyHz: 100, ResolutionBits: 14}

func newSimChannel(t *testing.T, sim *SimController, num Number) *Channel {
	t.Helper()
	if err := sim.ConfigureTimer(testTimer); err != nil {
		t.Fatalf("ConfigureTimer: %v", err)
	}
	ch, err := NewChannel(sim, testTimer, 4+int(num), num)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch
}

// ---------- PhaseToRaw ----------

func TestPhaseToRaw_Endpoints(t *testing.T) {
	top := testTimer.MaxHPoint()
	if top != 16384 {
		t.Fatalf("MaxHPoint for 14-bit timer = %d, want 16384", top)
	}
	if got := PhaseToRaw(0, top); got != 0 {
		t.Errorf("PhaseToRaw(0) = %d, want 0", got)
	}
	if got := PhaseToRaw(360, top); got != top {
		t.Errorf("PhaseToRaw(360) = %d, want %d", got, top)
	}
}

func TestPhaseToRaw_Monotonic(t *testing.T) {
	top := testTimer.MaxHPoint()
	prev := PhaseToRaw(0, top)
	for deg := uint32(1); deg <= 360; deg++ {
		got := PhaseToRaw(deg, top)
		if got < prev {
			t.Fatalf("PhaseToRaw not monotonic at %d: %d < %d", deg, got, prev)
		}
		prev = got
	}
}

func TestPhaseToRaw_Quadrants(t *testing.T) {
	cases := []struct {
		deg  uint32
		want uint32
	}{
		{90, 4096},
		{180, 8192},
		{270, 12288},
	}
	for _, tc := range cases {
		if got := PhaseToRaw(tc.deg, testTimer.MaxHPoint()); got != tc.want {
			t.Errorf("PhaseToRaw(%d) = %d, want %d", tc.deg, got, tc.want)
		}
	}
}

// ---------- NewChannel ----------

func TestNewChannel_BaselineDuty(t *testing.T) {
	sim := NewSimController()
	newSimChannel(t, sim, 2)

	reg, ok := sim.Channel(2)
	if !ok {
		t.Fatal("channel 2 not configured")
	}
	if reg.Duty != BaselineDuty {
		t.Errorf("duty = %d, want %d", reg.Duty, BaselineDuty)
	}
	if reg.Pin != 6 {
		t.Errorf("pin = %d, want 6", reg.Pin)
	}
}

func TestNewChannel_Rejected(t *testing.T) {
	sim := NewSimController()
	_ = sim.ConfigureTimer(testTimer)
	sim.RejectConfigure[1] = true

	_, err := NewChannel(sim, testTimer, 5, 1)
	if !errors.Is(err, ErrChannelConfiguration) {
		t.Errorf("expected ErrChannelConfiguration, got %v", err)
	}
}

// ---------- SetPhase ----------

func TestSetPhase_WritesAndLatches(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 0)

	if err := ch.SetPhase(180); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}

	reg, _ := sim.Channel(0)
	if reg.HPoint != 8192 {
		t.Errorf("hpoint = %d, want 8192", reg.HPoint)
	}
	if reg.Conf&UpdateBit == 0 {
		t.Error("update bit not set after SetPhase")
	}

	j := sim.Journal()
	if len(j) != 2 || j[0].Op != "hpoint" || j[1].Op != "update" {
		t.Errorf("expected hpoint then update, got %+v", j)
	}
}

func TestSetPhase_OutOfRange(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 0)

	err := ch.SetPhase(361)
	if !errors.Is(err, stepper.ErrPhaseOutOfRange) {
		t.Errorf("expected ErrPhaseOutOfRange, got %v", err)
	}
	if len(sim.Journal()) != 0 {
		t.Error("out-of-range phase must not touch registers")
	}
}

func TestSetPhase_ReadBackMismatch(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 0)
	sim.LockedHPoint[0] = true

	err := ch.SetPhase(90)
	if !errors.Is(err, stepper.ErrPhaseConfiguration) {
		t.Errorf("expected ErrPhaseConfiguration, got %v", err)
	}
	for _, w := range sim.Journal() {
		if w.Op == "update" {
			t.Error("update must not be latched after a failed write")
		}
	}
}

func TestSetPhase_ZeroOnLockedRegisterStillConfirmed(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 0)
	sim.LockedHPoint[0] = true

	// Register already holds 0, so the read-back matches.
	if err := ch.SetPhase(0); err != nil {
		t.Errorf("SetPhase(0): %v", err)
	}
}

func TestSetPhase_UpdateNotConfirmed(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 3)
	sim.DropUpdate[3] = true

	err := ch.SetPhase(270)
	if !errors.Is(err, ErrUpdateNotConfirmed) {
		t.Errorf("expected ErrUpdateNotConfirmed, got %v", err)
	}
	if errors.Is(err, stepper.ErrPhaseConfiguration) {
		t.Error("commit failure should be distinct from phase configuration failure")
	}
}

// ---------- SetDuty ----------

func TestSetDuty_Applied(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 1)

	if err := ch.SetDuty(25); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	reg, _ := sim.Channel(1)
	if reg.Duty != 25 {
		t.Errorf("duty = %d, want 25", reg.Duty)
	}
}

func TestSetDuty_OutOfRange(t *testing.T) {
	sim := NewSimController()
	ch := newSimChannel(t, sim, 1)

	if err := ch.SetDuty(101); !errors.Is(err, stepper.ErrDutyOutOfRange) {
		t.Errorf("expected ErrDutyOutOfRange, got %v", err)
	}
}

func TestSetDuty_FailureIsolatedToChannel(t *testing.T) {
	sim := NewSimController()
	_ = sim.ConfigureTimer(testTimer)
	var chans [4]*Channel
	for i := range chans {
		ch, err := NewChannel(sim, testTimer, 10+i, Number(i))
		if err != nil {
			t.Fatalf("NewChannel(%d): %v", i, err)
		}
		chans[i] = ch
	}
	sim.FailDuty[2] = true

	for i, ch := range chans {
		err := ch.SetDuty(30)
		if i == 2 {
			if !errors.Is(err, stepper.ErrDutyConfiguration) {
				t.Errorf("channel 2: expected ErrDutyConfiguration, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("channel %d: unexpected error %v", i, err)
		}
	}

	for i := range chans {
		reg, _ := sim.Channel(Number(i))
		want := uint8(30)
		if i == 2 {
			want = BaselineDuty
		}
		if reg.Duty != want {
			t.Errorf("channel %d duty = %d, want %d", i, reg.Duty, want)
		}
	}
}

// ---------- ConfigureStepper ----------

func TestConfigureStepper_DrivesAllChannels(t *testing.T) {
	sim := NewSimController()
	s, err := ConfigureStepper(sim, testTimer, [4]int{4, 5, 20, 21})
	if err != nil {
		t.Fatalf("ConfigureStepper: %v", err)
	}

	if err := s.Drive(stepper.CW); err != nil {
		t.Fatalf("Drive(CW): %v", err)
	}
	want := [4]uint32{0, 8192, 4096, 12288}
	if got := sim.HPoints(); got != want {
		t.Errorf("hpoints = %v, want %v", got, want)
	}

	if err := s.Drive(stepper.Off); err != nil {
		t.Fatalf("Drive(Off): %v", err)
	}
	want = [4]uint32{0, 0, 4096, 4096}
	if got := sim.HPoints(); got != want {
		t.Errorf("hpoints after Off = %v, want %v", got, want)
	}
}

func TestConfigureStepper_InvalidTimer(t *testing.T) {
	sim := NewSimController()
	_, err := ConfigureStepper(sim, Timer{FrequencyHz: 0, ResolutionBits: 14}, [4]int{1, 2, 3, 4})
	if !errors.Is(err, ErrTimerConfiguration) {
		t.Errorf("expected ErrTimerConfiguration, got %v", err)
	}
}

func TestConfigureStepper_TimerRejected(t *testing.T) {
	sim := NewSimController()
	sim.RejectTimer = true
	_, err := ConfigureStepper(sim, testTimer, [4]int{1, 2, 3, 4})
	if !errors.Is(err, ErrTimerConfiguration) {
		t.Errorf("expected ErrTimerConfiguration, got %v", err)
	}
}

func TestConfigureStepper_ChannelRejected(t *testing.T) {
	sim := NewSimController()
	sim.RejectConfigure[3] = true
	_, err := ConfigureStepper(sim, testTimer, [4]int{1, 2, 3, 4})
	if !errors.Is(err, ErrChannelConfiguration) {
		t.Errorf("expected ErrChannelConfiguration, got %v", err)
	}
}

func TestNewController_Mock(t *testing.T) {
	ctrl, err := NewController(true)
	if err != nil {
		t.Fatalf("NewController(true): %v", err)
	}
	if _, ok := ctrl.(*SimController); !ok {
		t.Errorf("expected *SimController, got %T", ctrl)
	}
}

func TestSetPhase_UpdateDroppedAfterEarlierCommit(t *testing.T) {
	sim := NewSimController()
	s, err := ConfigureStepper(sim, testTimer, [4]int{4, 5, 20, 21})
	if err != nil {
		t.Fatalf("ConfigureStepper: %v", err)
	}
	if err := s.Drive(stepper.CW); err != nil {
		t.Fatalf("Drive(CW): %v", err)
	}

	sim.DropUpdate[1] = true
	err = s.Drive(stepper.CCW)
	if !errors.Is(err, ErrUpdateNotConfirmed) {
		t.Fatalf("expected ErrUpdateNotConfirmed on a2, got %v", err)
	}
	if got := sim.HPoints(); got[2] != 4096 || got[3] != 12288 {
		t.Errorf("coil B must keep its CW phases after a2 failed, got %v", got)
	}
}

func TestSimController_HPointOverflow(t *testing.T) {
	sim := NewSimController()
	newSimChannel(t, sim, 0)

	if _, err := sim.WriteHPoint(0, testTimer.MaxHPoint()); err != nil {
		t.Errorf("full-cycle value should be accepted: %v", err)
	}
	_, err := sim.WriteHPoint(0, testTimer.MaxHPoint()+1)
	if !errors.Is(err, ErrRegisterOverflow) {
		t.Errorf("expected ErrRegisterOverflow, got %v", err)
	}
}
