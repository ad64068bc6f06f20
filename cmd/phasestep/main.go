package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cjeanneret/PhaseStep/internal/config"
	"github.com/cjeanneret/PhaseStep/internal/debug"
	"github.com/cjeanneret/PhaseStep/internal/hw/pwm"
	"github.com/cjeanneret/PhaseStep/internal/hw/stepper"
	"github.com/cjeanneret/PhaseStep/internal/logic/motion"
)

// overrides holds CLI values applied on top of the config file.
// Zero values mean "use config default".
type overrides struct {
	Direction string
	Pulse     time.Duration
	Pulses    int
	Pause     time.Duration
	Duty      int // -1 = not set
}

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code so deferred cleanup runs first.
func realMain() int {
	// CLI flags
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	direction := flag.String("direction", "", "override drive direction (cw, ccw, off)")
	pulse := flag.Duration("pulse", 0, "override energized time per pulse (e.g. 500ms, min 1ms)")
	pulses := flag.Int("pulses", 0, "override number of pulses")
	pause := flag.Duration("pause", 0, "override de-energized time between pulses (min 1ms)")
	duty := flag.Int("duty", -1, "override duty cycle in percent (0-100)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Printf("invalid config path: %v", err)
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Printf("load config failed: %v", err)
		return 1
	}

	ov := overrides{
		Direction: *direction,
		Pulse:     *pulse,
		Pulses:    *pulses,
		Pause:     *pause,
		Duty:      *duty,
	}
	if err := validateCLIOverrides(ov); err != nil {
		log.Printf("invalid CLI override: %v", err)
		return 2
	}
	if err := applyOverrides(cfg, ov); err != nil {
		log.Printf("invalid CLI override: %v", err)
		return 2
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	if cfg.Defaults.LogFile != "" {
		lf := debug.FileWriter(cfg.Defaults.LogFile, cfg.Defaults.LogMaxMB, 3)
		defer lf.Close()
		debug.SetOutput(io.MultiWriter(os.Stdout, lf))
	}
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())

	// Initialize PWM controller
	debug.Value("Mock PWM", cfg.Defaults.MockPWM)
	debug.Step(1, "Initializing PWM controller")
	ctrl, err := pwm.NewController(cfg.Defaults.MockPWM)
	if err != nil {
		log.Printf("init PWM failed: %v", err)
		return 1
	}

	if err := execute(ctx, cfg, ctrl); err != nil {
		debug.Error(err)
		log.Printf("drive failed: %v", err)
		return 1
	}
	return 0
}

// execute configures the stepper on ctrl and runs the drive plan. ctrl is
// closed on every path, resetting the outputs to a safe state.
func execute(ctx context.Context, cfg *config.Config, ctrl pwm.Controller) (err error) {
	defer func() {
		if closeErr := ctrl.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close PWM controller: %w", closeErr))
		}
	}()

	// Initialize stepper motor
	debug.Step(2, "Initializing stepper motor")
	motor, err := pwm.ConfigureStepper(ctrl, timerFromConfig(cfg), cfg.Stepper.Pins())
	if err != nil {
		return fmt.Errorf("configure stepper: %w", err)
	}
	debug.PrintStruct("Stepper config", cfg.Stepper)
	debug.Info("Stepper motor configured")

	return run(ctx, motion.NewController(motor), cfg)
}

// run applies the configured duty and executes the pulse plan.
func run(ctx context.Context, ctrl *motion.Controller, cfg *config.Config) error {
	if d := cfg.Drive.DutyPercent; d != nil {
		debug.Step(3, debug.Fmt("Setting duty to %d%%", *d))
		if err := ctrl.SetDuty(*d); err != nil {
			return fmt.Errorf("set duty: %w", err)
		}
	}

	plan := motion.Plan{
		Direction: cfg.Drive.Direction,
		Pulse:     cfg.PulseDuration(),
		Pulses:    cfg.Drive.Pulses,
		Pause:     cfg.PauseDuration(),
	}
	debug.Summary("Drive Plan")
	debug.Value("Direction", plan.Direction)
	debug.Value("Pulse", plan.Pulse)
	debug.Value("Pulses", plan.Pulses)
	debug.Value("Pause", plan.Pause)

	if err := ctrl.Run(ctx, plan); err != nil {
		return err
	}

	debug.Section("Sequence Complete")
	return nil
}

func timerFromConfig(cfg *config.Config) pwm.Timer {
	return pwm.Timer{
		Number:         cfg.Timer.Number,
		FrequencyHz:    cfg.Timer.FrequencyHz,
		ResolutionBits: cfg.Timer.ResolutionBits,
	}
}

// validateCLIOverrides checks that CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(ov overrides) error {
	if ov.Direction != "" {
		if _, err := stepper.ParseDirection(ov.Direction); err != nil {
			return err
		}
	}
	if ov.Pulse < 0 || (ov.Pulse > 0 && ov.Pulse < time.Millisecond) {
		return fmt.Errorf("pulse must be 0 (config default) or >= 1ms, got %s", ov.Pulse)
	}
	if ov.Pause < 0 || (ov.Pause > 0 && ov.Pause < time.Millisecond) {
		return fmt.Errorf("pause must be 0 (config default) or >= 1ms, got %s", ov.Pause)
	}
	if ov.Pulses < 0 {
		return fmt.Errorf("pulses must be >= 0, got %d", ov.Pulses)
	}
	if ov.Duty < -1 || ov.Duty > 100 {
		return fmt.Errorf("duty must be between 0 and 100, got %d", ov.Duty)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set override values are applied.
func applyOverrides(cfg *config.Config, ov overrides) error {
	if ov.Direction != "" {
		d, err := stepper.ParseDirection(ov.Direction)
		if err != nil {
			return err
		}
		cfg.Drive.Direction = d
	}
	if ov.Pulse > 0 {
		cfg.Drive.PulseMs = int(ov.Pulse / time.Millisecond)
	}
	if ov.Pulses > 0 {
		cfg.Drive.Pulses = ov.Pulses
	}
	if ov.Pause > 0 {
		cfg.Drive.PauseMs = int(ov.Pause / time.Millisecond)
	}
	if ov.Duty >= 0 {
		d := uint8(ov.Duty)
		cfg.Drive.DutyPercent = &d
	}
	return nil
}
