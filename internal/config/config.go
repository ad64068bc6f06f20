package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PhaseStep/internal/hw/stepper"
)

// MaxConfigFileBytes bounds the size of a config file read by Load.
const MaxConfigFileBytes = 64 * 1024

// StepperConfig holds the coil pin assignment (BCM numbering).
type StepperConfig struct {
	PinA1 int `yaml:"pin_a1"` // coil A
	PinA2 int `yaml:"pin_a2"`
	PinB1 int `yaml:"pin_b1"` // coil B
	PinB2 int `yaml:"pin_b2"`
}

// Pins returns the pins in channel order a1, a2, b1, b2.
func (s StepperConfig) Pins() [4]int {
	return [4]int{s.PinA1, s.PinA2, s.PinB1, s.PinB2}
}

// TimerConfig describes the PWM timer shared by the four channels.
type TimerConfig struct {
	Number         int    `yaml:"number"`
	FrequencyHz    uint32 `yaml:"frequency_hz"`    // PWM frequency (default: 100)
	ResolutionBits uint8  `yaml:"resolution_bits"` // duty/phase resolution (default: 14)
}

// DriveConfig is the default motion applied when no CLI override is given.
type DriveConfig struct {
	Direction   stepper.Direction `yaml:"direction"`    // cw, ccw, off
	PulseMs     int               `yaml:"pulse_ms"`     // hold time per pulse
	Pulses      int               `yaml:"pulses"`       // number of pulses
	PauseMs     int               `yaml:"pause_ms"`     // de-energized time between pulses
	DutyPercent *uint8            `yaml:"duty_percent"` // optional; nil keeps the 50% baseline
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockPWM    bool   `yaml:"mock_pwm"`    // use simulated PWM (true=dev/test, false=real Raspberry Pi)
	LogFile    string `yaml:"log_file"`    // optional rotating log file
	LogMaxMB   int    `yaml:"log_max_mb"`  // rotate after this size (default: 10)
}

// Config aggregates all application configuration.
type Config struct {
	Stepper  StepperConfig  `yaml:"stepper"`
	Timer    TimerConfig    `yaml:"timer"`
	Drive    DriveConfig    `yaml:"drive"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly inside
// a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension, got %q", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory, got %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	pins := cfg.Stepper.Pins()
	seen := make(map[int]bool, len(pins))
	for i, p := range pins {
		if p < 0 {
			return nil, fmt.Errorf("stepper pin %d must be >= 0, got %d", i, p)
		}
		if seen[p] {
			return nil, fmt.Errorf("stepper pins must be distinct, pin %d used twice", p)
		}
		seen[p] = true
	}

	if cfg.Timer.FrequencyHz == 0 {
		cfg.Timer.FrequencyHz = 100 // default (100 Hz)
	}
	if cfg.Timer.ResolutionBits == 0 {
		cfg.Timer.ResolutionBits = 14 // default (14-bit, 16384 points)
	}
	if cfg.Timer.ResolutionBits > 20 {
		return nil, fmt.Errorf("timer.resolution_bits must be <= 20, got %d", cfg.Timer.ResolutionBits)
	}

	if cfg.Drive.PulseMs < 0 || cfg.Drive.PauseMs < 0 || cfg.Drive.Pulses < 0 {
		return nil, fmt.Errorf("drive.pulse_ms, drive.pause_ms and drive.pulses must be >= 0")
	}
	if cfg.Drive.PulseMs == 0 {
		cfg.Drive.PulseMs = 500 // reasonable default
	}
	if cfg.Drive.Pulses == 0 {
		cfg.Drive.Pulses = 1
	}
	if d := cfg.Drive.DutyPercent; d != nil && *d > 100 {
		return nil, fmt.Errorf("drive.duty_percent must be between 0 and 100, got %d", *d)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.LogMaxMB <= 0 {
		cfg.Defaults.LogMaxMB = 10
	}

	return &cfg, nil
}

// PulseDuration returns the hold time of one drive pulse.
func (c *Config) PulseDuration() time.Duration {
	return time.Duration(c.Drive.PulseMs) * time.Millisecond
}

// PauseDuration returns the de-energized time between pulses.
func (c *Config) PauseDuration() time.Duration {
	return time.Duration(c.Drive.PauseMs) * time.Millisecond
}
