package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Device      DeviceConfig      `yaml:"device"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Output      OutputConfig      `yaml:"output"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
// An empty port means "try every available port".
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"` // Per-request response timeout
}

// DeviceConfig contains the controller settings applied before calibration.
type DeviceConfig struct {
	Axis            int     `yaml:"axis"`
	VelLimit        float64 `yaml:"vel_limit"`        // turn/s
	BrakeResistance float64 `yaml:"brake_resistance"` // Ohm
	CurrentLim      float64 `yaml:"current_lim"`      // A
	TorqueConstant  float64 `yaml:"torque_constant"`  // Nm/A
	VerifyWrites    bool    `yaml:"verify_writes"`    // Read configuration back after writing it
}

// CalibrationConfig contains calibration sequencing parameters.
type CalibrationConfig struct {
	Timeout      time.Duration `yaml:"timeout"`       // Give up if the axis is not idle after this
	PollInterval time.Duration `yaml:"poll_interval"` // How often current_state is polled
	Settle       time.Duration `yaml:"settle"`        // Pause after entering closed loop
}

// SweepConfig contains the chirp and pass parameters.
type SweepConfig struct {
	FStart     float64  `yaml:"f_start"`     // Hz
	FEnd       float64  `yaml:"f_end"`       // Hz
	Duration   float64  `yaml:"duration"`    // s
	SampleRate float64  `yaml:"sample_rate"` // Hz
	Phi        float64  `yaml:"phi"`         // Phase offset in degrees
	MaxCurrent float64  `yaml:"max_current"` // Chirp amplitude in A
	Passes     []string `yaml:"passes"`      // Feed-forward modes, run in order
}

// AnalysisConfig contains frequency-response analysis parameters.
type AnalysisConfig struct {
	SmoothBins         int     `yaml:"smooth_bins"`         // Moving-average width in bins (0 = disabled)
	BandwidthThreshold float64 `yaml:"bandwidth_threshold"` // dB below the low-frequency gain
	Taper              float64 `yaml:"taper"`               // Tukey window alpha, 0 = no window
}

// OutputConfig contains result persistence parameters.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Plots     bool   `yaml:"plots"`
}

// MockConfig contains simulated motor parameters.
type MockConfig struct {
	PhaseResistance  float64       `yaml:"phase_resistance"`  // Ohm
	PhaseInductance  float64       `yaml:"phase_inductance"`  // H
	PolePairs        int           `yaml:"pole_pairs"`        // Electrical/mechanical ratio
	Inertia          float64       `yaml:"inertia"`           // kg m^2
	Friction         float64       `yaml:"friction"`          // Nm s/rad
	CurrentBandwidth float64       `yaml:"current_bandwidth"` // rad/s, current loop
	BusVoltage       float64       `yaml:"bus_voltage"`       // V
	NoiseLevel       float64       `yaml:"noise_level"`       // A, measurement noise amplitude
	CalibrationTime  time.Duration `yaml:"calibration_time"`  // Duration of each calibration phase
	Latency          time.Duration `yaml:"latency"`           // Simulated round trip per request
	ControlFrequency float64       `yaml:"control_frequency"` // Hz, firmware loop rate
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "", // Try all ports
			BaudRate: 115200,
			Timeout:  200 * time.Millisecond,
		},
		Device: DeviceConfig{
			Axis:            0,
			VelLimit:        150,
			BrakeResistance: 0.47,
			CurrentLim:      30,
			TorqueConstant:  8.27 / 270, // 270 KV motor
			VerifyWrites:    true,
		},
		Calibration: CalibrationConfig{
			Timeout:      30 * time.Second,
			PollInterval: 250 * time.Millisecond,
			Settle:       500 * time.Millisecond,
		},
		Sweep: SweepConfig{
			FStart:     1,
			FEnd:       50,
			Duration:   10,
			SampleRate: 200,
			Phi:        90,
			MaxCurrent: 4,
			Passes:     []string{"none", "bemf", "omega_l", "both"},
		},
		Analysis: AnalysisConfig{
			SmoothBins:         5,
			BandwidthThreshold: 3,
			Taper:              0.1,
		},
		Output: OutputConfig{
			Directory: "results",
			Plots:     true,
		},
		Mock: MockConfig{
			PhaseResistance:  0.05,
			PhaseInductance:  20e-6,
			PolePairs:        7,
			Inertia:          1e-4,
			Friction:         1e-4,
			CurrentBandwidth: 1000,
			BusVoltage:       24,
			NoiseLevel:       0.02,
			CalibrationTime:  500 * time.Millisecond,
			Latency:          0,
			ControlFrequency: 8000,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the values that would make the experiment meaningless.
func (c *Config) Validate() error {
	s := c.Sweep
	if s.FStart <= 0 || s.FEnd <= 0 {
		return errors.New("sweep frequencies must be positive")
	}
	if s.FStart >= s.FEnd {
		return fmt.Errorf("sweep f_start (%g) must be below f_end (%g)", s.FStart, s.FEnd)
	}
	if s.Duration <= 0 {
		return errors.New("sweep duration must be positive")
	}
	if s.SampleRate <= 0 {
		return errors.New("sweep sample_rate must be positive")
	}
	if s.FEnd > s.SampleRate/2 {
		return fmt.Errorf("sweep f_end (%g Hz) exceeds Nyquist (%g Hz)", s.FEnd, s.SampleRate/2)
	}
	if s.MaxCurrent <= 0 {
		return errors.New("sweep max_current must be positive")
	}
	if s.MaxCurrent > c.Device.CurrentLim {
		return fmt.Errorf("sweep max_current (%g A) exceeds device current_lim (%g A)", s.MaxCurrent, c.Device.CurrentLim)
	}
	if c.Device.TorqueConstant <= 0 {
		return errors.New("device torque_constant must be positive")
	}
	if c.Analysis.Taper < 0 || c.Analysis.Taper > 1 {
		return fmt.Errorf("analysis taper must be within [0, 1], got %g", c.Analysis.Taper)
	}
	if c.Device.Axis < 0 || c.Device.Axis > 1 {
		return fmt.Errorf("device axis must be 0 or 1, got %d", c.Device.Axis)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Device.VelLimit == 0 {
		c.Device.VelLimit = def.Device.VelLimit
	}
	if c.Device.CurrentLim == 0 {
		c.Device.CurrentLim = def.Device.CurrentLim
	}
	if c.Device.TorqueConstant == 0 {
		c.Device.TorqueConstant = def.Device.TorqueConstant
	}

	if c.Calibration.Timeout == 0 {
		c.Calibration.Timeout = def.Calibration.Timeout
	}
	if c.Calibration.PollInterval == 0 {
		c.Calibration.PollInterval = def.Calibration.PollInterval
	}

	if c.Sweep.FStart == 0 {
		c.Sweep.FStart = def.Sweep.FStart
	}
	if c.Sweep.FEnd == 0 {
		c.Sweep.FEnd = def.Sweep.FEnd
	}
	if c.Sweep.Duration == 0 {
		c.Sweep.Duration = def.Sweep.Duration
	}
	if c.Sweep.SampleRate == 0 {
		c.Sweep.SampleRate = def.Sweep.SampleRate
	}
	if c.Sweep.MaxCurrent == 0 {
		c.Sweep.MaxCurrent = def.Sweep.MaxCurrent
	}
	if len(c.Sweep.Passes) == 0 {
		c.Sweep.Passes = def.Sweep.Passes
	}

	if c.Analysis.BandwidthThreshold == 0 {
		c.Analysis.BandwidthThreshold = def.Analysis.BandwidthThreshold
	}

	if c.Output.Directory == "" {
		c.Output.Directory = def.Output.Directory
	}

	if c.Mock.PhaseResistance == 0 {
		c.Mock.PhaseResistance = def.Mock.PhaseResistance
	}
	if c.Mock.PhaseInductance == 0 {
		c.Mock.PhaseInductance = def.Mock.PhaseInductance
	}
	if c.Mock.PolePairs == 0 {
		c.Mock.PolePairs = def.Mock.PolePairs
	}
	if c.Mock.Inertia == 0 {
		c.Mock.Inertia = def.Mock.Inertia
	}
	if c.Mock.CurrentBandwidth == 0 {
		c.Mock.CurrentBandwidth = def.Mock.CurrentBandwidth
	}
	if c.Mock.BusVoltage == 0 {
		c.Mock.BusVoltage = def.Mock.BusVoltage
	}
	if c.Mock.CalibrationTime == 0 {
		c.Mock.CalibrationTime = def.Mock.CalibrationTime
	}
	if c.Mock.ControlFrequency == 0 {
		c.Mock.ControlFrequency = def.Mock.ControlFrequency
	}
}
