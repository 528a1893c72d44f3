package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, float64(150), cfg.Device.VelLimit)
	assert.Equal(t, 0.47, cfg.Device.BrakeResistance)
	assert.Equal(t, float64(30), cfg.Device.CurrentLim)
	assert.InDelta(t, 8.27/270, cfg.Device.TorqueConstant, 1e-12)
	assert.Equal(t, float64(1), cfg.Sweep.FStart)
	assert.Equal(t, float64(50), cfg.Sweep.FEnd)
	assert.Equal(t, float64(10), cfg.Sweep.Duration)
	assert.Equal(t, float64(200), cfg.Sweep.SampleRate)
	assert.Equal(t, float64(90), cfg.Sweep.Phi)
	assert.Equal(t, float64(4), cfg.Sweep.MaxCurrent)
	assert.Equal(t, []string{"none", "bemf", "omega_l", "both"}, cfg.Sweep.Passes)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, float64(200), cfg.Sweep.SampleRate)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
  timeout: 50ms

device:
  axis: 1
  vel_limit: 100
  current_lim: 20
  verify_writes: false

calibration:
  timeout: 20s
  poll_interval: 100ms

sweep:
  f_start: 2
  f_end: 80
  duration: 5
  sample_rate: 400
  max_current: 2
  passes: [both, none]

output:
  directory: out
  plots: false
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, 1, cfg.Device.Axis)
	assert.Equal(t, float64(100), cfg.Device.VelLimit)
	assert.Equal(t, float64(20), cfg.Device.CurrentLim)
	assert.False(t, cfg.Device.VerifyWrites)
	assert.Equal(t, 20*time.Second, cfg.Calibration.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Calibration.PollInterval)
	assert.Equal(t, float64(2), cfg.Sweep.FStart)
	assert.Equal(t, float64(80), cfg.Sweep.FEnd)
	assert.Equal(t, float64(400), cfg.Sweep.SampleRate)
	assert.Equal(t, []string{"both", "none"}, cfg.Sweep.Passes)
	assert.Equal(t, "out", cfg.Output.Directory)
	assert.False(t, cfg.Output.Plots)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
sweep:
  f_end: 0
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing and zeroed fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, float64(50), cfg.Sweep.FEnd)
	assert.Equal(t, float64(30), cfg.Device.CurrentLim)
	assert.Len(t, cfg.Sweep.Passes, 4)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Sweep.Duration = 15

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, float64(15), loaded.Sweep.Duration)
	assert.Equal(t, cfg.Calibration.Timeout, loaded.Calibration.Timeout)
	assert.Equal(t, cfg.Mock.CalibrationTime, loaded.Mock.CalibrationTime)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero start frequency", mutate: func(c *Config) { c.Sweep.FStart = 0 }, wantErr: true},
		{name: "reversed frequencies", mutate: func(c *Config) { c.Sweep.FStart = 60 }, wantErr: true},
		{name: "above nyquist", mutate: func(c *Config) { c.Sweep.FEnd = 150 }, wantErr: true},
		{name: "zero duration", mutate: func(c *Config) { c.Sweep.Duration = 0 }, wantErr: true},
		{name: "zero sample rate", mutate: func(c *Config) { c.Sweep.SampleRate = 0 }, wantErr: true},
		{name: "amplitude above current limit", mutate: func(c *Config) { c.Sweep.MaxCurrent = 40 }, wantErr: true},
		{name: "negative torque constant", mutate: func(c *Config) { c.Device.TorqueConstant = -1 }, wantErr: true},
		{name: "bad axis", mutate: func(c *Config) { c.Device.Axis = 2 }, wantErr: true},
		{name: "no taper", mutate: func(c *Config) { c.Analysis.Taper = 0 }},
		{name: "taper above one", mutate: func(c *Config) { c.Analysis.Taper = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
