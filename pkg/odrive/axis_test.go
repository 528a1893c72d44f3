package odrive

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/ffsweep/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAxis(t *testing.T, verify bool) (*Axis, *Mock) {
	t.Helper()
	cfg := config.Default().Mock
	cfg.CalibrationTime = 20 * time.Millisecond
	m := NewMock(&cfg)
	require.NoError(t, m.Connect())
	t.Cleanup(func() { m.Close() })
	return NewAxis(m, 0, verify), m
}

func TestAxis_Path(t *testing.T) {
	a := NewAxis(NewMock(nil), 1, false)
	assert.Equal(t, "axis1.controller.input_torque", a.Path(propInputTorque))
}

func TestAxis_Configure(t *testing.T) {
	a, m := newTestAxis(t, true)

	cfg := config.Default().Device
	require.NoError(t, a.Configure(cfg))

	v, err := m.Read("axis0.motor.config.current_lim")
	require.NoError(t, err)
	assert.Equal(t, cfg.CurrentLim, v)

	v, err = m.Read("config.brake_resistance")
	require.NoError(t, err)
	assert.InDelta(t, cfg.BrakeResistance, v, 1e-6)

	v, err = m.Read("axis0.motor.config.torque_constant")
	require.NoError(t, err)
	assert.InDelta(t, cfg.TorqueConstant, v, 1e-6)
}

func TestAxis_ConfigureRejected(t *testing.T) {
	a, _ := newTestAxis(t, true)

	cfg := config.Default().Device
	cfg.TorqueConstant = -1
	err := a.Configure(cfg)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

// driftDevice stores every written value slightly off, like a firmware that
// clamps or rounds configuration.
type driftDevice struct {
	Device
}

func (d driftDevice) Write(path string, value float64) error {
	return d.Device.Write(path, value*1.01)
}

func TestAxis_VerifyMismatch(t *testing.T) {
	_, m := newTestAxis(t, true)
	a := NewAxis(driftDevice{m}, 0, true)

	err := a.SetControlMode(ControlModeTorque)
	assert.ErrorIs(t, err, ErrVerify)

	// Without verification the divergence goes unnoticed.
	a = NewAxis(driftDevice{m}, 0, false)
	assert.NoError(t, a.SetControlMode(ControlModeTorque))
}

func TestAxis_Calibrate(t *testing.T) {
	a, _ := newTestAxis(t, true)

	ctx := context.Background()
	require.NoError(t, a.Calibrate(ctx, 2*time.Second, 5*time.Millisecond))

	state, err := a.State()
	require.NoError(t, err)
	assert.Equal(t, AxisStateIdle, state)

	require.NoError(t, a.EnterClosedLoop(ctx, time.Second, 5*time.Millisecond))
	state, err = a.State()
	require.NoError(t, err)
	assert.Equal(t, AxisStateClosedLoopControl, state)

	require.NoError(t, a.Idle())
	state, err = a.State()
	require.NoError(t, err)
	assert.Equal(t, AxisStateIdle, state)
}

func TestAxis_CalibrateFailure(t *testing.T) {
	a, m := newTestAxis(t, false)
	m.FailCalibration(0, 0x8)

	err := a.Calibrate(context.Background(), 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrCalibration)

	errs, err := a.Errors()
	require.NoError(t, err)
	assert.True(t, errs.Any())
	assert.Equal(t, uint64(0x8), errs.Motor)
}

func TestAxis_CalibrateTimeout(t *testing.T) {
	a, m := newTestAxis(t, false)
	m.axes[0].phaseLength = time.Hour

	err := a.Calibrate(context.Background(), 50*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrCalibration)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAxis_CalibrateCancelled(t *testing.T) {
	a, m := newTestAxis(t, false)
	m.axes[0].phaseLength = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := a.Calibrate(ctx, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAxis_EnterClosedLoopUncalibrated(t *testing.T) {
	a, _ := newTestAxis(t, false)

	err := a.EnterClosedLoop(context.Background(), 200*time.Millisecond, 5*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestAxis_FeedForwardFlags(t *testing.T) {
	a, m := newTestAxis(t, true)

	require.NoError(t, a.SetFeedForward(true, false))
	v, err := m.Read("axis0.motor.config.bEMF_FF_enable")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	v, err = m.Read("axis0.motor.config.omega_L_FF_enable")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	require.NoError(t, a.SetFeedForward(false, true))
	v, err = m.Read("axis0.motor.config.omega_L_FF_enable")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestErrors_String(t *testing.T) {
	e := Errors{Axis: 0x40, Motor: 0x8}
	assert.True(t, e.Any())
	assert.Equal(t, "axis=0x40 motor=0x8 encoder=0x0", e.String())
	assert.False(t, Errors{}.Any())
}

func TestAxisState_String(t *testing.T) {
	assert.Equal(t, "closed loop control", AxisStateClosedLoopControl.String())
	assert.Equal(t, "state 42", AxisState(42).String())
}
