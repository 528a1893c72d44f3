package odrive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/itohio/ffsweep/pkg/config"
)

// AxisState mirrors the firmware's axis state enumeration.
type AxisState int

const (
	AxisStateUndefined                AxisState = 0
	AxisStateIdle                     AxisState = 1
	AxisStateStartupSequence          AxisState = 2
	AxisStateFullCalibrationSequence  AxisState = 3
	AxisStateMotorCalibration         AxisState = 4
	AxisStateEncoderIndexSearch       AxisState = 6
	AxisStateEncoderOffsetCalibration AxisState = 7
	AxisStateClosedLoopControl        AxisState = 8
)

func (s AxisState) String() string {
	switch s {
	case AxisStateUndefined:
		return "undefined"
	case AxisStateIdle:
		return "idle"
	case AxisStateStartupSequence:
		return "startup sequence"
	case AxisStateFullCalibrationSequence:
		return "full calibration sequence"
	case AxisStateMotorCalibration:
		return "motor calibration"
	case AxisStateEncoderIndexSearch:
		return "encoder index search"
	case AxisStateEncoderOffsetCalibration:
		return "encoder offset calibration"
	case AxisStateClosedLoopControl:
		return "closed loop control"
	}
	return fmt.Sprintf("state %d", int(s))
}

// ControlMode mirrors the controller's control mode enumeration.
type ControlMode int

const (
	ControlModeVoltage  ControlMode = 0
	ControlModeTorque   ControlMode = 1
	ControlModeVelocity ControlMode = 2
	ControlModePosition ControlMode = 3
)

// Axis error bits used by the simulator and in diagnostics.
const (
	AxisErrorInvalidState uint32 = 0x00000001
	AxisErrorMotorFailed  uint32 = 0x00000040
)

// Property paths relative to the axis.
const (
	propRequestedState = "requested_state"
	propCurrentState   = "current_state"
	propAxisError      = "error"
	propMotorError     = "motor.error"
	propEncoderError   = "encoder.error"
	propVelLimit       = "controller.config.vel_limit"
	propControlMode    = "controller.config.control_mode"
	propInputTorque    = "controller.input_torque"
	propCurrentLim     = "motor.config.current_lim"
	propTorqueConstant = "motor.config.torque_constant"
	propBEMFFF         = "motor.config.bEMF_FF_enable"
	propOmegaLFF       = "motor.config.omega_L_FF_enable"
	propIqMeasured     = "motor.current_control.Iq_measured"
	propIqSetpoint     = "motor.current_control.Iq_setpoint"

	// Board level.
	propBrakeResistance = "config.brake_resistance"
)

// Errors holds the error registers of an axis.
type Errors struct {
	Axis    uint32
	Motor   uint64
	Encoder uint32
}

// Any reports whether any error bit is set.
func (e Errors) Any() bool {
	return e.Axis != 0 || e.Motor != 0 || e.Encoder != 0
}

func (e Errors) String() string {
	return fmt.Sprintf("axis=0x%x motor=0x%x encoder=0x%x", e.Axis, e.Motor, e.Encoder)
}

// Axis provides typed access to one motor axis of a Device.
type Axis struct {
	dev    Device
	prefix string
	verify bool
}

// NewAxis returns the axis with the given index. With verify set every
// configuration write is read back and compared.
func NewAxis(dev Device, index int, verify bool) *Axis {
	return &Axis{
		dev:    dev,
		prefix: fmt.Sprintf("axis%d.", index),
		verify: verify,
	}
}

// Path returns the absolute property path for a path relative to the axis.
func (a *Axis) Path(rel string) string {
	return a.prefix + rel
}

// Configure applies limits and motor constants.
func (a *Axis) Configure(cfg config.DeviceConfig) error {
	if err := a.set(a.Path(propVelLimit), cfg.VelLimit); err != nil {
		return err
	}
	if cfg.BrakeResistance > 0 {
		if err := a.set(propBrakeResistance, cfg.BrakeResistance); err != nil {
			return err
		}
	}
	if err := a.set(a.Path(propCurrentLim), cfg.CurrentLim); err != nil {
		return err
	}
	return a.set(a.Path(propTorqueConstant), cfg.TorqueConstant)
}

// RequestState asks the axis state machine to transition.
func (a *Axis) RequestState(s AxisState) error {
	if err := a.dev.Write(a.Path(propRequestedState), float64(s)); err != nil {
		return fmt.Errorf("failed to request %s: %w", s, err)
	}
	return nil
}

// State returns the current axis state.
func (a *Axis) State() (AxisState, error) {
	v, err := a.dev.Read(a.Path(propCurrentState))
	if err != nil {
		return AxisStateUndefined, err
	}
	return AxisState(v), nil
}

// Errors reads the axis, motor and encoder error registers.
func (a *Axis) Errors() (Errors, error) {
	var e Errors
	v, err := a.dev.Read(a.Path(propAxisError))
	if err != nil {
		return e, err
	}
	e.Axis = uint32(v)
	v, err = a.dev.Read(a.Path(propMotorError))
	if err != nil {
		return e, err
	}
	e.Motor = uint64(v)
	v, err = a.dev.Read(a.Path(propEncoderError))
	if err != nil {
		return e, err
	}
	e.Encoder = uint32(v)
	return e, nil
}

// Calibrate runs the full calibration sequence and blocks until the axis is
// idle again. It fails on timeout or if any error register is set afterwards.
func (a *Axis) Calibrate(ctx context.Context, timeout, poll time.Duration) error {
	if err := a.RequestState(AxisStateFullCalibrationSequence); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	started := false
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: axis not idle after %s: %w", ErrCalibration, timeout, ErrTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		state, err := a.State()
		if err != nil {
			return fmt.Errorf("failed to poll calibration state: %w", err)
		}
		if state != AxisStateIdle {
			started = true
			continue
		}
		// The request may not have been picked up yet on the first poll.
		if !started {
			errs, err := a.Errors()
			if err != nil {
				return err
			}
			if !errs.Any() {
				started = true
				continue
			}
		}

		errs, err := a.Errors()
		if err != nil {
			return err
		}
		if errs.Any() {
			return fmt.Errorf("%w: %s", ErrCalibration, errs)
		}
		return nil
	}
}

// EnterClosedLoop requests closed loop control and checks that the axis
// accepted it.
func (a *Axis) EnterClosedLoop(ctx context.Context, timeout, poll time.Duration) error {
	if err := a.RequestState(AxisStateClosedLoopControl); err != nil {
		return err
	}
	return a.waitState(ctx, AxisStateClosedLoopControl, timeout, poll)
}

// Idle zeroes the torque command and disarms the axis.
func (a *Axis) Idle() error {
	terr := a.SetInputTorque(0)
	serr := a.RequestState(AxisStateIdle)
	if terr != nil {
		return terr
	}
	return serr
}

// SetControlMode selects the controller's control mode.
func (a *Axis) SetControlMode(m ControlMode) error {
	return a.set(a.Path(propControlMode), float64(m))
}

// SetFeedForward sets the back-EMF and ωL feed-forward enables.
func (a *Axis) SetFeedForward(bemf, omegaL bool) error {
	if err := a.set(a.Path(propBEMFFF), boolValue(bemf)); err != nil {
		return err
	}
	return a.set(a.Path(propOmegaLFF), boolValue(omegaL))
}

// SetInputTorque writes the torque command in Nm. It is never verified, it
// sits on the sampling path.
func (a *Axis) SetInputTorque(nm float64) error {
	return a.dev.Write(a.Path(propInputTorque), nm)
}

// IqMeasured reads the measured q-axis current in A.
func (a *Axis) IqMeasured() (float64, error) {
	return a.dev.Read(a.Path(propIqMeasured))
}

// IqSetpoint reads the q-axis current setpoint in A.
func (a *Axis) IqSetpoint() (float64, error) {
	return a.dev.Read(a.Path(propIqSetpoint))
}

func (a *Axis) waitState(ctx context.Context, want AxisState, timeout, poll time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		state, err := a.State()
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
		if state == AxisStateIdle {
			// Rejected request drops back to idle with an error set.
			errs, err := a.Errors()
			if err != nil {
				return err
			}
			if errs.Any() {
				return fmt.Errorf("axis refused %s: %s", want, errs)
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("axis still in %s, want %s: %w", state, want, ErrTimeout)
			}
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// set writes a configuration value and optionally reads it back.
func (a *Axis) set(path string, value float64) error {
	if err := a.dev.Write(path, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	if !a.verify {
		return nil
	}

	got, err := a.dev.Read(path)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", path, err)
	}
	// The firmware stores float32.
	if math.Abs(got-value) > 1e-6*math.Max(1, math.Abs(value)) {
		return fmt.Errorf("%w: %s = %g, wrote %g", ErrVerify, path, got, value)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
