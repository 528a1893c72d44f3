package odrive

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/ffsweep/pkg/config"
)

// maxCatchUp caps how much simulated time a single request may advance.
const maxCatchUp = 100 * time.Millisecond

// Mock simulates a two-axis controller for testing and development.
// Physics run lazily: every request advances the model to the current time
// in fixed control-loop steps, using float32 arithmetic like the firmware.
type Mock struct {
	cfg *config.MockConfig

	mu        sync.Mutex
	connected bool
	now       func() time.Time
	last      time.Time
	rng       *rand.Rand

	brakeResistance float32
	axes            [2]*mockAxis
	props           map[string]mockProperty
}

type mockProperty struct {
	get func() float64
	set func(v float64) error // nil for read-only
}

// mockAxis is the state machine and dq-frame motor model of one axis.
type mockAxis struct {
	state       AxisState
	requested   AxisState
	phaseUntil  time.Time
	phaseLength time.Duration
	failMotor   uint64 // Motor error raised at the end of motor calibration

	axisError    uint32
	motorError   uint64
	encoderError uint32
	calibrated   bool
	encoderReady bool

	// Configuration
	velLimit       float32 // turn/s
	controlMode    float32
	inputMode      float32
	currentLim     float32
	torqueConstant float32
	polePairs      float32
	bemfFF         bool
	omegaLFF       bool

	// Motor parameters (true plant, and the firmware's estimate after calibration)
	r, l       float32
	rEst, lEst float32
	inertia    float32
	friction   float32
	bandwidth  float32
	vbus       float32
	noise      float32

	// Controller state
	inputTorque    float32
	idSetpoint     float32
	iqSetpoint     float32
	integD, integQ float32

	// Plant state
	id, iq float32
	omega  float32 // Mechanical rad/s
}

// NewMock creates a new simulated controller.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	m := &Mock{
		cfg:             cfg,
		now:             time.Now,
		rng:             rand.New(rand.NewPCG(1, 2)),
		brakeResistance: 2,
	}
	for i := range m.axes {
		m.axes[i] = newMockAxis(cfg)
	}
	m.props = m.buildProperties()

	return m
}

func newMockAxis(cfg *config.MockConfig) *mockAxis {
	return &mockAxis{
		state:          AxisStateIdle,
		requested:      AxisStateUndefined,
		velLimit:       2,
		controlMode:    float32(ControlModePosition),
		inputMode:      1,
		currentLim:     10,
		torqueConstant: 0.04,
		phaseLength:    cfg.CalibrationTime,
		polePairs:      float32(cfg.PolePairs),
		r:              float32(cfg.PhaseResistance),
		l:              float32(cfg.PhaseInductance),
		inertia:        float32(cfg.Inertia),
		friction:       float32(cfg.Friction),
		bandwidth:      float32(cfg.CurrentBandwidth),
		vbus:           float32(cfg.BusVoltage),
		noise:          float32(cfg.NoiseLevel),
	}
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}

	m.connected = true
	m.last = m.now()

	return nil
}

// Close disconnects. The simulated axes are disarmed like on USB loss.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	for _, ax := range m.axes {
		ax.inputTorque = 0
		ax.enter(AxisStateIdle, m.last)
	}
	m.connected = false

	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Read returns a simulated property value.
func (m *Mock) Read(path string) (float64, error) {
	m.latency()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}
	m.advance()

	p, ok := m.props[path]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidProperty, path)
	}
	return p.get(), nil
}

// Write assigns a simulated property.
func (m *Mock) Write(path string, value float64) error {
	m.latency()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.advance()

	p, ok := m.props[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidProperty, path)
	}
	if p.set == nil {
		return fmt.Errorf("%w: %s is read-only", ErrInvalidProperty, path)
	}
	return p.set(value)
}

// FailCalibration makes the next motor calibration of the axis end with the
// given motor error code.
func (m *Mock) FailCalibration(axis int, motorError uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.axes[axis].failMotor = motorError
}

func (m *Mock) latency() {
	if m.cfg.Latency > 0 {
		time.Sleep(m.cfg.Latency)
	}
}

// advance runs the simulation up to now. Must be called with m.mu held.
func (m *Mock) advance() {
	now := m.now()

	if elapsed := now.Sub(m.last); elapsed > 0 {
		step := 125 * time.Microsecond
		if m.cfg.ControlFrequency > 0 {
			step = time.Duration(float64(time.Second) / m.cfg.ControlFrequency)
		}
		if elapsed > maxCatchUp {
			elapsed = maxCatchUp
		}

		dt := float32(step.Seconds())
		for ; elapsed >= step; elapsed -= step {
			for _, ax := range m.axes {
				ax.control(dt)
			}
		}
		m.last = now.Add(-elapsed)
	}

	for _, ax := range m.axes {
		ax.sequence(now)
	}
}

// sequence advances the calibration and state machine.
func (ax *mockAxis) sequence(now time.Time) {
	if ax.requested != AxisStateUndefined {
		req := ax.requested
		ax.requested = AxisStateUndefined
		ax.request(req, now)
	}

	switch ax.state {
	case AxisStateMotorCalibration:
		if now.Before(ax.phaseUntil) {
			return
		}
		if ax.failMotor != 0 {
			ax.motorError = ax.failMotor
			ax.failMotor = 0
			ax.axisError |= AxisErrorMotorFailed
			ax.enter(AxisStateIdle, now)
			return
		}
		ax.calibrated = true
		ax.rEst = ax.r
		ax.lEst = ax.l
		ax.enter(AxisStateEncoderOffsetCalibration, now)
	case AxisStateEncoderOffsetCalibration:
		if now.Before(ax.phaseUntil) {
			return
		}
		ax.encoderReady = true
		ax.enter(AxisStateIdle, now)
	}
}

// request handles a write of requested_state.
func (ax *mockAxis) request(req AxisState, now time.Time) {
	switch req {
	case AxisStateIdle:
		ax.enter(AxisStateIdle, now)
	case AxisStateFullCalibrationSequence:
		ax.enter(AxisStateMotorCalibration, now)
	case AxisStateMotorCalibration:
		ax.enter(AxisStateMotorCalibration, now)
	case AxisStateClosedLoopControl:
		if !ax.calibrated || !ax.encoderReady {
			ax.axisError |= AxisErrorInvalidState
			ax.enter(AxisStateIdle, now)
			return
		}
		ax.enter(AxisStateClosedLoopControl, now)
	default:
		ax.axisError |= AxisErrorInvalidState
	}
}

func (ax *mockAxis) enter(s AxisState, now time.Time) {
	ax.state = s
	ax.integD, ax.integQ = 0, 0
	ax.idSetpoint, ax.iqSetpoint = 0, 0
	switch s {
	case AxisStateMotorCalibration, AxisStateEncoderOffsetCalibration:
		ax.phaseUntil = now.Add(ax.phaseLength)
	}
}

// control runs one current-loop period and integrates the plant.
func (ax *mockAxis) control(dt float32) {
	pp := ax.polePairs
	omegaE := ax.omega * pp
	psi := 2.0 / 3.0 * ax.torqueConstant / pp

	var vd, vq float32
	if ax.state == AxisStateClosedLoopControl {
		iq := ax.inputTorque / ax.torqueConstant
		if ax.controlMode != float32(ControlModeTorque) {
			iq = 0
		}
		// No torque beyond the velocity limit.
		if limit := ax.velLimit * 2 * math32.Pi; math32.Abs(ax.omega) > limit && iq*ax.omega > 0 {
			iq = 0
		}
		ax.iqSetpoint = clamp(iq, ax.currentLim)
		ax.idSetpoint = 0

		kp := ax.lEst * ax.bandwidth
		ki := ax.rEst * ax.bandwidth
		errD := ax.idSetpoint - ax.id
		errQ := ax.iqSetpoint - ax.iq

		vd = ax.integD + kp*errD
		vq = ax.integQ + kp*errQ
		if ax.omegaLFF {
			vd -= omegaE * ax.lEst * ax.iqSetpoint
			vq += omegaE * ax.lEst * ax.idSetpoint
		}
		if ax.bemfFF {
			vq += omegaE * psi
		}

		// Modulation limit; the integrator only runs when unsaturated.
		vmax := ax.vbus / math32.Sqrt(3)
		mag := math32.Hypot(vd, vq)
		if mag > vmax {
			vd *= vmax / mag
			vq *= vmax / mag
			ax.integD *= 0.99
			ax.integQ *= 0.99
		} else {
			ax.integD += ki * errD * dt
			ax.integQ += ki * errQ * dt
		}
	}

	// Electrical dynamics in the rotor frame.
	did := (vd - ax.r*ax.id + omegaE*ax.l*ax.iq) / ax.l
	diq := (vq - ax.r*ax.iq - omegaE*ax.l*ax.id - omegaE*psi) / ax.l
	if ax.state != AxisStateClosedLoopControl {
		// Bridge off: currents decay through the diodes.
		did = -ax.id * ax.r / ax.l
		diq = -ax.iq * ax.r / ax.l
	}
	ax.id += did * dt
	ax.iq += diq * dt

	// Mechanics
	torque := 1.5 * pp * psi * ax.iq
	ax.omega += (torque - ax.friction*ax.omega) / ax.inertia * dt
}

func (m *Mock) measure(v, noise float32) float64 {
	if noise == 0 {
		return float64(v)
	}
	return float64(v + noise*float32(m.rng.NormFloat64()))
}

func clamp(v, limit float32) float32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// buildProperties registers the property tree of both axes.
func (m *Mock) buildProperties() map[string]mockProperty {
	props := map[string]mockProperty{
		"vbus_voltage": {get: func() float64 { return float64(m.axes[0].vbus) }},
		propBrakeResistance: {
			get: func() float64 { return float64(m.brakeResistance) },
			set: func(v float64) error { m.brakeResistance = float32(v); return nil },
		},
	}

	for i, ax := range m.axes {
		prefix := fmt.Sprintf("axis%d.", i)
		add := func(rel string, p mockProperty) {
			props[prefix+rel] = p
		}
		f32 := func(ptr *float32) mockProperty {
			return mockProperty{
				get: func() float64 { return float64(*ptr) },
				set: func(v float64) error { *ptr = float32(v); return nil },
			}
		}
		flag := func(ptr *bool) mockProperty {
			return mockProperty{
				get: func() float64 { return boolValue(*ptr) },
				set: func(v float64) error {
					if v != 0 && v != 1 {
						return fmt.Errorf("%w: %g is not a boolean", ErrInvalidValue, v)
					}
					*ptr = v == 1
					return nil
				},
			}
		}

		add(propRequestedState, mockProperty{
			get: func() float64 { return float64(ax.requested) },
			set: func(v float64) error { ax.requested = AxisState(v); return nil },
		})
		add(propCurrentState, mockProperty{get: func() float64 { return float64(ax.state) }})
		add(propAxisError, mockProperty{
			get: func() float64 { return float64(ax.axisError) },
			set: func(v float64) error { ax.axisError = uint32(v); return nil },
		})
		add(propMotorError, mockProperty{
			get: func() float64 { return float64(ax.motorError) },
			set: func(v float64) error { ax.motorError = uint64(v); return nil },
		})
		add(propEncoderError, mockProperty{
			get: func() float64 { return float64(ax.encoderError) },
			set: func(v float64) error { ax.encoderError = uint32(v); return nil },
		})
		add("motor.is_calibrated", mockProperty{get: func() float64 { return boolValue(ax.calibrated) }})
		add("encoder.is_ready", mockProperty{get: func() float64 { return boolValue(ax.encoderReady) }})
		add("encoder.vel_estimate", mockProperty{get: func() float64 { return float64(ax.omega / (2 * math32.Pi)) }})

		add(propVelLimit, f32(&ax.velLimit))
		add(propControlMode, f32(&ax.controlMode))
		add("controller.config.input_mode", f32(&ax.inputMode))
		add(propInputTorque, f32(&ax.inputTorque))
		add(propCurrentLim, f32(&ax.currentLim))
		add(propTorqueConstant, mockProperty{
			get: func() float64 { return float64(ax.torqueConstant) },
			set: func(v float64) error {
				if v <= 0 {
					return fmt.Errorf("%w: torque constant must be positive", ErrInvalidValue)
				}
				ax.torqueConstant = float32(v)
				return nil
			},
		})
		add("motor.config.pole_pairs", mockProperty{get: func() float64 { return float64(ax.polePairs) }})
		add("motor.config.phase_resistance", mockProperty{get: func() float64 { return float64(ax.rEst) }})
		add("motor.config.phase_inductance", mockProperty{get: func() float64 { return float64(ax.lEst) }})
		add(propBEMFFF, flag(&ax.bemfFF))
		add(propOmegaLFF, flag(&ax.omegaLFF))
		add(propIqMeasured, mockProperty{get: func() float64 { return m.measure(ax.iq, ax.noise) }})
		add(propIqSetpoint, mockProperty{get: func() float64 { return float64(ax.iqSetpoint) }})
		add("motor.current_control.Id_measured", mockProperty{get: func() float64 { return m.measure(ax.id, ax.noise) }})
	}

	return props
}

// Properties lists the simulated property paths, sorted.
func (m *Mock) Properties() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.props))
	for p := range m.props {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
