package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/itohio/ffsweep/pkg/chirp"
	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/odrive"
)

// Experiment runs the complete feed-forward characterization on a device:
// configuration, calibration, closed loop torque control and one chirp pass
// per feed-forward mode.
type Experiment struct {
	cfg    *config.Config
	axis   *odrive.Axis
	runner *Runner
	signal chirp.Signal
	modes  []Mode
}

// NewExperiment prepares an experiment. The device must already be connected.
func NewExperiment(cfg *config.Config, dev odrive.Device, signal chirp.Signal) (*Experiment, error) {
	modes, err := ParseModes(cfg.Sweep.Passes)
	if err != nil {
		return nil, err
	}
	if len(signal.Values) == 0 {
		return nil, fmt.Errorf("empty command signal")
	}

	axis := odrive.NewAxis(dev, cfg.Device.Axis, cfg.Device.VerifyWrites)
	return &Experiment{
		cfg:    cfg,
		axis:   axis,
		runner: NewRunner(axis, signal.Params.SampleRate),
		signal: signal,
		modes:  modes,
	}, nil
}

// Runner returns the pass runner, for registering update callbacks.
func (e *Experiment) Runner() *Runner {
	return e.runner
}

// Modes returns the passes in the order they run.
func (e *Experiment) Modes() []Mode {
	return e.modes
}

// Command returns the torque sequence in Nm: the unit chirp scaled by the
// maximum current and the torque constant.
func (e *Experiment) Command() []float64 {
	return e.signal.Scaled(e.cfg.Sweep.MaxCurrent * e.cfg.Device.TorqueConstant)
}

// Setup configures the axis, calibrates it and enters closed loop torque
// control.
func (e *Experiment) Setup(ctx context.Context) error {
	log.Printf("Setting up axis %d...", e.cfg.Device.Axis)
	if err := e.axis.Configure(e.cfg.Device); err != nil {
		return fmt.Errorf("failed to configure axis: %w", err)
	}

	log.Printf("Calibrating (timeout %s)...", e.cfg.Calibration.Timeout)
	start := time.Now()
	if err := e.axis.Calibrate(ctx, e.cfg.Calibration.Timeout, e.cfg.Calibration.PollInterval); err != nil {
		return err
	}
	log.Printf("Calibration done in %s", time.Since(start).Round(time.Millisecond))

	if err := e.axis.SetControlMode(odrive.ControlModeTorque); err != nil {
		return fmt.Errorf("failed to select torque control: %w", err)
	}
	if err := e.axis.SetInputTorque(0); err != nil {
		return fmt.Errorf("failed to zero torque: %w", err)
	}
	if err := e.axis.EnterClosedLoop(ctx, e.cfg.Calibration.Timeout, e.cfg.Calibration.PollInterval); err != nil {
		return fmt.Errorf("failed to enter closed loop control: %w", err)
	}

	if e.cfg.Calibration.Settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Calibration.Settle):
		}
	}

	return nil
}

// Run performs Setup followed by every configured pass. The axis is left
// idle with zero torque when Run returns, whatever the outcome. Recordings of
// completed passes are returned even when a later pass fails.
func (e *Experiment) Run(ctx context.Context) (recs []*Recording, err error) {
	defer func() {
		if ierr := e.axis.Idle(); ierr != nil {
			err = errors.Join(err, fmt.Errorf("failed to idle axis: %w", ierr))
		}
	}()

	if err := e.Setup(ctx); err != nil {
		return nil, err
	}

	command := e.Command()
	for _, mode := range e.modes {
		log.Printf("Beginning torque sweep: %s, %d samples every %s", mode.Label(), len(command), e.runner.Period())

		rec, err := e.runner.Run(ctx, mode, command)
		if err != nil {
			return recs, fmt.Errorf("sweep %s: %w", mode, err)
		}

		t := rec.Timing()
		log.Printf("Sweep %s done: %d samples, mean period %.2f ms, %d overruns, peak torque %.3f Nm",
			mode, rec.Len(), t.MeanPeriod*1000, t.Overruns, peak(rec.Command()))
		recs = append(recs, rec)
	}

	return recs, nil
}

// peak returns the largest absolute value in v.
func peak(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = max(m, math.Abs(x))
	}
	return m
}
