package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/ffsweep/pkg/odrive"
)

// UpdateFunc receives a copy of the samples recorded so far in a pass.
// It runs on the sampling goroutine and should return quickly.
type UpdateFunc func(mode Mode, samples []Sample)

// Runner executes timed sweep passes on one axis.
type Runner struct {
	axis   *odrive.Axis
	period time.Duration

	// notifyEvery is the number of samples between update callbacks.
	notifyEvery int

	callbacks []UpdateFunc
	cbMu      sync.RWMutex
}

// NewRunner creates a runner sampling at sampleRate Hz.
func NewRunner(axis *odrive.Axis, sampleRate float64) *Runner {
	period := time.Duration(float64(time.Second) / sampleRate)

	// Roughly 20 updates per second.
	every := int(sampleRate / 20)
	if every < 1 {
		every = 1
	}

	return &Runner{
		axis:        axis,
		period:      period,
		notifyEvery: every,
	}
}

// Period returns the target sample period.
func (r *Runner) Period() time.Duration {
	return r.period
}

// OnUpdate registers a callback for live progress.
func (r *Runner) OnUpdate(cb UpdateFunc) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Run performs one pass: it sets the feed-forward flags for mode and then,
// for every command value, writes the torque, reads Iq_measured and
// Iq_setpoint and records the elapsed time. Iterations are paced on an
// absolute schedule; an iteration that finishes late is counted as an overrun
// and the next one starts immediately.
//
// The torque command is set back to zero before Run returns, including on
// error and cancellation. The partial recording is returned with the error.
func (r *Runner) Run(ctx context.Context, mode Mode, command []float64) (rec *Recording, err error) {
	rec = NewRecording(mode, r.period, len(command))

	if err := r.axis.SetFeedForward(mode.BEMF, mode.OmegaL); err != nil {
		return rec, fmt.Errorf("failed to set feed-forward for %s: %w", mode, err)
	}

	defer func() {
		if zerr := r.axis.SetInputTorque(0); zerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to zero torque: %w", zerr))
		}
	}()

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	start := time.Now()
	rec.Started = start

	for i, cmd := range command {
		if err := ctx.Err(); err != nil {
			return rec, err
		}

		if err := r.axis.SetInputTorque(cmd); err != nil {
			return rec, fmt.Errorf("sample %d: failed to write torque: %w", i, err)
		}
		measured, err := r.axis.IqMeasured()
		if err != nil {
			return rec, fmt.Errorf("sample %d: failed to read Iq_measured: %w", i, err)
		}
		setpoint, err := r.axis.IqSetpoint()
		if err != nil {
			return rec, fmt.Errorf("sample %d: failed to read Iq_setpoint: %w", i, err)
		}

		rec.Append(Sample{
			Elapsed:  time.Since(start).Seconds(),
			Command:  cmd,
			Setpoint: setpoint,
			Measured: measured,
		})

		if (i+1)%r.notifyEvery == 0 || i == len(command)-1 {
			r.notify(rec)
		}

		next := start.Add(time.Duration(i+1) * r.period)
		wait := time.Until(next)
		if wait <= 0 {
			rec.addOverrun()
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-timer.C:
		}
	}

	return rec, nil
}

func (r *Runner) notify(rec *Recording) {
	r.cbMu.RLock()
	callbacks := make([]UpdateFunc, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	samples := rec.Samples()
	for _, cb := range callbacks {
		if cb != nil {
			cb(rec.Mode, samples)
		}
	}
}
