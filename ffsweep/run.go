package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/itohio/ffsweep/pkg/analysis"
	"github.com/itohio/ffsweep/pkg/chart"
	"github.com/itohio/ffsweep/pkg/chirp"
	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/odrive"
	"github.com/itohio/ffsweep/pkg/record"
	"github.com/itohio/ffsweep/pkg/sweep"
)

// result is everything one experiment run produced.
type result struct {
	device    string
	recs      []*sweep.Recording
	responses []analysis.Response
	summary   record.Summary
}

// connect opens the mock or finds a controller on the serial ports.
func connect(ctx context.Context, cfg *config.Config, useMock bool) (odrive.Device, string, error) {
	if useMock {
		m := odrive.NewMock(&cfg.Mock)
		if err := m.Connect(); err != nil {
			return nil, "", fmt.Errorf("failed to connect to mocked device: %w", err)
		}
		return m, "mock", nil
	}

	d, err := odrive.Find(ctx, cfg.Serial)
	if err != nil {
		return nil, "", err
	}
	return d, d.Name(), nil
}

// chirpParams converts the sweep configuration.
func chirpParams(cfg *config.Config) chirp.Params {
	return chirp.Params{
		FStart:     cfg.Sweep.FStart,
		FEnd:       cfg.Sweep.FEnd,
		Duration:   cfg.Sweep.Duration,
		SampleRate: cfg.Sweep.SampleRate,
		Phi:        cfg.Sweep.Phi,
	}
}

// runExperiment runs every configured pass on dev and analyzes the
// recordings. onUpdate may be nil. Partial results are returned with the
// error when a pass fails or ctx is cancelled.
func runExperiment(ctx context.Context, cfg *config.Config, dev odrive.Device, name string, onUpdate sweep.UpdateFunc) (*result, error) {
	signal, err := chirp.Generate(chirpParams(cfg))
	if err != nil {
		return nil, err
	}

	exp, err := sweep.NewExperiment(cfg, dev, signal)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		exp.Runner().OnUpdate(onUpdate)
	}

	res := &result{device: name}
	res.recs, err = exp.Run(ctx)

	res.responses = analyze(cfg, res.recs)
	res.summary = record.NewSummary(cfg, name, res.recs, res.responses)

	return res, err
}

// analyze computes the frequency response of every recording. Passes that
// cannot be analyzed are logged and left out.
func analyze(cfg *config.Config, recs []*sweep.Recording) []analysis.Response {
	params := analysis.ParamsFromConfig(cfg)
	responses := make([]analysis.Response, 0, len(recs))
	for _, rec := range recs {
		resp, err := analysis.Analyze(rec, params)
		if err != nil {
			log.Printf("Analysis of %s failed: %v", rec.Mode, err)
			continue
		}
		responses = append(responses, resp)
	}
	return responses
}

// analyzeDir reloads a previous run from dir, analyzes it again with the
// current analysis settings and rewrites its summary and plots. The chirp
// band is taken from the stored summary.
func analyzeDir(cfg *config.Config, dir string) (*result, error) {
	stored, recs, err := record.LoadAll(dir)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no recordings in %s", dir)
	}

	c := *cfg
	c.Sweep.FStart = stored.Chirp.FStart
	c.Sweep.FEnd = stored.Chirp.FEnd
	c.Sweep.Duration = stored.Chirp.Duration
	c.Sweep.SampleRate = stored.Chirp.SampleRate
	c.Sweep.Phi = stored.Chirp.Phi
	c.Sweep.MaxCurrent = stored.Chirp.MaxCurrent

	res := &result{device: stored.Device, recs: recs}
	res.responses = analyze(&c, recs)
	res.summary = record.NewSummary(&c, stored.Device, recs, res.responses)
	res.summary.Created = stored.Created

	if err := res.save(dir, true); err != nil {
		return res, fmt.Errorf("failed to save results: %w", err)
	}
	log.Printf("Reanalyzed %d passes in %s", len(recs), dir)

	return res, nil
}

// save writes recordings, summary and optionally the plots to dir.
func (r *result) save(dir string, plots bool) error {
	if len(r.recs) == 0 {
		return nil
	}

	if err := record.SaveAll(dir, r.summary, r.recs); err != nil {
		return err
	}
	if !plots {
		return nil
	}
	return chart.SaveAll(dir, r.recs, r.responses)
}

// report prints the bandwidth of each pass, widest first.
func (r *result) report() {
	if len(r.responses) == 0 {
		return
	}

	fmt.Println("Current loop bandwidth:")
	for _, resp := range analysis.Compare(r.responses) {
		if resp.BandwidthFound {
			fmt.Printf("  %-14s %7.1f Hz\n", resp.Mode.Label(), resp.Bandwidth)
		} else {
			fmt.Printf("  %-14s   > %.0f Hz\n", resp.Mode.Label(), resp.Freq[len(resp.Freq)-1])
		}
	}
}

// runOnce is the complete command line flow: connect, run, analyze, save.
func runOnce(ctx context.Context, cfg *config.Config, useMock bool, onUpdate sweep.UpdateFunc) (*result, error) {
	dev, name, err := connect(ctx, cfg, useMock)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	res, err := runExperiment(ctx, cfg, dev, name, onUpdate)
	if res == nil {
		return nil, err
	}

	if serr := res.save(cfg.Output.Directory, cfg.Output.Plots); serr != nil {
		err = errors.Join(err, fmt.Errorf("failed to save results: %w", serr))
	} else if len(res.recs) > 0 {
		log.Printf("Results written to %s", cfg.Output.Directory)
	}

	return res, err
}
