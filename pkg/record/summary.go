package record

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/itohio/ffsweep/pkg/analysis"
	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/sweep"
	"gopkg.in/yaml.v3"
)

// SummaryFile is the name of the run summary inside the output directory.
const SummaryFile = "summary.yaml"

// Summary describes one experiment run.
type Summary struct {
	Created time.Time     `yaml:"created"`
	Device  string        `yaml:"device"`
	Chirp   ChirpSummary  `yaml:"chirp"`
	Passes  []PassSummary `yaml:"passes"`
}

// ChirpSummary records the stimulus parameters.
type ChirpSummary struct {
	FStart     float64 `yaml:"f_start"`
	FEnd       float64 `yaml:"f_end"`
	Duration   float64 `yaml:"duration"`
	SampleRate float64 `yaml:"sample_rate"`
	Phi        float64 `yaml:"phi"`
	MaxCurrent float64 `yaml:"max_current"`
}

// PassSummary holds the results of one feed-forward pass.
type PassSummary struct {
	Mode           string  `yaml:"mode"`
	File           string  `yaml:"file"`
	Samples        int     `yaml:"samples"`
	BandwidthHz    float64 `yaml:"bandwidth_hz"`
	BandwidthFound bool    `yaml:"bandwidth_found"` // false: above threshold across the band
	ReferenceGain  float64 `yaml:"reference_gain_db"`
	MeanPeriodMs   float64 `yaml:"mean_period_ms"`
	MaxPeriodMs    float64 `yaml:"max_period_ms"`
	Overruns       int     `yaml:"overruns"`
}

// NewSummary builds a summary. responses may be shorter than recs when
// analysis failed for some passes; those passes carry timing only.
func NewSummary(cfg *config.Config, device string, recs []*sweep.Recording, responses []analysis.Response) Summary {
	s := Summary{
		Created: time.Now().UTC().Truncate(time.Second),
		Device:  device,
		Chirp: ChirpSummary{
			FStart:     cfg.Sweep.FStart,
			FEnd:       cfg.Sweep.FEnd,
			Duration:   cfg.Sweep.Duration,
			SampleRate: cfg.Sweep.SampleRate,
			Phi:        cfg.Sweep.Phi,
			MaxCurrent: cfg.Sweep.MaxCurrent,
		},
	}

	byMode := make(map[string]analysis.Response, len(responses))
	for _, r := range responses {
		byMode[r.Mode.Name] = r
	}

	for _, rec := range recs {
		timing := rec.Timing()
		p := PassSummary{
			Mode:         rec.Mode.Name,
			File:         FileName(rec.Mode),
			Samples:      rec.Len(),
			MeanPeriodMs: timing.MeanPeriod * 1000,
			MaxPeriodMs:  timing.MaxPeriod * 1000,
			Overruns:     timing.Overruns,
		}
		if r, ok := byMode[rec.Mode.Name]; ok {
			p.BandwidthHz = r.Bandwidth
			p.BandwidthFound = r.BandwidthFound
			p.ReferenceGain = r.ReferenceGain
		}
		s.Passes = append(s.Passes, p)
	}

	return s
}

// Save writes the summary as YAML.
func (s Summary) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

// LoadSummary reads a summary written by Save.
func LoadSummary(path string) (Summary, error) {
	var s Summary

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read summary: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse summary: %w", err)
	}

	return s, nil
}

// SaveAll writes one CSV per recording and the summary into dir.
func SaveAll(dir string, s Summary, recs []*sweep.Recording) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, rec := range recs {
		if err := SaveCSV(filepath.Join(dir, FileName(rec.Mode)), rec); err != nil {
			return fmt.Errorf("pass %s: %w", rec.Mode, err)
		}
	}

	return s.Save(filepath.Join(dir, SummaryFile))
}

// LoadAll reads back the recordings listed in a summary.
func LoadAll(dir string) (Summary, []*sweep.Recording, error) {
	s, err := LoadSummary(filepath.Join(dir, SummaryFile))
	if err != nil {
		return s, nil, err
	}

	period := time.Duration(float64(time.Second) / s.Chirp.SampleRate)
	recs := make([]*sweep.Recording, 0, len(s.Passes))
	for _, p := range s.Passes {
		mode, err := sweep.ParseMode(p.Mode)
		if err != nil {
			return s, nil, err
		}
		rec, err := LoadCSV(filepath.Join(dir, p.File), mode, period)
		if err != nil {
			return s, nil, err
		}
		recs = append(recs, rec)
	}

	return s, recs, nil
}
