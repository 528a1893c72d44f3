package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/itohio/ffsweep/pkg/sweep"
)

var ErrBadHeader = errors.New("record: unexpected CSV header")

var csvHeader = []string{"time", "setpoint", "measured", "command"}

// WriteCSV writes a recording as CSV with a header row: elapsed time in
// seconds, Iq_setpoint and Iq_measured in A, torque command in Nm.
func WriteCSV(w io.Writer, rec *sweep.Recording) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range rec.Samples() {
		row := []string{
			formatFloat(s.Elapsed),
			formatFloat(s.Setpoint),
			formatFloat(s.Measured),
			formatFloat(s.Command),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a recording written by WriteCSV.
func ReadCSV(r io.Reader, mode sweep.Mode, period time.Duration) (*sweep.Recording, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i, header[i], name)
		}
	}

	rec := sweep.NewRecording(mode, period, 0)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		var vals [4]float64
		for i, field := range row {
			vals[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, csvHeader[i], err)
			}
		}
		rec.Append(sweep.Sample{
			Elapsed:  vals[0],
			Setpoint: vals[1],
			Measured: vals[2],
			Command:  vals[3],
		})
	}

	return rec, nil
}

// SaveCSV writes a recording to a file, creating parent directories.
func SaveCSV(path string, rec *sweep.Recording) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteCSV(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCSV reads a recording from a file.
func LoadCSV(path string, mode sweep.Mode, period time.Duration) (*sweep.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f, mode, period)
}

// FileName returns the CSV file name used for a pass.
func FileName(mode sweep.Mode) string {
	return "sweep_" + mode.Name + ".csv"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
