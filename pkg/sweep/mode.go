package sweep

import (
	"fmt"
	"strings"
)

// Mode is one feed-forward configuration of a sweep pass.
type Mode struct {
	Name   string
	BEMF   bool // motor.config.bEMF_FF_enable
	OmegaL bool // motor.config.omega_L_FF_enable
}

func (m Mode) String() string {
	return m.Name
}

// Label returns a human readable description for plots and logs.
func (m Mode) Label() string {
	switch {
	case m.BEMF && m.OmegaL:
		return "bEMF + ωL FF"
	case m.BEMF:
		return "bEMF FF"
	case m.OmegaL:
		return "ωL FF"
	}
	return "no FF"
}

// The four feed-forward configurations, in the order they are usually run.
var (
	ModeNone   = Mode{Name: "none"}
	ModeBEMF   = Mode{Name: "bemf", BEMF: true}
	ModeOmegaL = Mode{Name: "omega_l", OmegaL: true}
	ModeBoth   = Mode{Name: "both", BEMF: true, OmegaL: true}
)

// Modes returns all feed-forward configurations.
func Modes() []Mode {
	return []Mode{ModeNone, ModeBEMF, ModeOmegaL, ModeBoth}
}

// ParseMode looks up a mode by name, case-insensitively.
func ParseMode(name string) (Mode, error) {
	for _, m := range Modes() {
		if strings.EqualFold(name, m.Name) {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("unknown feed-forward mode %q (want none, bemf, omega_l or both)", name)
}

// ParseModes parses a list of mode names. Duplicates are rejected because
// results are keyed by mode name.
func ParseModes(names []string) ([]Mode, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no sweep passes configured")
	}

	seen := make(map[string]bool, len(names))
	modes := make([]Mode, 0, len(names))
	for _, name := range names {
		m, err := ParseMode(name)
		if err != nil {
			return nil, err
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate feed-forward mode %q", m.Name)
		}
		seen[m.Name] = true
		modes = append(modes, m)
	}
	return modes, nil
}
