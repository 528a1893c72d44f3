package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/ffsweep/pkg/odrive"
	"github.com/itohio/ffsweep/pkg/sweep"
)

// anyPort is the port selection that tries every port.
const anyPort = "(any)"

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createDeviceTab(state),
		createSweepTab(state),
		createAnalysisTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates and persists the configuration.
func saveConfig(state *appState) {
	if err := state.cfg.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	portOptions := []string{anyPort}
	portMap := map[string]string{anyPort: ""} // Display name to port name

	if ports, err := odrive.Ports(); err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentDisplay := anyPort
	if current := state.cfg.Serial.Port; current != "" {
		currentDisplay = current
		found := false
		for _, opt := range portOptions {
			if portMap[opt] == current {
				currentDisplay = opt
				found = true
				break
			}
		}
		if !found {
			portOptions = append(portOptions, current)
			portMap[current] = current
		}
	}

	portSelect := widget.NewSelect(portOptions, nil)
	portSelect.SetSelected(currentDisplay)

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(state.cfg.Serial.Timeout.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
			{Text: "Response Timeout", Widget: timeoutEntry},
		},
		OnSubmit: func() {
			if port, ok := portMap[portSelect.Selected]; ok {
				state.cfg.Serial.Port = port
			}
			if b, err := strconv.Atoi(baudEntry.Text); err == nil {
				state.cfg.Serial.BaudRate = b
			}
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil {
				state.cfg.Serial.Timeout = d
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Serial", form)
}

// createDeviceTab creates the controller configuration tab.
func createDeviceTab(state *appState) *container.TabItem {
	axisSelect := widget.NewSelect([]string{"0", "1"}, nil)
	axisSelect.SetSelected(strconv.Itoa(state.cfg.Device.Axis))

	velLimitEntry := floatEntry(state.cfg.Device.VelLimit)
	brakeEntry := floatEntry(state.cfg.Device.BrakeResistance)
	currentLimEntry := floatEntry(state.cfg.Device.CurrentLim)
	ktEntry := floatEntry(state.cfg.Device.TorqueConstant)

	verifyCheck := widget.NewCheck("", nil)
	verifyCheck.SetChecked(state.cfg.Device.VerifyWrites)

	calTimeoutEntry := widget.NewEntry()
	calTimeoutEntry.SetText(state.cfg.Calibration.Timeout.String())

	settleEntry := widget.NewEntry()
	settleEntry.SetText(state.cfg.Calibration.Settle.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Axis", Widget: axisSelect},
			{Text: "Velocity Limit (turn/s)", Widget: velLimitEntry},
			{Text: "Brake Resistance (Ω)", Widget: brakeEntry},
			{Text: "Current Limit (A)", Widget: currentLimEntry},
			{Text: "Torque Constant (Nm/A)", Widget: ktEntry},
			{Text: "Verify Writes", Widget: verifyCheck},
			{Text: "Calibration Timeout", Widget: calTimeoutEntry},
			{Text: "Settle Time", Widget: settleEntry},
		},
		OnSubmit: func() {
			if a, err := strconv.Atoi(axisSelect.Selected); err == nil {
				state.cfg.Device.Axis = a
			}
			parseFloat(velLimitEntry, &state.cfg.Device.VelLimit)
			parseFloat(brakeEntry, &state.cfg.Device.BrakeResistance)
			parseFloat(currentLimEntry, &state.cfg.Device.CurrentLim)
			parseFloat(ktEntry, &state.cfg.Device.TorqueConstant)
			state.cfg.Device.VerifyWrites = verifyCheck.Checked
			if d, err := time.ParseDuration(calTimeoutEntry.Text); err == nil {
				state.cfg.Calibration.Timeout = d
			}
			if d, err := time.ParseDuration(settleEntry.Text); err == nil {
				state.cfg.Calibration.Settle = d
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Device", form)
}

// createSweepTab creates the chirp and pass selection tab.
func createSweepTab(state *appState) *container.TabItem {
	fStartEntry := floatEntry(state.cfg.Sweep.FStart)
	fEndEntry := floatEntry(state.cfg.Sweep.FEnd)
	durationEntry := floatEntry(state.cfg.Sweep.Duration)
	rateEntry := floatEntry(state.cfg.Sweep.SampleRate)
	phiEntry := floatEntry(state.cfg.Sweep.Phi)
	maxCurrentEntry := floatEntry(state.cfg.Sweep.MaxCurrent)

	var options []string
	for _, m := range sweep.Modes() {
		options = append(options, m.Name)
	}
	passes := widget.NewCheckGroup(options, nil)
	passes.Horizontal = true
	passes.SetSelected(state.cfg.Sweep.Passes)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Start Frequency (Hz)", Widget: fStartEntry},
			{Text: "End Frequency (Hz)", Widget: fEndEntry},
			{Text: "Duration (s)", Widget: durationEntry},
			{Text: "Sample Rate (Hz)", Widget: rateEntry},
			{Text: "Phase (deg)", Widget: phiEntry},
			{Text: "Max Current (A)", Widget: maxCurrentEntry},
			{Text: "Passes", Widget: passes},
		},
		OnSubmit: func() {
			parseFloat(fStartEntry, &state.cfg.Sweep.FStart)
			parseFloat(fEndEntry, &state.cfg.Sweep.FEnd)
			parseFloat(durationEntry, &state.cfg.Sweep.Duration)
			parseFloat(rateEntry, &state.cfg.Sweep.SampleRate)
			parseFloat(phiEntry, &state.cfg.Sweep.Phi)
			parseFloat(maxCurrentEntry, &state.cfg.Sweep.MaxCurrent)

			// Keep the canonical pass order
			selected := make([]string, 0, len(options))
			for _, name := range options {
				for _, s := range passes.Selected {
					if strings.EqualFold(s, name) {
						selected = append(selected, name)
					}
				}
			}
			if len(selected) > 0 {
				state.cfg.Sweep.Passes = selected
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Sweep", form)
}

// createAnalysisTab creates the frequency response analysis tab.
func createAnalysisTab(state *appState) *container.TabItem {
	smoothEntry := widget.NewEntry()
	smoothEntry.SetText(strconv.Itoa(state.cfg.Analysis.SmoothBins))

	thresholdEntry := floatEntry(state.cfg.Analysis.BandwidthThreshold)

	outputEntry := widget.NewEntry()
	outputEntry.SetText(state.cfg.Output.Directory)

	plotsCheck := widget.NewCheck("", nil)
	plotsCheck.SetChecked(state.cfg.Output.Plots)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Smoothing (bins, 0=disabled)", Widget: smoothEntry},
			{Text: "Bandwidth Threshold (dB)", Widget: thresholdEntry},
			{Text: "Output Directory", Widget: outputEntry},
			{Text: "Save Plots", Widget: plotsCheck},
		},
		OnSubmit: func() {
			if n, err := strconv.Atoi(smoothEntry.Text); err == nil && n >= 0 {
				state.cfg.Analysis.SmoothBins = n
			}
			parseFloat(thresholdEntry, &state.cfg.Analysis.BandwidthThreshold)
			if dir := strings.TrimSpace(outputEntry.Text); dir != "" {
				state.cfg.Output.Directory = dir
			}
			state.cfg.Output.Plots = plotsCheck.Checked
			saveConfig(state)
		},
	}

	return container.NewTabItem("Analysis", form)
}

// createMockTab creates the simulated motor configuration tab.
func createMockTab(state *appState) *container.TabItem {
	m := &state.cfg.Mock

	resistanceEntry := floatEntry(m.PhaseResistance)
	inductanceEntry := floatEntry(m.PhaseInductance*1e6)
	polePairsEntry := widget.NewEntry()
	polePairsEntry.SetText(strconv.Itoa(m.PolePairs))
	inertiaEntry := floatEntry(m.Inertia)
	bandwidthEntry := floatEntry(m.CurrentBandwidth)
	vbusEntry := floatEntry(m.BusVoltage)
	noiseEntry := floatEntry(m.NoiseLevel)

	latencyEntry := widget.NewEntry()
	latencyEntry.SetText(m.Latency.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Phase Resistance (Ω)", Widget: resistanceEntry},
			{Text: "Phase Inductance (µH)", Widget: inductanceEntry},
			{Text: "Pole Pairs", Widget: polePairsEntry},
			{Text: "Inertia (kg m²)", Widget: inertiaEntry},
			{Text: "Current Bandwidth (rad/s)", Widget: bandwidthEntry},
			{Text: "Bus Voltage (V)", Widget: vbusEntry},
			{Text: "Noise Level (A)", Widget: noiseEntry},
			{Text: "Request Latency", Widget: latencyEntry},
		},
		OnSubmit: func() {
			parseFloat(resistanceEntry, &m.PhaseResistance)
			var uH float64
			if parseFloat(inductanceEntry, &uH) {
				m.PhaseInductance = uH * 1e-6
			}
			if pp, err := strconv.Atoi(polePairsEntry.Text); err == nil && pp > 0 {
				m.PolePairs = pp
			}
			parseFloat(inertiaEntry, &m.Inertia)
			parseFloat(bandwidthEntry, &m.CurrentBandwidth)
			parseFloat(vbusEntry, &m.BusVoltage)
			parseFloat(noiseEntry, &m.NoiseLevel)
			if d, err := time.ParseDuration(latencyEntry.Text); err == nil {
				m.Latency = d
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Mock", form)
}

func floatEntry(v float64) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.FormatFloat(v, 'g', -1, 64))
	return e
}

// parseFloat stores the entry value in dst if it parses.
func parseFloat(e *widget.Entry, dst *float64) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(e.Text), 64)
	if err != nil {
		return false
	}
	*dst = v
	return true
}
