package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/ffsweep/pkg/chart"
	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/scope"
	"github.com/itohio/ffsweep/pkg/sweep"
)

// updateInterval throttles scope refreshes to ~60 FPS.
const updateInterval = 16 * time.Millisecond

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	useMock    bool

	window      fyne.Window
	scopeWidget *scope.ScopeWidget
	tabs        *container.AppTabs
	runBtn      *widget.Button
	stopBtn     *widget.Button
	status      *widget.Label

	// cancel is non-nil while an experiment is running
	cancel context.CancelFunc

	// Throttling for scope updates
	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// runGUI shows the main window and blocks until it is closed.
func runGUI(cfg *config.Config, configPath string, useMock bool) {
	application := app.NewWithID("com.itohio.ffsweep")

	window := application.NewWindow("Feed-forward Sweep")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:         cfg,
		configPath:  configPath,
		useMock:     useMock,
		window:      window,
		scopeWidget: scope.New(chirpParams(cfg)),
		status:      widget.NewLabel("Idle"),
	}

	state.tabs = container.NewAppTabs(container.NewTabItem("Live", state.scopeWidget))

	window.SetContent(container.NewBorder(
		createToolbar(state),
		state.status,
		nil,
		nil,
		state.tabs,
	))
	window.SetOnClosed(func() {
		if state.cancel != nil {
			state.cancel()
		}
	})
	window.ShowAndRun()
}

// createToolbar creates the Run, Stop and Settings buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	state.runBtn = widget.NewButtonWithIcon("Run", theme.MediaPlayIcon(), func() {
		handleRun(state)
	})

	state.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
		if state.cancel != nil {
			state.status.SetText("Stopping...")
			state.cancel()
		}
	})
	state.stopBtn.Disable()

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	return container.NewHBox(state.runBtn, state.stopBtn, settingsBtn)
}

// handleRun starts an experiment on a worker goroutine.
func handleRun(state *appState) {
	if state.cancel != nil {
		return
	}
	if err := state.cfg.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	state.runBtn.Disable()
	state.stopBtn.Enable()
	state.tabs.Items = state.tabs.Items[:1]
	state.tabs.SelectIndex(0)
	state.tabs.Refresh()
	state.scopeWidget.Reset(chirpParams(state.cfg))
	state.status.SetText("Calibrating...")

	// Snapshot so settings edits do not affect the running experiment
	cfg := *state.cfg
	cfg.Sweep.Passes = append([]string(nil), state.cfg.Sweep.Passes...)
	total := chirpParams(&cfg).Len()

	go func() {
		res, err := runOnce(ctx, &cfg, state.useMock, func(mode sweep.Mode, samples []sweep.Sample) {
			if !state.shouldUpdate(len(samples) == total) {
				return
			}
			fyne.Do(func() {
				state.status.SetText(fmt.Sprintf("Sweep %s: %d / %d", mode.Label(), len(samples), total))
				state.scopeWidget.UpdateData(mode, samples)
			})
		})

		var tabs []*container.TabItem
		if res != nil {
			tabs = resultTabs(res)
		}

		fyne.Do(func() {
			cancel()
			state.cancel = nil
			state.runBtn.Enable()
			state.stopBtn.Disable()

			for _, t := range tabs {
				state.tabs.Append(t)
			}

			switch {
			case errors.Is(err, context.Canceled):
				state.status.SetText("Stopped")
			case err != nil:
				state.status.SetText("Failed")
				dialog.ShowError(err, state.window)
			default:
				state.status.SetText("Done, results in " + cfg.Output.Directory)
				if len(tabs) > 0 {
					state.tabs.Select(tabs[0])
				}
			}
		})
	}()
}

// shouldUpdate throttles scope updates; the last sample of a pass always
// gets through.
func (state *appState) shouldUpdate(last bool) bool {
	state.updateMu.Lock()
	defer state.updateMu.Unlock()

	now := time.Now()
	if !last && now.Sub(state.lastUpdateTime) < updateInterval {
		return false
	}
	state.lastUpdateTime = now
	return true
}

// resultTabs renders the Bode overlay and the trace of every pass. It runs
// off the main thread; only the widgets are created later.
func resultTabs(res *result) []*container.TabItem {
	var tabs []*container.TabItem

	if len(res.responses) > 0 {
		img, err := chart.BodeImage(res.responses, chart.BodeWidth, chart.BodeHeight)
		if err != nil {
			log.Printf("Failed to render Bode plot: %v", err)
		} else {
			tabs = append(tabs, imageTab("Bode", img))
		}
	}

	for _, rec := range res.recs {
		p, err := chart.TimeTraces(rec)
		if err != nil {
			log.Printf("Failed to plot %s: %v", rec.Mode, err)
			continue
		}
		tabs = append(tabs, imageTab(rec.Mode.Label(), chart.Render(p, chart.TraceWidth, chart.TraceHeight)))
	}

	return tabs
}

func imageTab(title string, img image.Image) *container.TabItem {
	c := canvas.NewImageFromImage(img)
	c.FillMode = canvas.ImageFillContain
	return container.NewTabItem(title, c)
}
