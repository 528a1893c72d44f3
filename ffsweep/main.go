package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/odrive"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated controller instead of serial port")
		outFlag    = flag.String("out", "", "Output directory override")
		guiFlag    = flag.Bool("gui", false, "Show live traces and results in a window")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		reFlag     = flag.String("analyze", "", "Analyze the recordings of a previous run in this directory and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *outFlag != "" {
		cfg.Output.Directory = *outFlag
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *reFlag != "" {
		res, err := analyzeDir(cfg, *reFlag)
		if res != nil {
			res.report()
		}
		if err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}
		return
	}

	if *guiFlag {
		runGUI(cfg, *configFlag, *mockFlag)
		return
	}

	// Ctrl-C cancels the sweep; the axis is idled on the way out
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runOnce(ctx, cfg, *mockFlag, nil)
	if res != nil {
		res.report()
	}
	if err != nil {
		stop()
		log.Fatalf("Experiment failed: %v", err)
	}
}

func listPorts() error {
	ports, err := odrive.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		marker := " "
		if p.IsODrive {
			marker = "*"
		}
		if p.Description != "" && p.Description != p.Name {
			fmt.Printf("%s %s (%s)\n", marker, p.Name, p.Description)
		} else {
			fmt.Printf("%s %s\n", marker, p.Name)
		}
	}
	return nil
}
