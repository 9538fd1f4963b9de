package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/app"
	"github.com/srg/hrmon/internal/consumer/display"
	"github.com/srg/hrmon/internal/sensor"
	"github.com/srg/hrmon/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [address]",
	Short: "Connect to a heart rate sensor and publish its readings",
	Long: `Connects to a BLE heart rate sensor and keeps every enabled output running
until Ctrl+C (or q in the terminal display).

The device address is taken from the argument, then --device, then
HRMON_DEVICE, then the device_address saved in the settings file.
A successful connection is remembered in the settings file.

Use --simulate to produce synthetic readings without any Bluetooth hardware.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runDevice         string
	runSimulate       bool
	runNoDisplay      bool
	runDuration       time.Duration
	runConnectTimeout time.Duration
)

// simulatorInterval is how often the simulator produces a sample.
var simulatorInterval = time.Second

func init() {
	runCmd.Flags().StringVarP(&runDevice, "device", "d", "", "Sensor address")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use synthetic readings instead of a BLE sensor")
	runCmd.Flags().BoolVar(&runNoDisplay, "no-display", false, "Print one line per update instead of the terminal display")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().DurationVar(&runConnectTimeout, "connect-timeout", config.DefaultConfig().ConnectTimeout, "BLE connection timeout")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	address := settings.DeviceAddress
	switch {
	case len(args) == 1:
		address = args[0]
	case runDevice != "":
		address = runDevice
	}

	var source sensor.Source
	if runSimulate {
		source = sensor.NewSimulator(simulatorInterval, logger)
		if address == "" {
			address = sensor.SimulatedAddress
		}
	} else {
		source = sensor.NewBLESource(runConnectTimeout, logger)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ui := app.UIPrinter
	if !runNoDisplay && display.IsTerminal(os.Stdout) {
		ui = app.UITerminal
	}

	a, err := app.New(app.Options{
		SettingsPath:   settingsPath,
		Settings:       settings,
		Source:         source,
		UI:             ui,
		RememberDevice: !runSimulate,
		Input:          cmd.InOrStdin(),
		Output:         cmd.OutOrStdout(),
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	err = a.Run(ctx, address)
	if errors.Is(err, context.DeadlineExceeded) && runDuration > 0 && ctx.Err() != nil {
		return nil
	}
	return err
}
