package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/sensor"
	"github.com/srg/hrmon/pkg/config"
)

var errNoSensorFound = errors.New("no heart rate sensor found; wake the sensor and scan again")

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE heart rate sensors",
	Long: `Scan for Bluetooth Low Energy devices nearby and list them, heart rate
sensors first, then by signal strength.

With --save the address of the best heart rate sensor is stored in the
settings file, so 'hrmon run' can connect without an argument.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanHROnly   bool
	scanSave     bool
)

func init() {
	defaults := config.DefaultConfig()
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", defaults.ScanTimeout, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", defaults.OutputFormat, "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanHROnly, "hr-only", false, "Only list devices advertising the heart rate service")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "Save the first heart rate sensor as the default device")
}

func runScan(cmd *cobra.Command, args []string) error {
	if !config.ValidOutputFormat(scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, config.OutputFormats)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for heart rate sensors", "Scanning", scanDuration, "Processing results")
	progress.Start()
	devices, err := sensor.NewScanner(logger).Scan(ctx, &sensor.ScanOptions{
		Duration:      scanDuration,
		HeartRateOnly: scanHROnly,
	}, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	switch scanFormat {
	case "json":
		if devices == nil {
			devices = []sensor.DeviceInfo{}
		}
		err = writeJSON(out, devices)
	default:
		err = displayDevicesTable(out, devices)
	}
	if err != nil {
		return err
	}

	if scanSave {
		return saveFirstSensor(cmd, devices)
	}
	return nil
}

func saveFirstSensor(cmd *cobra.Command, devices []sensor.DeviceInfo) error {
	idx := slices.IndexFunc(devices, func(d sensor.DeviceInfo) bool { return d.HeartRate })
	if idx < 0 {
		return errNoSensorFound
	}

	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	s.DeviceAddress = devices[idx].Address
	if err := config.SaveSettings(settingsPath, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s as the default device\n", devices[idx].Address)
	return nil
}

func displayDevicesTable(out io.Writer, devices []sensor.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tHR\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(dev.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		hr := ""
		if dev.HeartRate {
			hr = "yes"
		}

		lastSeen := time.Since(dev.LastSeen).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%s ago\n",
			name, dev.Address, dev.RSSI, hr, services, lastSeen)
	}

	return w.Flush()
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
