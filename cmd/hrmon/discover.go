package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/discovery"
	"github.com/srg/hrmon/pkg/config"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find hrmon instances on the local network",
	Long: `Browses mDNS for other hrmon processes and prints their HTTP and
WebSocket endpoints.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

var (
	discoverTimeout time.Duration
	discoverFormat  string
)

// browseFunc is replaced in tests.
var browseFunc = discovery.Browse

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", discovery.DefaultBrowseTimeout, "How long to listen for answers")
	discoverCmd.Flags().StringVarP(&discoverFormat, "format", "f", config.DefaultConfig().OutputFormat, "Output format (table, json)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if !config.ValidOutputFormat(discoverFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", discoverFormat, config.OutputFormats)
	}

	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Browsing for hrmon instances", "Listening", discoverTimeout)
	progress.Start()
	found, err := browseFunc(ctx, discoverTimeout, logger)
	progress.Stop()
	if err != nil {
		return err
	}

	if discoverFormat == "json" {
		if found == nil {
			found = []discovery.Instance{}
		}
		return writeJSON(cmd.OutOrStdout(), found)
	}
	return displayInstancesTable(cmd.OutOrStdout(), found)
}

func displayInstancesTable(out io.Writer, instances []discovery.Instance) error {
	if len(instances) == 0 {
		fmt.Fprintln(out, "No instances found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tHOST\tADDRESSES\tHTTP\tWEBSOCKET")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			inst.Name, inst.Host, strings.Join(inst.Addresses, ","), port(inst.HTTPPort), port(inst.WebSocketPort))
	}
	return w.Flush()
}

func port(p int) string {
	if p == 0 {
		return "-"
	}
	return strconv.Itoa(p)
}
