package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/medlink/pkg/config"
	"github.com/srg/medlink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Use it to find the address of a monitor or scale and put it into target.yaml.
Devices are listed strongest signal first.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanName     string
	scanServices []string
)

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&scanDuration, "duration", "d", config.DefaultConfig().ScanTimeout, "Scan duration")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringVarP(&scanName, "name", "n", "", "Only show devices whose name contains this text")
	cmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
}

func runScan(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if scanFormat != validFormats[0] && scanFormat != validFormats[1] {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", scanDuration)
	}

	cfg := config.DefaultConfig()
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := scanPeripherals(ctx, cmd.ErrOrStderr(), logger, &scanner.ScanOptions{
		Duration:        scanDuration,
		AllowDuplicates: true,
		NameFilter:      scanName,
		ServiceUUIDs:    scanServices,
	})
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

// scanPeripherals runs one scan with a countdown on progressOut.
func scanPeripherals(ctx context.Context, progressOut io.Writer, logger *logrus.Logger, opts *scanner.ScanOptions) ([]scanner.Peripheral, error) {
	progress := NewProgressPrinter(progressOut, "Scanning for BLE devices", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	return scanner.NewScanner(logger).Scan(ctx, opts, progress.Callback())
}

func displayDevicesTable(out io.Writer, devices []scanner.Peripheral) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
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
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, dev.Address, dev.RSSI, services)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.Peripheral) error {
	if devices == nil {
		devices = []scanner.Peripheral{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
