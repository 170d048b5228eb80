package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medlink",
	Short: "BLE medical device session runner",
	Long: `Connects to a Bluetooth Low Energy medical peripheral, runs its measurement protocol
and prints the result frame:

- Run a measurement session against a configured blood pressure monitor or weighing scale
- Scan for nearby peripherals when no address is configured
- List the supported device types
- Dump protocol traces recorded with --trace

Device profiles (characteristics, commands, frames) are read from devices.yaml and the
peripheral to talk to from target.yaml.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("medlink %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(traceCmd)

	addGlobalFlags(rootCmd)
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// addGlobalFlags registers the logging flags every subcommand understands.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")
}
