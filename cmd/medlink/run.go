package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/medlink/internal/devicefactory"
	"github.com/srg/medlink/internal/devices"
	"github.com/srg/medlink/internal/session"
	"github.com/srg/medlink/internal/trace"
	"github.com/srg/medlink/pkg/config"
	"github.com/srg/medlink/scanner"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one measurement session",
	Long: `Connect to the configured peripheral, run its measurement protocol and print the
final state and result frame.

The device type and address come from target.yaml unless --type or --address is given.
When the address is the placeholder XX:XX:XX:XX:XX:XX a scan is run instead, so the
real address can be copied into target.yaml.

The command exits with a non-zero status when the session ends in the Error state.

Examples:
  medlink run
  medlink run --type BloodPressureMonitor --address AA:BB:CC:DD:EE:FF --timeout 2m
  medlink run --output json --trace session.cbor`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

var (
	runDevicesFile    string
	runTargetFile     string
	runDeviceType     string
	runAddress        string
	runTimeout        time.Duration
	runConnectTimeout time.Duration
	runScanDuration   time.Duration
	runTracePath      string
	runOutput         string
)

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	cmd.Flags().StringVar(&runDevicesFile, "devices", defaults.DevicesFile, "Device profiles file")
	cmd.Flags().StringVar(&runTargetFile, "target", defaults.TargetFile, "Target peripheral file")
	cmd.Flags().StringVar(&runDeviceType, "type", "", "Device type (overrides target file)")
	cmd.Flags().StringVar(&runAddress, "address", "", "Peripheral address (overrides target file)")
	cmd.Flags().DurationVar(&runTimeout, "timeout", defaults.SessionTimeout, "Session timeout (0 uses the profile timeout or waits indefinitely)")
	cmd.Flags().DurationVar(&runConnectTimeout, "connect-timeout", defaults.ConnectTimeout, "Connection timeout")
	cmd.Flags().DurationVar(&runScanDuration, "scan-duration", defaults.ScanTimeout, "Scan duration when no address is configured")
	cmd.Flags().StringVar(&runTracePath, "trace", "", "Append a CBOR protocol trace to this file")
	cmd.Flags().StringVarP(&runOutput, "output", "o", defaults.OutputFormat, "Output format (text, json)")
}

// sessionReport is the printed outcome of a session.
type sessionReport struct {
	SessionID  string `json:"session"`
	DeviceType string `json:"device_type"`
	Address    string `json:"address"`
	State      string `json:"state"`
	Interim    string `json:"interim,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.SessionTimeout = runTimeout
	cfg.ConnectTimeout = runConnectTimeout
	cfg.ScanTimeout = runScanDuration
	cfg.OutputFormat = runOutput
	cfg.DevicesFile = runDevicesFile
	cfg.TargetFile = runTargetFile
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	target, err := resolveTarget(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if target.IsPlaceholder() {
		return scanForTarget(ctx, cmd, cfg, logger, target)
	}

	profiles, err := config.LoadProfiles(cfg.DevicesFile)
	if err != nil {
		return err
	}
	profile, err := profiles.Get(target.Type)
	if err != nil {
		return err
	}

	recorder, closeTrace, err := openTrace(runTracePath)
	if err != nil {
		return err
	}
	defer closeTrace()

	transport := devicefactory.NewTransport(logger)
	if t, ok := transport.(interface{ SetConnectTimeout(time.Duration) }); ok {
		t.SetConnectTimeout(cfg.ConnectTimeout)
	}

	sess, err := devices.NewRegistry().Create(target.Type, target.Address, profile, session.Options{
		Transport: transport,
		Logger:    logger,
		Recorder:  recorder,
		Timeout:   cfg.SessionTimeout,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"session":     sess.ID(),
		"device_type": sess.DeviceType(),
		"address":     sess.Address(),
	}).Info("Starting session")

	if err := sess.Run(ctx); err != nil {
		return err
	}

	if errors.Is(sess.Err(), context.Canceled) {
		return context.Canceled
	}

	if err := printReport(cmd.OutOrStdout(), cfg.OutputFormat, newSessionReport(sess)); err != nil {
		return err
	}
	if sess.State() == session.StateError {
		return fmt.Errorf("%w: %w", ErrSessionFailed, sess.Err())
	}
	return nil
}

// resolveTarget loads the target file unless both --type and --address are given, then
// applies the flags on top of it.
func resolveTarget(cmd *cobra.Command, cfg *config.Config) (*config.Target, error) {
	target := &config.Target{}
	if runDeviceType == "" || runAddress == "" {
		loaded, err := config.LoadTarget(cfg.TargetFile)
		if err != nil {
			return nil, err
		}
		target = loaded
	}
	if runDeviceType != "" {
		target.Type = runDeviceType
	}
	if runAddress != "" {
		target.Address = runAddress
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

func scanForTarget(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, target *config.Target) error {
	logger.WithError(config.ErrPlaceholderAddress).WithField("device_type", target.Type).Warn("Scanning for nearby devices instead")

	devs, err := scanPeripherals(ctx, cmd.ErrOrStderr(), logger, &scanner.ScanOptions{
		Duration:        cfg.ScanTimeout,
		AllowDuplicates: true,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == config.OutputJSON {
		return displayDevicesJSON(out, devs)
	}
	fmt.Fprintf(out, "No address configured for %s. Nearby devices:\n\n", target.Type)
	if err := displayDevicesTable(out, devs); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSet the address in %s and run again.\n", cfg.TargetFile)
	return nil
}

func openTrace(path string) (trace.Recorder, func(), error) {
	if path == "" {
		return trace.NoopRecorder{}, func() {}, nil
	}
	recorder, err := trace.NewFileRecorder(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	return recorder, func() { _ = recorder.Close() }, nil
}

func newSessionReport(s session.Session) sessionReport {
	report := sessionReport{
		SessionID:  s.ID(),
		DeviceType: s.DeviceType(),
		Address:    s.Address(),
		State:      string(s.State()),
	}
	// scales expose the last unsettled reading
	if r, ok := s.(interface{ LastInterim() []byte }); ok {
		if interim := r.LastInterim(); interim != nil {
			report.Interim = config.HexBytes(interim).String()
		}
	}
	if result := s.Result(); result != nil {
		report.Result = config.HexBytes(result).String()
	}
	if err := s.Err(); err != nil {
		report.Error = err.Error()
	}
	return report
}

func printReport(out io.Writer, format string, r sessionReport) error {
	if format == config.OutputJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session:  %s\n", r.SessionID)
	fmt.Fprintf(&b, "Device:   %s (%s)\n", r.DeviceType, r.Address)
	fmt.Fprintf(&b, "State:    %s\n", r.State)
	if r.Interim != "" {
		fmt.Fprintf(&b, "Interim:  %s\n", r.Interim)
	}
	if r.Result != "" {
		fmt.Fprintf(&b, "Result:   %s\n", r.Result)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", r.Error)
	}
	_, err := io.WriteString(out, b.String())
	return err
}
