package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/medlink/internal/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print a protocol trace recorded by run --trace",
	Long: `Print the events of a CBOR protocol trace, one per line: frames received,
commands written, state changes and failures.

Examples:
  medlink trace session.cbor
  medlink trace session.cbor --session 1f0c2a9e --kind frame`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

var (
	traceSession string
	traceKind    string
	traceFormat  string
)

func init() {
	addTraceFlags(traceCmd)
}

func addTraceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&traceSession, "session", "", "Only show events of this session (id or id prefix)")
	cmd.Flags().StringVar(&traceKind, "kind", "", "Only show events of this kind (frame, command, state, error)")
	cmd.Flags().StringVarP(&traceFormat, "format", "f", "text", "Output format (text, json)")
}

func runTrace(cmd *cobra.Command, args []string) error {
	filter := trace.Filter{SessionID: traceSession}
	if traceKind != "" {
		kind, err := trace.ParseKind(traceKind)
		if err != nil {
			return err
		}
		filter.Kind = &kind
	}
	if traceFormat != "text" && traceFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", traceFormat)
	}

	cmd.SilenceUsage = true

	reader, err := trace.OpenReader(args[0], filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	out := cmd.OutOrStdout()
	encoder := json.NewEncoder(out)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read trace %s: %w", args[0], err)
		}
		if traceFormat == "json" {
			if err := encoder.Encode(newTraceLine(event)); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, event.String())
	}
}

// traceLine is the JSON rendering of a trace event.
type traceLine struct {
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session"`
	DeviceType     string    `json:"device_type,omitempty"`
	Address        string    `json:"address,omitempty"`
	Kind           string    `json:"kind"`
	Direction      string    `json:"direction,omitempty"`
	Characteristic string    `json:"characteristic,omitempty"`
	Data           string    `json:"data,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Message        string    `json:"message,omitempty"`
}

func newTraceLine(e trace.Event) traceLine {
	line := traceLine{
		Timestamp:      e.Timestamp,
		SessionID:      e.SessionID,
		DeviceType:     e.DeviceType,
		Address:        e.Address,
		Kind:           e.Kind.String(),
		Characteristic: e.Characteristic,
		Data:           strings.ToUpper(hex.EncodeToString(e.Data)),
		From:           e.From,
		To:             e.To,
		Message:        e.Message,
	}
	if e.Direction != trace.DirectionNone {
		line.Direction = e.Direction.String()
	}
	return line
}
