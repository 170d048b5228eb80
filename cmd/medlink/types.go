package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/medlink/internal/devices"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List supported device types",
	Long: `List the device types a session can be created for. The names are the keys
expected in devices.yaml and in the type field of target.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range devices.NewRegistry().Types() {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}
