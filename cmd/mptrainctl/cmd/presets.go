package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/mptrain/internal/mptrain"
)

func presetsCmd() *cobra.Command {
	return presetsCmdWithApp(mptrain.New())
}

func presetsCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List model presets, dataset presets and supported instance types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("error reading output: %s", err)
			}
			return a.Presets(format)
		},
	}
	cmd.Flags().StringP("output", "o", mptrain.FormatTable, "output format: table or yaml")
	return cmd
}
