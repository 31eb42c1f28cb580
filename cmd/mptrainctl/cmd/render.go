package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/mptrain/internal/mptrain"
)

func renderCmd() *cobra.Command {
	return renderCmdWithApp(mptrain.New())
}

func renderCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render ./path/to/job.yaml",
		Short: "Print the training job request a job file produces",
		Long:  "Print the training job request a job file produces. Nothing is created or uploaded.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &mptrain.RenderConfig{JobFile: args[0]}
			var err error
			if config.Role, err = cmd.Flags().GetString("role"); err != nil {
				return fmt.Errorf("error reading role: %s", err)
			}
			if config.Bucket, err = cmd.Flags().GetString("bucket"); err != nil {
				return fmt.Errorf("error reading bucket: %s", err)
			}
			if config.Format, err = cmd.Flags().GetString("output"); err != nil {
				return fmt.Errorf("error reading output: %s", err)
			}
			return a.Render(config)
		},
	}
	addResolutionFlags(cmd)
	cmd.Flags().StringP("output", "o", mptrain.FormatYAML, "output format: yaml or json")
	return cmd
}
