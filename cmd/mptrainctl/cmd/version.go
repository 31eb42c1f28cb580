package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/mptrain/internal/mptrain"
)

func versionCmd() *cobra.Command {
	return versionCmdWithApp(mptrain.New())
}

func versionCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}
