package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/mptrain/internal/mptrain"
)

func describeCmd() *cobra.Command {
	return describeCmdWithApp(mptrain.New())
}

func describeCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <job name>",
		Short: "Print the state of a training job",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Describe(args[0])
		},
	}
	return cmd
}

func logsCmd() *cobra.Command {
	return logsCmdWithApp(mptrain.New())
}

func logsCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <job name>",
		Short: "Print the logs of a training job",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, err := cmd.Flags().GetBool("follow")
			if err != nil {
				return fmt.Errorf("error reading follow: %s", err)
			}
			return a.Logs(args[0], follow)
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "keep printing new log events until the job finishes")
	return cmd
}

func stopCmd() *cobra.Command {
	return stopCmdWithApp(mptrain.New())
}

func stopCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <job name>",
		Short: "Stop a running training job",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Stop(args[0])
		},
	}
	return cmd
}
