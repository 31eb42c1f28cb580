package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/armadaproject/mptrain/internal/common"
	"github.com/armadaproject/mptrain/internal/mptrain"
	"github.com/armadaproject/mptrain/pkg/client"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mptrainctl",
		Short: "mptrainctl submits model-parallel training jobs to the managed training service.",
		Long: `mptrainctl submits model-parallel training jobs to the managed training service.

Persistent config can be saved in a config file so it doesn't have to be specified every command.

Example structure:
region: us-west-2
profile: training
logLevel: info
metricsPort: 9090

The location of this file can be passed in using the --config argument.
If not provided, $HOME/.mptrainctl.yaml is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addPersistentFlags(cmd)
	cmd.AddCommand(
		submitCmd(),
		renderCmd(),
		presetsCmd(),
		describeCmd(),
		logsCmd(),
		stopCmd(),
		versionCmd(),
	)

	return cmd
}

func addPersistentFlags(cmd *cobra.Command) {
	client.AddConnectionCommandlineArgs(cmd)
	flags := cmd.PersistentFlags()
	flags.String("logLevel", "", "log level (debug, info, warn, error)")
	flags.Uint16("metricsPort", 0, "serve prometheus metrics on this port while a command runs (0 disables)")
	bindFlags(flags, "logLevel", "metricsPort")
}

// bindFlags lets the named flags be set from config files and the environment as well.
func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initParams loads the config files and flags into params.
func initParams(cmd *cobra.Command, params *mptrain.Params) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := client.LoadCommandlineArgsFromConfigFile(configFile); err != nil {
		return errors.Wrap(err, "error loading command line arguments")
	}
	if err := common.ConfigureLogLevel(viper.GetString("logLevel")); err != nil {
		return err
	}
	details, err := client.ExtractCommandlineConnectionDetails()
	if err != nil {
		return err
	}
	params.ConnectionDetails = details
	params.MetricsPort = uint16(viper.GetUint("metricsPort"))
	return nil
}
