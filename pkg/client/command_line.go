package client

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/mptrain/internal/common/config"
)

const (
	envPrefix         = "MPTRAIN"
	defaultsFileName  = "mptrainctl-defaults.yaml"
	userConfigName    = ".mptrainctl"
	defaultMaxRetries = -1
)

// AddConnectionCommandlineArgs registers the flags that say how to reach AWS on rootCmd. Apart
// from --config they can also be set in a config file or as MPTRAIN_* environment variables.
func AddConnectionCommandlineArgs(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.String("region", "", "AWS region to submit training jobs to (defaults to the AWS shared config)")
	flags.String("profile", "", "named AWS profile to use")
	flags.String("endpointUrl", "", "override the training API endpoint")
	flags.Int("maxRetries", defaultMaxRetries, "SDK-level retries per API call (-1 keeps the SDK default)")
	for _, name := range []string{"region", "profile", "endpointUrl", "maxRetries"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
	flags.String("config", "", "config file (default is $HOME/.mptrainctl.yaml)")
}

// LoadCommandlineArgsFromConfigFile layers, from lowest to highest precedence: defaults shipped
// next to the executable, cfgFile (or $HOME/.mptrainctl.yaml when empty), the environment, and
// flags set on the command line.
func LoadCommandlineArgsFromConfigFile(cfgFile string) error {
	if err := readShippedDefaults(); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "error getting user home directory")
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(userConfigName)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		// Only the implicit $HOME file may be missing; a file passed with --config must exist.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrapf(err, "error reading config file %s", viper.ConfigFileUsed())
		}
	}
	return nil
}

func readShippedDefaults() error {
	exePath, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "error finding executable path")
	}
	viper.SetConfigFile(filepath.Join(filepath.Dir(exePath), defaultsFileName))
	err = viper.ReadInConfig()
	switch err.(type) {
	case nil, viper.ConfigFileNotFoundError, *os.PathError:
		return nil
	default:
		return errors.Wrapf(err, "error reading config file %s", viper.ConfigFileUsed())
	}
}

// ExtractCommandlineConnectionDetails decodes the merged settings into ConnectionDetails.
func ExtractCommandlineConnectionDetails() (*ConnectionDetails, error) {
	details := &ConnectionDetails{MaxRetries: defaultMaxRetries}
	if err := viper.Unmarshal(details, config.CustomHooks...); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling connection details")
	}
	return details, nil
}
