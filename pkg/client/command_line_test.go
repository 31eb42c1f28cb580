package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCommandlineArgsFromConfigFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfgFile := filepath.Join(t.TempDir(), "mptrainctl.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("region: eu-west-1\nprofile: research\nmaxRetries: 2\n"), 0o600))

	require.NoError(t, LoadCommandlineArgsFromConfigFile(cfgFile))
	details, err := ExtractCommandlineConnectionDetails()
	require.NoError(t, err)

	assert.Equal(t, &ConnectionDetails{Region: "eu-west-1", Profile: "research", MaxRetries: 2}, details)
}

func TestLoadCommandlineArgsFromConfigFile_FlagsWinOverFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfgFile := filepath.Join(t.TempDir(), "mptrainctl.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("region: eu-west-1\n"), 0o600))

	cmd := &cobra.Command{Use: "test"}
	AddConnectionCommandlineArgs(cmd)
	require.NoError(t, cmd.PersistentFlags().Set("region", "us-west-2"))

	require.NoError(t, LoadCommandlineArgsFromConfigFile(cfgFile))
	details, err := ExtractCommandlineConnectionDetails()
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", details.Region)
	assert.Equal(t, -1, details.MaxRetries)
}

func TestLoadCommandlineArgsFromConfigFile_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	err := LoadCommandlineArgsFromConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
