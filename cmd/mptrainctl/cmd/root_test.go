package cmd

/*
These tests check that command-line arguments, flags and config files reach the app. They swap
the app's client factory for one that records the connection details and fails, so nothing talks
to AWS.
*/

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain"
	"github.com/armadaproject/mptrain/pkg/client"
)

var errExpected = errors.New("expected test error")

func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "mptrainctl", SilenceUsage: true, SilenceErrors: true}
	addPersistentFlags(root)
	root.AddCommand(sub)
	return root
}

// newTestApp returns an app whose client factory records what it was called with.
func newTestApp() (*mptrain.App, *bytes.Buffer, *[]*client.ConnectionDetails) {
	var calls []*client.ConnectionDetails
	out := &bytes.Buffer{}
	a := mptrain.New()
	a.Out = out
	a.Params.NewClients = func(details *client.ConnectionDetails) (*mptrain.Clients, error) {
		calls = append(calls, details)
		return nil, errExpected
	}
	return a, out, &calls
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := RootCmd()
	for _, name := range []string{"submit", "render", "presets", "describe", "logs", "stop", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConnectionDetails(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "config.yaml", "region: eu-west-1\nprofile: research\nmetricsPort: 9090\n")

	tests := map[string]struct {
		args       []string
		wantRegion string
	}{
		"from config file": {
			args:       []string{"describe", "job-1", "--config", configFile},
			wantRegion: "eu-west-1",
		},
		"flag overrides config file": {
			args:       []string{"describe", "job-1", "--config", configFile, "--region", "us-east-1"},
			wantRegion: "us-east-1",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a, _, calls := newTestApp()
			cmd := newTestRoot(describeCmdWithApp(a))
			cmd.SetArgs(tc.args)

			require.ErrorIs(t, cmd.Execute(), errExpected)
			require.Len(t, *calls, 1)
			assert.Equal(t, tc.wantRegion, (*calls)[0].Region)
			assert.Equal(t, "research", (*calls)[0].Profile)
			assert.Equal(t, uint16(9090), a.Params.MetricsPort)
		})
	}
}

func TestSubmit_UnknownModelFailsBeforeConnecting(t *testing.T) {
	dir := t.TempDir()
	jobFile := writeFile(t, dir, "job.yaml", "model: gpt-5\n")

	a, _, calls := newTestApp()
	cmd := newTestRoot(submitCmdWithApp(a))
	cmd.SetArgs([]string{"submit", jobFile, "--dryRun", "--role", "Trainer"})

	err := cmd.Execute()
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
	assert.Empty(t, *calls)
}

func TestSubmit_ConnectsForValidJob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train_gpt_simple.py", "print('hi')\n")
	jobFile := writeFile(t, dir, "job.yaml", "model: gpt2-small\nsourceDir: "+dir+"\n")

	a, _, calls := newTestApp()
	cmd := newTestRoot(submitCmdWithApp(a))
	cmd.SetArgs([]string{"submit", jobFile, "--region", "us-west-2"})

	require.ErrorIs(t, cmd.Execute(), errExpected)
	require.Len(t, *calls, 1)
	assert.Equal(t, "us-west-2", (*calls)[0].Region)
}

func TestSubmit_RequiresJobFile(t *testing.T) {
	a, _, _ := newTestApp()
	cmd := newTestRoot(submitCmdWithApp(a))
	cmd.SetArgs([]string{"submit"})
	assert.Error(t, cmd.Execute())
}

func TestRender_UnknownFormat(t *testing.T) {
	a, _, calls := newTestApp()
	cmd := newTestRoot(renderCmdWithApp(a))
	cmd.SetArgs([]string{"render", "job.yaml", "-o", "toml"})

	err := cmd.Execute()
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
	assert.Empty(t, *calls)
}

func TestPresets(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"table": {[]string{"presets"}, "INSTANCE TYPE"},
		"yaml":  {[]string{"presets", "-o", "yaml"}, "tensorParallelDegree: 8"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a, out, calls := newTestApp()
			cmd := newTestRoot(presetsCmdWithApp(a))
			cmd.SetArgs(tc.args)

			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), tc.want)
			assert.Contains(t, out.String(), "gpt-neox-20b")
			assert.Empty(t, *calls)
		})
	}
}

func TestVersion(t *testing.T) {
	a, out, _ := newTestApp()
	cmd := newTestRoot(versionCmdWithApp(a))
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Version:")
}
