package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/mptrain/internal/mptrain"
)

func submitCmd() *cobra.Command {
	return submitCmdWithApp(mptrain.New())
}

func submitCmdWithApp(a *mptrain.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit ./path/to/job.yaml",
		Short: "Submit a model-parallel training job",
		Long: `Submit a model-parallel training job described by a YAML or JSON job file.

	Example job.yaml:

	model: gpt-neox-20b
	dataset: openwebtext
	instanceType: ml.p4d.24xlarge
	instanceCount: 2
	sourceDir: ./training
	modelParallel:
	  microbatches: 4
	hyperparameters:
	  max_steps: 1000
`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &mptrain.SubmitConfig{JobFile: args[0]}
			var err error
			if config.Role, err = cmd.Flags().GetString("role"); err != nil {
				return fmt.Errorf("error reading role: %s", err)
			}
			if config.Bucket, err = cmd.Flags().GetString("bucket"); err != nil {
				return fmt.Errorf("error reading bucket: %s", err)
			}
			if config.Wait, err = cmd.Flags().GetBool("wait"); err != nil {
				return fmt.Errorf("error reading wait: %s", err)
			}
			if config.Logs, err = cmd.Flags().GetBool("logs"); err != nil {
				return fmt.Errorf("error reading logs: %s", err)
			}
			if config.DryRun, err = cmd.Flags().GetBool("dryRun"); err != nil {
				return fmt.Errorf("error reading dryRun: %s", err)
			}
			return a.Submit(config)
		},
	}
	addResolutionFlags(cmd)
	cmd.Flags().Bool("wait", false, "wait until the job finishes, printing status transitions")
	cmd.Flags().Bool("logs", false, "wait until the job finishes, streaming its logs")
	cmd.Flags().Bool("dryRun", false, "print the request instead of submitting it")
	return cmd
}

// addResolutionFlags adds the flags that override the job file's role and bucket.
func addResolutionFlags(cmd *cobra.Command) {
	cmd.Flags().String("role", "", "execution role name or ARN (overrides the job file)")
	cmd.Flags().String("bucket", "", "bucket for source, output and checkpoints (overrides the job file)")
}
