package mptrain

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/metrics"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/experiment"
	"github.com/armadaproject/mptrain/internal/mptrain/jobspec"
	"github.com/armadaproject/mptrain/internal/mptrain/request"
	"github.com/armadaproject/mptrain/internal/mptrain/source"
)

const dryRunTrialSuffix = "dry-run"

type SubmitConfig struct {
	// Path to the YAML or JSON job file.
	JobFile string
	// Role and Bucket take precedence over the job file when set.
	Role   string
	Bucket string
	// Wait blocks until the job is terminal.
	Wait bool
	// Logs streams the job's logs while waiting. Implies Wait.
	Logs bool
	// DryRun prints the request instead of submitting it. Nothing is created or uploaded.
	DryRun bool
}

func (config *SubmitConfig) Validate() error {
	if config.JobFile == "" {
		return errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "JobFile",
			Value:   config.JobFile,
			Message: "not provided",
		})
	}
	return nil
}

// Submit turns the job file into a training job: it resolves the role and bucket, uploads the
// source directory, registers a trial, and creates the job. With Wait or Logs set it then
// follows the job until it finishes.
func (a *App) Submit(config *SubmitConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	spec, err := loadSpec(config.JobFile, config.Role, config.Bucket)
	if err != nil {
		return err
	}
	s, err := a.services()
	if err != nil {
		return err
	}
	plan, err := s.builder.Plan(spec, s.region)
	if err != nil {
		return err
	}
	ctx, cancel := jobContext(plan.JobName)
	defer cancel()

	if config.DryRun {
		input, err := a.prepare(ctx, s, plan, false)
		if err != nil {
			return err
		}
		s.metrics.RecordSubmission(metrics.ResultDryRun, 0)
		return a.printRequest(input, FormatYAML)
	}

	return a.withMetrics(ctx, s.metrics, func(ctx *jobcontext.Context) error {
		input, err := a.prepare(ctx, s, plan, true)
		if err != nil {
			return err
		}
		arn, err := s.launcher.Submit(ctx, input)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Submitted training job %s (%s)\n", plan.JobName, arn)

		switch {
		case config.Logs:
			return s.launcher.Follow(ctx, plan.JobName, a.Out)
		case config.Wait:
			return s.launcher.Wait(ctx, plan.JobName, a.Out)
		}
		return nil
	})
}

func loadSpec(jobFile, role, bucket string) (*jobspec.JobSpec, error) {
	spec, err := jobspec.Load(jobFile)
	if err != nil {
		return nil, err
	}
	if role != "" {
		spec.Role = role
	}
	if bucket != "" {
		spec.Bucket = bucket
	}
	return spec, nil
}

// prepare resolves everything the request needs from AWS. When write is false nothing is
// created: the bucket and trial are named but not created, and the source directory is packaged
// to check it but not uploaded.
func (a *App) prepare(ctx *jobcontext.Context, s *services, plan *request.Plan, write bool) (*sagemaker.CreateTrainingJobInput, error) {
	spec := plan.Spec

	role, err := s.roles.Resolve(ctx, spec.Role)
	if err != nil {
		return nil, err
	}
	identity, err := s.identity.Identity(ctx)
	if err != nil {
		return nil, err
	}

	var bucket string
	if write {
		bucket, err = s.buckets.Resolve(ctx, spec.Bucket)
	} else {
		bucket, err = s.buckets.Name(ctx, spec.Bucket)
	}
	if err != nil {
		return nil, err
	}

	key := request.SourceKey(spec.Prefix, plan.JobName)
	var sourceURI string
	switch {
	case write:
		sourceURI, err = s.uploader.Upload(ctx, spec.SourceDir, spec.EntryPoint, bucket, key)
		if err != nil {
			return nil, err
		}
	case source.IsRemote(spec.SourceDir):
		sourceURI = spec.SourceDir
	default:
		if _, err := source.Package(spec.SourceDir, spec.EntryPoint); err != nil {
			return nil, err
		}
		sourceURI = fmt.Sprintf("s3://%s/%s", bucket, key)
	}

	var experimentConfig *sagemaker.ExperimentConfig
	switch {
	case write:
		experimentConfig, err = s.registry.Register(ctx, spec.Experiment)
		if err != nil {
			return nil, err
		}
	case !spec.Experiment.Disabled:
		experimentConfig = experiment.Config(spec.Experiment.Name, spec.Experiment.TrialPrefix+"-"+dryRunTrialSuffix)
	}

	submissionID, err := a.submissionID()
	if err != nil {
		return nil, err
	}
	input, err := plan.Request(request.Resolved{
		Role:         role,
		Bucket:       bucket,
		Region:       s.region,
		Account:      identity.Account,
		SourceURI:    sourceURI,
		SubmissionID: submissionID,
		Experiment:   experimentConfig,
	})
	if err != nil {
		return nil, err
	}
	ctx.Log.Debugf("prepared %s on %d x %s", aws.StringValue(input.TrainingJobName), spec.InstanceCount, spec.InstanceType)
	return input, nil
}
