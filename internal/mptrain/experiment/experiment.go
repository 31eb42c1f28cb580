// Package experiment groups training jobs into experiments and trials so that runs of the same
// model can be compared side by side.
package experiment

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"github.com/renstrom/shortuuid"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/jobspec"
)

const trialComponentDisplayName = "Training"

// API is the subset of the SageMaker client used here.
type API interface {
	DescribeExperimentWithContext(ctx aws.Context, input *sagemaker.DescribeExperimentInput, opts ...request.Option) (*sagemaker.DescribeExperimentOutput, error)
	CreateExperimentWithContext(ctx aws.Context, input *sagemaker.CreateExperimentInput, opts ...request.Option) (*sagemaker.CreateExperimentOutput, error)
	CreateTrialWithContext(ctx aws.Context, input *sagemaker.CreateTrialInput, opts ...request.Option) (*sagemaker.CreateTrialOutput, error)
}

type Registry struct {
	api       API
	newSuffix func() string
}

func NewRegistry(api API) *Registry {
	return &Registry{api: api, newSuffix: shortuuid.New}
}

// Ensure creates the experiment unless it already exists.
func (r *Registry) Ensure(ctx *jobcontext.Context, name, description string) error {
	_, err := r.api.DescribeExperimentWithContext(ctx, &sagemaker.DescribeExperimentInput{ExperimentName: aws.String(name)})
	if err == nil {
		ctx.Log.Debugf("reusing experiment %s", name)
		return nil
	}
	if !mperrors.IsAwsNotFound(err) {
		return errors.WithMessagef(err, "error describing experiment %s", name)
	}

	_, err = r.api.CreateExperimentWithContext(ctx, &sagemaker.CreateExperimentInput{
		ExperimentName: aws.String(name),
		Description:    aws.String(description),
	})
	if err != nil {
		// Someone else created it in between.
		if mperrors.IsAwsCode(err, mperrors.CodeResourceInUse) {
			return nil
		}
		return errors.WithMessagef(err, "error creating experiment %s", name)
	}
	ctx.Log.Infof("created experiment %s", name)
	return nil
}

// NewTrial creates a uniquely named trial in experiment and returns its name.
func (r *Registry) NewTrial(ctx *jobcontext.Context, experiment, prefix string) (string, error) {
	name := prefix + "-" + r.newSuffix()
	_, err := r.api.CreateTrialWithContext(ctx, &sagemaker.CreateTrialInput{
		TrialName:      aws.String(name),
		ExperimentName: aws.String(experiment),
	})
	if err != nil {
		return "", errors.WithMessagef(err, "error creating trial %s in experiment %s", name, experiment)
	}
	ctx.Log.Infof("created trial %s in experiment %s", name, experiment)
	return name, nil
}

// Register ensures the experiment exists, starts a new trial in it and returns the config that
// attaches a training job to that trial. A disabled experiment yields no config.
func (r *Registry) Register(ctx *jobcontext.Context, spec jobspec.ExperimentSpec) (*sagemaker.ExperimentConfig, error) {
	if spec.Disabled {
		return nil, nil
	}
	if err := r.Ensure(ctx, spec.Name, spec.Description); err != nil {
		return nil, err
	}
	trial, err := r.NewTrial(ctx, spec.Name, spec.TrialPrefix)
	if err != nil {
		return nil, err
	}
	return Config(spec.Name, trial), nil
}

// Config links a training job to a trial of an experiment.
func Config(experimentName, trialName string) *sagemaker.ExperimentConfig {
	return &sagemaker.ExperimentConfig{
		ExperimentName:            aws.String(experimentName),
		TrialName:                 aws.String(trialName),
		TrialComponentDisplayName: aws.String(trialComponentDisplayName),
	}
}
