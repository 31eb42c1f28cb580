package experiment

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/jobspec"
)

type fakeSageMaker struct {
	API
	experiments map[string]bool
	describeErr error
	createErr   error
	trialErr    error
	trials      []*sagemaker.CreateTrialInput
	created     []string
}

func (f *fakeSageMaker) DescribeExperimentWithContext(_ aws.Context, in *sagemaker.DescribeExperimentInput, _ ...request.Option) (*sagemaker.DescribeExperimentOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if !f.experiments[aws.StringValue(in.ExperimentName)] {
		return nil, awserr.New(mperrors.CodeResourceNotFound, "experiment does not exist", nil)
	}
	return &sagemaker.DescribeExperimentOutput{ExperimentName: in.ExperimentName}, nil
}

func (f *fakeSageMaker) CreateExperimentWithContext(_ aws.Context, in *sagemaker.CreateExperimentInput, _ ...request.Option) (*sagemaker.CreateExperimentOutput, error) {
	f.created = append(f.created, aws.StringValue(in.ExperimentName))
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &sagemaker.CreateExperimentOutput{}, nil
}

func (f *fakeSageMaker) CreateTrialWithContext(_ aws.Context, in *sagemaker.CreateTrialInput, _ ...request.Option) (*sagemaker.CreateTrialOutput, error) {
	if f.trialErr != nil {
		return nil, f.trialErr
	}
	f.trials = append(f.trials, in)
	return &sagemaker.CreateTrialOutput{}, nil
}

func newTestRegistry(api API) *Registry {
	r := NewRegistry(api)
	r.newSuffix = func() string { return "abc123" }
	return r
}

func TestEnsure(t *testing.T) {
	tests := map[string]struct {
		api         *fakeSageMaker
		wantCreated bool
		wantErr     bool
	}{
		"existing experiment is reused": {
			api: &fakeSageMaker{experiments: map[string]bool{"exp": true}},
		},
		"missing experiment is created": {
			api:         &fakeSageMaker{},
			wantCreated: true,
		},
		"created concurrently": {
			api:         &fakeSageMaker{createErr: awserr.New(mperrors.CodeResourceInUse, "in use", nil)},
			wantCreated: true,
		},
		"describe fails": {
			api:     &fakeSageMaker{describeErr: awserr.New("AccessDeniedException", "denied", nil)},
			wantErr: true,
		},
		"create fails": {
			api:         &fakeSageMaker{createErr: awserr.New("ResourceLimitExceeded", "too many", nil)},
			wantCreated: true,
			wantErr:     true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := newTestRegistry(tc.api).Ensure(jobcontext.Background(), "exp", "an experiment")
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tc.wantCreated {
				assert.Equal(t, []string{"exp"}, tc.api.created)
			} else {
				assert.Empty(t, tc.api.created)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	api := &fakeSageMaker{}
	config, err := newTestRegistry(api).Register(jobcontext.Background(), jobspec.ExperimentSpec{
		Name:        "mptrain-gpt2-small",
		Description: "runs",
		TrialPrefix: "nightly",
	})
	require.NoError(t, err)

	assert.Equal(t, Config("mptrain-gpt2-small", "nightly-abc123"), config)
	require.Len(t, api.trials, 1)
	assert.Equal(t, "mptrain-gpt2-small", aws.StringValue(api.trials[0].ExperimentName))
	assert.Equal(t, "nightly-abc123", aws.StringValue(api.trials[0].TrialName))
}

func TestRegister_Disabled(t *testing.T) {
	api := &fakeSageMaker{}
	config, err := newTestRegistry(api).Register(jobcontext.Background(), jobspec.ExperimentSpec{Name: "exp", Disabled: true})
	require.NoError(t, err)
	assert.Nil(t, config)
	assert.Empty(t, api.created)
	assert.Empty(t, api.trials)
}

func TestNewTrial_UsesShortUUID(t *testing.T) {
	api := &fakeSageMaker{}
	first, err := NewRegistry(api).NewTrial(jobcontext.Background(), "exp", "trial")
	require.NoError(t, err)
	second, err := NewRegistry(api).NewTrial(jobcontext.Background(), "exp", "trial")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Regexp(t, `^trial-[a-zA-Z0-9]+$`, first)
}

func TestNewTrial_Error(t *testing.T) {
	api := &fakeSageMaker{trialErr: awserr.New("ResourceLimitExceeded", "too many", nil)}
	_, err := newTestRegistry(api).NewTrial(jobcontext.Background(), "exp", "trial")
	assert.Error(t, err)
}
