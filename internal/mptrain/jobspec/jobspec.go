// Package jobspec defines the job file a user writes to describe one training run, and how it
// is loaded, defaulted and validated.
package jobspec

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/mptrain/internal/common/config"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
	"github.com/armadaproject/mptrain/internal/mptrain/modelparallel"
	"github.com/armadaproject/mptrain/internal/mptrain/preset"
	"github.com/armadaproject/mptrain/pkg/client/util"
)

const (
	DefaultDataset             = "synthetic"
	DefaultInstanceType        = "ml.p4d.24xlarge"
	DefaultEntryPoint          = "train_gpt_simple.py"
	DefaultSourceDir           = "."
	DefaultPrefix              = "mptrain"
	DefaultCheckpointLocalPath = "/opt/ml/checkpoints"
	DefaultMaxRuntime          = 24 * time.Hour
	DefaultTrialPrefix         = "trial"
)

var DefaultVolumeSize = resource.MustParse("400Gi")

// MaxVolumeSizeGB is the largest volume SageMaker attaches to a training host.
const MaxVolumeSizeGB = 16384

// DefaultMetricDefinitions makes the job's metrics page non-empty even when the training
// script publishes nothing; the regex never matches.
var DefaultMetricDefinitions = []MetricDefinition{{Name: "base_metric", Regex: "<><><><><><>"}}

type JobSpec struct {
	// BaseJobName is truncated and suffixed with a timestamp to form the job name.
	BaseJobName   string `validate:"omitempty,max=63"`
	Model         string `validate:"required"`
	Dataset       string
	InstanceType  string
	InstanceCount int `validate:"gte=0"`
	// VolumeSize of the EBS volume attached to each host. Plain numbers are gigabytes.
	VolumeSize resource.Quantity
	MaxRuntime time.Duration `validate:"gte=0"`
	// Image overrides FrameworkVersion when set.
	Image            string
	FrameworkVersion string
	EntryPoint       string
	// SourceDir is a local directory to package, or an s3:// URI of an already uploaded bundle.
	SourceDir           string
	Role                string
	Bucket              string
	Prefix              string
	CheckpointS3Uri     string `validate:"omitempty,startswith=s3://"`
	CheckpointLocalPath string
	OutputPath          string `validate:"omitempty,startswith=s3://"`
	// DataRoot holds one prefix per dataset channel.
	DataRoot          string `validate:"omitempty,startswith=s3://"`
	FSx               *FSxConfig
	UseSpot           bool
	MaxWait           time.Duration `validate:"gte=0"`
	Hyperparameters   map[string]interface{}
	ModelParallel     modelparallel.Overrides
	MetricDefinitions []MetricDefinition `validate:"dive"`
	Environment       map[string]string
	Tags              map[string]string
	Experiment        ExperimentSpec
}

// FSxConfig attaches an FSx for Lustre file system in place of S3 input channels.
type FSxConfig struct {
	FileSystemID     string `validate:"required"`
	DirectoryPath    string `validate:"required"`
	Subnets          []string
	SecurityGroupIDs []string
}

type MetricDefinition struct {
	Name  string `validate:"required"`
	Regex string `validate:"required"`
}

type ExperimentSpec struct {
	Name        string
	Description string
	TrialPrefix string
	Disabled    bool
}

// Load reads a YAML or JSON job file, applies defaults and validates the result.
func Load(path string) (*JobSpec, error) {
	raw := map[string]interface{}{}
	if err := util.BindJsonOrYaml(path, &raw); err != nil {
		return nil, err
	}
	spec, err := Decode(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "error reading job file %s", path)
	}
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Decode converts a parsed job file into a JobSpec. Unknown keys are rejected.
func Decode(raw map[string]interface{}) (*JobSpec, error) {
	spec := &JobSpec{}
	if err := config.Decode(raw, spec); err != nil {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: "jobFile", Value: "", Message: err.Error()})
	}
	return spec, nil
}

// ApplyDefaults fills every unset field that has a default.
func (s *JobSpec) ApplyDefaults() {
	if s.Dataset == "" {
		s.Dataset = DefaultDataset
	}
	if s.InstanceType == "" {
		s.InstanceType = DefaultInstanceType
	}
	if s.InstanceCount == 0 {
		s.InstanceCount = 1
	}
	if s.VolumeSize.IsZero() {
		s.VolumeSize = DefaultVolumeSize.DeepCopy()
	}
	if s.MaxRuntime == 0 {
		s.MaxRuntime = DefaultMaxRuntime
	}
	if s.Image == "" && s.FrameworkVersion == "" {
		s.FrameworkVersion = distribution.DefaultFrameworkVersion
	}
	if s.EntryPoint == "" {
		s.EntryPoint = DefaultEntryPoint
	}
	if s.SourceDir == "" {
		s.SourceDir = DefaultSourceDir
	}
	if s.Prefix == "" {
		s.Prefix = DefaultPrefix
	}
	if s.CheckpointLocalPath == "" {
		s.CheckpointLocalPath = DefaultCheckpointLocalPath
	}
	if len(s.MetricDefinitions) == 0 {
		s.MetricDefinitions = append([]MetricDefinition(nil), DefaultMetricDefinitions...)
	}
	if s.Experiment.Name == "" {
		s.Experiment.Name = "mptrain-" + s.Model
	}
	if s.Experiment.Description == "" {
		s.Experiment.Description = fmt.Sprintf("Model-parallel training of %s", s.Model)
	}
	if s.Experiment.TrialPrefix == "" {
		s.Experiment.TrialPrefix = DefaultTrialPrefix
	}
}

// Validate checks struct tags, then the rules that span several fields. Presets, instance type
// and framework version are checked here too so that a bad job file fails before anything is
// resolved against AWS.
func (s *JobSpec) Validate() error {
	if err := config.Validate(s); err != nil {
		return errors.WithStack(&mperrors.ErrInvalidArgument{Name: "jobFile", Value: "", Message: err.Error()})
	}

	var result *multierror.Error
	appendErr := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	invalid := func(name string, value interface{}, msg string) {
		appendErr(errors.WithStack(&mperrors.ErrInvalidArgument{Name: name, Value: value, Message: msg}))
	}

	_, err := preset.Model(s.Model)
	appendErr(err)
	_, err = preset.Dataset(s.Dataset)
	appendErr(err)
	_, err = distribution.LookupInstanceType(s.InstanceType)
	appendErr(err)
	if s.Image == "" && !slices.Contains(distribution.FrameworkVersions(), s.FrameworkVersion) {
		invalid("frameworkVersion", s.FrameworkVersion, fmt.Sprintf("supported versions are %v", distribution.FrameworkVersions()))
	}
	_, err = s.HyperparameterOverrides()
	appendErr(err)

	if s.InstanceCount < 1 {
		invalid("instanceCount", s.InstanceCount, "must be at least 1")
	}
	if gb := s.VolumeSizeGB(); gb < 1 {
		invalid("volumeSize", s.VolumeSize.String(), "must be at least 1GB")
	} else if gb > MaxVolumeSizeGB {
		invalid("volumeSize", s.VolumeSize.String(), fmt.Sprintf("must be at most %dGB", MaxVolumeSizeGB))
	}
	if s.MaxRuntime <= 0 {
		invalid("maxRuntime", s.MaxRuntime, "must be positive")
	}
	if s.UseSpot && s.MaxWait < s.MaxRuntime {
		invalid("maxWait", s.MaxWait, fmt.Sprintf("spot jobs need maxWait of at least maxRuntime (%s)", s.MaxRuntime))
	}
	if !s.UseSpot && s.MaxWait != 0 {
		invalid("maxWait", s.MaxWait, "only applies to spot jobs")
	}
	if s.FSx != nil {
		if len(s.FSx.Subnets) == 0 {
			invalid("fsx.subnets", s.FSx.Subnets, "FSx needs the job to run in a VPC: at least one subnet is required")
		}
		if len(s.FSx.SecurityGroupIDs) == 0 {
			invalid("fsx.securityGroupIds", s.FSx.SecurityGroupIDs, "FSx needs the job to run in a VPC: at least one security group is required")
		}
		if s.DataRoot != "" {
			invalid("dataRoot", s.DataRoot, "cannot be combined with fsx")
		}
	}
	return result.ErrorOrNil()
}

// HyperparameterOverrides converts the user's hyperparameters into a validated set.
func (s *JobSpec) HyperparameterOverrides() (hyperparams.Set, error) {
	return hyperparams.FromMap(s.Hyperparameters)
}

// VolumeSizeGB rounds the volume size up to whole gigabytes. Quantities with a binary suffix
// count in GiB. Decoding gives plain numbers a G suffix, so here every quantity is in bytes.
func (s *JobSpec) VolumeSizeGB() int64 {
	q := s.VolumeSize
	v := q.Value()
	switch {
	case v <= 0:
		return 0
	case q.Format == resource.BinarySI:
		return ceilDiv(v, 1<<30)
	default:
		return ceilDiv(v, 1000*1000*1000)
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
