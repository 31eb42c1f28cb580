// Package request turns a job file into the CreateTrainingJob request that starts the run.
package request

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
	"github.com/armadaproject/mptrain/internal/mptrain/hyperparams"
	"github.com/armadaproject/mptrain/internal/mptrain/jobspec"
	"github.com/armadaproject/mptrain/internal/mptrain/modelparallel"
	"github.com/armadaproject/mptrain/internal/mptrain/preset"
)

// Reserved hyperparameters read by the training toolkit inside the container.
const (
	KeyProgram           = "sagemaker_program"
	KeySubmitDirectory   = "sagemaker_submit_directory"
	KeyRegion            = "sagemaker_region"
	KeyJobName           = "sagemaker_job_name"
	KeyContainerLogLevel = "sagemaker_container_log_level"

	KeyCheckpointDir = "checkpoint-dir"

	// INFO in Python logging levels.
	containerLogLevel = "20"
)

const (
	TagSubmissionID = "mptrain:submission-id"
	TagModel        = "mptrain:model"
	TagDataset      = "mptrain:dataset"
)

const (
	trainingInputMode      = "File"
	channelDataPath        = "/opt/ml/input/data"
	fsxFileSystemType      = "FSxLustre"
	fsxAccessMode          = "ro"
	s3DataType             = "S3Prefix"
	s3DataDistributionType = "FullyReplicated"
)

// Hyperparameters telling the training script where each channel is mounted.
var channelDirKeys = map[string]string{
	"train": "training_dir",
	"val":   "test_dir",
	"test":  "test_dir",
}

// Resolved holds everything about a submission that is looked up or created in AWS rather than
// read from the job file.
type Resolved struct {
	Role         string
	Bucket       string
	Region       string
	Account      string
	SourceURI    string
	SubmissionID string
	Experiment   *sagemaker.ExperimentConfig
}

// Plan is the job file with presets expanded, ready to be turned into a request once the
// resolved values are known.
type Plan struct {
	JobName         string
	Spec            *jobspec.JobSpec
	Model           preset.ModelPreset
	Dataset         preset.DatasetPreset
	InstanceType    distribution.InstanceType
	ModelParallel   modelparallel.Parameters
	Hyperparameters hyperparams.Set
	Image           string
}

type Builder struct {
	clock clock.PassiveClock
}

func NewBuilder(clock clock.PassiveClock) *Builder {
	return &Builder{clock: clock}
}

// Plan expands presets and validates the model-parallel layout. The job name is fixed here so
// that the source bundle can be uploaded under it before the request is built.
func (b *Builder) Plan(spec *jobspec.JobSpec, region string) (*Plan, error) {
	model, err := preset.Model(spec.Model)
	if err != nil {
		return nil, err
	}
	dataset, err := preset.Dataset(spec.Dataset)
	if err != nil {
		return nil, err
	}
	it, err := distribution.LookupInstanceType(spec.InstanceType)
	if err != nil {
		return nil, err
	}
	userHyperparameters, err := spec.HyperparameterOverrides()
	if err != nil {
		return nil, err
	}
	mp := model.ModelParallel.Apply(spec.ModelParallel)
	mirrored := mp.Hyperparameters()
	if err := checkReserved(userHyperparameters, mirrored); err != nil {
		return nil, err
	}

	set := hyperparams.Merge(
		hyperparams.Defaults(),
		model.Hyperparameters,
		dataset.Hyperparameters,
		mirrored,
		userHyperparameters,
	)
	trainBatchSize, err := set.Int("train_batch_size")
	if err != nil {
		return nil, err
	}
	if err := mp.Validate(it.GPUs, spec.InstanceCount, trainBatchSize); err != nil {
		return nil, err
	}

	image := spec.Image
	if image == "" {
		image, err = distribution.ImageURI(region, spec.FrameworkVersion)
		if err != nil {
			return nil, err
		}
	}

	base := spec.BaseJobName
	if base == "" {
		base = DefaultBaseJobName(model.Name, it.Name, mp, trainBatchSize)
	}

	setDefault := func(key string, value hyperparams.Value) {
		if _, ok := userHyperparameters[key]; !ok {
			set[key] = value
		}
	}
	setDefault(KeyCheckpointDir, spec.CheckpointLocalPath)
	for _, channel := range dataset.Channels {
		if key, ok := channelDirKeys[channel]; ok {
			setDefault(key, path.Join(channelDataPath, channel))
		}
	}

	return &Plan{
		JobName:         JobName(base, b.clock.Now()),
		Spec:            spec,
		Model:           model,
		Dataset:         dataset,
		InstanceType:    it,
		ModelParallel:   mp,
		Hyperparameters: set,
		Image:           image,
	}, nil
}

// Build plans spec and turns it into a request in one step.
func (b *Builder) Build(spec *jobspec.JobSpec, resolved Resolved) (*sagemaker.CreateTrainingJobInput, error) {
	plan, err := b.Plan(spec, resolved.Region)
	if err != nil {
		return nil, err
	}
	return plan.Request(resolved)
}

// checkReserved rejects user hyperparameters that mptrain sets itself. Keys mirrored from the
// model-parallel parameters must be changed through the modelParallel block, so that they are
// validated and stay in step with mp_parameters.
func checkReserved(set, mirrored hyperparams.Set) error {
	var result *multierror.Error
	for _, k := range set.Keys() {
		_, isMirrored := mirrored[k]
		switch {
		case strings.HasPrefix(k, "sagemaker_") || k == distribution.KeyModelParallel:
			result = multierror.Append(result, errors.WithStack(&mperrors.ErrInvalidArgument{
				Name:    "hyperparameters",
				Value:   k,
				Message: "reserved hyperparameters are set by mptrain and cannot be overridden",
			}))
		case isMirrored:
			result = multierror.Append(result, errors.WithStack(&mperrors.ErrInvalidArgument{
				Name:    "hyperparameters",
				Value:   k,
				Message: "set by the model-parallel parameters; use the modelParallel block instead",
			}))
		}
	}
	return result.ErrorOrNil()
}

// SourceKey is the S3 key the packaged source directory is uploaded to.
func SourceKey(prefix, jobName string) string {
	return path.Join(prefix, jobName, "source", "sourcedir.tar.gz")
}

// OutputPath is where the platform writes model artifacts.
func (p *Plan) OutputPath(bucket string) string {
	if p.Spec.OutputPath != "" {
		return p.Spec.OutputPath
	}
	return fmt.Sprintf("s3://%s/%s/output", bucket, p.Spec.Prefix)
}

// CheckpointS3Uri is where checkpoints written under the local checkpoint path are synced to.
// Jobs reading from FSx keep their checkpoints on the file system and have no S3 location.
func (p *Plan) CheckpointS3Uri(bucket string) string {
	if p.Spec.FSx != nil {
		return ""
	}
	if p.Spec.CheckpointS3Uri != "" {
		return p.Spec.CheckpointS3Uri
	}
	return fmt.Sprintf("s3://%s/%s/checkpoints/", bucket, p.Spec.Prefix)
}

// DataRoot is the S3 prefix holding one sub-prefix per channel.
func (p *Plan) DataRoot(bucket string) string {
	if p.Spec.DataRoot != "" {
		return strings.TrimSuffix(p.Spec.DataRoot, "/")
	}
	return fmt.Sprintf("s3://%s/datasets/%s", bucket, p.Dataset.Name)
}

// Request maps the plan and resolved values onto a CreateTrainingJob request, and checks it with
// the SDK's own parameter validation.
func (p *Plan) Request(resolved Resolved) (*sagemaker.CreateTrainingJobInput, error) {
	spec := p.Spec

	hyperparameters, err := p.encodedHyperparameters(resolved)
	if err != nil {
		return nil, err
	}

	input := &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(p.JobName),
		AlgorithmSpecification: &sagemaker.AlgorithmSpecification{
			TrainingImage:                    aws.String(p.Image),
			TrainingInputMode:                aws.String(trainingInputMode),
			MetricDefinitions:                metricDefinitions(spec.MetricDefinitions),
			EnableSageMakerMetricsTimeSeries: aws.Bool(true),
		},
		HyperParameters: aws.StringMap(hyperparameters),
		RoleArn:         aws.String(resolved.Role),
		ResourceConfig: &sagemaker.ResourceConfig{
			InstanceType:   aws.String(p.InstanceType.Name),
			InstanceCount:  aws.Int64(int64(spec.InstanceCount)),
			VolumeSizeInGB: aws.Int64(spec.VolumeSizeGB()),
		},
		OutputDataConfig: &sagemaker.OutputDataConfig{
			S3OutputPath: aws.String(p.OutputPath(resolved.Bucket)),
		},
		StoppingCondition: &sagemaker.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int64(int64(spec.MaxRuntime.Seconds())),
		},
		InputDataConfig:  p.channels(resolved.Bucket),
		ExperimentConfig: resolved.Experiment,
		Tags:             p.tags(resolved.SubmissionID),
	}
	if uri := p.CheckpointS3Uri(resolved.Bucket); uri != "" {
		input.CheckpointConfig = &sagemaker.CheckpointConfig{
			S3Uri:     aws.String(uri),
			LocalPath: aws.String(spec.CheckpointLocalPath),
		}
	}
	if spec.UseSpot {
		input.EnableManagedSpotTraining = aws.Bool(true)
		input.StoppingCondition.MaxWaitTimeInSeconds = aws.Int64(int64(spec.MaxWait.Seconds()))
	}
	if spec.FSx != nil {
		input.VpcConfig = &sagemaker.VpcConfig{
			Subnets:          aws.StringSlice(spec.FSx.Subnets),
			SecurityGroupIds: aws.StringSlice(spec.FSx.SecurityGroupIDs),
		}
	}
	if len(spec.Environment) > 0 {
		input.Environment = aws.StringMap(spec.Environment)
	}

	if err := input.Validate(); err != nil {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{Name: "request", Value: p.JobName, Message: err.Error()})
	}
	return input, nil
}

func (p *Plan) encodedHyperparameters(resolved Resolved) (map[string]string, error) {
	encoded, err := p.Hyperparameters.Encode()
	if err != nil {
		return nil, err
	}
	reserved, err := distribution.Hyperparameters(p.InstanceType, p.ModelParallel)
	if err != nil {
		return nil, err
	}
	for k, v := range reserved {
		encoded[k] = v
	}
	for k, v := range map[string]string{
		KeyProgram:         p.Spec.EntryPoint,
		KeySubmitDirectory: resolved.SourceURI,
		KeyRegion:          resolved.Region,
		KeyJobName:         p.JobName,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		encoded[k] = string(b)
	}
	encoded[KeyContainerLogLevel] = containerLogLevel
	return encoded, nil
}

func (p *Plan) channels(bucket string) []*sagemaker.Channel {
	if p.Dataset.Synthetic() {
		return nil
	}
	channels := make([]*sagemaker.Channel, 0, len(p.Dataset.Channels))
	for _, name := range p.Dataset.Channels {
		channel := &sagemaker.Channel{ChannelName: aws.String(name)}
		if fsx := p.Spec.FSx; fsx != nil {
			channel.DataSource = &sagemaker.DataSource{
				FileSystemDataSource: &sagemaker.FileSystemDataSource{
					FileSystemId:         aws.String(fsx.FileSystemID),
					FileSystemType:       aws.String(fsxFileSystemType),
					FileSystemAccessMode: aws.String(fsxAccessMode),
					DirectoryPath:        aws.String(path.Join(fsx.DirectoryPath, name)),
				},
			}
		} else {
			channel.DataSource = &sagemaker.DataSource{
				S3DataSource: &sagemaker.S3DataSource{
					S3DataType:             aws.String(s3DataType),
					S3Uri:                  aws.String(p.DataRoot(bucket) + "/" + name),
					S3DataDistributionType: aws.String(s3DataDistributionType),
				},
			}
		}
		channels = append(channels, channel)
	}
	return channels
}

func (p *Plan) tags(submissionID string) []*sagemaker.Tag {
	all := map[string]string{}
	for k, v := range p.Spec.Tags {
		all[k] = v
	}
	all[TagModel] = p.Model.Name
	all[TagDataset] = p.Dataset.Name
	if submissionID != "" {
		all[TagSubmissionID] = submissionID
	}
	keys := maps.Keys(all)
	slices.Sort(keys)
	tags := make([]*sagemaker.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, &sagemaker.Tag{Key: aws.String(k), Value: aws.String(all[k])})
	}
	return tags
}

func metricDefinitions(defs []jobspec.MetricDefinition) []*sagemaker.MetricDefinition {
	out := make([]*sagemaker.MetricDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, &sagemaker.MetricDefinition{Name: aws.String(d.Name), Regex: aws.String(d.Regex)})
	}
	return out
}
