package mptrain

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv2 "gopkg.in/yaml.v2"
	clocktesting "k8s.io/utils/clock/testing"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
	"github.com/armadaproject/mptrain/internal/mptrain/launcher"
	"github.com/armadaproject/mptrain/pkg/client"
)

const (
	testRegion  = "us-west-2"
	testAccount = "123456789012"
	testJobName = "smp-gpt2-small-p4d-tp4-pp1-bs2-2023-01-02-03-04-05-006"
	// uuid.NewRandomFromReader over a stream of 0x01 bytes.
	testSubmissionID = "01010101-0101-4101-8101-010101010101"
)

var testTime = time.Date(2023, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC)

// fakeAWS stands in for every service the app talks to.
type fakeAWS struct {
	mu sync.Mutex

	buckets            map[string]bool
	createdBuckets     []string
	uploads            []string
	experiments        map[string]bool
	createdExperiments []string
	trials             []string
	jobs               []*sagemaker.CreateTrainingJobInput
	statuses           []string
	describeCalls      int
	stops              int
	logs               map[string][]string
}

func newFakeAWS() *fakeAWS {
	return &fakeAWS{
		buckets:     map[string]bool{},
		experiments: map[string]bool{},
		logs:        map[string][]string{},
	}
}

func (f *fakeAWS) GetCallerIdentityWithContext(aws.Context, *sts.GetCallerIdentityInput, ...request.Option) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(testAccount),
		Arn:     aws.String("arn:aws:iam::" + testAccount + ":role/Trainer"),
	}, nil
}

func (f *fakeAWS) GetRoleWithContext(aws.Context, *iam.GetRoleInput, ...request.Option) (*iam.GetRoleOutput, error) {
	return nil, awserr.New(mperrors.CodeNoSuchEntity, "no such role", nil)
}

func (f *fakeAWS) HeadBucketWithContext(_ aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.StringValue(in.Bucket)] {
		return nil, awserr.New(mperrors.CodeNotFound, "not found", nil)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAWS) CreateBucketWithContext(_ aws.Context, in *s3.CreateBucketInput, _ ...request.Option) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[aws.StringValue(in.Bucket)] = true
	f.createdBuckets = append(f.createdBuckets, aws.StringValue(in.Bucket))
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeAWS) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3manager.UploadOutput{}, nil
}

func (f *fakeAWS) DescribeExperimentWithContext(_ aws.Context, in *sagemaker.DescribeExperimentInput, _ ...request.Option) (*sagemaker.DescribeExperimentOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.experiments[aws.StringValue(in.ExperimentName)] {
		return nil, awserr.New(mperrors.CodeResourceNotFound, "not found", nil)
	}
	return &sagemaker.DescribeExperimentOutput{}, nil
}

func (f *fakeAWS) CreateExperimentWithContext(_ aws.Context, in *sagemaker.CreateExperimentInput, _ ...request.Option) (*sagemaker.CreateExperimentOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.experiments[aws.StringValue(in.ExperimentName)] = true
	f.createdExperiments = append(f.createdExperiments, aws.StringValue(in.ExperimentName))
	return &sagemaker.CreateExperimentOutput{}, nil
}

func (f *fakeAWS) CreateTrialWithContext(_ aws.Context, in *sagemaker.CreateTrialInput, _ ...request.Option) (*sagemaker.CreateTrialOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trials = append(f.trials, aws.StringValue(in.TrialName))
	return &sagemaker.CreateTrialOutput{}, nil
}

func (f *fakeAWS) CreateTrainingJobWithContext(_ aws.Context, in *sagemaker.CreateTrainingJobInput, _ ...request.Option) (*sagemaker.CreateTrainingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, in)
	return &sagemaker.CreateTrainingJobOutput{
		TrainingJobArn: aws.String("arn:aws:sagemaker:us-west-2:123456789012:training-job/" + aws.StringValue(in.TrainingJobName)),
	}, nil
}

func (f *fakeAWS) DescribeTrainingJobWithContext(_ aws.Context, in *sagemaker.DescribeTrainingJobInput, _ ...request.Option) (*sagemaker.DescribeTrainingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.StringValue(in.TrainingJobName) != testJobName || len(f.statuses) == 0 {
		return nil, awserr.New(mperrors.CodeValidationException, "Requested resource not found.", nil)
	}
	i := f.describeCalls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.describeCalls++
	return &sagemaker.DescribeTrainingJobOutput{
		TrainingJobName:   in.TrainingJobName,
		TrainingJobStatus: aws.String(f.statuses[i]),
		SecondaryStatus:   aws.String("Training"),
		ResourceConfig: &sagemaker.ResourceConfig{
			InstanceType:  aws.String("ml.p4d.24xlarge"),
			InstanceCount: aws.Int64(2),
		},
		CreationTime: aws.Time(testTime),
		SecondaryStatusTransitions: []*sagemaker.SecondaryStatusTransition{{
			Status:        aws.String("Training"),
			StartTime:     aws.Time(testTime),
			StatusMessage: aws.String("Training image download completed. Training in progress."),
		}},
	}, nil
}

func (f *fakeAWS) StopTrainingJobWithContext(aws.Context, *sagemaker.StopTrainingJobInput, ...request.Option) (*sagemaker.StopTrainingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return &sagemaker.StopTrainingJobOutput{}, nil
}

func (f *fakeAWS) DescribeLogStreamsWithContext(_ aws.Context, in *cloudwatchlogs.DescribeLogStreamsInput, _ ...request.Option) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &cloudwatchlogs.DescribeLogStreamsOutput{}
	for name := range f.logs {
		if strings.HasPrefix(name, aws.StringValue(in.LogStreamNamePrefix)) {
			out.LogStreams = append(out.LogStreams, &cloudwatchlogs.LogStream{LogStreamName: aws.String(name)})
		}
	}
	return out, nil
}

func (f *fakeAWS) GetLogEventsWithContext(_ aws.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...request.Option) (*cloudwatchlogs.GetLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &cloudwatchlogs.GetLogEventsOutput{NextForwardToken: aws.String("end")}
	if in.NextToken != nil {
		return out, nil
	}
	for _, message := range f.logs[aws.StringValue(in.LogStreamName)] {
		out.Events = append(out.Events, &cloudwatchlogs.OutputLogEvent{Message: aws.String(message)})
	}
	return out, nil
}

func newTestApp(fake *fakeAWS) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	app := &App{
		Params: &Params{
			ConnectionDetails: &client.ConnectionDetails{Region: testRegion, MaxRetries: -1},
			NewClients: func(*client.ConnectionDetails) (*Clients, error) {
				return &Clients{
					Region:    testRegion,
					SageMaker: fake,
					STS:       fake,
					IAM:       fake,
					S3:        fake,
					Uploader:  fake,
					Logs:      fake,
				}, nil
			},
			Launcher: launcher.Options{
				PollInterval:    time.Millisecond,
				LogPollInterval: time.Millisecond,
				SubmitAttempts:  2,
				SubmitDelay:     time.Millisecond,
			},
		},
		Out:    out,
		Random: bytes.NewReader(bytes.Repeat([]byte{1}, 64)),
		Clock:  clocktesting.NewFakeClock(testTime),
	}
	return app, out
}

// writeJobFile writes a job file plus a source directory holding its entry point.
func writeJobFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "train_gpt_simple.py"), []byte("print('hi')"), 0o644))

	path := filepath.Join(dir, "job.yaml")
	content := fmt.Sprintf("sourceDir: %s\n%s", sourceDir, body)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	app, out := newTestApp(newFakeAWS())
	require.NoError(t, app.Version())
	assert.Contains(t, out.String(), "Version:")
	assert.Contains(t, out.String(), "Go version:")
}

func TestPresets_Table(t *testing.T) {
	app, out := newTestApp(newFakeAWS())
	require.NoError(t, app.Presets(FormatTable))

	for _, s := range []string{"MODEL", "gpt-neox-20b", "DATASET", "openwebtext", "train,val", "ml.p4d.24xlarge"} {
		assert.Contains(t, out.String(), s)
	}
}

func TestPresets_Yaml(t *testing.T) {
	app, out := newTestApp(newFakeAWS())
	require.NoError(t, app.Presets(FormatYAML))

	listing := presetListing{}
	require.NoError(t, yamlv2.Unmarshal(out.Bytes(), &listing))
	assert.Len(t, listing.Models, 5)
	assert.Len(t, listing.Datasets, 4)
	assert.Equal(t, "gpt-j-6b", listing.Models[0].Name)
}

func TestPresets_UnknownFormat(t *testing.T) {
	app, _ := newTestApp(newFakeAWS())
	err := app.Presets("xml")
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
}

func assertNothingCreated(t *testing.T, fake *fakeAWS) {
	t.Helper()
	assert.Empty(t, fake.createdBuckets)
	assert.Empty(t, fake.uploads)
	assert.Empty(t, fake.createdExperiments)
	assert.Empty(t, fake.trials)
	assert.Empty(t, fake.jobs)
}

func TestRender(t *testing.T) {
	// sigs.k8s.io/yaml reads both formats.
	for _, format := range []string{FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			fake := newFakeAWS()
			app, out := newTestApp(fake)
			jobFile := writeJobFile(t, "model: gpt2-small\n")

			require.NoError(t, app.Render(&RenderConfig{JobFile: jobFile, Format: format}))

			rendered := map[string]interface{}{}
			require.NoError(t, yaml.Unmarshal(out.Bytes(), &rendered))
			assert.Equal(t, testJobName, rendered["TrainingJobName"])
			assert.Equal(t, "arn:aws:iam::123456789012:role/Trainer", rendered["RoleArn"])

			hp := rendered["HyperParameters"].(map[string]interface{})
			assert.Equal(t, `"train_gpt_simple.py"`, hp["sagemaker_program"])
			assert.Equal(t,
				`"s3://sagemaker-us-west-2-123456789012/mptrain/`+testJobName+`/source/sourcedir.tar.gz"`,
				hp["sagemaker_submit_directory"])
			assert.NotContains(t, rendered, "VpcConfig")

			experiment := rendered["ExperimentConfig"].(map[string]interface{})
			assert.Equal(t, "trial-dry-run", experiment["TrialName"])
			assertNothingCreated(t, fake)
		})
	}
}

func TestRender_Overrides(t *testing.T) {
	app, out := newTestApp(newFakeAWS())
	jobFile := writeJobFile(t, "model: gpt2-small\n")

	require.NoError(t, app.Render(&RenderConfig{
		JobFile: jobFile,
		Format:  FormatYAML,
		Role:    "Override",
		Bucket:  "override-bucket",
	}))
	assert.Contains(t, out.String(), "RoleArn: arn:aws:iam::123456789012:role/Override")
	assert.Contains(t, out.String(), "S3OutputPath: s3://override-bucket/mptrain/output")
}

func TestRender_InvalidConfig(t *testing.T) {
	app, _ := newTestApp(newFakeAWS())
	err := app.Render(&RenderConfig{JobFile: "job.yaml", Format: "toml"})
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
}

func TestSubmit_DryRun(t *testing.T) {
	fake := newFakeAWS()
	app, out := newTestApp(fake)
	jobFile := writeJobFile(t, "model: gpt2-small\n")

	require.NoError(t, app.Submit(&SubmitConfig{JobFile: jobFile, DryRun: true}))
	assert.Contains(t, out.String(), "TrainingJobName: "+testJobName)
	assertNothingCreated(t, fake)
}

func TestSubmit(t *testing.T) {
	fake := newFakeAWS()
	app, out := newTestApp(fake)
	jobFile := writeJobFile(t, "model: gpt2-small\nexperiment:\n  name: gpt2-runs\n")

	require.NoError(t, app.Submit(&SubmitConfig{JobFile: jobFile}))

	assert.Equal(t, []string{"sagemaker-us-west-2-123456789012"}, fake.createdBuckets)
	assert.Equal(t, []string{"sagemaker-us-west-2-123456789012/mptrain/" + testJobName + "/source/sourcedir.tar.gz"}, fake.uploads)
	assert.Equal(t, []string{"gpt2-runs"}, fake.createdExperiments)
	require.Len(t, fake.trials, 1)
	assert.True(t, strings.HasPrefix(fake.trials[0], "trial-"))

	require.Len(t, fake.jobs, 1)
	job := fake.jobs[0]
	assert.Equal(t, testJobName, aws.StringValue(job.TrainingJobName))
	assert.Equal(t, fake.trials[0], aws.StringValue(job.ExperimentConfig.TrialName))
	tags := map[string]string{}
	for _, tag := range job.Tags {
		tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	assert.Equal(t, testSubmissionID, tags["mptrain:submission-id"])

	assert.Contains(t, out.String(), "Submitted training job "+testJobName)
}

func TestSubmit_FollowLogs(t *testing.T) {
	fake := newFakeAWS()
	fake.statuses = []string{sagemaker.TrainingJobStatusInProgress, sagemaker.TrainingJobStatusCompleted}
	fake.logs[testJobName+"/algo-1-1672628645"] = []string{"step 1 loss 3.2"}
	app, out := newTestApp(fake)
	jobFile := writeJobFile(t, "model: gpt2-small\n")

	require.NoError(t, app.Submit(&SubmitConfig{JobFile: jobFile, Logs: true}))
	assert.Contains(t, out.String(), "[algo-1-1672628645] step 1 loss 3.2\n")
	assert.Contains(t, out.String(), "Training - Training image download completed. Training in progress.\n")
}

func TestSubmit_WaitReportsFailure(t *testing.T) {
	fake := newFakeAWS()
	fake.statuses = []string{sagemaker.TrainingJobStatusFailed}
	app, _ := newTestApp(fake)
	jobFile := writeJobFile(t, "model: gpt2-small\n")

	err := app.Submit(&SubmitConfig{JobFile: jobFile, Wait: true})
	assert.Equal(t, mperrors.ExitJobFailed, mperrors.ExitCodeFromError(err))
}

func TestSubmit_GuardsFailBeforeConnecting(t *testing.T) {
	tests := map[string]string{
		"unknown model":   "model: gpt-5\n",
		"unknown dataset": "model: gpt2-small\ndataset: imagenet\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			app, _ := newTestApp(newFakeAWS())
			app.Params.NewClients = func(*client.ConnectionDetails) (*Clients, error) {
				t.Fatal("should not connect")
				return nil, nil
			}
			err := app.Submit(&SubmitConfig{JobFile: writeJobFile(t, body)})
			assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
		})
	}
}

func TestSubmit_MissingJobFile(t *testing.T) {
	app, _ := newTestApp(newFakeAWS())
	err := app.Submit(&SubmitConfig{})
	assert.Equal(t, mperrors.ExitInvalidArgument, mperrors.ExitCodeFromError(err))
}

func TestDescribe(t *testing.T) {
	fake := newFakeAWS()
	fake.statuses = []string{sagemaker.TrainingJobStatusInProgress}
	app, out := newTestApp(fake)

	require.NoError(t, app.Describe(testJobName))
	assert.Regexp(t, `(?m)^Status:\s+InProgress$`, out.String())
	assert.Regexp(t, `(?m)^Instances:\s+2 x ml.p4d.24xlarge$`, out.String())
	assert.Regexp(t, `(?m)^Ended:\s+-$`, out.String())
}

func TestDescribe_NotFound(t *testing.T) {
	app, _ := newTestApp(newFakeAWS())
	err := app.Describe("missing")
	assert.Equal(t, mperrors.ExitNotFound, mperrors.ExitCodeFromError(err))
}

func TestLogs(t *testing.T) {
	fake := newFakeAWS()
	fake.logs[testJobName+"/algo-1-1672628645"] = []string{"hello"}
	app, out := newTestApp(fake)

	require.NoError(t, app.Logs(testJobName, false))
	assert.Equal(t, "[algo-1-1672628645] hello\n", out.String())
}

func TestStop(t *testing.T) {
	fake := newFakeAWS()
	fake.statuses = []string{sagemaker.TrainingJobStatusInProgress}
	app, _ := newTestApp(fake)

	require.NoError(t, app.Stop(testJobName))
	assert.Equal(t, 1, fake.stops)
}
