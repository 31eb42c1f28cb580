// Package launcher submits training jobs and follows them to completion.
package launcher

import (
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/metrics"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// API is the subset of the SageMaker client used here.
type API interface {
	CreateTrainingJobWithContext(ctx aws.Context, input *sagemaker.CreateTrainingJobInput, opts ...request.Option) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJobWithContext(ctx aws.Context, input *sagemaker.DescribeTrainingJobInput, opts ...request.Option) (*sagemaker.DescribeTrainingJobOutput, error)
	StopTrainingJobWithContext(ctx aws.Context, input *sagemaker.StopTrainingJobInput, opts ...request.Option) (*sagemaker.StopTrainingJobOutput, error)
}

type Options struct {
	// PollInterval between DescribeTrainingJob calls while waiting.
	PollInterval time.Duration
	// LogPollInterval between rounds of reading new log events.
	LogPollInterval time.Duration
	SubmitAttempts  uint
	// SubmitDelay before the first retry; later retries back off exponentially.
	SubmitDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    30 * time.Second,
		LogPollInterval: 5 * time.Second,
		SubmitAttempts:  5,
		SubmitDelay:     time.Second,
	}
}

type Launcher struct {
	api     API
	logs    LogsAPI
	metrics *metrics.Metrics
	clock   clock.PassiveClock
	opts    Options
}

func New(api API, logs LogsAPI, m *metrics.Metrics, clock clock.PassiveClock, opts Options) *Launcher {
	return &Launcher{
		api:     api,
		logs:    logs,
		metrics: m,
		clock:   clock,
		opts:    opts,
	}
}

// Submit creates the training job and returns its ARN. Throttling and server-side failures are
// retried with exponential backoff. If a retry finds the job already exists, an earlier attempt
// went through and its ARN is returned.
func (l *Launcher) Submit(ctx *jobcontext.Context, input *sagemaker.CreateTrainingJobInput) (string, error) {
	name := aws.StringValue(input.TrainingJobName)
	start := l.clock.Now()

	var arn string
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			out, err := l.api.CreateTrainingJobWithContext(ctx, input)
			if err == nil {
				arn = aws.StringValue(out.TrainingJobArn)
				return nil
			}
			if attempt > 1 && mperrors.IsAwsCode(err, mperrors.CodeResourceInUse) {
				job, describeErr := l.Describe(ctx, name)
				if describeErr != nil {
					return describeErr
				}
				arn = aws.StringValue(job.TrainingJobArn)
				return nil
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(l.opts.SubmitAttempts),
		retry.Delay(l.opts.SubmitDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(mperrors.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("attempt %d to create training job failed", n+1)
		}),
	)
	if err != nil {
		l.metrics.RecordSubmission(metrics.ResultFailed, l.clock.Since(start))
		if mperrors.IsAwsCode(err, mperrors.CodeResourceInUse) {
			return "", errors.WithStack(&mperrors.ErrAlreadyExists{Type: "training job", Value: name})
		}
		return "", errors.WithMessagef(err, "error creating training job %s", name)
	}
	l.metrics.RecordSubmission(metrics.ResultSubmitted, l.clock.Since(start))
	ctx.Log.Infof("created training job %s", arn)
	return arn, nil
}

// Describe returns the current state of the named job.
func (l *Launcher) Describe(ctx *jobcontext.Context, name string) (*sagemaker.DescribeTrainingJobOutput, error) {
	out, err := l.api.DescribeTrainingJobWithContext(ctx, &sagemaker.DescribeTrainingJobInput{TrainingJobName: aws.String(name)})
	if err != nil {
		if isJobNotFound(err) {
			return nil, errors.WithStack(&mperrors.ErrNotFound{Type: "training job", Value: name})
		}
		return nil, errors.WithMessagef(err, "error describing training job %s", name)
	}
	return out, nil
}

// Stop asks the platform to stop the named job. Jobs that are already stopping or have finished
// are left alone.
func (l *Launcher) Stop(ctx *jobcontext.Context, name string) error {
	job, err := l.Describe(ctx, name)
	if err != nil {
		return err
	}
	status := aws.StringValue(job.TrainingJobStatus)
	if status != sagemaker.TrainingJobStatusInProgress {
		ctx.Log.Infof("training job %s is %s, not stopping it", name, status)
		return nil
	}
	_, err = l.api.StopTrainingJobWithContext(ctx, &sagemaker.StopTrainingJobInput{TrainingJobName: aws.String(name)})
	if err != nil {
		return errors.WithMessagef(err, "error stopping training job %s", name)
	}
	ctx.Log.Infof("stopping training job %s", name)
	return nil
}

// DescribeTrainingJob reports a missing job as a validation error rather than a not-found code.
func isJobNotFound(err error) bool {
	if mperrors.IsAwsNotFound(err) {
		return true
	}
	return mperrors.IsAwsCode(err, mperrors.CodeValidationException) &&
		strings.Contains(strings.ToLower(err.Error()), "not found")
}
