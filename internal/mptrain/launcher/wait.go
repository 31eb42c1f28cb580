package launcher

import (
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

const timeLayout = "2006-01-02 15:04:05"

// Wait polls the job until it reaches a terminal status, writing each secondary status transition
// to out once. A completed job returns nil; a failed or stopped one returns ErrJobFailed.
func (l *Launcher) Wait(ctx *jobcontext.Context, name string, out io.Writer) error {
	limiter := rate.NewLimiter(rate.Every(l.opts.PollInterval), 1)
	printed := map[string]bool{}
	for {
		if err := limiter.Wait(ctx); err != nil {
			return errors.WithStack(err)
		}
		job, err := l.Describe(ctx, name)
		if err != nil {
			if mperrors.IsRetryable(err) {
				ctx.Log.WithError(err).Warn("error polling training job status")
				continue
			}
			return err
		}

		status := aws.StringValue(job.TrainingJobStatus)
		l.metrics.RecordStatus(status)
		for _, transition := range job.SecondaryStatusTransitions {
			key := aws.StringValue(transition.Status) + "/" + aws.TimeValue(transition.StartTime).String()
			if printed[key] {
				continue
			}
			printed[key] = true
			l.metrics.RecordSecondaryTransition(aws.StringValue(transition.Status))
			fmt.Fprintf(out, "%s %s - %s\n",
				aws.TimeValue(transition.StartTime).UTC().Format(timeLayout),
				aws.StringValue(transition.Status),
				aws.StringValue(transition.StatusMessage))
		}

		switch status {
		case sagemaker.TrainingJobStatusCompleted:
			ctx.Log.Infof("training job %s completed", name)
			return nil
		case sagemaker.TrainingJobStatusFailed:
			return errors.WithStack(&mperrors.ErrJobFailed{JobName: name, Status: status, Reason: aws.StringValue(job.FailureReason)})
		case sagemaker.TrainingJobStatusStopped:
			return errors.WithStack(&mperrors.ErrJobFailed{JobName: name, Status: status, Reason: "stopped before completion"})
		}
	}
}

// Follow waits for the job while streaming its logs to out, returning once the job is terminal
// and its logs have been drained. The result is that of Wait.
func (l *Launcher) Follow(ctx *jobcontext.Context, name string, out io.Writer) error {
	out = &syncWriter{w: out}
	finished := make(chan struct{})

	var waitErr error
	g, gctx := jobcontext.ErrGroup(ctx)
	g.Go(func() error {
		defer close(finished)
		waitErr = l.Wait(gctx, name, out)
		var jobFailed *mperrors.ErrJobFailed
		if errors.As(waitErr, &jobFailed) {
			// The logs of a failed job still need draining.
			return nil
		}
		return waitErr
	})
	g.Go(func() error {
		return l.tailLogs(gctx, name, out, finished)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return waitErr
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
