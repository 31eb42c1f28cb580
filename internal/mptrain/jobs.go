package mptrain

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go/aws"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
)

// Describe prints the state of a training job.
func (a *App) Describe(name string) error {
	s, err := a.services()
	if err != nil {
		return err
	}
	ctx, cancel := jobContext(name)
	defer cancel()
	job, err := s.launcher.Describe(ctx, name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", aws.StringValue(job.TrainingJobName))
	fmt.Fprintf(w, "Status:\t%s\n", aws.StringValue(job.TrainingJobStatus))
	fmt.Fprintf(w, "Secondary status:\t%s\n", aws.StringValue(job.SecondaryStatus))
	if job.ResourceConfig != nil {
		fmt.Fprintf(w, "Instances:\t%d x %s\n", aws.Int64Value(job.ResourceConfig.InstanceCount), aws.StringValue(job.ResourceConfig.InstanceType))
	}
	if mp, ok := job.HyperParameters[distribution.KeyModelParallel]; ok {
		fmt.Fprintf(w, "Model parallel:\t%s\n", aws.StringValue(mp))
	}
	fmt.Fprintf(w, "Created:\t%s\n", formatTime(job.CreationTime))
	fmt.Fprintf(w, "Started:\t%s\n", formatTime(job.TrainingStartTime))
	fmt.Fprintf(w, "Ended:\t%s\n", formatTime(job.TrainingEndTime))
	if job.BillableTimeInSeconds != nil {
		fmt.Fprintf(w, "Billable time:\t%s\n", time.Duration(aws.Int64Value(job.BillableTimeInSeconds))*time.Second)
	}
	if job.FailureReason != nil {
		fmt.Fprintf(w, "Failure reason:\t%s\n", aws.StringValue(job.FailureReason))
	}
	if job.ModelArtifacts != nil {
		fmt.Fprintf(w, "Model artifacts:\t%s\n", aws.StringValue(job.ModelArtifacts.S3ModelArtifacts))
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// Logs prints the logs of a training job. With follow set, it keeps printing new events until
// the job finishes and returns the job's outcome.
func (a *App) Logs(name string, follow bool) error {
	s, err := a.services()
	if err != nil {
		return err
	}
	ctx, cancel := jobContext(name)
	defer cancel()
	if !follow {
		return s.launcher.StreamLogs(ctx, name, a.Out)
	}
	return a.withMetrics(ctx, s.metrics, func(ctx *jobcontext.Context) error {
		return s.launcher.Follow(ctx, name, a.Out)
	})
}

// Stop stops a running training job. Jobs that already finished are left as they are.
func (a *App) Stop(name string) error {
	s, err := a.services()
	if err != nil {
		return err
	}
	ctx, cancel := jobContext(name)
	defer cancel()
	return s.launcher.Stop(ctx, name)
}
