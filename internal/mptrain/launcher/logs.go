package launcher

import (
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

const LogGroup = "/aws/sagemaker/TrainingJobs"

// LogsAPI is the subset of the CloudWatch Logs client used here.
type LogsAPI interface {
	DescribeLogStreamsWithContext(ctx aws.Context, input *cloudwatchlogs.DescribeLogStreamsInput, opts ...request.Option) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEventsWithContext(ctx aws.Context, input *cloudwatchlogs.GetLogEventsInput, opts ...request.Option) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// StreamLogs writes every log event the job has produced so far to out, prefixed by the host
// that produced it.
func (l *Launcher) StreamLogs(ctx *jobcontext.Context, name string, out io.Writer) error {
	t := l.newTailer(name, out)
	if err := t.discover(ctx); err != nil {
		return err
	}
	return t.drain(ctx)
}

// tailLogs keeps reading new events, picking up streams as hosts start, until finished is closed.
// One more round is read after that so that the last lines are not lost.
func (l *Launcher) tailLogs(ctx *jobcontext.Context, name string, out io.Writer, finished <-chan struct{}) error {
	t := l.newTailer(name, out)
	limiter := rate.NewLimiter(rate.Every(l.opts.LogPollInterval), 1)
	for {
		last := false
		select {
		case <-finished:
			last = true
		default:
		}
		if !last {
			if err := limiter.Wait(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if err := t.discover(ctx); err != nil {
			return err
		}
		if err := t.drain(ctx); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

type tailer struct {
	launcher *Launcher
	jobName  string
	out      io.Writer
	// Streams in the order they were discovered, and the forward token to continue each from.
	streams []string
	tokens  map[string]*string
}

func (l *Launcher) newTailer(name string, out io.Writer) *tailer {
	return &tailer{launcher: l, jobName: name, out: out, tokens: map[string]*string{}}
}

// discover adds any streams that appeared since the last call. There is one stream per host,
// and the log group itself does not exist until the first job in the account writes to it.
func (t *tailer) discover(ctx *jobcontext.Context) error {
	input := &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(LogGroup),
		LogStreamNamePrefix: aws.String(t.jobName + "/"),
	}
	for {
		out, err := t.launcher.logs.DescribeLogStreamsWithContext(ctx, input)
		if err != nil {
			if mperrors.IsAwsCode(err, mperrors.CodeResourceNotFoundException) {
				ctx.Log.Debugf("log group %s does not exist yet", LogGroup)
				return nil
			}
			return errors.WithMessagef(err, "error listing log streams of %s", t.jobName)
		}
		for _, stream := range out.LogStreams {
			name := aws.StringValue(stream.LogStreamName)
			if _, ok := t.tokens[name]; ok {
				continue
			}
			t.tokens[name] = nil
			t.streams = append(t.streams, name)
		}
		if out.NextToken == nil {
			return nil
		}
		input.NextToken = out.NextToken
	}
}

// drain reads each stream up to its current end.
func (t *tailer) drain(ctx *jobcontext.Context) error {
	for _, stream := range t.streams {
		host := strings.TrimPrefix(stream, t.jobName+"/")
		for {
			out, err := t.launcher.logs.GetLogEventsWithContext(ctx, &cloudwatchlogs.GetLogEventsInput{
				LogGroupName:  aws.String(LogGroup),
				LogStreamName: aws.String(stream),
				StartFromHead: aws.Bool(true),
				NextToken:     t.tokens[stream],
			})
			if err != nil {
				return errors.WithMessagef(err, "error reading log stream %s", stream)
			}
			for _, event := range out.Events {
				fmt.Fprintf(t.out, "[%s] %s\n", host, strings.TrimRight(aws.StringValue(event.Message), "\n"))
			}
			t.launcher.metrics.RecordLogEvents(len(out.Events))

			// The same token coming back means the end of the stream has been reached.
			previous := t.tokens[stream]
			t.tokens[stream] = out.NextForwardToken
			if len(out.Events) == 0 || aws.StringValue(previous) == aws.StringValue(out.NextForwardToken) {
				break
			}
		}
	}
	return nil
}
