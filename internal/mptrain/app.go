// Package mptrain implements the commands of mptrainctl: turning a job file into a model-parallel
// training job, submitting it, and following it to completion.
package mptrain

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/metrics"
	"github.com/armadaproject/mptrain/internal/common/serve"
	"github.com/armadaproject/mptrain/internal/mptrain/experiment"
	"github.com/armadaproject/mptrain/internal/mptrain/launcher"
	"github.com/armadaproject/mptrain/internal/mptrain/request"
	"github.com/armadaproject/mptrain/internal/mptrain/resolve"
	"github.com/armadaproject/mptrain/internal/mptrain/source"
	"github.com/armadaproject/mptrain/pkg/client"
)

const identityCacheTTL = 15 * time.Minute

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the applications's output.
	Out io.Writer
	// Source of randomness for submission ids. Tests can use a fixed source.
	Random io.Reader
	// Clock used for job name timestamps.
	Clock clock.Clock
}

// Params struct holds all user-customizable parameters.
// Using a single struct for all CLI commands ensures that all flags are distinct
// and that they can be provided either dynamically on a command line, or
// statically in a config file that's reused between command runs.
type Params struct {
	ConnectionDetails *client.ConnectionDetails
	// NewClients connects to AWS. Tests replace it to hand out fakes.
	NewClients func(details *client.ConnectionDetails) (*Clients, error)
	Launcher   launcher.Options
	// MetricsPort serves prometheus metrics while a command runs. 0 disables the server.
	MetricsPort uint16
}

// SageMakerAPI is the part of the SageMaker API mptrain calls.
type SageMakerAPI interface {
	launcher.API
	experiment.API
}

// Clients are the service clients the commands run against.
type Clients struct {
	Region    string
	SageMaker SageMakerAPI
	STS       resolve.IdentityAPI
	IAM       resolve.RoleAPI
	S3        resolve.BucketAPI
	Uploader  source.UploadAPI
	Logs      launcher.LogsAPI
}

// AWSClients creates clients for the real services.
func AWSClients(details *client.ConnectionDetails) (*Clients, error) {
	c, err := client.NewClients(details)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Region:    c.Region,
		SageMaker: c.SageMaker,
		STS:       c.STS,
		IAM:       c.IAM,
		S3:        c.S3,
		Uploader:  c.Uploader,
		Logs:      c.Logs,
	}, nil
}

// New instantiates an App with default parameters, including standard output
// and cryptographically secure random source.
func New() *App {
	return &App{
		Params: &Params{
			ConnectionDetails: &client.ConnectionDetails{MaxRetries: -1},
			NewClients:        AWSClients,
			Launcher:          launcher.DefaultOptions(),
		},
		Out:    os.Stdout,
		Random: rand.Reader,
		Clock:  clock.RealClock{},
	}
}

// services wires the packages doing the work to one set of clients.
type services struct {
	region   string
	metrics  *metrics.Metrics
	identity *resolve.IdentityResolver
	roles    *resolve.RoleResolver
	buckets  *resolve.BucketResolver
	uploader *source.Uploader
	registry *experiment.Registry
	builder  *request.Builder
	launcher *launcher.Launcher
}

func (a *App) services() (*services, error) {
	clients, err := a.Params.NewClients(a.Params.ConnectionDetails)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	identity := resolve.NewIdentityResolver(clients.STS, clients.Region, identityCacheTTL)
	return &services{
		region:   clients.Region,
		metrics:  m,
		identity: identity,
		roles:    resolve.NewRoleResolver(identity, clients.IAM),
		buckets:  resolve.NewBucketResolver(identity, clients.S3),
		uploader: source.NewUploader(clients.Uploader),
		registry: experiment.NewRegistry(clients.SageMaker),
		builder:  request.NewBuilder(a.Clock),
		launcher: launcher.New(clients.SageMaker, clients.Logs, m, a.Clock, a.Params.Launcher),
	}, nil
}

// jobContext returns a context for work on the named job. It is cancelled when the user
// interrupts the command, which stops waiting without stopping the job.
func jobContext(name string) (*jobcontext.Context, context.CancelFunc) {
	return jobcontext.WithInterrupt(jobcontext.ForJob(jobcontext.Background(), name))
}

func (a *App) submissionID() (string, error) {
	id, err := uuid.NewRandomFromReader(a.Random)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return id.String(), nil
}

// withMetrics runs action while serving m, if a metrics port is configured.
func (a *App) withMetrics(ctx *jobcontext.Context, m *metrics.Metrics, action func(ctx *jobcontext.Context) error) error {
	if a.Params.MetricsPort == 0 {
		return action(ctx)
	}
	ctx, cancel := jobcontext.WithCancel(ctx)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Params.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := jobcontext.ErrGroup(ctx)
	g.Go(func() error {
		return serve.ListenAndServe(gctx, server)
	})
	g.Go(func() error {
		// Stops the metrics server once the action is done.
		defer cancel()
		return action(gctx)
	})
	return g.Wait()
}
