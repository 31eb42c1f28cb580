// Package jobcontext carries a logger alongside a context.Context, so that everything done on
// behalf of one training job logs with the job's name attached.
package jobcontext

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const jobNameField = "jobName"

// Context is a context.Context with a logger. It satisfies aws.Context, so it can be handed
// straight to the SDK.
type Context struct {
	context.Context
	Log *logrus.Entry
	// JobName is the training job the work belongs to, if any.
	JobName string
}

// Background is analogous to context.Background, logging through the standard logger.
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

func (c *Context) derive(ctx context.Context) *Context {
	return &Context{Context: ctx, Log: c.Log, JobName: c.JobName}
}

// WithCancel is analogous to context.WithCancel.
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent.Context)
	return parent.derive(ctx), cancel
}

// WithTimeout is analogous to context.WithTimeout.
func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent.Context, timeout)
	return parent.derive(ctx), cancel
}

// WithInterrupt returns a copy of parent that is cancelled on SIGINT or SIGTERM, so that a user
// can stop waiting on a job without killing the job.
func WithInterrupt(parent *Context) (*Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent.Context, os.Interrupt, syscall.SIGTERM)
	return parent.derive(ctx), cancel
}

// WithLogField returns a copy of parent whose logger carries key=val.
func WithLogField(parent *Context, key string, val interface{}) *Context {
	c := parent.derive(parent.Context)
	c.Log = parent.Log.WithField(key, val)
	return c
}

// ForJob ties parent to a training job.
func ForJob(parent *Context, jobName string) *Context {
	c := WithLogField(parent, jobNameField, jobName)
	c.JobName = jobName
	return c
}

// ErrGroup is analogous to errgroup.WithContext.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx)
	return group, ctx.derive(goctx)
}
