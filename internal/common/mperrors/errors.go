// Package mperrors contains the generic errors returned while assembling and submitting training jobs.
// The command line maps the error types defined in this file onto process exit codes, so callers
// should wrap these (using errors.WithStack or errors.WithMessage) rather than replace them.
//
// If multiple errors occur in some function (e.g., several invalid model-parallel settings), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package mperrors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Exit codes returned by mptrainctl.
const (
	ExitOK              = 0
	ExitUnknown         = 1
	ExitInvalidArgument = 2
	ExitNotFound        = 3
	ExitJobFailed       = 4
	ExitAlreadyExists   = 5
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "experiment" or "bucket"
	Value   string // Resource name, e.g., "gpt2-xl-experiment"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "tensor_parallel_degree"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", fmt.Sprint(err.Value), err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", fmt.Sprint(err.Value), err.Name, err.Message)
}

// ErrJobFailed is returned when a training job reaches a terminal state other than Completed.
type ErrJobFailed struct {
	JobName string
	Status  string
	Reason  string
}

func (err *ErrJobFailed) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("training job %q finished with status %s", err.JobName, err.Status)
	}
	return fmt.Sprintf("training job %q finished with status %s: %s", err.JobName, err.Status, err.Reason)
}

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
// For a multierror, the code of the first recognised member wins.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitOK
	}

	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if code := ExitCodeFromError(e); code != ExitUnknown {
				return code
			}
		}
		return ExitUnknown
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return ExitInvalidArgument
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return ExitNotFound
		}
	}
	{
		var e *ErrJobFailed
		if errors.As(err, &e) {
			return ExitJobFailed
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return ExitAlreadyExists
		}
	}
	return ExitUnknown
}
