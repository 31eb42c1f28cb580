package mperrors

import (
	"net/http"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/pkg/errors"
)

// AWS error codes the resolvers and launcher need to distinguish.
const (
	CodeResourceNotFound          = "ResourceNotFound"
	CodeResourceNotFoundException = "ResourceNotFoundException"
	CodeResourceInUse             = "ResourceInUse"
	CodeValidationException       = "ValidationException"
	CodeNoSuchBucket              = "NoSuchBucket"
	CodeNotFound                  = "NotFound"
	CodeBucketAlreadyOwnedByYou   = "BucketAlreadyOwnedByYou"
	CodeNoSuchEntity              = "NoSuchEntity"
)

// AwsCode returns the AWS error code carried anywhere in the error chain, or "".
func AwsCode(err error) string {
	var e awserr.Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}

// IsAwsCode reports whether the chain carries one of the given AWS error codes.
func IsAwsCode(err error, codes ...string) bool {
	code := AwsCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// IsAwsNotFound reports whether err means the addressed AWS resource does not exist.
func IsAwsNotFound(err error) bool {
	if IsAwsCode(err, CodeResourceNotFound, CodeResourceNotFoundException, CodeNoSuchBucket, CodeNotFound, CodeNoSuchEntity) {
		return true
	}
	var rf awserr.RequestFailure
	return errors.As(err, &rf) && rf.StatusCode() == http.StatusNotFound
}

// IsRetryable reports whether a failed AWS call is worth repeating: throttling,
// 5xx responses and connection failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rf awserr.RequestFailure
	if errors.As(err, &rf) && rf.StatusCode() >= http.StatusInternalServerError {
		return true
	}
	var e awserr.Error
	if !errors.As(err, &e) {
		return false
	}
	return request.IsErrorThrottle(e) || request.IsErrorRetryable(e)
}
