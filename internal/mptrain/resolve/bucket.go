package resolve

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// BucketAPI is the subset of the S3 client used here.
type BucketAPI interface {
	HeadBucketWithContext(ctx aws.Context, input *s3.HeadBucketInput, opts ...request.Option) (*s3.HeadBucketOutput, error)
	CreateBucketWithContext(ctx aws.Context, input *s3.CreateBucketInput, opts ...request.Option) (*s3.CreateBucketOutput, error)
}

// BucketResolver produces the bucket that holds source bundles, checkpoints and outputs.
type BucketResolver struct {
	identity *IdentityResolver
	s3       BucketAPI
}

func NewBucketResolver(identity *IdentityResolver, s3 BucketAPI) *BucketResolver {
	return &BucketResolver{identity: identity, s3: s3}
}

// DefaultBucketName is the per-account, per-region bucket used when none is configured.
func DefaultBucketName(region, account string) string {
	return fmt.Sprintf("sagemaker-%s-%s", region, account)
}

// Name returns the bucket Resolve would use without checking or creating it.
func (r *BucketResolver) Name(ctx *jobcontext.Context, explicit string) (string, error) {
	if explicit != "" {
		return strings.TrimSuffix(strings.TrimPrefix(explicit, "s3://"), "/"), nil
	}
	identity, err := r.identity.Identity(ctx)
	if err != nil {
		return "", err
	}
	return DefaultBucketName(identity.Region, identity.Account), nil
}

// Resolve returns explicit (without any s3:// prefix) when set. Otherwise the default bucket is
// used, and created if it does not exist yet.
func (r *BucketResolver) Resolve(ctx *jobcontext.Context, explicit string) (string, error) {
	if explicit != "" {
		return r.Name(ctx, explicit)
	}
	identity, err := r.identity.Identity(ctx)
	if err != nil {
		return "", err
	}
	bucket := DefaultBucketName(identity.Region, identity.Account)

	_, err = r.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return bucket, nil
	}
	if !mperrors.IsAwsNotFound(err) {
		return "", errors.WithMessagef(err, "error checking bucket %s; it may exist but be owned by another account", bucket)
	}

	ctx.Log.Infof("creating default bucket %s", bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if identity.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{LocationConstraint: aws.String(identity.Region)}
	}
	if _, err := r.s3.CreateBucketWithContext(ctx, input); err != nil {
		if mperrors.IsAwsCode(err, mperrors.CodeBucketAlreadyOwnedByYou) {
			return bucket, nil
		}
		return "", errors.WithMessagef(err, "error creating bucket %s", bucket)
	}
	return bucket, nil
}
