package client

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// ConnectionDetails says how to reach the training platform and its companion services.
type ConnectionDetails struct {
	// Region to submit to. Falls back to the shared AWS config/environment when empty.
	Region string
	// Named profile from the shared credentials file.
	Profile string
	// Overrides the SageMaker API endpoint, e.g. for a VPC endpoint.
	EndpointUrl string
	// Retries performed by the SDK itself on each call; -1 keeps the SDK default.
	MaxRetries int
}

// Clients bundles the service clients one command needs. All clients share one session.
type Clients struct {
	Region    string
	SageMaker *sagemaker.SageMaker
	STS       *sts.STS
	IAM       *iam.IAM
	S3        *s3.S3
	Uploader  *s3manager.Uploader
	Logs      *cloudwatchlogs.CloudWatchLogs
}

func NewSession(details *ConnectionDetails) (*session.Session, error) {
	cfg := aws.Config{}
	if details.Region != "" {
		cfg.Region = aws.String(details.Region)
	}
	if details.MaxRetries >= 0 {
		cfg.MaxRetries = aws.Int(details.MaxRetries)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            cfg,
		Profile:           details.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "error creating AWS session")
	}
	if aws.StringValue(sess.Config.Region) == "" {
		return nil, errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "region",
			Value:   "",
			Message: "no region configured; pass --region or set AWS_REGION",
		})
	}
	return sess, nil
}

func NewClients(details *ConnectionDetails) (*Clients, error) {
	sess, err := NewSession(details)
	if err != nil {
		return nil, err
	}
	var sageMakerConfigs []*aws.Config
	if details.EndpointUrl != "" {
		sageMakerConfigs = append(sageMakerConfigs, &aws.Config{Endpoint: aws.String(details.EndpointUrl)})
	}
	s3Client := s3.New(sess)
	return &Clients{
		Region:    aws.StringValue(sess.Config.Region),
		SageMaker: sagemaker.New(sess, sageMakerConfigs...),
		STS:       sts.New(sess),
		IAM:       iam.New(sess),
		S3:        s3Client,
		Uploader:  s3manager.NewUploaderWithClient(s3Client),
		Logs:      cloudwatchlogs.New(sess),
	}, nil
}
