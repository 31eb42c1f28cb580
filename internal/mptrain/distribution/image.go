package distribution

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// DefaultFrameworkVersion is the PyTorch version used when a job names neither an image nor a version.
const DefaultFrameworkVersion = "1.13"

const (
	trainingRepository     = "pytorch-training"
	defaultRegistryAccount = "763104351884"
)

// Image tags of the PyTorch training containers that ship the model-parallelism runtime.
var frameworkImageTags = map[string]string{
	"1.12": "1.12.1-gpu-py38-cu113-ubuntu20.04-sagemaker",
	"1.13": "1.13.1-gpu-py39-cu117-ubuntu20.04-sagemaker",
	"2.0":  "2.0.0-gpu-py310-cu118-ubuntu20.04-sagemaker",
}

// Regions whose container registry lives in a different account.
var registryAccounts = map[string]string{
	"af-south-1":     "626614931356",
	"ap-east-1":      "871362719292",
	"eu-south-1":     "692866216735",
	"me-south-1":     "217643126080",
	"cn-north-1":     "727897471807",
	"cn-northwest-1": "727897471807",
	"us-gov-west-1":  "442386744353",
}

// FrameworkVersions lists the supported framework versions in sorted order.
func FrameworkVersions() []string {
	versions := maps.Keys(frameworkImageTags)
	slices.Sort(versions)
	return versions
}

// ImageURI resolves the training container for frameworkVersion in region.
func ImageURI(region, frameworkVersion string) (string, error) {
	if region == "" {
		return "", errors.WithStack(&mperrors.ErrInvalidArgument{Name: "region", Value: region, Message: "region is required to resolve the training image"})
	}
	if frameworkVersion == "" {
		frameworkVersion = DefaultFrameworkVersion
	}
	tag, ok := frameworkImageTags[frameworkVersion]
	if !ok {
		return "", errors.WithStack(&mperrors.ErrInvalidArgument{
			Name:    "frameworkVersion",
			Value:   frameworkVersion,
			Message: fmt.Sprintf("supported versions are %s", strings.Join(FrameworkVersions(), ", ")),
		})
	}
	account, ok := registryAccounts[region]
	if !ok {
		account = defaultRegistryAccount
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.%s/%s:%s", account, region, dnsSuffix(region), trainingRepository, tag), nil
}

func dnsSuffix(region string) string {
	if strings.HasPrefix(region, "cn-") {
		return "amazonaws.com.cn"
	}
	return "amazonaws.com"
}

// Partition returns the ARN partition of region.
func Partition(region string) string {
	switch {
	case strings.HasPrefix(region, "cn-"):
		return "aws-cn"
	case strings.HasPrefix(region, "us-gov-"):
		return "aws-us-gov"
	default:
		return "aws"
	}
}
