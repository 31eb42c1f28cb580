// Package resolve works out the execution role and storage bucket a training job runs with
// when the job file does not name them explicitly.
package resolve

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/arn"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/mptrain/distribution"
)

const identityCacheKey = "caller-identity"

// IdentityAPI is the subset of the STS client used here.
type IdentityAPI interface {
	GetCallerIdentityWithContext(ctx aws.Context, input *sts.GetCallerIdentityInput, opts ...request.Option) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the AWS principal the command runs as.
type Identity struct {
	Account   string
	Arn       string
	Partition string
	Region    string
}

// IdentityResolver looks up the caller identity once and caches it, since both the role and
// the bucket resolver need it.
type IdentityResolver struct {
	api    IdentityAPI
	region string
	cache  *cache.Cache
	mu     sync.Mutex
}

func NewIdentityResolver(api IdentityAPI, region string, ttl time.Duration) *IdentityResolver {
	return &IdentityResolver{
		api:    api,
		region: region,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (r *IdentityResolver) Identity(ctx *jobcontext.Context) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache.Get(identityCacheKey); ok {
		return cached.(*Identity), nil
	}

	out, err := r.api.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, errors.WithMessage(err, "error getting caller identity")
	}
	identity := &Identity{
		Account:   aws.StringValue(out.Account),
		Arn:       aws.StringValue(out.Arn),
		Partition: distribution.Partition(r.region),
		Region:    r.region,
	}
	if parsed, err := arn.Parse(identity.Arn); err == nil {
		identity.Partition = parsed.Partition
	}
	ctx.Log.Debugf("running as %s in account %s", identity.Arn, identity.Account)
	r.cache.SetDefault(identityCacheKey, identity)
	return identity, nil
}
