package resolve

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/arn"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/pkg/errors"

	"github.com/armadaproject/mptrain/internal/common/jobcontext"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

// RoleAPI is the subset of the IAM client used here.
type RoleAPI interface {
	GetRoleWithContext(ctx aws.Context, input *iam.GetRoleInput, opts ...request.Option) (*iam.GetRoleOutput, error)
}

// RoleResolver produces the ARN of the execution role the training job assumes.
type RoleResolver struct {
	identity *IdentityResolver
	iam      RoleAPI
}

func NewRoleResolver(identity *IdentityResolver, iam RoleAPI) *RoleResolver {
	return &RoleResolver{identity: identity, iam: iam}
}

// Resolve returns explicit when it is already an ARN and expands a bare role name into an ARN.
// With nothing explicit, the caller's own role is used: an assumed-role session is mapped back
// to the role it came from. Any other principal is rejected.
func (r *RoleResolver) Resolve(ctx *jobcontext.Context, explicit string) (string, error) {
	if strings.HasPrefix(explicit, "arn:") {
		return explicit, nil
	}
	identity, err := r.identity.Identity(ctx)
	if err != nil {
		return "", err
	}
	if explicit != "" {
		return roleArn(identity.Partition, identity.Account, explicit), nil
	}

	parsed, err := arn.Parse(identity.Arn)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing caller identity %s", identity.Arn)
	}
	switch {
	case parsed.Service == "iam" && strings.HasPrefix(parsed.Resource, "role/"):
		return identity.Arn, nil
	case parsed.Service == "sts" && strings.HasPrefix(parsed.Resource, "assumed-role/"):
		parts := strings.Split(parsed.Resource, "/")
		if len(parts) < 3 {
			break
		}
		return r.roleFromSession(ctx, identity, parts[1])
	}
	return "", errors.WithStack(&mperrors.ErrInvalidArgument{
		Name:    "role",
		Value:   identity.Arn,
		Message: "the current AWS identity is not a role; set role in the job file or pass --role",
	})
}

// roleFromSession asks IAM for the role so that role paths are preserved. Without iam:GetRole
// permission the path can't be recovered, so the ARN is built from the name alone.
func (r *RoleResolver) roleFromSession(ctx *jobcontext.Context, identity *Identity, roleName string) (string, error) {
	out, err := r.iam.GetRoleWithContext(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		if mperrors.IsAwsNotFound(err) {
			return "", errors.WithStack(&mperrors.ErrNotFound{Type: "role", Value: roleName})
		}
		fallback := roleArn(identity.Partition, identity.Account, roleName)
		ctx.Log.WithError(err).Warnf("could not look up role %s, assuming %s", roleName, fallback)
		return fallback, nil
	}
	return aws.StringValue(out.Role.Arn), nil
}

func roleArn(partition, account, name string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, account, strings.TrimPrefix(name, "/"))
}
