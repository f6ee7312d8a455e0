// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package enforcer creates the roles of newly discovered clusters and deletes
// orphaned roles. Every role is processed independently, and a failure of one
// role never affects another.
//
// The caller needs iam:CreateRole, iam:PutRolePolicy, iam:ListRolePolicies,
// iam:DeleteRolePolicy, iam:DeleteRole and eks:DescribeCluster. Tagging roles
// on creation, which is enabled by default, additionally requires iam:TagRole.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"golang.org/x/sync/errgroup"

	awsutils "github.com/nops-io/ccost-roles/pkg/aws/utils"
	"github.com/nops-io/ccost-roles/pkg/ccost/naming"
	"github.com/nops-io/ccost-roles/pkg/ccost/policy"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
	"github.com/nops-io/ccost-roles/pkg/utils/slog"
)

// Tag keys set on created roles.
const (
	TagCluster   = "ccost.nops.io/cluster"
	TagRegion    = "ccost.nops.io/region"
	TagManagedBy = "managed-by"
)

// DefaultManagedBy is the default value of the [TagManagedBy] tag.
const DefaultManagedBy = "ccost-roles"

// DefaultConcurrency is the default number of roles processed in parallel.
const DefaultConcurrency = 4

// RoleAPI is the subset of the IAM API, which is used by the [Enforcer].
type RoleAPI interface {
	iam.ListRolePoliciesAPIClient
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// DescribeFunc returns the EKS client for the given region.
type DescribeFunc func(region string) eks.DescribeClusterAPIClient

// Enforcer applies the create and delete actions of a plan.
type Enforcer struct {
	iam         RoleAPI
	clusters    DescribeFunc
	accountID   string
	catalog     *policy.RegionCatalog
	concurrency int
	dryRun      bool
	managedBy   string
	tags        bool
}

// Option is a function, which configures the [Enforcer].
type Option func(e *Enforcer)

// New creates a new [Enforcer] for the given account.
func New(client RoleAPI, clusters DescribeFunc, accountID string, opts ...Option) *Enforcer {
	e := &Enforcer{
		iam:         client,
		clusters:    clusters,
		accountID:   accountID,
		concurrency: DefaultConcurrency,
		managedBy:   DefaultManagedBy,
		tags:        true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WithRegionCatalog configures the [Enforcer] to validate the region of each
// role against the given catalog. Without a catalog regions are not
// validated.
func WithRegionCatalog(catalog *policy.RegionCatalog) Option {
	opt := func(e *Enforcer) {
		e.catalog = catalog
	}

	return opt
}

// WithConcurrency configures the number of roles processed in parallel.
func WithConcurrency(n int) Option {
	opt := func(e *Enforcer) {
		if n > 0 {
			e.concurrency = n
		}
	}

	return opt
}

// WithDryRun configures the [Enforcer] to skip any mutating call.
func WithDryRun(dryRun bool) Option {
	opt := func(e *Enforcer) {
		e.dryRun = dryRun
	}

	return opt
}

// WithManagedBy configures the value of the [TagManagedBy] tag.
func WithManagedBy(value string) Option {
	opt := func(e *Enforcer) {
		if value != "" {
			e.managedBy = value
		}
	}

	return opt
}

// WithTags configures whether created roles are tagged with their cluster,
// region and manager. Tagging requires the iam:TagRole permission.
func WithTags(enabled bool) Option {
	opt := func(e *Enforcer) {
		e.tags = enabled
	}

	return opt
}

// Create creates a role for each of the given names and returns one outcome
// per name, in the order of names.
func (e *Enforcer) Create(ctx context.Context, names []string) []report.Outcome {
	return e.each(ctx, names, e.create)
}

// Delete deletes the roles with the given names along with their inline
// policies and returns one outcome per name, in the order of names.
func (e *Enforcer) Delete(ctx context.Context, names []string) []report.Outcome {
	return e.each(ctx, names, e.delete)
}

// each invokes fn for every name, storing the outcome at the index of the
// name.
func (e *Enforcer) each(ctx context.Context, names []string, fn func(context.Context, string) report.Outcome) []report.Outcome {
	outcomes := make([]report.Outcome, len(names))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = fn(ctx, name)

			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (e *Enforcer) create(ctx context.Context, name string) report.Outcome {
	logger := slog.FromContext(ctx).With("role", name)

	ref, err := naming.Decode(name)
	if err != nil {
		logger.Warn("skipping malformed role name", "reason", err)

		return report.Skipped(name, report.ActionCreate, report.KindMalformedName, err)
	}

	logger = logger.With("cluster", ref.Name, "region", ref.Region)
	skip := func(kind report.Kind, err error) report.Outcome {
		logger.Warn("skipping role", "kind", kind, "reason", err)

		return report.Skipped(name, report.ActionCreate, kind, err).WithCluster(ref.Name, ref.Region)
	}
	fail := func(kind report.Kind, err error) report.Outcome {
		logger.Error("could not create role", "kind", kind, "reason", err)

		return report.Failed(name, report.ActionCreate, kind, err).WithCluster(ref.Name, ref.Region)
	}

	if e.catalog != nil {
		if err := e.catalog.Validate(ref.Region); err != nil {
			return skip(report.KindUnknownRegion, err)
		}
	}

	out, err := e.clusters(ref.Region).DescribeCluster(ctx, &eks.DescribeClusterInput{Name: ptr.To(ref.Name)})
	if err != nil {
		return fail(report.KindDescribeCluster, err)
	}

	var issuer string
	if c := out.Cluster; c != nil && c.Identity != nil && c.Identity.Oidc != nil {
		issuer = ptr.StringFromPointer(c.Identity.Oidc.Issuer)
	}

	trust, err := policy.BuildTrustDocument(e.accountID, ref.Region, issuer)
	if err != nil {
		if errors.Is(err, policy.ErrMissingIdentityProvider) {
			return skip(report.KindMissingIdentityProvider, err)
		}

		return fail(report.KindCreateRole, err)
	}

	trustDoc, err := trust.Marshal()
	if err != nil {
		return fail(report.KindCreateRole, err)
	}
	inlineDoc, err := policy.BuildInlinePolicy(e.accountID).Marshal()
	if err != nil {
		return fail(report.KindAttachPolicy, err)
	}

	if e.dryRun {
		logger.Info("would create role")

		return report.Planned(name, report.ActionCreate).WithCluster(ref.Name, ref.Region)
	}

	input := &iam.CreateRoleInput{
		RoleName:                 ptr.To(name),
		AssumeRolePolicyDocument: ptr.To(trustDoc),
		Description:              ptr.To(fmt.Sprintf("Container cost access for EKS cluster %s in %s", ref.Name, ref.Region)),
	}
	if e.tags {
		input.Tags = awsutils.Tags(map[string]string{
			TagCluster:   ref.Name,
			TagRegion:    ref.Region,
			TagManagedBy: e.managedBy,
		})
	}

	_, err = e.iam.CreateRole(ctx, input)
	if err != nil {
		return fail(report.KindCreateRole, err)
	}
	logger.Info("created role")

	_, err = e.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       ptr.To(name),
		PolicyName:     ptr.To(policy.InlinePolicyName),
		PolicyDocument: ptr.To(inlineDoc),
	})
	if err != nil {
		return fail(report.KindAttachPolicy, err)
	}
	logger.Info("attached inline policy", "policy", policy.InlinePolicyName)

	return report.Succeeded(name, report.ActionCreate).WithCluster(ref.Name, ref.Region)
}

func (e *Enforcer) delete(ctx context.Context, name string) report.Outcome {
	logger := slog.FromContext(ctx).With("role", name)

	withRef := func(o report.Outcome) report.Outcome {
		if ref, err := naming.Decode(name); err == nil {
			return o.WithCluster(ref.Name, ref.Region)
		}

		return o
	}
	fail := func(kind report.Kind, err error) report.Outcome {
		logger.Error("could not delete role", "kind", kind, "reason", err)

		return withRef(report.Failed(name, report.ActionDelete, kind, err))
	}

	policies, err := ListRolePolicies(ctx, e.iam, name)
	switch {
	case awsutils.IsNotFound(err):
		logger.Info("role already deleted")

		return withRef(report.Succeeded(name, report.ActionDelete))
	case err != nil:
		return fail(report.KindListPolicies, err)
	}

	if e.dryRun {
		logger.Info("would delete role", "policies", len(policies))

		return withRef(report.Planned(name, report.ActionDelete))
	}

	policyErrors := make(map[string]error)
	for _, p := range policies {
		_, err := e.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   ptr.To(name),
			PolicyName: ptr.To(p),
		})
		switch {
		case err == nil:
			logger.Info("deleted inline policy", "policy", p)
		case awsutils.IsNotFound(err):
			logger.Info("inline policy already deleted", "policy", p)
		default:
			logger.Error("could not delete inline policy", "policy", p, "reason", err)
			policyErrors[p] = err
		}
	}

	_, err = e.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: ptr.To(name)})
	if err != nil && !awsutils.IsNotFound(err) {
		kind := report.KindDeleteRole
		if len(policyErrors) > 0 {
			kind = report.KindDeletePolicy
			err = fmt.Errorf("%d inline policies not deleted (%s): %w",
				len(policyErrors),
				slices.Sorted(maps.Keys(policyErrors)),
				err,
			)
		}

		o := fail(kind, err)
		if len(policyErrors) > 0 {
			o.PolicyErrors = policyErrors
		}

		return o
	}
	logger.Info("deleted role")

	o := withRef(report.Succeeded(name, report.ActionDelete))
	if len(policyErrors) > 0 {
		o.PolicyErrors = policyErrors
	}

	return o
}

// ListRolePolicies returns the names of all inline policies of the role,
// exhausting every page.
func ListRolePolicies(ctx context.Context, client iam.ListRolePoliciesAPIClient, role string) ([]string, error) {
	names := make([]string, 0)
	paginator := iam.NewListRolePoliciesPaginator(client, &iam.ListRolePoliciesInput{RoleName: ptr.To(role)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, page.PolicyNames...)
	}

	return names, nil
}
