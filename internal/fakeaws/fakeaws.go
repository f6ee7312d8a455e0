// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package fakeaws provides an in-memory AWS account, which implements the
// subset of the IAM, EKS, EC2, STS and S3 APIs used by the reconciler.
package fakeaws

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
)

// Names of the recorded operations.
const (
	OpListRoles         = "ListRoles"
	OpListRolePolicies  = "ListRolePolicies"
	OpCreateRole        = "CreateRole"
	OpPutRolePolicy     = "PutRolePolicy"
	OpDeleteRolePolicy  = "DeleteRolePolicy"
	OpDeleteRole        = "DeleteRole"
	OpListClusters      = "ListClusters"
	OpDescribeCluster   = "DescribeCluster"
	OpDescribeRegions   = "DescribeRegions"
	OpGetCallerIdentity = "GetCallerIdentity"
	OpHeadBucket        = "HeadBucket"
)

// Call is a recorded API call.
type Call struct {
	Op     string
	Target string
}

// Role is a role in the fake account.
type Role struct {
	Name             string
	AssumeRolePolicy string
	Description      string
	Tags             map[string]string
	Policies         map[string]string
}

// Account is an in-memory AWS account. It is safe for concurrent use.
type Account struct {
	mu sync.Mutex

	id       string
	regions  []string
	clusters map[string]map[string]string
	roles    map[string]*Role
	buckets  map[string]bool
	failures map[Call]error
	calls    []Call

	// PageSize is the number of items returned per page by the list
	// operations.
	PageSize int
}

// New returns an empty [Account] with the given id and enabled regions.
func New(id string, regions ...string) *Account {
	return &Account{
		id:       id,
		regions:  regions,
		clusters: make(map[string]map[string]string),
		roles:    make(map[string]*Role),
		buckets:  make(map[string]bool),
		failures: make(map[Call]error),
		PageSize: 2,
	}
}

// APIError returns a client-side [smithy.APIError] with the given code.
func APIError(code string) error {
	return &smithy.GenericAPIError{
		Code:    code,
		Message: "injected failure",
		Fault:   smithy.FaultClient,
	}
}

// AddCluster adds a cluster to the given region. An empty issuer adds a
// cluster without an OIDC identity provider.
func (a *Account) AddCluster(region, name, issuer string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.clusters[region] == nil {
		a.clusters[region] = make(map[string]string)
	}
	a.clusters[region][name] = issuer
}

// RemoveCluster removes a cluster from the given region.
func (a *Account) RemoveCluster(region, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.clusters[region], name)
}

// AddRole adds a role with the given inline policy names.
func (a *Account) AddRole(name string, policies ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	role := &Role{Name: name, Policies: make(map[string]string)}
	for _, p := range policies {
		role.Policies[p] = "{}"
	}
	a.roles[name] = role
}

// AddBucket adds a bucket to the account.
func (a *Account) AddBucket(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buckets[name] = true
}

// FailOn makes the operation op on target fail with err. The target is a role
// name, a region for ListClusters, a cluster name for DescribeCluster,
// "<role>/<policy>" for DeleteRolePolicy and the page marker for ListRoles,
// which is empty for the first page. Other account-wide operations use an
// empty target.
func (a *Account) FailOn(op, target string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failures[Call{Op: op, Target: target}] = err
}

// Role returns a copy of the role with the given name.
func (a *Account) Role(name string) (Role, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.roles[name]
	if !ok {
		return Role{}, false
	}

	out := *r
	out.Policies = maps.Clone(r.Policies)
	out.Tags = maps.Clone(r.Tags)

	return out, true
}

// RoleNames returns the names of all roles in sorted order.
func (a *Account) RoleNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Sorted(maps.Keys(a.roles))
}

// Calls returns the targets of the recorded calls of the given operation in
// the order they were made.
func (a *Account) Calls(op string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	targets := make([]string, 0)
	for _, c := range a.calls {
		if c.Op == op {
			targets = append(targets, c.Target)
		}
	}

	return targets
}

// AllCalls returns every recorded call in the order they were made.
func (a *Account) AllCalls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()

	return slices.Clone(a.calls)
}

// ResetCalls forgets the recorded calls.
func (a *Account) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = nil
}

// record records the call and returns the injected failure, if any. Callers
// must hold the lock.
func (a *Account) record(op, target string) error {
	c := Call{Op: op, Target: target}
	a.calls = append(a.calls, c)

	return a.failures[c]
}

// page returns the page of items starting at the given marker and the marker
// of the next page, if any.
func page[T any](items []T, marker *string, size int) ([]T, *string) {
	start := 0
	if marker != nil {
		start, _ = strconv.Atoi(*marker)
	}
	if start > len(items) {
		start = len(items)
	}

	end := len(items)
	if size > 0 && start+size < end {
		end = start + size
	}

	if end < len(items) {
		return items[start:end], ptr.To(strconv.Itoa(end))
	}

	return items[start:end], nil
}

// IAM returns the IAM API of the account.
func (a *Account) IAM() *IAM {
	return &IAM{account: a}
}

// EKS returns the EKS API of the account in the given region.
func (a *Account) EKS(region string) *EKS {
	return &EKS{account: a, region: region}
}

// EC2 returns the EC2 API of the account.
func (a *Account) EC2() *EC2 {
	return &EC2{account: a}
}

// STS returns the STS API of the account.
func (a *Account) STS() *STS {
	return &STS{account: a}
}

// S3 returns the S3 API of the account.
func (a *Account) S3() *S3 {
	return &S3{account: a}
}

// IAM implements the IAM role operations.
type IAM struct {
	account *Account
}

// ListRoles implements [iam.ListRolesAPIClient].
func (c *IAM) ListRoles(_ context.Context, params *iam.ListRolesInput, _ ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(OpListRoles, ptr.StringFromPointer(params.Marker)); err != nil {
		return nil, err
	}

	names := slices.Sorted(maps.Keys(a.roles))
	items, next := page(names, params.Marker, a.PageSize)
	out := &iam.ListRolesOutput{
		IsTruncated: next != nil,
		Marker:      next,
	}
	for _, name := range items {
		out.Roles = append(out.Roles, iamtypes.Role{RoleName: ptr.To(name)})
	}

	return out, nil
}

// ListRolePolicies implements [iam.ListRolePoliciesAPIClient].
func (c *IAM) ListRolePolicies(_ context.Context, params *iam.ListRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.RoleName)
	if err := a.record(OpListRolePolicies, name); err != nil {
		return nil, err
	}

	role, ok := a.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: ptr.To("role not found: " + name)}
	}

	names := slices.Sorted(maps.Keys(role.Policies))
	items, next := page(names, params.Marker, a.PageSize)

	return &iam.ListRolePoliciesOutput{
		PolicyNames: items,
		IsTruncated: next != nil,
		Marker:      next,
	}, nil
}

// CreateRole creates a new role.
func (c *IAM) CreateRole(_ context.Context, params *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.RoleName)
	if err := a.record(OpCreateRole, name); err != nil {
		return nil, err
	}
	if _, ok := a.roles[name]; ok {
		return nil, &iamtypes.EntityAlreadyExistsException{Message: ptr.To("role exists: " + name)}
	}

	role := &Role{
		Name:             name,
		AssumeRolePolicy: ptr.StringFromPointer(params.AssumeRolePolicyDocument),
		Description:      ptr.StringFromPointer(params.Description),
		Tags:             make(map[string]string),
		Policies:         make(map[string]string),
	}
	for _, tag := range params.Tags {
		role.Tags[ptr.StringFromPointer(tag.Key)] = ptr.StringFromPointer(tag.Value)
	}
	a.roles[name] = role

	return &iam.CreateRoleOutput{
		Role: &iamtypes.Role{
			RoleName: ptr.To(name),
			Arn:      ptr.To(fmt.Sprintf("arn:aws:iam::%s:role/%s", a.id, name)),
		},
	}, nil
}

// PutRolePolicy puts an inline policy on a role.
func (c *IAM) PutRolePolicy(_ context.Context, params *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.RoleName)
	if err := a.record(OpPutRolePolicy, name); err != nil {
		return nil, err
	}

	role, ok := a.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: ptr.To("role not found: " + name)}
	}
	role.Policies[ptr.StringFromPointer(params.PolicyName)] = ptr.StringFromPointer(params.PolicyDocument)

	return &iam.PutRolePolicyOutput{}, nil
}

// DeleteRolePolicy deletes an inline policy of a role.
func (c *IAM) DeleteRolePolicy(_ context.Context, params *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.RoleName)
	policy := ptr.StringFromPointer(params.PolicyName)
	if err := a.record(OpDeleteRolePolicy, name+"/"+policy); err != nil {
		return nil, err
	}

	role, ok := a.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: ptr.To("role not found: " + name)}
	}
	if _, ok := role.Policies[policy]; !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: ptr.To("policy not found: " + policy)}
	}
	delete(role.Policies, policy)

	return &iam.DeleteRolePolicyOutput{}, nil
}

// DeleteRole deletes a role. Like the real API it refuses to delete a role,
// which still has inline policies.
func (c *IAM) DeleteRole(_ context.Context, params *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.RoleName)
	if err := a.record(OpDeleteRole, name); err != nil {
		return nil, err
	}

	role, ok := a.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: ptr.To("role not found: " + name)}
	}
	if len(role.Policies) > 0 {
		return nil, &iamtypes.DeleteConflictException{Message: ptr.To("role has inline policies: " + name)}
	}
	delete(a.roles, name)

	return &iam.DeleteRoleOutput{}, nil
}

// EKS implements the EKS cluster operations of a single region.
type EKS struct {
	account *Account
	region  string
}

// ListClusters implements [eks.ListClustersAPIClient].
func (c *EKS) ListClusters(_ context.Context, params *eks.ListClustersInput, _ ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(OpListClusters, c.region); err != nil {
		return nil, err
	}

	names := slices.Sorted(maps.Keys(a.clusters[c.region]))
	items, next := page(names, params.NextToken, a.PageSize)

	return &eks.ListClustersOutput{Clusters: items, NextToken: next}, nil
}

// DescribeCluster implements [eks.DescribeClusterAPIClient].
func (c *EKS) DescribeCluster(_ context.Context, params *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.Name)
	if err := a.record(OpDescribeCluster, name); err != nil {
		return nil, err
	}

	issuer, ok := a.clusters[c.region][name]
	if !ok {
		return nil, &ekstypes.ResourceNotFoundException{Message: ptr.To("cluster not found: " + name)}
	}

	cluster := &ekstypes.Cluster{
		Name:     ptr.To(name),
		Identity: &ekstypes.Identity{},
	}
	if issuer != "" {
		cluster.Identity.Oidc = &ekstypes.OIDC{Issuer: ptr.To(issuer)}
	}

	return &eks.DescribeClusterOutput{Cluster: cluster}, nil
}

// EC2 implements the region catalog operation.
type EC2 struct {
	account *Account
}

// DescribeRegions returns the enabled regions of the account.
func (c *EC2) DescribeRegions(_ context.Context, _ *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(OpDescribeRegions, ""); err != nil {
		return nil, err
	}

	out := &ec2.DescribeRegionsOutput{}
	for _, r := range a.regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: ptr.To(r)})
	}

	return out, nil
}

// STS implements the caller identity operation.
type STS struct {
	account *Account
}

// GetCallerIdentity returns the account id.
func (c *STS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(OpGetCallerIdentity, ""); err != nil {
		return nil, err
	}

	return &sts.GetCallerIdentityOutput{
		Account: ptr.To(a.id),
		Arn:     ptr.To(fmt.Sprintf("arn:aws:iam::%s:user/test", a.id)),
		UserId:  ptr.To("AIDATEST"),
	}, nil
}

// S3 implements the bucket check operation.
type S3 struct {
	account *Account
}

// HeadBucket returns [s3types.NotFound] for unknown buckets.
func (c *S3) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	a := c.account
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ptr.StringFromPointer(params.Bucket)
	if err := a.record(OpHeadBucket, name); err != nil {
		return nil, err
	}
	if !a.buckets[name] {
		return nil, &s3types.NotFound{Message: ptr.To("bucket not found")}
	}

	return &s3.HeadBucketOutput{}, nil
}
