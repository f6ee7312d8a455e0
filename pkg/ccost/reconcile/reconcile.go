// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package reconcile runs a single reconciliation pass, which converges the
// managed IAM roles of an account towards the EKS clusters of the configured
// regions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	awsutils "github.com/nops-io/ccost-roles/pkg/aws/utils"
	"github.com/nops-io/ccost-roles/pkg/ccost/discovery"
	"github.com/nops-io/ccost-roles/pkg/ccost/enforcer"
	"github.com/nops-io/ccost-roles/pkg/ccost/inventory"
	"github.com/nops-io/ccost-roles/pkg/ccost/naming"
	"github.com/nops-io/ccost-roles/pkg/ccost/plan"
	"github.com/nops-io/ccost-roles/pkg/ccost/policy"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
	"github.com/nops-io/ccost-roles/pkg/metrics"
	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
	"github.com/nops-io/ccost-roles/pkg/utils/slog"
)

// ErrNoRegions is an error, which is returned when neither regions nor a home
// region were configured.
var ErrNoRegions = errors.New("no regions configured")

// ErrNoAccountID is an error, which is returned when the account id could not
// be determined.
var ErrNoAccountID = errors.New("no account id")

// ErrInventory is an error, which is returned when the existing roles could not
// be listed.
var ErrInventory = errors.New("role inventory failed")

// ErrRegionUnavailable is an error, which is returned for orphaned roles of a
// region, whose clusters could not be listed.
var ErrRegionUnavailable = errors.New("clusters of region could not be listed")

// CallerIdentityAPIClient is a client that implements the GetCallerIdentity
// operation.
type CallerIdentityAPIClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMAPI is the subset of the IAM API used by a reconciliation pass.
type IAMAPI interface {
	iam.ListRolesAPIClient
	enforcer.RoleAPI
}

// EKSAPI is the subset of the EKS API used by a reconciliation pass.
type EKSAPI interface {
	eks.ListClustersAPIClient
	eks.DescribeClusterAPIClient
}

// Clients provides the API clients of a reconciliation pass.
type Clients struct {
	STS CallerIdentityAPIClient
	IAM IAMAPI
	EC2 policy.DescribeRegionsAPIClient

	// S3 is used to check that the per-account bucket exists. It may be
	// nil, in which case the check is skipped.
	S3 s3.HeadBucketAPIClient

	// EKS returns the client for the given region.
	EKS func(region string) EKSAPI
}

// Options configures a reconciliation pass.
type Options struct {
	// HomeRegion is the region the reconciler runs in. It is the
	// region scanned when Regions is empty.
	HomeRegion string

	// Regions are the regions to scan for clusters.
	Regions []string

	// AccountID is the account used in the constructed ARNs. When empty
	// it is resolved from the caller identity.
	AccountID string

	// Concurrency is the number of regions and roles processed in
	// parallel.
	Concurrency int

	// DryRun reports the planned actions without mutating any role.
	DryRun bool

	// CheckBucket enables the check for the per-account bucket.
	CheckBucket bool

	// ManagedBy is the value of the managed-by tag of created roles.
	ManagedBy string

	// DisableTags creates roles without tags, for callers lacking the
	// iam:TagRole permission.
	DisableTags bool

	// HoldUnavailableRegions keeps the roles of regions, whose clusters
	// could not be listed, instead of deleting them. By default such roles
	// are deleted like any other role without a discovered cluster.
	HoldUnavailableRegions bool
}

// ScanRegions returns the regions to scan.
func (o Options) ScanRegions() []string {
	regions := make([]string, 0, len(o.Regions))
	for _, r := range o.Regions {
		if r != "" {
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 && o.HomeRegion != "" {
		regions = append(regions, o.HomeRegion)
	}

	return sets.List(sets.New(regions...))
}

// Run performs a single reconciliation pass. Failures of single regions or
// roles are recorded in the returned report. An error is returned only when
// no region is configured, the account id cannot be resolved or the existing
// roles cannot be listed, in which case no role is touched.
func Run(ctx context.Context, opts Options, clients Clients) (*report.Report, error) {
	r, err := run(ctx, opts, clients)
	if err != nil {
		metrics.ObserveError(opts.DryRun)

		return nil, err
	}

	metrics.Observe(r)

	return r, nil
}

func run(ctx context.Context, opts Options, clients Clients) (*report.Report, error) {
	r := &report.Report{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
		Regions:   opts.ScanRegions(),
	}

	logger := slog.FromContext(ctx).With("run_id", r.RunID)
	ctx = slog.WithLogger(ctx, logger)

	if len(r.Regions) == 0 {
		return nil, ErrNoRegions
	}

	accountID, err := resolveAccountID(ctx, opts.AccountID, clients.STS)
	if err != nil {
		return nil, err
	}
	r.AccountID = accountID

	logger.Info(
		"starting reconciliation",
		"account_id", accountID,
		"regions", r.Regions,
		"dry_run", opts.DryRun,
	)

	var (
		found  discovery.Result
		actual sets.Set[string]
		g      errgroup.Group
	)
	g.Go(func() error {
		clusters := func(region string) eks.ListClustersAPIClient {
			return clients.EKS(region)
		}
		found = discovery.Discover(ctx, r.Regions, clusters, opts.Concurrency)

		return nil
	})
	g.Go(func() error {
		roles, err := inventory.ListManagedRoles(ctx, clients.IAM)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInventory, err)
		}
		actual = roles

		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("could not list existing roles", "reason", err)

		return nil, err
	}

	p := plan.Diff(found.Desired, actual)
	r.Desired = sets.List(found.Desired)
	r.Actual = sets.List(actual)
	r.Unchanged = sets.List(p.Unchanged)
	r.RegionOutcomes = found.Regions
	r.Add(found.Rejected...)

	logger.Info(
		"computed plan",
		"desired", p.ToCreate.Len()+p.Unchanged.Len(),
		"actual", p.ToDelete.Len()+p.Unchanged.Len(),
		"create", p.ToCreate.Len(),
		"delete", p.ToDelete.Len(),
		"unchanged", p.Unchanged.Len(),
	)

	if opts.CheckBucket && clients.S3 != nil {
		checkBucket(ctx, clients.S3, accountID)
	}

	enforcerOpts := []enforcer.Option{
		enforcer.WithConcurrency(opts.Concurrency),
		enforcer.WithDryRun(opts.DryRun),
		enforcer.WithManagedBy(opts.ManagedBy),
		enforcer.WithTags(!opts.DisableTags),
	}

	creates := p.Creates()
	var catalogErr error
	if len(creates) > 0 {
		catalog, err := policy.LoadRegionCatalog(ctx, clients.EC2)
		if err != nil {
			logger.Error("could not load region catalog", "reason", err)
			catalogErr = err
		} else {
			enforcerOpts = append(enforcerOpts, enforcer.WithRegionCatalog(catalog))
		}
	}

	describe := func(region string) eks.DescribeClusterAPIClient {
		return clients.EKS(region)
	}
	e := enforcer.New(clients.IAM, describe, accountID, enforcerOpts...)

	deletes := p.Deletes()
	if opts.HoldUnavailableRegions {
		var held []report.Outcome
		deletes, held = holdDeletes(deletes, found.Regions)
		for _, o := range held {
			logger.Warn("keeping role of unavailable region", "role", o.Role, "region", o.Region)
		}
		r.Add(held...)
	}

	var (
		createOutcomes []report.Outcome
		deleteOutcomes []report.Outcome
		eg             errgroup.Group
	)
	eg.Go(func() error {
		if catalogErr != nil {
			createOutcomes = catalogFailures(creates, found.Clusters, catalogErr)

			return nil
		}
		createOutcomes = e.Create(ctx, creates)

		return nil
	})
	eg.Go(func() error {
		deleteOutcomes = e.Delete(ctx, deletes)

		return nil
	})
	_ = eg.Wait()

	r.Add(createOutcomes...)
	r.Add(deleteOutcomes...)
	r.Sort()
	r.FinishedAt = time.Now()

	s := r.Summary()
	logger.Info(
		"reconciliation finished",
		"created", s.Created,
		"deleted", s.Deleted,
		"planned", s.Planned,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"regions_failed", s.RegionsFailed,
		"duration", r.FinishedAt.Sub(r.StartedAt),
	)

	return r, nil
}

// resolveAccountID returns the given account id, or the account id of the
// caller identity if empty.
func resolveAccountID(ctx context.Context, accountID string, client CallerIdentityAPIClient) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	if client == nil {
		return "", ErrNoAccountID
	}

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAccountID, err)
	}

	accountID = ptr.StringFromPointer(out.Account)
	if accountID == "" {
		return "", ErrNoAccountID
	}

	return accountID, nil
}

// checkBucket logs a warning, if the per-account bucket does not exist. The
// roles are still reconciled, since the bucket may be created later.
func checkBucket(ctx context.Context, client s3.HeadBucketAPIClient, accountID string) {
	logger := slog.FromContext(ctx)
	bucket := policy.BucketName(accountID)

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: ptr.To(bucket)})
	switch {
	case err == nil:
		logger.Debug("bucket exists", "bucket", bucket)
	case awsutils.IsNotFound(err):
		logger.Warn("bucket does not exist", "bucket", bucket)
	default:
		logger.Warn("could not check bucket", "bucket", bucket, "reason", err)
	}
}

// catalogFailures returns a failed outcome for each role to create.
func catalogFailures(names []string, clusters map[string]naming.ClusterRef, err error) []report.Outcome {
	outcomes := make([]report.Outcome, 0, len(names))
	for _, name := range names {
		o := report.Failed(name, report.ActionCreate, report.KindRegionCatalog, err)
		if ref, ok := clusters[name]; ok {
			o = o.WithCluster(ref.Name, ref.Region)
		}
		outcomes = append(outcomes, o)
	}

	return outcomes
}

// holdDeletes splits the roles to delete into the roles, which may be deleted,
// and skipped outcomes for the roles of regions, whose clusters could not be
// listed. Such roles only look orphaned.
func holdDeletes(names []string, regions []report.RegionOutcome) ([]string, []report.Outcome) {
	failed := sets.New[string]()
	for _, ro := range regions {
		if ro.Err != nil {
			failed.Insert(ro.Region)
		}
	}

	deletes := make([]string, 0, len(names))
	held := make([]report.Outcome, 0)
	for _, name := range names {
		ref, err := naming.Decode(name)
		if err != nil || !failed.Has(ref.Region) {
			deletes = append(deletes, name)

			continue
		}

		err = fmt.Errorf("%w: %s", ErrRegionUnavailable, ref.Region)
		o := report.Skipped(name, report.ActionDelete, report.KindDiscovery, err).
			WithCluster(ref.Name, ref.Region)
		held = append(held, o)
	}

	return deletes, held
}
