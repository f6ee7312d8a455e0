// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package discovery lists the EKS clusters of the configured regions and
// derives the desired set of managed role names from them.
package discovery

import (
	"context"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/nops-io/ccost-roles/pkg/ccost/naming"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
	"github.com/nops-io/ccost-roles/pkg/utils/slog"
)

// ClientFunc returns the EKS client for the given region.
type ClientFunc func(region string) eks.ListClustersAPIClient

// Result is the result of discovering the clusters of all regions.
type Result struct {
	// Desired is the set of role names for the discovered clusters.
	Desired sets.Set[string]

	// Clusters maps each desired role name to its cluster.
	Clusters map[string]naming.ClusterRef

	// Regions provides the outcome of each region, in the order the
	// regions were given.
	Regions []report.RegionOutcome

	// Rejected provides the clusters, for which no role name could be
	// derived.
	Rejected []report.Outcome
}

type regionResult struct {
	clusters []string
	err      error
}

// Discover lists the clusters of the given regions using at most concurrency
// parallel region scans. Regions are deduplicated. A failure to list the
// clusters of a region is recorded in the result and does not affect other
// regions.
func Discover(ctx context.Context, regions []string, clients ClientFunc, concurrency int) Result {
	regions = sets.List(sets.New(regions...))
	results := make([]regionResult, len(regions))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, region := range regions {
		g.Go(func() error {
			clusters, err := ListClusters(ctx, clients(region))
			results[i] = regionResult{clusters: clusters, err: err}

			return nil
		})
	}
	_ = g.Wait()

	logger := slog.FromContext(ctx)
	result := Result{
		Desired:  sets.New[string](),
		Clusters: make(map[string]naming.ClusterRef),
		Regions:  make([]report.RegionOutcome, 0, len(regions)),
		Rejected: make([]report.Outcome, 0),
	}
	for i, region := range regions {
		rr := results[i]
		if rr.err != nil {
			logger.Error(
				"could not list clusters",
				"region", region,
				"reason", rr.err,
			)
			result.Regions = append(result.Regions, report.RegionOutcome{Region: region, Err: rr.err})

			continue
		}

		result.Regions = append(result.Regions, report.RegionOutcome{Region: region, Clusters: len(rr.clusters)})
		for _, cluster := range rr.clusters {
			name, err := naming.Encode(cluster, region)
			if err != nil {
				logger.Warn(
					"skipping cluster with invalid role name",
					"cluster", cluster,
					"region", region,
					"reason", err,
				)
				raw := naming.Prefix + cluster + naming.Separator + region
				item := report.Skipped(raw, report.ActionCreate, report.KindInvalidName, err).
					WithCluster(cluster, region)
				result.Rejected = append(result.Rejected, item)

				continue
			}

			result.Desired.Insert(name)
			result.Clusters[name] = naming.ClusterRef{Name: cluster, Region: region}
		}

		logger.Info("discovered clusters", "region", region, "count", len(rr.clusters))
	}

	return result
}

// ListClusters returns the names of all clusters, exhausting every page.
func ListClusters(ctx context.Context, client eks.ListClustersAPIClient) ([]string, error) {
	clusters := make([]string, 0)
	paginator := eks.NewListClustersPaginator(client, &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, page.Clusters...)
	}

	slices.Sort(clusters)

	return slices.Compact(clusters), nil
}
