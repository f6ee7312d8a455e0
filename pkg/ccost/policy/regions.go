// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
)

// ErrUnknownRegion is an error, which is returned when a region is not part of
// the region catalog.
var ErrUnknownRegion = errors.New("unknown region")

// DescribeRegionsAPIClient is a client that implements the DescribeRegions
// operation.
type DescribeRegionsAPIClient interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// RegionCatalog is the set of regions known to the account.
type RegionCatalog struct {
	regions sets.Set[string]
}

// NewRegionCatalog returns a [RegionCatalog] with the given regions.
func NewRegionCatalog(regions ...string) *RegionCatalog {
	return &RegionCatalog{regions: sets.New(regions...)}
}

// LoadRegionCatalog returns the [RegionCatalog] of the regions, which are
// enabled for the account.
func LoadRegionCatalog(ctx context.Context, client DescribeRegionsAPIClient) (*RegionCatalog, error) {
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, err
	}

	catalog := NewRegionCatalog()
	for _, region := range out.Regions {
		if name := ptr.StringFromPointer(region.RegionName); name != "" {
			catalog.regions.Insert(name)
		}
	}

	return catalog, nil
}

// Validate returns an error wrapping [ErrUnknownRegion], if the region is not
// in the catalog.
func (c *RegionCatalog) Validate(region string) error {
	if !c.regions.Has(region) {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}

	return nil
}

// Regions returns the regions of the catalog in sorted order.
func (c *RegionCatalog) Regions() []string {
	return sets.List(c.regions)
}
