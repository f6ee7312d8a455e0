// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package naming encodes and decodes the names of the managed IAM roles.
//
// A managed role name has the form
//
//	nops-ccost-<cluster>_<region>
//
// and is the only key correlating an IAM role to an EKS cluster. Decoding
// splits on the last separator, so cluster names may contain the separator
// while region identifiers must not.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// Prefix is the prefix of every managed role name.
	Prefix = "nops-ccost-"

	// Separator separates the cluster name from the region.
	Separator = "_"

	// MaxLength is the max length of an IAM role name.
	MaxLength = 64
)

// ErrMalformedName is returned when a role name does not follow the managed
// role name grammar.
var ErrMalformedName = errors.New("malformed role name")

// ErrAmbiguousName is returned when a region contains the separator, which
// would make the encoded name decode to a different cluster and region.
var ErrAmbiguousName = errors.New("ambiguous role name")

// ErrEmptyComponent is returned when encoding an empty cluster name or region.
var ErrEmptyComponent = errors.New("empty cluster name or region")

// ErrNameTooLong is returned when the encoded name exceeds [MaxLength].
var ErrNameTooLong = errors.New("role name too long")

// pattern is greedy on the cluster group, i.e. splits on the last separator.
var pattern = regexp.MustCompile(`^` + regexp.QuoteMeta(Prefix) + `(.+)` + Separator + `(.+)$`)

// ClusterRef identifies an EKS cluster within a region.
type ClusterRef struct {
	Name   string
	Region string
}

// String implements the [fmt.Stringer] interface.
func (c ClusterRef) String() string {
	return c.Region + "/" + c.Name
}

// Encode returns the managed role name for the given cluster and region.
func Encode(cluster, region string) (string, error) {
	if cluster == "" || region == "" {
		return "", fmt.Errorf("%w: cluster=%q region=%q", ErrEmptyComponent, cluster, region)
	}

	if strings.Contains(region, Separator) {
		return "", fmt.Errorf("%w: region %q contains %q", ErrAmbiguousName, region, Separator)
	}

	name := Prefix + cluster + Separator + region
	if len(name) > MaxLength {
		return "", fmt.Errorf("%w: %s (%d > %d)", ErrNameTooLong, name, len(name), MaxLength)
	}

	return name, nil
}

// Decode returns the cluster reference encoded in the given role name.
func Decode(name string) (ClusterRef, error) {
	match := pattern.FindStringSubmatch(name)
	if match == nil {
		return ClusterRef{}, fmt.Errorf("%w: %s", ErrMalformedName, name)
	}

	ref := ClusterRef{
		Name:   match[1],
		Region: match[2],
	}

	return ref, nil
}

// IsManaged returns true, if the given role name is within the managed
// naming namespace.
func IsManaged(name string) bool {
	return strings.HasPrefix(name, Prefix)
}
