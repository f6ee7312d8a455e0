// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
)

// FetchTag returns the value of the AWS tag with the key s or an empty string if the tag is not found.
func FetchTag(tags []types.Tag, key string) string {
	for _, t := range tags {
		if t.Key == nil {
			continue
		}
		if *t.Key == key {
			return ptr.StringFromPointer(t.Value)
		}
	}

	return ""
}

// Tags converts the given key/value pairs into IAM tags, ordered by key.
func Tags(m map[string]string) []types.Tag {
	tags := make([]types.Tag, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		tags = append(tags, types.Tag{Key: ptr.To(k), Value: ptr.To(m[k])})
	}

	return tags
}
