// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package inventory lists the managed IAM roles of the account.
package inventory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/nops-io/ccost-roles/pkg/ccost/naming"
	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
	"github.com/nops-io/ccost-roles/pkg/utils/slog"
)

// ListManagedRoles returns the names of all roles with the managed prefix.
// Every page is requested, and an error on any page fails the whole listing,
// since a partial inventory would make existing roles look orphaned.
func ListManagedRoles(ctx context.Context, client iam.ListRolesAPIClient) (sets.Set[string], error) {
	roles := sets.New[string]()
	total := 0
	pages := 0

	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list roles (page %d): %w", pages+1, err)
		}
		pages++

		for _, role := range page.Roles {
			total++
			name := ptr.StringFromPointer(role.RoleName)
			if naming.IsManaged(name) {
				roles.Insert(name)
			}
		}
	}

	slog.FromContext(ctx).Info(
		"listed roles",
		"pages", pages,
		"total", total,
		"managed", roles.Len(),
	)

	return roles, nil
}
