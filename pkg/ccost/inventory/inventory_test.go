// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/nops-io/ccost-roles/internal/fakeaws"
	"github.com/nops-io/ccost-roles/pkg/ccost/inventory"
)

func TestListManagedRoles(t *testing.T) {
	account := fakeaws.New("123456789012")
	account.AddRole("admin")
	account.AddRole("nops-ccost-a_us-east-1", "S3Policy")
	account.AddRole("nops-ccost-malformed")
	account.AddRole("nops-other")
	account.AddRole("nops-ccost-b_eu-west-1")
	account.AddRole("zz-last")

	got, err := inventory.ListManagedRoles(context.Background(), account.IAM())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	want := []string{
		"nops-ccost-a_us-east-1",
		"nops-ccost-b_eu-west-1",
		"nops-ccost-malformed",
	}
	if diff := cmp.Diff(want, sets.List(got)); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}

	// Six roles with two roles per page.
	if n := len(account.Calls(fakeaws.OpListRoles)); n != 3 {
		t.Fatalf("want 3 pages, got %d", n)
	}
}

func TestListManagedRolesPageFailure(t *testing.T) {
	testCases := []struct {
		desc   string
		marker string
	}{
		{desc: "first page", marker: ""},
		{desc: "second page", marker: "2"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			account := fakeaws.New("123456789012")
			account.AddRole("nops-ccost-a_us-east-1")
			account.AddRole("nops-ccost-b_us-east-1")
			account.AddRole("nops-ccost-c_us-east-1")

			wantErr := fakeaws.APIError("ServiceFailure")
			account.FailOn(fakeaws.OpListRoles, tc.marker, wantErr)

			got, err := inventory.ListManagedRoles(context.Background(), account.IAM())
			if !errors.Is(err, wantErr) {
				t.Fatalf("want %v, got %v", wantErr, err)
			}
			if got != nil {
				t.Fatalf("want no partial inventory, got %v", sets.List(got))
			}
		})
	}
}
