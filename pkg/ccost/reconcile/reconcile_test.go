// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nops-io/ccost-roles/internal/fakeaws"
	"github.com/nops-io/ccost-roles/pkg/ccost/policy"
	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/ccost/report"
)

const accountID = "123456789012"

var enabledRegions = []string{"us-east-1", "us-west-2", "eu-west-1"}

func issuer(region, id string) string {
	return "https://oidc.eks." + region + ".amazonaws.com/id/" + id
}

func clientsFor(account *fakeaws.Account) reconcile.Clients {
	return reconcile.Clients{
		STS: account.STS(),
		IAM: account.IAM(),
		EC2: account.EC2(),
		S3:  account.S3(),
		EKS: func(region string) reconcile.EKSAPI {
			return account.EKS(region)
		},
	}
}

func run(t *testing.T, account *fakeaws.Account, opts reconcile.Options) *report.Report {
	t.Helper()

	r, err := reconcile.Run(context.Background(), opts, clientsFor(account))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	return r
}

func statuses(r *report.Report) map[string]report.Status {
	m := make(map[string]report.Status, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Role] = o.Status
	}

	return m
}

func TestRunCreatesRole(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}})

	want := map[string]report.Status{"nops-ccost-A_us-east-1": report.StatusCreated}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if r.AccountID != accountID {
		t.Fatalf("want account id %s, got %s", accountID, r.AccountID)
	}
	if r.RunID == "" {
		t.Fatal("run id is empty")
	}

	role, ok := account.Role("nops-ccost-A_us-east-1")
	if !ok {
		t.Fatal("role was not created")
	}
	if !strings.Contains(role.AssumeRolePolicy, "oidc.eks.us-east-1.amazonaws.com/id/AAAA:sub") {
		t.Fatalf("unexpected trust document %s", role.AssumeRolePolicy)
	}
	if _, ok := role.Policies[policy.InlinePolicyName]; !ok {
		t.Fatalf("inline policy was not attached: %v", role.Policies)
	}
}

func TestRunDeletesOrphanedRole(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddRole("nops-ccost-B_us-west-2", "S3Policy")
	account.AddRole("unmanaged-role", "Other")

	r := run(t, account, reconcile.Options{Regions: []string{"us-west-2"}})

	want := map[string]report.Status{"nops-ccost-B_us-west-2": report.StatusDeleted}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"unmanaged-role"}, account.RoleNames()); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}

	var ops []string
	for _, c := range account.AllCalls() {
		if c.Op == fakeaws.OpDeleteRolePolicy || c.Op == fakeaws.OpDeleteRole {
			ops = append(ops, c.Op)
		}
	}
	if diff := cmp.Diff([]string{fakeaws.OpDeleteRolePolicy, fakeaws.OpDeleteRole}, ops); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}

	// The region catalog is only needed for creates.
	if calls := account.Calls(fakeaws.OpDescribeRegions); len(calls) != 0 {
		t.Fatalf("want no region catalog calls, got %d", len(calls))
	}
}

func TestRunSkipsClusterWithoutIdentityProvider(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("eu-west-1", "C", "")

	r := run(t, account, reconcile.Options{Regions: []string{"eu-west-1"}})

	if diff := cmp.Diff([]string{"nops-ccost-C_eu-west-1"}, r.Desired); diff != "" {
		t.Fatalf("desired mismatch (-want +got):\n%s", diff)
	}
	o := r.Outcomes[0]
	if o.Status != report.StatusSkipped || o.Kind != report.KindMissingIdentityProvider {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if calls := account.Calls(fakeaws.OpCreateRole); len(calls) != 0 {
		t.Fatalf("want no create calls, got %v", calls)
	}
	if !r.Degraded() {
		t.Fatal("want degraded report")
	}
}

func TestRunDeletesMalformedRole(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddRole("nops-ccost-malformed", "S3Policy")

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}})

	want := map[string]report.Status{"nops-ccost-malformed": report.StatusDeleted}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if names := account.RoleNames(); len(names) != 0 {
		t.Fatalf("want no roles, got %v", names)
	}
}

func TestRunRegionFailure(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
	account.AddCluster("eu-west-1", "E", issuer("eu-west-1", "EEEE"))
	account.AddRole("nops-ccost-E_eu-west-1", "S3Policy")
	account.FailOn(fakeaws.OpListClusters, "eu-west-1", fakeaws.APIError("ThrottlingException"))

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1", "eu-west-1"}})

	if diff := cmp.Diff([]string{"nops-ccost-A_us-east-1"}, r.Desired); diff != "" {
		t.Fatalf("desired mismatch (-want +got):\n%s", diff)
	}
	if got := r.Summary().RegionsFailed; got != 1 {
		t.Fatalf("want 1 failed region, got %d", got)
	}

	// The failed region contributes no clusters, so its role is orphaned.
	want := map[string]report.Status{
		"nops-ccost-A_us-east-1": report.StatusCreated,
		"nops-ccost-E_eu-west-1": report.StatusDeleted,
	}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if _, ok := account.Role("nops-ccost-E_eu-west-1"); ok {
		t.Fatal("orphaned role was not deleted")
	}
	if calls := account.Calls(fakeaws.OpDeleteRole); len(calls) != 1 {
		t.Fatalf("want 1 delete call, got %v", calls)
	}
	if !r.Degraded() {
		t.Fatal("want degraded report")
	}
}

func TestRunHoldUnavailableRegions(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
	account.AddRole("nops-ccost-E_eu-west-1", "S3Policy")
	account.AddRole("nops-ccost-old_us-east-1", "S3Policy")
	account.FailOn(fakeaws.OpListClusters, "eu-west-1", fakeaws.APIError("ThrottlingException"))

	r := run(t, account, reconcile.Options{
		Regions:                []string{"us-east-1", "eu-west-1"},
		HoldUnavailableRegions: true,
	})

	want := map[string]report.Status{
		"nops-ccost-A_us-east-1":   report.StatusCreated,
		"nops-ccost-E_eu-west-1":   report.StatusSkipped,
		"nops-ccost-old_us-east-1": report.StatusDeleted,
	}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}

	for _, o := range r.Outcomes {
		if o.Role != "nops-ccost-E_eu-west-1" {
			continue
		}
		if o.Kind != report.KindDiscovery || !errors.Is(o.Err, reconcile.ErrRegionUnavailable) {
			t.Fatalf("unexpected outcome %+v", o)
		}
	}
	if _, ok := account.Role("nops-ccost-E_eu-west-1"); !ok {
		t.Fatal("role of unavailable region was deleted")
	}
}

func TestRunDisableTags(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}, DisableTags: true})
	if s := r.Summary(); s.Created != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}

	role, ok := account.Role("nops-ccost-A_us-east-1")
	if !ok {
		t.Fatal("role was not created")
	}
	if len(role.Tags) != 0 {
		t.Fatalf("want no tags, got %v", role.Tags)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
	account.AddCluster("us-west-2", "B", issuer("us-west-2", "BBBB"))
	account.AddRole("nops-ccost-old_us-east-1", "S3Policy")
	opts := reconcile.Options{Regions: []string{"us-east-1", "us-west-2"}, Concurrency: 2}

	first := run(t, account, opts)
	if s := first.Summary(); s.Created != 2 || s.Deleted != 1 {
		t.Fatalf("unexpected first run summary %+v", s)
	}

	account.ResetCalls()
	second := run(t, account, opts)
	if len(second.Outcomes) != 0 {
		t.Fatalf("want no actions on second run, got %+v", second.Outcomes)
	}
	if diff := cmp.Diff(second.Desired, second.Unchanged); diff != "" {
		t.Fatalf("unchanged mismatch (-want +got):\n%s", diff)
	}
	for _, op := range []string{fakeaws.OpCreateRole, fakeaws.OpPutRolePolicy, fakeaws.OpDeleteRolePolicy, fakeaws.OpDeleteRole} {
		if calls := account.Calls(op); len(calls) != 0 {
			t.Fatalf("want no %s calls on second run, got %v", op, calls)
		}
	}
}

func TestRunIsolation(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "X", issuer("us-east-1", "XXXX"))
	account.AddCluster("us-east-1", "Y", issuer("us-east-1", "YYYY"))
	account.AddRole("nops-ccost-old_us-east-1", "S3Policy")
	account.FailOn(fakeaws.OpCreateRole, "nops-ccost-X_us-east-1", fakeaws.APIError("LimitExceeded"))

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}})

	want := map[string]report.Status{
		"nops-ccost-X_us-east-1":   report.StatusFailed,
		"nops-ccost-Y_us-east-1":   report.StatusCreated,
		"nops-ccost-old_us-east-1": report.StatusDeleted,
	}
	if diff := cmp.Diff(want, statuses(r)); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRegionCatalogFailure(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
	account.AddRole("nops-ccost-old_us-east-1", "S3Policy")
	account.FailOn(fakeaws.OpDescribeRegions, "", fakeaws.APIError("UnauthorizedOperation"))

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}})

	for _, o := range r.Outcomes {
		switch o.Action {
		case report.ActionCreate:
			if o.Status != report.StatusFailed || o.Kind != report.KindRegionCatalog || o.Cluster != "A" {
				t.Fatalf("unexpected create outcome %+v", o)
			}
		case report.ActionDelete:
			if o.Status != report.StatusDeleted {
				t.Fatalf("unexpected delete outcome %+v", o)
			}
		}
	}
	if calls := account.Calls(fakeaws.OpCreateRole); len(calls) != 0 {
		t.Fatalf("want no create calls, got %v", calls)
	}
}

func TestRunDefaults(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-west-2", "B", issuer("us-west-2", "BBBB"))
	account.AddBucket(policy.BucketName(accountID))

	r := run(t, account, reconcile.Options{HomeRegion: "us-west-2", CheckBucket: true})

	if diff := cmp.Diff([]string{"us-west-2"}, r.Regions); diff != "" {
		t.Fatalf("regions mismatch (-want +got):\n%s", diff)
	}
	if calls := account.Calls(fakeaws.OpGetCallerIdentity); len(calls) != 1 {
		t.Fatalf("want 1 caller identity call, got %d", len(calls))
	}
	if diff := cmp.Diff([]string{policy.BucketName(accountID)}, account.Calls(fakeaws.OpHeadBucket)); diff != "" {
		t.Fatalf("bucket check mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDryRun(t *testing.T) {
	account := fakeaws.New(accountID, enabledRegions...)
	account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
	account.AddRole("nops-ccost-old_us-east-1", "S3Policy")

	r := run(t, account, reconcile.Options{Regions: []string{"us-east-1"}, AccountID: accountID, DryRun: true})

	if s := r.Summary(); s.Planned != 2 || s.Created+s.Deleted != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if diff := cmp.Diff([]string{"nops-ccost-old_us-east-1"}, account.RoleNames()); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
	if calls := account.Calls(fakeaws.OpGetCallerIdentity); len(calls) != 0 {
		t.Fatalf("want no caller identity calls, got %d", len(calls))
	}
}

func TestRunFatalErrors(t *testing.T) {
	testCases := []struct {
		desc    string
		opts    reconcile.Options
		op      string
		target  string
		wantErr error
	}{
		{
			desc:    "no regions",
			opts:    reconcile.Options{AccountID: accountID},
			wantErr: reconcile.ErrNoRegions,
		},
		{
			desc:    "caller identity",
			opts:    reconcile.Options{Regions: []string{"us-east-1"}},
			op:      fakeaws.OpGetCallerIdentity,
			wantErr: reconcile.ErrNoAccountID,
		},
		{
			desc:    "inventory",
			opts:    reconcile.Options{Regions: []string{"us-east-1"}, AccountID: accountID},
			op:      fakeaws.OpListRoles,
			target:  "2",
			wantErr: reconcile.ErrInventory,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			account := fakeaws.New(accountID, enabledRegions...)
			account.AddCluster("us-east-1", "A", issuer("us-east-1", "AAAA"))
			for _, name := range []string{"nops-ccost-a_us-east-1", "nops-ccost-b_us-east-1", "nops-ccost-c_us-east-1"} {
				account.AddRole(name, "S3Policy")
			}
			if tc.op != "" {
				account.FailOn(tc.op, tc.target, fakeaws.APIError("AccessDenied"))
			}

			r, err := reconcile.Run(context.Background(), tc.opts, clientsFor(account))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if r != nil {
				t.Fatalf("want no report, got %+v", r)
			}

			for _, op := range []string{fakeaws.OpCreateRole, fakeaws.OpDeleteRolePolicy, fakeaws.OpDeleteRole} {
				if calls := account.Calls(op); len(calls) != 0 {
					t.Fatalf("want no %s calls, got %v", op, calls)
				}
			}
		})
	}
}

func TestScanRegions(t *testing.T) {
	testCases := []struct {
		desc string
		opts reconcile.Options
		want []string
	}{
		{desc: "explicit regions", opts: reconcile.Options{HomeRegion: "us-east-1", Regions: []string{"eu-west-1", "us-west-2", "eu-west-1"}}, want: []string{"eu-west-1", "us-west-2"}},
		{desc: "home region", opts: reconcile.Options{HomeRegion: "us-east-1"}, want: []string{"us-east-1"}},
		{desc: "empty entries", opts: reconcile.Options{HomeRegion: "us-east-1", Regions: []string{""}}, want: []string{"us-east-1"}},
		{desc: "nothing", opts: reconcile.Options{}, want: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.opts.ScanRegions()); diff != "" {
				t.Fatalf("regions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
