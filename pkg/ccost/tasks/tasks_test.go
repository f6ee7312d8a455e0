// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hibiken/asynq"

	"github.com/nops-io/ccost-roles/internal/fakeaws"
	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
)

const accountID = "123456789012"

func fakeClients(account *fakeaws.Account) ClientsFunc {
	return func() (reconcile.Clients, error) {
		return reconcile.Clients{
			STS: account.STS(),
			IAM: account.IAM(),
			EC2: account.EC2(),
			EKS: func(region string) reconcile.EKSAPI {
				return account.EKS(region)
			},
		}, nil
	}
}

func TestTaskIsRegistered(t *testing.T) {
	handler, ok := registry.TaskRegistry.Get(TaskReconcile)
	if !ok {
		t.Fatalf("%s is not registered", TaskReconcile)
	}
	if handler != DefaultHandler {
		t.Fatal("unexpected handler registered")
	}
}

func TestNewReconcileTask(t *testing.T) {
	task, err := NewReconcileTask(ReconcilePayload{Regions: []string{"us-east-1"}, DryRun: ptr.To(true)})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if task.Type() != TaskReconcile {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	if got := string(task.Payload()); got != `{"regions":["us-east-1"],"dry_run":true}` {
		t.Fatalf("unexpected payload %s", got)
	}
}

func TestPayloadApply(t *testing.T) {
	defaults := reconcile.Options{
		HomeRegion:  "us-east-1",
		Regions:     []string{"us-east-1"},
		AccountID:   "111111111111",
		Concurrency: 4,
	}

	testCases := []struct {
		desc    string
		payload ReconcilePayload
		want    reconcile.Options
	}{
		{
			desc:    "empty payload",
			payload: ReconcilePayload{},
			want:    defaults,
		},
		{
			desc:    "overrides",
			payload: ReconcilePayload{Regions: []string{"eu-west-1"}, AccountID: accountID, DryRun: ptr.To(true)},
			want: reconcile.Options{
				HomeRegion:  "us-east-1",
				Regions:     []string{"eu-west-1"},
				AccountID:   accountID,
				Concurrency: 4,
				DryRun:      true,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.payload.apply(defaults)); diff != "" {
				t.Fatalf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessTask(t *testing.T) {
	account := fakeaws.New(accountID, "us-east-1")
	account.AddCluster("us-east-1", "A", "https://oidc.eks.us-east-1.amazonaws.com/id/AAAA")
	h := NewReconcileHandler(reconcile.Options{HomeRegion: "us-east-1"}, fakeClients(account))

	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskReconcile, nil)); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff([]string{"nops-ccost-A_us-east-1"}, account.RoleNames()); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessTaskErrors(t *testing.T) {
	account := fakeaws.New(accountID, "us-east-1")
	noClients := func() (reconcile.Clients, error) {
		return reconcile.Clients{}, ErrNoClients
	}

	testCases := []struct {
		desc      string
		handler   *ReconcileHandler
		payload   []byte
		wantErr   error
		wantRetry bool
	}{
		{
			desc:    "bad payload",
			handler: NewReconcileHandler(reconcile.Options{HomeRegion: "us-east-1"}, fakeClients(account)),
			payload: []byte("{not yaml: ["),
			wantErr: asynq.SkipRetry,
		},
		{
			desc:    "no clients",
			handler: NewReconcileHandler(reconcile.Options{HomeRegion: "us-east-1"}, noClients),
			wantErr: ErrNoClients,
		},
		{
			desc:    "no regions",
			handler: NewReconcileHandler(reconcile.Options{}, fakeClients(account)),
			wantErr: reconcile.ErrNoRegions,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.handler.ProcessTask(context.Background(), asynq.NewTask(TaskReconcile, tc.payload))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("want skip retry, got %v", err)
			}
		})
	}
}

func TestProcessTaskInventoryFailure(t *testing.T) {
	account := fakeaws.New(accountID, "us-east-1")
	account.FailOn(fakeaws.OpListRoles, "", fakeaws.APIError("AccessDenied"))
	h := NewReconcileHandler(reconcile.Options{HomeRegion: "us-east-1", AccountID: accountID}, fakeClients(account))

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskReconcile, nil))
	if !errors.Is(err, reconcile.ErrInventory) {
		t.Fatalf("want ErrInventory, got %v", err)
	}
	// Client faults are not retried.
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("want skip retry, got %v", err)
	}
}

func TestHandlerOptions(t *testing.T) {
	h := NewReconcileHandler(reconcile.Options{}, defaultClients)
	h.SetOptions(reconcile.Options{HomeRegion: "eu-west-1"})
	if got := h.Options().HomeRegion; got != "eu-west-1" {
		t.Fatalf("want eu-west-1, got %s", got)
	}

	if _, err := defaultClients(); !errors.Is(err, ErrNoClients) {
		t.Fatalf("want ErrNoClients, got %v", err)
	}
}
