// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package tasks provides the asynq task for running reconciliation passes from
// a worker.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hibiken/asynq"

	awsutils "github.com/nops-io/ccost-roles/pkg/aws/utils"
	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	awsclients "github.com/nops-io/ccost-roles/pkg/clients/aws"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
	asynqutils "github.com/nops-io/ccost-roles/pkg/utils/asynq"
	"github.com/nops-io/ccost-roles/pkg/utils/slog"
)

const (
	// TaskReconcile is the name of the task for running a reconciliation
	// pass.
	TaskReconcile = "ccost:task:reconcile"
)

// ErrNoClients is an error, which is returned when the AWS clients have not
// been configured.
var ErrNoClients = errors.New("no AWS clients configured")

// ReconcilePayload is the payload of the reconcile task. Empty fields fall
// back to the defaults of the worker.
type ReconcilePayload struct {
	// Regions are the regions to scan for clusters.
	Regions []string `json:"regions,omitempty" yaml:"regions"`

	// AccountID is the account used in the constructed ARNs.
	AccountID string `json:"account_id,omitempty" yaml:"account_id"`

	// DryRun overrides the dry-run setting of the worker, if set.
	DryRun *bool `json:"dry_run,omitempty" yaml:"dry_run"`
}

// NewReconcileTask creates a new [asynq.Task] for running a reconciliation
// pass with the given payload.
func NewReconcileTask(payload ReconcilePayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskReconcile, data, opts...), nil
}

// ClientsFunc returns the clients of a reconciliation pass.
type ClientsFunc func() (reconcile.Clients, error)

// ReconcileHandler is the [asynq.Handler] of the reconcile task.
type ReconcileHandler struct {
	mu      sync.RWMutex
	options reconcile.Options
	clients ClientsFunc
}

var _ asynq.Handler = &ReconcileHandler{}

// NewReconcileHandler creates a new [ReconcileHandler] with the given default
// options.
func NewReconcileHandler(opts reconcile.Options, clients ClientsFunc) *ReconcileHandler {
	return &ReconcileHandler{
		options: opts,
		clients: clients,
	}
}

// SetOptions sets the default options of the handler.
func (h *ReconcileHandler) SetOptions(opts reconcile.Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.options = opts
}

// Options returns the default options of the handler.
func (h *ReconcileHandler) Options() reconcile.Options {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.options
}

// ProcessTask implements the [asynq.Handler] interface.
func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	opts := h.Options()

	if data := t.Payload(); len(data) > 0 {
		var payload ReconcilePayload
		if err := asynqutils.Unmarshal(data, &payload); err != nil {
			return asynqutils.SkipRetry(err)
		}
		opts = payload.apply(opts)
	}

	clients, err := h.clients()
	if err != nil {
		return asynqutils.SkipRetry(err)
	}

	r, err := reconcile.Run(ctx, opts, clients)
	if err != nil {
		if errors.Is(err, reconcile.ErrNoRegions) {
			return asynqutils.SkipRetry(err)
		}

		return awsutils.MaybeSkipRetry(err)
	}

	// Items which failed are retried by the next scheduled run, which
	// recomputes the plan from the current state.
	if r.Degraded() {
		slog.FromContext(ctx).Warn(
			"reconciliation degraded",
			"run_id", r.RunID,
			"kinds", r.SortedKinds(),
		)
	}

	return nil
}

// apply returns a copy of opts with the fields of the payload set.
func (p ReconcilePayload) apply(opts reconcile.Options) reconcile.Options {
	if len(p.Regions) > 0 {
		opts.Regions = p.Regions
	}
	if p.AccountID != "" {
		opts.AccountID = p.AccountID
	}
	if p.DryRun != nil {
		opts.DryRun = *p.DryRun
	}

	return opts
}

// defaultClients returns the clients of the default [awsclients.Clientset].
func defaultClients() (reconcile.Clients, error) {
	cs := awsclients.Default()
	if cs == nil {
		return reconcile.Clients{}, ErrNoClients
	}

	return cs.ReconcileClients(), nil
}

// DefaultHandler is the handler registered for [TaskReconcile]. Its options
// are set during startup of the worker.
var DefaultHandler = NewReconcileHandler(reconcile.Options{}, defaultClients)

func init() {
	registry.TaskRegistry.MustRegister(TaskReconcile, DefaultHandler)
}
