// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package report provides the per-item outcomes of a reconciliation pass and
// the run report collecting them.
package report

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Action is the action taken for a role.
type Action string

const (
	// ActionCreate is the action for roles of clusters without a role.
	ActionCreate Action = "create"
	// ActionDelete is the action for orphaned roles.
	ActionDelete Action = "delete"
)

// Status is the final state of an item.
type Status string

const (
	// StatusCreated means the role was created and its policy attached.
	StatusCreated Status = "created"
	// StatusDeleted means the role and its inline policies are gone.
	StatusDeleted Status = "deleted"
	// StatusPlanned means the action would have been taken in a dry run.
	StatusPlanned Status = "planned"
	// StatusSkipped means the item was intentionally not acted upon.
	StatusSkipped Status = "skipped"
	// StatusFailed means an API call failed while acting upon the item.
	StatusFailed Status = "failed"
)

// Kind classifies why an item was skipped or failed.
type Kind string

const (
	KindNone                    Kind = ""
	KindDiscovery               Kind = "discovery"
	KindInvalidName             Kind = "invalid-name"
	KindMalformedName           Kind = "malformed-name"
	KindUnknownRegion           Kind = "unknown-region"
	KindMissingIdentityProvider Kind = "missing-identity-provider"
	KindRegionCatalog           Kind = "region-catalog"
	KindDescribeCluster         Kind = "describe-cluster"
	KindCreateRole              Kind = "create-role"
	KindAttachPolicy            Kind = "attach-policy"
	KindListPolicies            Kind = "list-policies"
	KindDeletePolicy            Kind = "delete-policy"
	KindDeleteRole              Kind = "delete-role"
)

// Outcome is the result of processing a single role.
type Outcome struct {
	// Role is the name of the role.
	Role string

	// Action is the action which was attempted.
	Action Action

	// Cluster and Region are set when known, i.e. when the role name was
	// decoded or the role originates from discovery.
	Cluster string
	Region  string

	// Status is the final state of the item.
	Status Status

	// Kind classifies a skip or failure.
	Kind Kind

	// Err is the cause of a skip or failure.
	Err error

	// PolicyErrors holds the errors of inline policies which could not
	// be deleted, keyed by policy name.
	PolicyErrors map[string]error
}

// Succeeded returns an [Outcome] for an item, which was acted upon
// successfully.
func Succeeded(role string, action Action) Outcome {
	status := StatusCreated
	if action == ActionDelete {
		status = StatusDeleted
	}

	return Outcome{Role: role, Action: action, Status: status}
}

// Planned returns an [Outcome] for an item in a dry run.
func Planned(role string, action Action) Outcome {
	return Outcome{Role: role, Action: action, Status: StatusPlanned}
}

// Skipped returns an [Outcome] for an item, which was intentionally not acted
// upon.
func Skipped(role string, action Action, kind Kind, err error) Outcome {
	return Outcome{Role: role, Action: action, Status: StatusSkipped, Kind: kind, Err: err}
}

// Failed returns an [Outcome] for an item, for which an API call failed.
func Failed(role string, action Action, kind Kind, err error) Outcome {
	return Outcome{Role: role, Action: action, Status: StatusFailed, Kind: kind, Err: err}
}

// WithCluster returns a copy of the outcome with the cluster reference set.
func (o Outcome) WithCluster(cluster, region string) Outcome {
	o.Cluster = cluster
	o.Region = region

	return o
}

// OK returns true, if the item was neither skipped nor failed.
func (o Outcome) OK() bool {
	return o.Status != StatusSkipped && o.Status != StatusFailed
}

// LogValue implements the [slog.LogValuer] interface.
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("role", o.Role),
		slog.String("action", string(o.Action)),
		slog.String("status", string(o.Status)),
	}
	if o.Cluster != "" {
		attrs = append(attrs, slog.String("cluster", o.Cluster), slog.String("region", o.Region))
	}
	if o.Kind != KindNone {
		attrs = append(attrs, slog.String("kind", string(o.Kind)))
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("reason", o.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}

type outcomeJSON struct {
	Role         string            `json:"role"`
	Action       Action            `json:"action"`
	Cluster      string            `json:"cluster,omitempty"`
	Region       string            `json:"region,omitempty"`
	Status       Status            `json:"status"`
	Kind         Kind              `json:"kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	PolicyErrors map[string]string `json:"policy_errors,omitempty"`
}

// MarshalJSON implements the [json.Marshaler] interface.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Role:    o.Role,
		Action:  o.Action,
		Cluster: o.Cluster,
		Region:  o.Region,
		Status:  o.Status,
		Kind:    o.Kind,
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	if len(o.PolicyErrors) > 0 {
		out.PolicyErrors = make(map[string]string, len(o.PolicyErrors))
		for name, err := range o.PolicyErrors {
			out.PolicyErrors[name] = err.Error()
		}
	}

	return json.Marshal(out)
}

// RegionOutcome is the result of discovering the clusters of a region.
type RegionOutcome struct {
	Region   string `json:"region"`
	Clusters int    `json:"clusters"`
	Err      error  `json:"-"`
}

// MarshalJSON implements the [json.Marshaler] interface.
func (r RegionOutcome) MarshalJSON() ([]byte, error) {
	type alias RegionOutcome
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	return json.Marshal(out)
}

// Summary provides the counts of a [Report] by status.
type Summary struct {
	Created       int `json:"created"`
	Deleted       int `json:"deleted"`
	Planned       int `json:"planned"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	RegionsFailed int `json:"regions_failed"`
}

// Report is the report of a single reconciliation pass.
type Report struct {
	RunID      string    `json:"run_id"`
	AccountID  string    `json:"account_id"`
	Regions    []string  `json:"regions"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Desired, Actual and Unchanged are the sorted role names of the
	// respective sets.
	Desired   []string `json:"desired"`
	Actual    []string `json:"actual"`
	Unchanged []string `json:"unchanged"`

	RegionOutcomes []RegionOutcome `json:"region_outcomes"`
	Outcomes       []Outcome       `json:"outcomes"`
}

// Add appends the given outcomes to the report.
func (r *Report) Add(items ...Outcome) {
	r.Outcomes = append(r.Outcomes, items...)
}

// Summary returns the counts of the report.
func (r *Report) Summary() Summary {
	var s Summary
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusCreated:
			s.Created++
		case StatusDeleted:
			s.Deleted++
		case StatusPlanned:
			s.Planned++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}

	for _, ro := range r.RegionOutcomes {
		if ro.Err != nil {
			s.RegionsFailed++
		}
	}

	return s
}

// Degraded returns true, if any item was skipped or failed, or any region
// could not be scanned.
func (r *Report) Degraded() bool {
	s := r.Summary()

	return s.Skipped+s.Failed+s.RegionsFailed > 0
}

// Filter returns the outcomes with the given status.
func (r *Report) Filter(status Status) []Outcome {
	items := make([]Outcome, 0)
	for _, o := range r.Outcomes {
		if o.Status == status {
			items = append(items, o)
		}
	}

	return items
}

// Kinds returns the number of skipped or failed items per kind.
func (r *Report) Kinds() map[Kind]int {
	kinds := make(map[Kind]int)
	for _, o := range r.Outcomes {
		if o.Kind != KindNone {
			kinds[o.Kind]++
		}
	}

	return kinds
}

// SortedKinds returns the keys of [Report.Kinds] in stable order.
func (r *Report) SortedKinds() []Kind {
	return slices.Sorted(maps.Keys(r.Kinds()))
}

// Sort orders the outcomes by action and role name.
func (r *Report) Sort() {
	slices.SortStableFunc(r.Outcomes, func(a, b Outcome) int {
		if a.Action != b.Action {
			if a.Action < b.Action {
				return -1
			}
			return 1
		}
		switch {
		case a.Role < b.Role:
			return -1
		case a.Role > b.Role:
			return 1
		}
		return 0
	})
}
