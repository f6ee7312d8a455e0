// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package plan computes the difference between the desired and actual sets of
// managed role names.
package plan

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// Plan is the set of actions which converge the actual roles towards the
// desired roles.
//
// ToCreate, ToDelete and Unchanged are pairwise disjoint. ToCreate and
// Unchanged partition the desired set, ToDelete and Unchanged partition the
// actual set.
type Plan struct {
	ToCreate  sets.Set[string]
	ToDelete  sets.Set[string]
	Unchanged sets.Set[string]
}

// Diff returns the [Plan] for the given desired and actual role names. Nil sets
// are treated as empty.
func Diff(desired, actual sets.Set[string]) Plan {
	if desired == nil {
		desired = sets.New[string]()
	}
	if actual == nil {
		actual = sets.New[string]()
	}

	return Plan{
		ToCreate:  desired.Difference(actual),
		ToDelete:  actual.Difference(desired),
		Unchanged: desired.Intersection(actual),
	}
}

// Empty returns true, if the plan does not have any action to take.
func (p Plan) Empty() bool {
	return p.ToCreate.Len() == 0 && p.ToDelete.Len() == 0
}

// Creates returns the role names to create in sorted order.
func (p Plan) Creates() []string {
	return sets.List(p.ToCreate)
}

// Deletes returns the role names to delete in sorted order.
func (p Plan) Deletes() []string {
	return sets.List(p.ToDelete)
}
