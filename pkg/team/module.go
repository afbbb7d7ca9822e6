// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package team holds the per-run shared state: the ordered work-module plan,
// the list of dispatchable profiles, and the free-form shared context. All
// mutation goes through State, which serializes writers and hands the
// evaluator deep-copied snapshots.
package team

import (
	"fmt"

	"github.com/google/uuid"
)

// Work-module statuses.
const (
	StatusPending       = "pending"
	StatusInProgress    = "in_progress"
	StatusPendingReview = "pending_review"
	StatusCompleted     = "completed"
	StatusDeprecated    = "deprecated"
)

// Module is one unit of delegated work tracked in team state.
type Module struct {
	ModuleID            string
	Name                string
	Description         string
	Status              string
	AssignedProfileName string
	AssignedRoleName    string
	Deliverables        []Deliverable
	MessagesRef         string
}

// Deliverable is one Associate submission attached to a module. Error
// deliverables record a child flow that terminated without submitting.
type Deliverable struct {
	Content string
	Source  string
	IsError bool
}

// Dispatchable reports whether the module may be assigned to an Associate.
func (m *Module) Dispatchable() bool {
	return m.Status == StatusPending || m.Status == StatusPendingReview
}

var validStatuses = map[string]bool{
	StatusPending:       true,
	StatusInProgress:    true,
	StatusPendingReview: true,
	StatusCompleted:     true,
	StatusDeprecated:    true,
}

// ValidStatus reports whether s is one of the enumerated module statuses.
func ValidStatus(s string) bool { return validStatuses[s] }

// validTransition enforces the module lifecycle. Completed modules are
// frozen except for deprecation.
func validTransition(from, to string) error {
	if !validStatuses[to] {
		return fmt.Errorf("unknown module status %q", to)
	}
	if from == StatusCompleted && to != StatusDeprecated {
		return fmt.Errorf("completed module may only be deprecated, not %q", to)
	}
	if from == StatusDeprecated {
		return fmt.Errorf("deprecated module cannot change status")
	}
	return nil
}

// newModuleID returns a fresh work-module id ("wm_" + 8 hex chars).
func newModuleID() string {
	id := uuid.New()
	return fmt.Sprintf("wm_%x", id[:4])
}

// asMap projects the module into the plain tree form the evaluator and
// prompt ingestors read.
func (m *Module) asMap() map[string]any {
	deliverables := make([]any, 0, len(m.Deliverables))
	for _, d := range m.Deliverables {
		deliverables = append(deliverables, map[string]any{
			"content":  d.Content,
			"source":   d.Source,
			"is_error": d.IsError,
		})
	}
	return map[string]any{
		"module_id":             m.ModuleID,
		"name":                  m.Name,
		"description":           m.Description,
		"status":                m.Status,
		"assigned_profile_name": m.AssignedProfileName,
		"assigned_role_name":    m.AssignedRoleName,
		"deliverables":          deliverables,
		"messages_ref":          m.MessagesRef,
	}
}

func (m *Module) clone() Module {
	out := *m
	out.Deliverables = append([]Deliverable(nil), m.Deliverables...)
	return out
}
