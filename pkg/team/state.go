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
package team

import (
	"fmt"
	"sync"

	"github.com/teradata-labs/tapestry/pkg/statepath"
)

// State is the shared mutable state of one run's team. A single mutex
// serializes all mutation; the lock is held only for the duration of one
// operation, never across an LLM call or a child flow wait.
type State struct {
	mu            sync.Mutex
	order         []string
	modules       map[string]*Module
	profilesList  []string
	sharedContext map[string]any
}

// NewState creates empty team state with the given dispatchable profile
// names.
func NewState(profilesList []string) *State {
	return &State{
		modules:       make(map[string]*Module),
		profilesList:  append([]string(nil), profilesList...),
		sharedContext: make(map[string]any),
	}
}

// AddModule creates a pending module with a fresh id and returns a copy.
func (s *State) AddModule(name, description string) Module {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Module{
		ModuleID:    newModuleID(),
		Name:        name,
		Description: description,
		Status:      StatusPending,
	}
	s.modules[m.ModuleID] = m
	s.order = append(s.order, m.ModuleID)
	return m.clone()
}

// Module returns a copy of the module with the given id.
func (s *State) Module(id string) (Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, false
	}
	return m.clone(), true
}

// Modules returns copies of all modules in creation order.
func (s *State) Modules() []Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Module, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.modules[id].clone())
	}
	return out
}

// UpdateModule applies fn to the module under the state lock. Status changes
// made by fn are checked against the lifecycle rules.
func (s *State) UpdateModule(id string, fn func(m *Module) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[id]
	if !ok {
		return fmt.Errorf("module %q not found", id)
	}
	before := m.Status
	if err := fn(m); err != nil {
		return err
	}
	if m.Status != before {
		after := m.Status
		m.Status = before
		if err := validTransition(before, after); err != nil {
			return err
		}
		m.Status = after
	}
	return nil
}

// Transition moves the module to a new status, enforcing lifecycle rules.
func (s *State) Transition(id, status string) error {
	return s.UpdateModule(id, func(m *Module) error {
		m.Status = status
		return nil
	})
}

// DeprecateModule soft-deletes the module so historical references stay
// valid.
func (s *State) DeprecateModule(id string) error {
	return s.Transition(id, StatusDeprecated)
}

// AppendDeliverable attaches a submission to the module and moves it to
// pending_review.
func (s *State) AppendDeliverable(id string, d Deliverable) error {
	return s.UpdateModule(id, func(m *Module) error {
		m.Deliverables = append(m.Deliverables, d)
		m.Status = StatusPendingReview
		return nil
	})
}

// ProfilesList returns the names of profiles available for dispatch.
func (s *State) ProfilesList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.profilesList...)
}

// HasProfile reports whether name is a dispatchable profile.
func (s *State) HasProfile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profilesList {
		if p == name {
			return true
		}
	}
	return false
}

// SetSharedContext writes one key into the cross-flow shared context.
func (s *State) SetSharedContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharedContext[key] = value
}

// SharedContext returns a deep copy of the shared context map.
func (s *State) SharedContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statepath.DeepCopy(s.sharedContext).(map[string]any)
}

// View projects team state into the plain tree the evaluator and prompt
// ingestors read. The snapshot is deep-copied: callers may not mutate live
// state through it. work_module_order carries the creation order map keys
// cannot.
func (s *State) View() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	modules := make(map[string]any, len(s.modules))
	orderedIDs := make([]any, 0, len(s.order))
	for _, id := range s.order {
		modules[id] = s.modules[id].asMap()
		orderedIDs = append(orderedIDs, id)
	}
	profiles := make([]any, 0, len(s.profilesList))
	for _, p := range s.profilesList {
		profiles = append(profiles, p)
	}
	return map[string]any{
		"work_modules":               modules,
		"work_module_order":          orderedIDs,
		"profiles_list_instance_ids": profiles,
		"shared_context":             statepath.DeepCopy(s.sharedContext),
	}
}
