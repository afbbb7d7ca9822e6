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
package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NotFoundError reports a profile name that does not exist in the raw table.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("profile not found: %s", e.Name)
}

// CycleError reports a base_profile inheritance cycle.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("profile inheritance cycle: %s", strings.Join(e.Chain, " -> "))
}

// Resolver produces effective profiles by merging base_profile chains.
// Resolution is memoized per name; resolved profiles are immutable and
// shared, so callers must not mutate them.
type Resolver struct {
	raw map[string]*Profile

	mu    sync.Mutex
	cache map[string]*Profile
}

// NewResolver wraps a raw profile table.
func NewResolver(raw map[string]*Profile) *Resolver {
	return &Resolver{
		raw:   raw,
		cache: make(map[string]*Profile),
	}
}

// Names returns all raw profile names, sorted.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.raw))
	for name := range r.raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve walks the base_profile chain for name and returns the effective
// profile. Child overrides parent: segments, observers, and decider rules
// union by id with child winning, text definitions merge child-wins by key,
// tool access unions. Scalar fields take the most-derived non-empty value.
func (r *Resolver) Resolve(name string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(name, nil)
}

func (r *Resolver) resolveLocked(name string, chain []string) (*Profile, error) {
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}
	for _, seen := range chain {
		if seen == name {
			return nil, &CycleError{Chain: append(chain, name)}
		}
	}

	raw, ok := r.raw[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	effective := cloneProfile(raw)
	if raw.BaseProfile != "" {
		base, err := r.resolveLocked(raw.BaseProfile, append(chain, name))
		if err != nil {
			return nil, err
		}
		effective = merge(base, effective)
	}
	effective.BaseProfile = ""

	if err := validate(effective); err != nil {
		return nil, err
	}

	r.cache[name] = effective
	return effective, nil
}

// merge layers child over base.
func merge(base, child *Profile) *Profile {
	out := cloneProfile(base)

	out.Name = child.Name
	if child.Type != "" {
		out.Type = child.Type
	}
	if child.LLMConfigRef != "" {
		out.LLMConfigRef = child.LLMConfigRef
	}

	out.ToolAccessPolicy.AllowedToolsets = unionStrings(
		base.ToolAccessPolicy.AllowedToolsets, child.ToolAccessPolicy.AllowedToolsets)
	out.ToolAccessPolicy.AllowedIndividualTools = unionStrings(
		base.ToolAccessPolicy.AllowedIndividualTools, child.ToolAccessPolicy.AllowedIndividualTools)

	out.SystemPromptConstruction.Segments = mergeSegments(
		base.SystemPromptConstruction.Segments, child.SystemPromptConstruction.Segments)

	if out.TextDefinitions == nil {
		out.TextDefinitions = make(map[string]string)
	}
	for k, v := range child.TextDefinitions {
		out.TextDefinitions[k] = v
	}

	out.PreTurnObservers = mergeObservers(base.PreTurnObservers, child.PreTurnObservers)
	out.PostTurnObservers = mergeObservers(base.PostTurnObservers, child.PostTurnObservers)
	out.FlowDecider = mergeRules(base.FlowDecider, child.FlowDecider)

	return out
}

// mergeSegments unions by id, child wins, base ordering preserved for
// untouched entries and new child entries appended in child order.
func mergeSegments(base, child []Segment) []Segment {
	out := make([]Segment, 0, len(base)+len(child))
	childByID := make(map[string]Segment, len(child))
	for _, s := range child {
		childByID[s.ID] = s
	}
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		if override, ok := childByID[s.ID]; ok {
			out = append(out, override)
		} else {
			out = append(out, s)
		}
		seen[s.ID] = true
	}
	for _, s := range child {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func mergeObservers(base, child []Observer) []Observer {
	out := make([]Observer, 0, len(base)+len(child))
	childByID := make(map[string]Observer, len(child))
	for _, o := range child {
		childByID[o.ID] = o
	}
	seen := make(map[string]bool, len(base))
	for _, o := range base {
		if override, ok := childByID[o.ID]; ok {
			out = append(out, override)
		} else {
			out = append(out, o)
		}
		seen[o.ID] = true
	}
	for _, o := range child {
		if !seen[o.ID] {
			out = append(out, o)
		}
	}
	return out
}

func mergeRules(base, child []Rule) []Rule {
	out := make([]Rule, 0, len(base)+len(child))
	childByID := make(map[string]Rule, len(child))
	for _, ru := range child {
		childByID[ru.ID] = ru
	}
	seen := make(map[string]bool, len(base))
	for _, ru := range base {
		if override, ok := childByID[ru.ID]; ok {
			out = append(out, override)
		} else {
			out = append(out, ru)
		}
		seen[ru.ID] = true
	}
	for _, ru := range child {
		if !seen[ru.ID] {
			out = append(out, ru)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func validActionKinds() map[string]bool {
	return map[string]bool{
		ActionAddToInbox:       true,
		ActionUpdateState:      true,
		ActionEndAgentTurn:     true,
		ActionContinueWithTool: true,
		ActionLoopWithInbox:    true,
	}
}

func validate(p *Profile) error {
	kinds := validActionKinds()
	for _, o := range append(append([]Observer{}, p.PreTurnObservers...), p.PostTurnObservers...) {
		if !kinds[o.Action.Type] {
			return fmt.Errorf("profile %s: observer %s has unknown action kind %q", p.Name, o.ID, o.Action.Type)
		}
	}
	for _, ru := range p.FlowDecider {
		if !kinds[ru.Action.Type] {
			return fmt.Errorf("profile %s: decider rule %s has unknown action kind %q", p.Name, ru.ID, ru.Action.Type)
		}
	}
	return nil
}

func cloneProfile(p *Profile) *Profile {
	out := *p

	out.ToolAccessPolicy.AllowedToolsets = append([]string{}, p.ToolAccessPolicy.AllowedToolsets...)
	out.ToolAccessPolicy.AllowedIndividualTools = append([]string{}, p.ToolAccessPolicy.AllowedIndividualTools...)
	out.SystemPromptConstruction.Segments = append([]Segment{}, p.SystemPromptConstruction.Segments...)
	out.PreTurnObservers = append([]Observer{}, p.PreTurnObservers...)
	out.PostTurnObservers = append([]Observer{}, p.PostTurnObservers...)
	out.FlowDecider = append([]Rule{}, p.FlowDecider...)

	if p.TextDefinitions != nil {
		out.TextDefinitions = make(map[string]string, len(p.TextDefinitions))
		for k, v := range p.TextDefinitions {
			out.TextDefinitions[k] = v
		}
	}
	return &out
}
