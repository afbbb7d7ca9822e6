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

// Package engine drives agents through their turn loop: declarative
// observers, prompt assembly from profile segments, a streaming LLM call,
// tool execution, and the flow-decider rules that pick the next action.
package engine

import (
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/statepath"
)

// InboxItem is one queued piece of synthetic context for an upcoming turn.
type InboxItem struct {
	SourceTag         string
	Payload           any
	IngestorID        string
	ConsumptionPolicy string
}

// FlowState is the mutable per-flow state. It is owned by a single flow
// goroutine; tools reach it through the run context during that flow's own
// tool invocation, so no locking is needed.
type FlowState struct {
	Messages      []llm.Message
	CurrentAction *llm.ToolCall
	Inbox         []InboxItem

	// Vars is the flow-local tree behind "state." paths in conditions and
	// update_state actions. "flags" holds observer counters.
	Vars map[string]any

	// Findings is the outcome slot written by the Associate submit tool.
	// Last write wins.
	Findings    string
	HasFindings bool

	// ToolContext collects context strings tools contribute for the next
	// turn's tool_contributed_context segments. Cleared after assembly.
	ToolContext []string
}

// NewFlowState creates empty flow state with an initialized flags map.
func NewFlowState() *FlowState {
	return &FlowState{
		Vars: map[string]any{"flags": map[string]any{}},
	}
}

// PushInbox appends an item to the inbox.
func (s *FlowState) PushInbox(item InboxItem) {
	s.Inbox = append(s.Inbox, item)
}

// SetFlag writes one flag value.
func (s *FlowState) SetFlag(name string, value any) {
	// flags root is always a map, Set cannot fail here
	_ = statepath.Set(s.Vars, "flags."+name, value)
}

// Flag reads one flag value.
func (s *FlowState) Flag(name string) (any, bool) {
	return statepath.Resolve(s.Vars, "flags."+name)
}

// messagesView projects the message history into the plain tree form used
// by conditions and ingestors.
func (s *FlowState) messagesView() []any {
	out := make([]any, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, messageToMap(m))
	}
	return out
}

func messageToMap(m llm.Message) map[string]any {
	entry := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if m.ReasoningContent != "" {
		entry["reasoning_content"] = m.ReasoningContent
	}
	if m.Name != "" {
		entry["tool_name"] = m.Name
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, map[string]any{
				"id":    tc.ID,
				"name":  tc.Name,
				"input": statepath.DeepCopy(tc.Input),
			})
		}
		entry["tool_calls"] = calls
	}
	return entry
}

// BuildView assembles the read-only snapshot conditions and templates are
// evaluated against. Team state is deep-copied by View; flow-local values
// are copied here so observers cannot mutate through the snapshot.
func BuildView(flow *FlowState, teamView map[string]any) map[string]any {
	state := statepath.DeepCopy(flow.Vars).(map[string]any)
	state["messages"] = flow.messagesView()
	state["inbox_size"] = len(flow.Inbox)
	state["has_findings"] = flow.HasFindings
	if flow.CurrentAction != nil {
		state["current_action"] = map[string]any{
			"tool_name": flow.CurrentAction.Name,
			"input":     statepath.DeepCopy(flow.CurrentAction.Input),
		}
	}
	return map[string]any{
		"state": state,
		"team":  teamView,
	}
}

// viewWithProfile augments a view with the resolved profile for ingestors
// that read text_definitions.
func viewWithProfile(view map[string]any, p *profile.Profile) map[string]any {
	defs := make(map[string]any, len(p.TextDefinitions))
	for k, v := range p.TextDefinitions {
		defs[k] = v
	}
	view["loaded_profile"] = map[string]any{
		"name":             p.Name,
		"type":             p.Type,
		"text_definitions": defs,
	}
	return view
}
