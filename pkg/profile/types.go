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

// Package profile loads declarative agent profiles from YAML and resolves
// base_profile inheritance chains into effective profiles. An effective
// profile fully describes one agent: its prompt construction, tool access,
// observers, and flow-decider rules.
package profile

// Agent profile types.
const (
	TypePrincipal = "principal"
	TypeAssociate = "associate"
)

// Segment types for system prompt construction.
const (
	SegmentStaticText             = "static_text"
	SegmentStateValue             = "state_value"
	SegmentToolDescription        = "tool_description"
	SegmentToolContributedContext = "tool_contributed_context"
)

// Observer / decider action kinds. The set is closed: anything else is a
// profile validation error at resolution time.
const (
	ActionAddToInbox       = "add_to_inbox"
	ActionUpdateState      = "update_state"
	ActionEndAgentTurn     = "end_agent_turn"
	ActionContinueWithTool = "continue_with_tool"
	ActionLoopWithInbox    = "loop_with_inbox_item"
)

// Inbox consumption policies.
const (
	ConsumeOnRead = "consume_on_read"
	Persistent    = "persistent"
)

// Profile is one agent profile document. The same struct holds both raw
// (as loaded) and effective (resolved) profiles; unknown YAML keys are
// ignored for forward compatibility.
type Profile struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	BaseProfile  string `yaml:"base_profile"`
	LLMConfigRef string `yaml:"llm_config_ref"`

	ToolAccessPolicy ToolAccessPolicy `yaml:"tool_access_policy"`

	SystemPromptConstruction PromptConstruction `yaml:"system_prompt_construction"`

	TextDefinitions map[string]string `yaml:"text_definitions"`

	PreTurnObservers  []Observer `yaml:"pre_turn_observers"`
	PostTurnObservers []Observer `yaml:"post_turn_observers"`
	FlowDecider       []Rule     `yaml:"flow_decider"`
}

// ToolAccessPolicy is the intersection filter applied to the tool registry.
type ToolAccessPolicy struct {
	AllowedToolsets        []string `yaml:"allowed_toolsets"`
	AllowedIndividualTools []string `yaml:"allowed_individual_tools"`
}

// PromptConstruction holds the ordered system-prompt segment list.
type PromptConstruction struct {
	Segments []Segment `yaml:"system_prompt_segments"`
}

// Segment is one piece of the system prompt.
type Segment struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Order int    `yaml:"order"`

	// Content is literal text for static_text segments. Templates are
	// interpolated against the turn's state view.
	Content string `yaml:"content"`

	// SourceStatePath and Ingestor drive state_value segments.
	SourceStatePath string `yaml:"source_state_path"`
	Ingestor        string `yaml:"ingestor"`
	Title           string `yaml:"title"`

	// Condition skips the segment when falsey. Empty means always render.
	Condition string `yaml:"condition"`

	Params map[string]any `yaml:"params"`
}

// Observer is a declarative {condition, action} rule evaluated before or
// after a turn.
type Observer struct {
	ID        string `yaml:"id"`
	Condition string `yaml:"condition"`
	Action    Action `yaml:"action"`
}

// Rule is one flow-decider entry. First rule whose condition matches wins.
type Rule struct {
	ID        string `yaml:"id"`
	Condition string `yaml:"condition"`
	Action    Action `yaml:"action"`
}

// Action is a tagged variant over the closed action-kind set.
type Action struct {
	Type string `yaml:"type"`

	// add_to_inbox
	Target string         `yaml:"target"`
	Item   *InboxItemSpec `yaml:"item"`

	// update_state
	Updates []StateUpdate `yaml:"updates"`

	// end_agent_turn
	Outcome      string `yaml:"outcome"`
	ErrorMessage string `yaml:"error_message"`

	// loop_with_inbox_item
	Payload map[string]any `yaml:"payload"`
}

// InboxItemSpec declares an inbox item queued by an add_to_inbox action.
type InboxItemSpec struct {
	SourceTag         string         `yaml:"source_tag"`
	Payload           map[string]any `yaml:"payload"`
	IngestorID        string         `yaml:"ingestor_id"`
	ConsumptionPolicy string         `yaml:"consumption_policy"`
}

// StateUpdate is one mutation inside an update_state action.
type StateUpdate struct {
	Op    string `yaml:"op"` // set | increment | append
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}
