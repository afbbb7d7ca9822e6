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

// Package events provides the per-run broadcast bus that streams typed
// runtime events (LLM chunks, tool calls, dispatch lifecycle) to external
// subscribers.
package events

import "time"

// Type tags an event.
type Type string

const (
	TypeLLMChunk          Type = "llm_chunk"
	TypeLLMResponse       Type = "llm_response"
	TypeToolCall          Type = "tool_call"
	TypeToolResult        Type = "tool_result"
	TypeWorkModulesUpdate Type = "work_modules_update"
	TypeDispatchStart     Type = "dispatch_start"
	TypeDispatchComplete  Type = "dispatch_complete"
	TypeFlowEnd           Type = "flow_end"
	TypeRunEnd            Type = "run_end"
)

// Event is one tagged record on the bus. Payload shape depends on Type;
// payloads must be JSON-encodable since external transports serialize them.
type Event struct {
	Type      Type                   `json:"type"`
	RunID     string                 `json:"run_id"`
	FlowID    string                 `json:"flow_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
