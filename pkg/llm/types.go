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

// Package llm implements a streaming client for OpenAI-compatible
// chat-completion endpoints. The client aggregates server-sent deltas
// (content, reasoning, tool calls) into a final assistant message while
// surfacing each delta as a Frame for the run's event bus.
package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a tool invocation emitted by the LLM.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call
	ID string

	// Name is the tool name
	Name string

	// Input contains the tool parameters decoded from JSON
	Input map[string]interface{}
}

// Message is a single chat turn.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string

	// Content is the message text
	Content string

	// ReasoningContent holds the model's reasoning stream, for providers
	// that expose it. A reasoning-only response is NOT an empty response.
	ReasoningContent string

	// ToolCalls contains tool invocations (assistant messages)
	ToolCalls []ToolCall

	// ToolCallID links a tool-result message to the call it answers
	ToolCallID string

	// Name is the tool name on tool-result messages
	Name string
}

// IsEmpty reports whether the message carries no content, no reasoning,
// and no tool calls.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && m.ReasoningContent == "" && len(m.ToolCalls) == 0
}

// FirstToolCall returns the first tool call, or nil.
func (m *Message) FirstToolCall() *ToolCall {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	return &m.ToolCalls[0]
}

// FrameType tags a streaming frame.
type FrameType string

const (
	FrameContentDelta   FrameType = "content_delta"
	FrameReasoningDelta FrameType = "reasoning_delta"
	FrameToolCallDelta  FrameType = "tool_call_delta"
	FrameDone           FrameType = "done"
)

// Frame is one unit of streaming output from a call.
type Frame struct {
	Type FrameType

	// Delta carries the text fragment for content/reasoning deltas, or the
	// partial arguments string for tool-call deltas.
	Delta string

	// ToolCallIndex and ToolName identify the call a tool_call_delta
	// belongs to (name is set on the first delta for that index).
	ToolCallIndex int
	ToolName      string

	// Message is the final aggregated assistant message on FrameDone.
	Message *Message
}

// FrameFunc receives frames as they arrive. Implementations must be
// lightweight and non-blocking.
type FrameFunc func(Frame)
