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
package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// aggregator folds streaming deltas into one assistant message. Tool-call
// arguments arrive as string fragments keyed by index and are parsed once
// at finalize.
type aggregator struct {
	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newAggregator() *aggregator {
	return &aggregator{calls: make(map[int]*pendingCall)}
}

// addDelta folds one streaming choice delta and returns the frames it
// produced.
func (a *aggregator) addDelta(delta chatMessageDelta) []Frame {
	var frames []Frame

	if delta.Content != "" {
		a.content.WriteString(delta.Content)
		frames = append(frames, Frame{Type: FrameContentDelta, Delta: delta.Content})
	}
	if delta.ReasoningContent != "" {
		a.reasoning.WriteString(delta.ReasoningContent)
		frames = append(frames, Frame{Type: FrameReasoningDelta, Delta: delta.ReasoningContent})
	}
	for _, tc := range delta.ToolCalls {
		call, ok := a.calls[tc.Index]
		if !ok {
			call = &pendingCall{}
			a.calls[tc.Index] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			call.args.WriteString(tc.Function.Arguments)
		}
		frames = append(frames, Frame{
			Type:          FrameToolCallDelta,
			Delta:         tc.Function.Arguments,
			ToolCallIndex: tc.Index,
			ToolName:      call.name,
		})
	}
	return frames
}

// finalize produces the aggregated assistant message. Tool calls are
// ordered by stream index; unparsable argument fragments are preserved
// under "_raw" so the agent can see what the model produced.
func (a *aggregator) finalize() *Message {
	msg := &Message{
		Role:             RoleAssistant,
		Content:          a.content.String(),
		ReasoningContent: a.reasoning.String(),
	}

	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		call := a.calls[idx]
		input := make(map[string]interface{})
		raw := call.args.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				input = map[string]interface{}{"_raw": raw}
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:    call.id,
			Name:  call.name,
			Input: input,
		})
	}
	return msg
}
