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
package engine

import (
	"sort"
	"strings"

	"github.com/teradata-labs/tapestry/pkg/expr"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/statepath"
	"go.uber.org/zap"
)

// Assembler builds the message list for one LLM call from the profile's
// system-prompt segments, the flow history, and consumed inbox items.
type Assembler struct {
	ingestors *IngestorRegistry
	logger    *zap.Logger
}

// NewAssembler creates an assembler over the given ingestor registry.
func NewAssembler(ingestors *IngestorRegistry, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{ingestors: ingestors, logger: logger}
}

// Assemble renders the prompt. Segments are ordered by `order` ascending
// with a stable tie-break on id, and skipped when their condition is falsey.
// Inbox items marked consume_on_read are removed from the flow's inbox;
// persistent items render every turn and stay queued.
func (a *Assembler) Assemble(p *profile.Profile, flow *FlowState, visibleTools []shuttle.Tool, view map[string]any) ([]llm.Message, error) {
	system, err := a.renderSystemPrompt(p, flow, visibleTools, view)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(flow.Messages)+len(flow.Inbox)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, flow.Messages...)

	var kept []InboxItem
	for _, item := range flow.Inbox {
		rendered := a.ingestors.Render(item.IngestorID, item.Payload, nil, view)
		if rendered != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: rendered})
		}
		if item.ConsumptionPolicy == profile.Persistent {
			kept = append(kept, item)
		}
	}
	flow.Inbox = kept
	flow.ToolContext = nil

	return messages, nil
}

func (a *Assembler) renderSystemPrompt(p *profile.Profile, flow *FlowState, visibleTools []shuttle.Tool, view map[string]any) (string, error) {
	segments := append([]profile.Segment(nil), p.SystemPromptConstruction.Segments...)
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Order != segments[j].Order {
			return segments[i].Order < segments[j].Order
		}
		return segments[i].ID < segments[j].ID
	})

	var parts []string
	for _, seg := range segments {
		if seg.Condition != "" {
			ok, err := expr.EvalCondition(seg.Condition, view)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
		}

		var rendered string
		switch seg.Type {
		case profile.SegmentStaticText:
			rendered = seg.Content
			if strings.Contains(rendered, "{{") {
				rendered = expr.RenderTemplate(rendered, view)
			}
		case profile.SegmentStateValue:
			value, _ := statepath.Resolve(view, seg.SourceStatePath)
			params := seg.Params
			if seg.Title != "" {
				params = withTitle(params, seg.Title)
			}
			rendered = a.ingestors.Render(seg.Ingestor, value, params, view)
		case profile.SegmentToolDescription:
			rendered = shuttle.RenderPrompt(visibleTools)
		case profile.SegmentToolContributedContext:
			rendered = strings.Join(flow.ToolContext, "\n\n")
		default:
			a.logger.Warn("unknown prompt segment type",
				zap.String("segment", seg.ID),
				zap.String("type", seg.Type),
			)
			continue
		}

		if rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func withTitle(params map[string]any, title string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["title"] = title
	return out
}
