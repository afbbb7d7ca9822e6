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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/expr"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/statepath"
	"go.uber.org/zap"
)

// Flow outcome statuses.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Flag names the turn engine maintains for profile conditions.
const (
	FlagLastLLMError        = "last_llm_error"
	FlagLastLLMErrorMessage = "last_llm_error_message"
	FlagLastToolName        = "last_tool_name"
	FlagLastToolSuccess     = "last_tool_success"
	FlagTurnCount           = "turn_count"
	FlagTurnEndedByTool     = "turn_ended_by_tool"
)

// LLM error flag values.
const (
	LLMErrorEmpty     = "empty_response"
	LLMErrorTransport = "llm_error"
)

// Outcome is a flow's terminal state.
type Outcome struct {
	Status       string
	ErrorMessage string
}

// Decision is what the flow decider (or a forcing observer) chose for the
// next step.
type Decision struct {
	Kind       string // continue_with_tool | loop_with_inbox_item | end_agent_turn
	Outcome    Outcome
	ContentKey string
}

// runTurn executes exactly one turn: pre-turn observers, prompt assembly,
// the LLM call, tool execution, post-turn observers, and the flow decision.
// Evaluator errors are fatal for the turn and surface as a Go error.
func (f *Flow) runTurn(ctx context.Context) (Decision, error) {
	f.state.CurrentAction = nil
	f.state.SetFlag(FlagTurnCount, f.turnCount)
	f.state.SetFlag(FlagTurnEndedByTool, false)

	forced, err := f.applyObservers(f.profile.PreTurnObservers, "pre_turn")
	if err != nil {
		return Decision{}, err
	}

	if forced == nil {
		if err := f.executeLLMPhase(ctx); err != nil {
			return Decision{}, err
		}
	}

	forcedPost, err := f.applyObservers(f.profile.PostTurnObservers, "post_turn")
	if err != nil {
		return Decision{}, err
	}
	if forced == nil {
		forced = forcedPost
	}
	if forced != nil {
		return Decision{Kind: profile.ActionEndAgentTurn, Outcome: *forced}, nil
	}

	return f.decide()
}

// executeLLMPhase assembles the prompt, streams the LLM call, records the
// assistant message, and executes the first tool call if any.
func (f *Flow) executeLLMPhase(ctx context.Context) error {
	visible := f.rt.Registry.Visible(shuttle.AccessPolicy{
		AllowedToolsets:        f.profile.ToolAccessPolicy.AllowedToolsets,
		AllowedIndividualTools: f.profile.ToolAccessPolicy.AllowedIndividualTools,
	})

	messages, err := f.rt.Assembler.Assemble(f.profile, f.state, visible, f.view())
	if err != nil {
		return fmt.Errorf("assembling prompt: %w", err)
	}

	f.logger.Debug("turn prompt assembled",
		zap.Int("turn", f.turnCount),
		zap.Int("messages", len(messages)),
		zap.Int("estimated_tokens", llm.EstimateTokens(f.llm.Model(), messages)),
	)

	f.state.SetFlag(FlagLastLLMError, "")
	f.state.SetFlag(FlagLastLLMErrorMessage, "")

	msg, callErr := f.llm.Call(ctx, messages, visible, f.publishFrame)
	if callErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(callErr, llm.ErrEmptyResponse) {
			// Not terminal: the decider translates this into a
			// self-reflection inbox injection or an explicit end.
			f.state.SetFlag(FlagLastLLMError, LLMErrorEmpty)
			f.logger.Warn("llm returned an empty response", zap.Int("turn", f.turnCount))
			return nil
		}
		f.state.SetFlag(FlagLastLLMError, LLMErrorTransport)
		f.state.SetFlag(FlagLastLLMErrorMessage, callErr.Error())
		f.logger.Error("llm call failed", zap.Int("turn", f.turnCount), zap.Error(callErr))
		return nil
	}

	f.state.Messages = append(f.state.Messages, *msg)
	f.state.CurrentAction = msg.FirstToolCall()

	if f.state.CurrentAction != nil {
		f.executeTool(ctx, f.state.CurrentAction)
	}
	return nil
}

// executeTool runs one tool call and appends the tool-result message.
// Tool failures are local: the agent sees them next turn and may retry.
func (f *Flow) executeTool(ctx context.Context, call *llm.ToolCall) {
	f.publish(events.TypeToolCall, map[string]any{
		"tool_name": call.Name,
		"params":    statepath.DeepCopy(call.Input),
	})

	toolCtx := WithRunContext(ctx, &RunContext{
		RunID:       f.rt.RunID,
		FlowID:      f.id,
		Team:        f.rt.Team,
		Bus:         f.rt.Bus,
		Flow:        f.state,
		Spawner:     f.rt,
		ProfileName: f.profile.Name,
	})

	result, err := f.rt.Executor.Execute(toolCtx, call.Name, call.Input)
	if err != nil {
		result = &shuttle.Result{
			Success: false,
			Error:   &shuttle.Error{Code: shuttle.ErrCodeNotFound, Message: err.Error()},
		}
	}

	payload := toolResultPayload(call.Name, result)
	rendered := f.rt.Ingestors.Render("tool_result", payload, nil, f.view())
	f.state.Messages = append(f.state.Messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    rendered,
		ToolCallID: call.ID,
		Name:       call.Name,
	})

	f.state.SetFlag(FlagLastToolName, call.Name)
	f.state.SetFlag(FlagLastToolSuccess, result.Success)
	if tool, ok := f.rt.Registry.Get(call.Name); ok && tool.EndsTurn() {
		f.state.SetFlag(FlagTurnEndedByTool, true)
	}

	f.publish(events.TypeToolResult, map[string]any{
		"tool_name": call.Name,
		"success":   result.Success,
	})
}

// toolResultPayload shapes a shuttle result into the tree form the
// tool_result ingestor renders.
func toolResultPayload(toolName string, result *shuttle.Result) map[string]any {
	payload := map[string]any{
		"tool_name": toolName,
		"is_error":  !result.Success,
	}
	if result.Success {
		payload["content"] = result.Data
	} else if result.Error != nil {
		payload["content"] = map[string]any{
			"code":    result.Error.Code,
			"message": result.Error.Message,
			"details": result.Error.Details,
		}
	}
	return payload
}

// publishFrame forwards streaming frames to the run bus.
func (f *Flow) publishFrame(frame llm.Frame) {
	switch frame.Type {
	case llm.FrameDone:
		if frame.Message == nil {
			return
		}
		names := make([]any, 0, len(frame.Message.ToolCalls))
		for _, tc := range frame.Message.ToolCalls {
			names = append(names, tc.Name)
		}
		f.publish(events.TypeLLMResponse, map[string]any{
			"content":           frame.Message.Content,
			"reasoning_content": frame.Message.ReasoningContent,
			"tool_calls":        names,
		})
	default:
		f.publish(events.TypeLLMChunk, map[string]any{
			"chunk_type": string(frame.Type),
			"delta":      frame.Delta,
			"tool_name":  frame.ToolName,
		})
	}
}

// applyObservers runs a {condition, action} list in order. An end_agent_turn
// action forces the returned outcome; later observers in the same list still
// run so counters stay consistent.
func (f *Flow) applyObservers(observers []profile.Observer, phase string) (*Outcome, error) {
	var forced *Outcome
	for _, obs := range observers {
		view := f.view()
		match, err := expr.EvalCondition(obs.Condition, view)
		if err != nil {
			return nil, fmt.Errorf("observer %q: %w", obs.ID, err)
		}
		if !match {
			continue
		}

		switch obs.Action.Type {
		case profile.ActionAddToInbox:
			if obs.Action.Item != nil {
				f.state.PushInbox(InboxItem{
					SourceTag:         obs.Action.Item.SourceTag,
					Payload:           statepath.DeepCopy(obs.Action.Item.Payload),
					IngestorID:        obs.Action.Item.IngestorID,
					ConsumptionPolicy: obs.Action.Item.ConsumptionPolicy,
				})
			}
		case profile.ActionUpdateState:
			for _, update := range obs.Action.Updates {
				if err := f.applyStateUpdate(update); err != nil {
					f.logger.Warn("state update failed",
						zap.String("observer", obs.ID),
						zap.String("path", update.Path),
						zap.Error(err),
					)
				}
			}
		case profile.ActionEndAgentTurn:
			if forced == nil {
				forced = &Outcome{
					Status:       obs.Action.Outcome,
					ErrorMessage: obs.Action.ErrorMessage,
				}
			}
		default:
			f.logger.Warn("unsupported observer action",
				zap.String("observer", obs.ID),
				zap.String("phase", phase),
				zap.String("action", obs.Action.Type),
			)
		}
	}
	return forced, nil
}

// applyStateUpdate routes one update_state mutation. "state." paths hit
// flow-local vars; "team.shared_context." paths hit the shared context.
func (f *Flow) applyStateUpdate(update profile.StateUpdate) error {
	if local, ok := strings.CutPrefix(update.Path, "state."); ok {
		switch update.Op {
		case "set":
			return statepath.Set(f.state.Vars, local, update.Value)
		case "increment":
			delta := 1.0
			if n, ok := statepath.AsNumber(update.Value); ok {
				delta = n
			}
			return statepath.Increment(f.state.Vars, local, delta)
		case "append":
			return statepath.Append(f.state.Vars, local, update.Value)
		default:
			return fmt.Errorf("unknown update op %q", update.Op)
		}
	}
	if key, ok := strings.CutPrefix(update.Path, "team.shared_context."); ok {
		if update.Op != "set" {
			return fmt.Errorf("only set is supported on shared context, got %q", update.Op)
		}
		f.rt.Team.SetSharedContext(key, update.Value)
		return nil
	}
	return fmt.Errorf("path %q is not writable from observers", update.Path)
}

// decide runs the flow-decider rules in order; the first match wins. A
// profile must carry a catch-all rule, so running off the end is an error.
func (f *Flow) decide() (Decision, error) {
	view := f.view()
	for _, rule := range f.profile.FlowDecider {
		match, err := expr.EvalCondition(rule.Condition, view)
		if err != nil {
			return Decision{}, fmt.Errorf("decider rule %q: %w", rule.ID, err)
		}
		if !match {
			continue
		}

		switch rule.Action.Type {
		case profile.ActionContinueWithTool:
			return Decision{Kind: profile.ActionContinueWithTool}, nil
		case profile.ActionLoopWithInbox:
			key, _ := rule.Action.Payload["content_key"].(string)
			if key == "" {
				return Decision{}, fmt.Errorf("decider rule %q: loop_with_inbox_item needs payload.content_key", rule.ID)
			}
			return Decision{Kind: profile.ActionLoopWithInbox, ContentKey: key}, nil
		case profile.ActionEndAgentTurn:
			return Decision{
				Kind: profile.ActionEndAgentTurn,
				Outcome: Outcome{
					Status:       rule.Action.Outcome,
					ErrorMessage: rule.Action.ErrorMessage,
				},
			}, nil
		default:
			return Decision{}, fmt.Errorf("decider rule %q: unsupported action %q", rule.ID, rule.Action.Type)
		}
	}
	return Decision{}, fmt.Errorf("no flow decider rule matched for profile %q", f.profile.Name)
}
