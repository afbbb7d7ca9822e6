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
	"time"

	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"go.uber.org/zap"
)

// ErrMaxTurnsExceeded is the flow error message when the turn cap fires.
const ErrMaxTurnsExceeded = "max_turns_exceeded"

// Flow is one agent's sequential turn loop within a run.
type Flow struct {
	id      string
	profile *profile.Profile
	state   *FlowState
	llm     LLMCaller
	rt      *Runtime
	logger  *zap.Logger

	turnCount int
}

// ID returns the flow identifier.
func (f *Flow) ID() string { return f.id }

// State exposes the flow's mutable state. Callers outside the flow's own
// goroutine may only touch it before Run starts or after it returns.
func (f *Flow) State() *FlowState { return f.state }

// view builds the evaluation snapshot for this flow's current state.
func (f *Flow) view() map[string]any {
	teamView := map[string]any{}
	if f.rt.Team != nil {
		teamView = f.rt.Team.View()
	}
	return viewWithProfile(BuildView(f.state, teamView), f.profile)
}

func (f *Flow) publish(t events.Type, payload map[string]any) {
	if f.rt.Bus == nil {
		return
	}
	f.rt.Bus.Publish(events.Event{
		Type:    t,
		RunID:   f.rt.RunID,
		FlowID:  f.id,
		AgentID: f.profile.Name,
		Payload: payload,
	})
}

// Run drives the flow until a terminal outcome, cancellation, or the
// max-turns cap. It always publishes FlowEnd exactly once.
func (f *Flow) Run(ctx context.Context) Outcome {
	started := time.Now()
	outcome := f.loop(ctx)

	f.logger.Info("flow ended",
		zap.String("outcome", outcome.Status),
		zap.String("error", outcome.ErrorMessage),
		zap.Int("turns", f.turnCount),
		zap.Duration("elapsed", time.Since(started)),
	)
	f.publish(events.TypeFlowEnd, map[string]any{
		"outcome": outcome.Status,
		"error":   outcome.ErrorMessage,
		"turns":   f.turnCount,
	})
	return outcome
}

func (f *Flow) loop(ctx context.Context) Outcome {
	for {
		if ctx.Err() != nil {
			return Outcome{Status: OutcomeCancelled, ErrorMessage: ctx.Err().Error()}
		}
		if f.turnCount >= f.rt.Config.MaxTurnsPerFlow {
			return Outcome{Status: OutcomeError, ErrorMessage: ErrMaxTurnsExceeded}
		}
		f.turnCount++

		decision, err := f.runTurn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Status: OutcomeCancelled, ErrorMessage: ctx.Err().Error()}
			}
			f.logger.Error("turn failed", zap.Int("turn", f.turnCount), zap.Error(err))
			return Outcome{Status: OutcomeError, ErrorMessage: err.Error()}
		}

		switch decision.Kind {
		case profile.ActionContinueWithTool:
			continue
		case profile.ActionLoopWithInbox:
			f.state.PushInbox(InboxItem{
				SourceTag:         "flow_decider",
				Payload:           map[string]any{"content_key": decision.ContentKey},
				IngestorID:        "templated_content",
				ConsumptionPolicy: profile.ConsumeOnRead,
			})
			continue
		default:
			status := decision.Outcome.Status
			if status != OutcomeSuccess && status != OutcomeError && status != OutcomeCancelled {
				status = OutcomeError
			}
			return Outcome{Status: status, ErrorMessage: decision.Outcome.ErrorMessage}
		}
	}
}

// NewMessagesSince returns the message history past a starting index in
// tree form, for dispatch result records.
func (f *Flow) NewMessagesSince(start int) []any {
	if start < 0 || start > len(f.state.Messages) {
		start = 0
	}
	out := make([]any, 0, len(f.state.Messages)-start)
	for _, m := range f.state.Messages[start:] {
		out = append(out, messageToMap(m))
	}
	return out
}
