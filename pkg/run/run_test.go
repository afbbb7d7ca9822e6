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
package run

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/builtin"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
)

// queueLLM builds each response lazily so scripts can react to state
// created by earlier turns (work module ids are generated at runtime).
type queueLLM struct {
	steps []func(call int) (*llm.Message, error)
	calls int
}

func (q *queueLLM) Call(ctx context.Context, messages []llm.Message, tools []shuttle.Tool, onFrame llm.FrameFunc) (*llm.Message, error) {
	i := q.calls
	q.calls++
	if i >= len(q.steps) {
		return nil, fmt.Errorf("script exhausted after %d calls", i)
	}
	msg, err := q.steps[i](i)
	if err != nil {
		return nil, err
	}
	if onFrame != nil {
		if msg.Content != "" {
			onFrame(llm.Frame{Type: llm.FrameContentDelta, Delta: msg.Content})
		}
		onFrame(llm.Frame{Type: llm.FrameDone, Message: msg})
	}
	return msg, nil
}

func (q *queueLLM) Model() string { return "scripted" }

func toolCallMsg(name string, input map[string]interface{}) *llm.Message {
	return &llm.Message{
		Role:      llm.RoleAssistant,
		Content:   "using " + name,
		ToolCalls: []llm.ToolCall{{ID: "call_" + name, Name: name, Input: input}},
	}
}

func principalProfile() *profile.Profile {
	return &profile.Profile{
		Name: "Principal",
		Type: profile.TypePrincipal,
		ToolAccessPolicy: profile.ToolAccessPolicy{
			AllowedToolsets: []string{builtin.ToolsetPlanning, builtin.ToolsetCore},
		},
		SystemPromptConstruction: profile.PromptConstruction{
			Segments: []profile.Segment{
				{ID: "role", Type: profile.SegmentStaticText, Order: 10,
					Content: "You are the Principal research orchestrator."},
			},
		},
		FlowDecider: []profile.Rule{
			{ID: "finish", Condition: "v['state.flags.finish_requested']",
				Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeSuccess}},
			{ID: "acted", Condition: "v['state.current_action']",
				Action: profile.Action{Type: profile.ActionContinueWithTool}},
			{ID: "fallback", Condition: "True",
				Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeError, ErrorMessage: "principal took no action"}},
		},
	}
}

func associateProfile() *profile.Profile {
	return &profile.Profile{
		Name: "Associate_WebSearcher",
		Type: profile.TypeAssociate,
		ToolAccessPolicy: profile.ToolAccessPolicy{
			AllowedIndividualTools: []string{"generate_message_summary"},
		},
		SystemPromptConstruction: profile.PromptConstruction{
			Segments: []profile.Segment{
				{ID: "role", Type: profile.SegmentStaticText, Order: 10,
					Content: "You are a web research Associate."},
			},
		},
		FlowDecider: []profile.Rule{
			{ID: "submitted", Condition: "v['state.has_findings']",
				Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeSuccess}},
			{ID: "acted", Condition: "v['state.current_action']",
				Action: profile.Action{Type: profile.ActionContinueWithTool}},
			{ID: "fallback", Condition: "True",
				Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeError, ErrorMessage: "associate took no action"}},
		},
	}
}

func newTestRun(t *testing.T, script *queueLLM, cfg Config) *Run {
	t.Helper()
	registry := shuttle.NewRegistry()
	builtin.RegisterAll(registry, builtin.Options{})

	profiles := profile.NewResolver(map[string]*profile.Profile{
		"Principal":             principalProfile(),
		"Associate_WebSearcher": associateProfile(),
	})

	r, err := New(Options{
		Profiles:          profiles,
		Registry:          registry,
		LLM:               func(ref string) (engine.LLMCaller, error) { return script, nil },
		PrincipalProfile:  "Principal",
		AssociateProfiles: []string{"Associate_WebSearcher"},
		Config:            cfg,
	})
	require.NoError(t, err)
	return r
}

// firstModuleID returns the id of the single planned work module.
func firstModuleID(t *testing.T, state *team.State) string {
	t.Helper()
	mods := state.Modules()
	require.Len(t, mods, 1)
	return mods[0].ModuleID
}

func TestRunSingleModuleHappyPath(t *testing.T) {
	script := &queueLLM{}
	var r *Run

	script.steps = []func(int) (*llm.Message, error){
		// Principal plans one module.
		func(int) (*llm.Message, error) {
			return toolCallMsg("manage_work_modules", map[string]interface{}{
				"actions": []interface{}{
					map[string]interface{}{
						"action_type": "add",
						"name":        "Summarize recent LLM agent papers",
						"description": "Survey and summarize the last year of agent papers.",
					},
				},
			}), nil
		},
		// Principal dispatches it.
		func(int) (*llm.Message, error) {
			return toolCallMsg("dispatch_submodules", map[string]interface{}{
				"assignments": []interface{}{
					map[string]interface{}{
						"module_id_to_assign":              firstModuleID(t, r.Team()),
						"agent_profile_logical_name":       "Associate_WebSearcher",
						"assigned_role_name":               "Paper Surveyor",
						"assignment_specific_instructions": "Focus on peer-reviewed sources.",
					},
				},
			}), nil
		},
		// Associate submits its findings.
		func(int) (*llm.Message, error) {
			return toolCallMsg("generate_message_summary", map[string]interface{}{
				"current_associate_findings": "Three major papers stand out this year.",
			}), nil
		},
		// Principal writes the report, then finishes.
		func(int) (*llm.Message, error) {
			return toolCallMsg("generate_markdown_report", map[string]interface{}{
				"principal_final_synthesis": "# Agent Papers\n\nThree major papers stand out.",
			}), nil
		},
		func(int) (*llm.Message, error) {
			return toolCallMsg("finish_flow", map[string]interface{}{}), nil
		},
	}

	r = newTestRun(t, script, Config{MaxTurnsPerFlow: 16, MaxConcurrentChildFlows: 2})
	sub := r.Bus().Subscribe(512)

	require.NoError(t, r.Start("Summarize recent research on LLM agents."))
	outcome := r.Wait()
	assert.Equal(t, engine.OutcomeSuccess, outcome.Status)
	assert.Equal(t, 5, script.calls)

	// The planned module carries the Associate's deliverable.
	mods := r.Team().Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, team.StatusPendingReview, mods[0].Status)
	require.Len(t, mods[0].Deliverables, 1)
	assert.Equal(t, "Three major papers stand out this year.", mods[0].Deliverables[0].Content)
	assert.False(t, mods[0].Deliverables[0].IsError)

	// The report landed in shared context.
	assert.Contains(t, r.Team().SharedContext()[builtin.SharedContextReportKey], "# Agent Papers")

	// Event stream: plan update, dispatch start before the child's flow end,
	// exactly one dispatch complete, run end last with success.
	var seq []events.Type
	for ev := range sub.C {
		seq = append(seq, ev.Type)
	}
	idx := func(want events.Type) int {
		for i, typ := range seq {
			if typ == want {
				return i
			}
		}
		return -1
	}
	require.NotEqual(t, -1, idx(events.TypeWorkModulesUpdate))
	require.NotEqual(t, -1, idx(events.TypeDispatchStart))
	require.NotEqual(t, -1, idx(events.TypeDispatchComplete))
	assert.Less(t, idx(events.TypeWorkModulesUpdate), idx(events.TypeDispatchStart))
	assert.Less(t, idx(events.TypeDispatchStart), idx(events.TypeFlowEnd), "child flow ends after its dispatch starts")
	assert.Less(t, idx(events.TypeFlowEnd), idx(events.TypeDispatchComplete))

	require.Equal(t, events.TypeRunEnd, seq[len(seq)-1])
	var runEnds int
	for _, typ := range seq {
		if typ == events.TypeRunEnd {
			runEnds++
		}
	}
	assert.Equal(t, 1, runEnds)
}

func TestRunPrincipalErrorOutcome(t *testing.T) {
	// A reply with no tool call and no finish flag hits the fallback rule.
	script := &queueLLM{steps: []func(int) (*llm.Message, error){
		func(int) (*llm.Message, error) {
			return &llm.Message{Role: llm.RoleAssistant, Content: "I am done, I suppose."}, nil
		},
	}}
	r := newTestRun(t, script, Config{MaxTurnsPerFlow: 4})
	require.NoError(t, r.Start("anything"))

	outcome := r.Wait()
	assert.Equal(t, engine.OutcomeError, outcome.Status)
	assert.Equal(t, "principal took no action", outcome.ErrorMessage)
}

func TestRunCancelStopsInFlightCall(t *testing.T) {
	caller := &blockingLLM{started: make(chan struct{})}

	registry := shuttle.NewRegistry()
	builtin.RegisterAll(registry, builtin.Options{})
	profiles := profile.NewResolver(map[string]*profile.Profile{
		"Principal":             principalProfile(),
		"Associate_WebSearcher": associateProfile(),
	})
	r, err := New(Options{
		Profiles:          profiles,
		Registry:          registry,
		LLM:               func(ref string) (engine.LLMCaller, error) { return caller, nil },
		PrincipalProfile:  "Principal",
		AssociateProfiles: []string{"Associate_WebSearcher"},
		Config:            Config{MaxTurnsPerFlow: 4},
	})
	require.NoError(t, err)

	require.NoError(t, r.Start("long running request"))
	<-caller.started
	r.Cancel()

	done := make(chan engine.Outcome, 1)
	go func() { done <- r.Wait() }()
	select {
	case outcome := <-done:
		assert.Equal(t, engine.OutcomeCancelled, outcome.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not observe cancellation within 2s")
	}
}

// blockingLLM parks in Call until the context is cancelled.
type blockingLLM struct {
	started chan struct{}
	fired   bool
}

func (b *blockingLLM) Call(ctx context.Context, messages []llm.Message, tools []shuttle.Tool, onFrame llm.FrameFunc) (*llm.Message, error) {
	if !b.fired {
		b.fired = true
		close(b.started)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingLLM) Model() string { return "blocking" }

func TestRunWallClockTimeout(t *testing.T) {
	caller := &blockingLLM{started: make(chan struct{})}
	registry := shuttle.NewRegistry()
	builtin.RegisterAll(registry, builtin.Options{})
	profiles := profile.NewResolver(map[string]*profile.Profile{
		"Principal":             principalProfile(),
		"Associate_WebSearcher": associateProfile(),
	})
	r, err := New(Options{
		Profiles:          profiles,
		Registry:          registry,
		LLM:               func(ref string) (engine.LLMCaller, error) { return caller, nil },
		PrincipalProfile:  "Principal",
		AssociateProfiles: []string{"Associate_WebSearcher"},
		Config:            Config{MaxTurnsPerFlow: 4, WallClockTimeout: 50 * time.Millisecond},
	})
	require.NoError(t, err)

	require.NoError(t, r.Start("slow request"))
	outcome := r.Wait()
	assert.Equal(t, engine.OutcomeCancelled, outcome.Status)
}

func TestRunRejectsUnknownPrincipalProfile(t *testing.T) {
	registry := shuttle.NewRegistry()
	builtin.RegisterAll(registry, builtin.Options{})
	_, err := New(Options{
		Profiles:         profile.NewResolver(map[string]*profile.Profile{}),
		Registry:         registry,
		LLM:              func(ref string) (engine.LLMCaller, error) { return nil, nil },
		PrincipalProfile: "Ghost",
	})
	require.Error(t, err)
}

func TestRunDoubleStartRejected(t *testing.T) {
	script := &queueLLM{steps: []func(int) (*llm.Message, error){
		func(int) (*llm.Message, error) {
			return toolCallMsg("finish_flow", map[string]interface{}{}), nil
		},
	}}
	r := newTestRun(t, script, Config{MaxTurnsPerFlow: 4})
	require.NoError(t, r.Start("x"))
	assert.Error(t, r.Start("x again"))
	r.Wait()
}

func TestRunStateDumpJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	script := &queueLLM{steps: []func(int) (*llm.Message, error){
		func(int) (*llm.Message, error) {
			return toolCallMsg("finish_flow", map[string]interface{}{}), nil
		},
	}}
	r := newTestRun(t, script, Config{
		MaxTurnsPerFlow:  4,
		StateDumpEnabled: true,
		StateDumpPath:    path,
	})
	require.NoError(t, r.Start("quick request"))
	outcome := r.Wait()
	require.Equal(t, engine.OutcomeSuccess, outcome.Status)

	assert.FileExists(t, path)
}
