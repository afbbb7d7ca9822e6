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
package builtin

import (
	"context"
	"sync"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
	"go.uber.org/zap"
)

// Dispatch failure reasons reported in per-item validation errors.
const (
	ReasonNotDispatchable = "module not dispatchable"
	ReasonUnknownModule   = "module not found"
	ReasonUnknownProfile  = "unknown agent profile"
	ReasonMissingField    = "missing required field"
)

// DispatchSubmodules assigns pending work modules to Associate agents and
// runs the child flows in parallel. The whole call validates before any
// state changes: one bad assignment rejects the batch.
type DispatchSubmodules struct {
	logger *zap.Logger
}

// NewDispatchSubmodules creates the dispatch_submodules tool.
func NewDispatchSubmodules(logger *zap.Logger) *DispatchSubmodules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchSubmodules{logger: logger}
}

func (t *DispatchSubmodules) Name() string { return "dispatch_submodules" }

func (t *DispatchSubmodules) Description() string {
	return "Assign pending work modules to Associate agents and execute them " +
		"in parallel. Each assignment names the module, the Associate profile, " +
		"a role name, and specific instructions. Returns per-module outcomes " +
		"with the Associates' deliverables."
}

func (t *DispatchSubmodules) Toolset() string { return ToolsetPlanning }

// EndsTurn is true: after a dispatch the Principal's flow decider reopens a
// fresh turn to review the outcomes.
func (t *DispatchSubmodules) EndsTurn() bool { return true }

func (t *DispatchSubmodules) InputSchema() *shuttle.JSONSchema {
	assignment := shuttle.NewObjectSchema("one module assignment", map[string]*shuttle.JSONSchema{
		"module_id_to_assign":              shuttle.NewStringSchema("id of a pending or pending_review module"),
		"agent_profile_logical_name":       shuttle.NewStringSchema("Associate profile to instantiate"),
		"assigned_role_name":               shuttle.NewStringSchema("role name for this Associate"),
		"assignment_specific_instructions": shuttle.NewStringSchema("instructions for this assignment"),
		"inherit_deliverables_from":        shuttle.NewArraySchema("module ids whose deliverable summaries seed the child", shuttle.NewStringSchema("module id")),
		"inherit_messages_from":            shuttle.NewArraySchema("module ids whose full message history seeds the child", shuttle.NewStringSchema("module id")),
	}, []string{"module_id_to_assign", "agent_profile_logical_name", "assigned_role_name", "assignment_specific_instructions"})
	return shuttle.NewObjectSchema("dispatch_submodules parameters", map[string]*shuttle.JSONSchema{
		"assignments":                        shuttle.NewArraySchema("assignments to run in parallel", assignment),
		"shared_context_for_all_assignments": shuttle.NewStringSchema("context injected into every child's inbox"),
	}, []string{"assignments"})
}

type assignment struct {
	ModuleID            string
	ProfileName         string
	RoleName            string
	Instructions        string
	InheritDeliverables []string
	InheritMessages     []string
}

type dispatchOutcome struct {
	moduleID string
	flowID   string
	role     string
	status   string
	errMsg   string
	findings string
	messages []any
}

func (t *DispatchSubmodules) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rc, fail := runContext(ctx, t.Name())
	if fail != nil {
		return fail, nil
	}

	assignments, failures := parseAssignments(rc.Team, params)
	if len(failures) > 0 {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:    "invalid_dispatch",
				Message: "one or more assignments are invalid, nothing was dispatched",
				Details: map[string]interface{}{"failed_preparation_details": failures},
			},
		}, nil
	}
	if len(assignments) == 0 {
		return &shuttle.Result{
			Success: false,
			Error:   &shuttle.Error{Code: shuttle.ErrCodeSchemaViolation, Message: "assignments must be a non-empty array"},
		}, nil
	}

	sharedContext, _ := params["shared_context_for_all_assignments"].(string)

	// Validation passed: commit the in_progress transitions, then announce
	// each dispatch before its child can possibly end.
	for _, a := range assignments {
		moduleID, profileName, roleName := a.ModuleID, a.ProfileName, a.RoleName
		err := rc.Team.UpdateModule(moduleID, func(m *team.Module) error {
			m.Status = team.StatusInProgress
			m.AssignedProfileName = profileName
			m.AssignedRoleName = roleName
			return nil
		})
		if err != nil {
			// Validated a moment ago under the same lock discipline; a
			// failure here means a concurrent dispatch raced us.
			return &shuttle.Result{
				Success: false,
				Error:   &shuttle.Error{Code: "invalid_dispatch", Message: err.Error()},
			}, nil
		}
		rc.Bus.Publish(events.Event{
			Type:    events.TypeDispatchStart,
			RunID:   rc.RunID,
			FlowID:  rc.FlowID,
			AgentID: rc.ProfileName,
			Payload: map[string]any{
				"module_id":     moduleID,
				"agent_profile": profileName,
				"role_name":     roleName,
			},
		})
	}

	outcomes := t.runChildren(ctx, rc, assignments, sharedContext)

	results := make([]any, 0, len(outcomes))
	for _, oc := range outcomes {
		t.recordOutcome(rc, oc)
		results = append(results, map[string]any{
			"module_id":                   oc.moduleID,
			"execution_status":            oc.status,
			"deliverables":                map[string]any{"summary": oc.findings, "error": oc.errMsg},
			"new_messages_from_associate": oc.messages,
		})
	}

	data := map[string]any{
		"status":                       "success",
		"message":                      "all assignments executed",
		"assignment_execution_results": results,
	}
	rc.Bus.Publish(events.Event{
		Type:    events.TypeDispatchComplete,
		RunID:   rc.RunID,
		FlowID:  rc.FlowID,
		AgentID: rc.ProfileName,
		Payload: map[string]any{"results": dispatchSummary(outcomes)},
	})

	return &shuttle.Result{Success: true, Data: data}, nil
}

// parseAssignments validates the whole batch first. Any failure rejects the
// call before state changes.
func parseAssignments(state *team.State, params map[string]interface{}) ([]assignment, []interface{}) {
	raw, _ := params["assignments"].([]interface{})
	var out []assignment
	var failures []interface{}

	seen := make(map[string]bool)
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			failures = append(failures, map[string]any{"index": i, "reason": "assignment must be an object"})
			continue
		}
		a := assignment{
			InheritDeliverables: stringList(m["inherit_deliverables_from"]),
			InheritMessages:     stringList(m["inherit_messages_from"]),
		}
		var okID, okProfile, okRole, okInstr bool
		a.ModuleID, okID = stringParam(m, "module_id_to_assign")
		a.ProfileName, okProfile = stringParam(m, "agent_profile_logical_name")
		a.RoleName, okRole = stringParam(m, "assigned_role_name")
		a.Instructions, okInstr = stringParam(m, "assignment_specific_instructions")

		if !okID || !okProfile || !okRole || !okInstr {
			failures = append(failures, map[string]any{
				"index": i, "module_id": a.ModuleID, "reason": ReasonMissingField,
			})
			continue
		}
		if seen[a.ModuleID] {
			failures = append(failures, map[string]any{
				"index": i, "module_id": a.ModuleID, "reason": "module assigned twice in one call",
			})
			continue
		}
		seen[a.ModuleID] = true

		mod, exists := state.Module(a.ModuleID)
		switch {
		case !exists:
			failures = append(failures, map[string]any{
				"index": i, "module_id": a.ModuleID, "reason": ReasonUnknownModule,
			})
		case !mod.Dispatchable():
			failures = append(failures, map[string]any{
				"index": i, "module_id": a.ModuleID, "reason": ReasonNotDispatchable,
				"status": mod.Status,
			})
		case !state.HasProfile(a.ProfileName):
			failures = append(failures, map[string]any{
				"index": i, "module_id": a.ModuleID, "reason": ReasonUnknownProfile,
				"profile": a.ProfileName,
			})
		default:
			out = append(out, a)
		}
	}
	return out, failures
}

// runChildren executes all child flows in parallel, bounded by the
// configured semaphore, all under the run's cancel token.
func (t *DispatchSubmodules) runChildren(ctx context.Context, rc *engine.RunContext, assignments []assignment, sharedContext string) []dispatchOutcome {
	limit := rc.Spawner.MaxConcurrentChildFlows()
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	outcomes := make([]dispatchOutcome, len(assignments))

	var wg sync.WaitGroup
	for i, a := range assignments {
		wg.Add(1)
		go func(i int, a assignment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = t.runChild(ctx, rc, a, sharedContext)
		}(i, a)
	}
	wg.Wait()
	return outcomes
}

func (t *DispatchSubmodules) runChild(ctx context.Context, rc *engine.RunContext, a assignment, sharedContext string) dispatchOutcome {
	inbox := buildChildInbox(rc.Team, a, sharedContext)
	child, err := rc.Spawner.SpawnAssociate(ctx, a.ProfileName, a.RoleName, inbox)
	if err != nil {
		t.logger.Error("child flow failed to start",
			zap.String("module_id", a.ModuleID),
			zap.String("profile", a.ProfileName),
			zap.Error(err),
		)
		return dispatchOutcome{moduleID: a.ModuleID, status: engine.OutcomeError, errMsg: err.Error()}
	}

	oc := dispatchOutcome{
		moduleID: a.ModuleID,
		flowID:   child.FlowID,
		role:     a.RoleName,
		status:   child.Outcome.Status,
		errMsg:   child.Outcome.ErrorMessage,
		messages: child.Messages,
	}
	if child.HasFindings {
		oc.findings = child.Findings
	}
	return oc
}

// recordOutcome commits one child's result back into team state. A child
// that never submitted leaves an error deliverable so the Principal can
// review what happened.
func (t *DispatchSubmodules) recordOutcome(rc *engine.RunContext, oc dispatchOutcome) {
	d := team.Deliverable{Source: oc.role}
	if oc.findings != "" {
		d.Content = oc.findings
	} else {
		d.IsError = true
		d.Content = "associate ended without submitting findings"
		if oc.errMsg != "" {
			d.Content = "associate failed: " + oc.errMsg
		}
	}
	err := rc.Team.UpdateModule(oc.moduleID, func(m *team.Module) error {
		m.Deliverables = append(m.Deliverables, d)
		m.Status = team.StatusPendingReview
		m.MessagesRef = oc.flowID
		return nil
	})
	if err != nil {
		t.logger.Error("failed to record dispatch outcome",
			zap.String("module_id", oc.moduleID),
			zap.Error(err),
		)
	}
}

// buildChildInbox seeds the child flow's first turn: shared context, the
// assignment brief, then inherited deliverables and message histories.
func buildChildInbox(state *team.State, a assignment, sharedContext string) []engine.InboxItem {
	var inbox []engine.InboxItem
	if sharedContext != "" {
		inbox = append(inbox, engine.InboxItem{
			SourceTag:         "dispatch_shared_context",
			Payload:           sharedContext,
			IngestorID:        "tagged_content",
			ConsumptionPolicy: profile.Persistent,
		})
	}

	mod, _ := state.Module(a.ModuleID)
	inbox = append(inbox, engine.InboxItem{
		SourceTag: "dispatch_assignment",
		Payload: map[string]any{
			"module_id":          a.ModuleID,
			"module_name":        mod.Name,
			"module_description": mod.Description,
			"your_role":          a.RoleName,
			"instructions":       a.Instructions,
		},
		IngestorID:        "markdown",
		ConsumptionPolicy: profile.Persistent,
	})

	if deliverables := inheritedDeliverables(state, a.InheritDeliverables); len(deliverables) > 0 {
		inbox = append(inbox, engine.InboxItem{
			SourceTag:         "inherited_deliverables",
			Payload:           deliverables,
			IngestorID:        "deliverables",
			ConsumptionPolicy: profile.ConsumeOnRead,
		})
	}
	if messages := inheritedMessages(state, a.InheritMessages); len(messages) > 0 {
		inbox = append(inbox, engine.InboxItem{
			SourceTag:         "inherited_messages",
			Payload:           messages,
			IngestorID:        "markdown",
			ConsumptionPolicy: profile.ConsumeOnRead,
		})
	}
	return inbox
}

func inheritedDeliverables(state *team.State, moduleIDs []string) []any {
	var out []any
	for _, id := range moduleIDs {
		mod, ok := state.Module(id)
		if !ok {
			continue
		}
		for _, d := range mod.Deliverables {
			out = append(out, map[string]any{
				"from_module": id,
				"content":     d.Content,
				"is_error":    d.IsError,
			})
		}
	}
	return out
}

// inheritedMessages references child flow histories through the module's
// messages_ref. Full histories live with their flows; here the deliverable
// trail plus module metadata stands in when the flow is gone.
func inheritedMessages(state *team.State, moduleIDs []string) []any {
	var out []any
	for _, id := range moduleIDs {
		mod, ok := state.Module(id)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"module_id":    id,
			"module_name":  mod.Name,
			"messages_ref": mod.MessagesRef,
			"deliverables": deliverableContents(mod),
		})
	}
	return out
}

func deliverableContents(mod team.Module) []any {
	out := make([]any, 0, len(mod.Deliverables))
	for _, d := range mod.Deliverables {
		out = append(out, d.Content)
	}
	return out
}

func dispatchSummary(outcomes []dispatchOutcome) map[string]any {
	out := make(map[string]any, len(outcomes))
	for _, oc := range outcomes {
		out[oc.moduleID] = map[string]any{
			"execution_status": oc.status,
			"error":            oc.errMsg,
		}
	}
	return out
}

func stringList(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
