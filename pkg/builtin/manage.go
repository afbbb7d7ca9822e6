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
	"fmt"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
	"go.uber.org/zap"
)

// ManageWorkModules is the Principal's plan-management tool. Actions apply
// under the team-state lock one by one; a failed action reports its error in
// the result while the remaining actions still apply.
type ManageWorkModules struct {
	logger *zap.Logger
}

// NewManageWorkModules creates the manage_work_modules tool.
func NewManageWorkModules(logger *zap.Logger) *ManageWorkModules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManageWorkModules{logger: logger}
}

func (t *ManageWorkModules) Name() string { return "manage_work_modules" }

func (t *ManageWorkModules) Description() string {
	return "Create, update, or delete work modules in the team plan. " +
		"Each action is one of add (name, description), update (module_id plus " +
		"fields to change), or delete (module_id, a soft delete). Results are " +
		"reported per action."
}

func (t *ManageWorkModules) Toolset() string { return ToolsetPlanning }
func (t *ManageWorkModules) EndsTurn() bool  { return false }

func (t *ManageWorkModules) InputSchema() *shuttle.JSONSchema {
	action := shuttle.NewObjectSchema("one plan action", map[string]*shuttle.JSONSchema{
		"action_type": shuttle.NewStringSchema("add, update, or delete").WithEnum("add", "update", "delete"),
		"name":        shuttle.NewStringSchema("module name (add, update)"),
		"description": shuttle.NewStringSchema("module description (add, update)"),
		"module_id":   shuttle.NewStringSchema("target module id (update, delete)"),
		"status":      shuttle.NewStringSchema("new status (update)"),
	}, []string{"action_type"})
	return shuttle.NewObjectSchema("manage_work_modules parameters", map[string]*shuttle.JSONSchema{
		"actions": shuttle.NewArraySchema("plan actions applied in order", action),
	}, []string{"actions"})
}

func (t *ManageWorkModules) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rc, fail := runContext(ctx, t.Name())
	if fail != nil {
		return fail, nil
	}

	rawActions, ok := params["actions"].([]interface{})
	if !ok || len(rawActions) == 0 {
		return &shuttle.Result{
			Success: false,
			Error:   &shuttle.Error{Code: shuttle.ErrCodeSchemaViolation, Message: "actions must be a non-empty array"},
		}, nil
	}

	results := make([]any, 0, len(rawActions))
	failures := 0
	for i, raw := range rawActions {
		action, ok := raw.(map[string]interface{})
		if !ok {
			results = append(results, actionError(i, "", "action must be an object"))
			failures++
			continue
		}
		result := t.applyAction(rc, i, action)
		if result["status"] != "ok" {
			failures++
		}
		results = append(results, result)
	}

	rc.Bus.Publish(events.Event{
		Type:    events.TypeWorkModulesUpdate,
		RunID:   rc.RunID,
		FlowID:  rc.FlowID,
		AgentID: rc.ProfileName,
		Payload: map[string]any{"work_modules": modulesSnapshot(rc.Team)},
	})

	status := "success"
	if failures > 0 {
		status = "partial_failure"
	}
	return &shuttle.Result{
		Success: true,
		Data: map[string]any{
			"main_content_for_llm": map[string]any{
				"status":         status,
				"action_results": results,
			},
		},
	}, nil
}

func (t *ManageWorkModules) applyAction(rc *engine.RunContext, index int, action map[string]interface{}) map[string]any {
	actionType, _ := action["action_type"].(string)
	switch actionType {
	case "add":
		name, ok := stringParam(action, "name")
		if !ok {
			return actionError(index, "", "add requires a name")
		}
		description, _ := action["description"].(string)
		m := rc.Team.AddModule(name, description)
		t.logger.Info("work module added",
			zap.String("module_id", m.ModuleID),
			zap.String("name", name),
		)
		return map[string]any{"status": "ok", "action_type": "add", "module_id": m.ModuleID}

	case "update":
		id, ok := stringParam(action, "module_id")
		if !ok {
			return actionError(index, "", "update requires a module_id")
		}
		err := rc.Team.UpdateModule(id, func(m *team.Module) error {
			if name, ok := stringParam(action, "name"); ok {
				m.Name = name
			}
			if desc, ok := action["description"].(string); ok {
				m.Description = desc
			}
			if status, ok := stringParam(action, "status"); ok {
				if !team.ValidStatus(status) {
					return fmt.Errorf("unknown status %q", status)
				}
				m.Status = status
			}
			return nil
		})
		if err != nil {
			return actionError(index, id, err.Error())
		}
		return map[string]any{"status": "ok", "action_type": "update", "module_id": id}

	case "delete":
		id, ok := stringParam(action, "module_id")
		if !ok {
			return actionError(index, "", "delete requires a module_id")
		}
		if err := rc.Team.DeprecateModule(id); err != nil {
			return actionError(index, id, err.Error())
		}
		return map[string]any{"status": "ok", "action_type": "delete", "module_id": id}

	default:
		return actionError(index, "", fmt.Sprintf("unknown action_type %q", actionType))
	}
}

func actionError(index int, moduleID, reason string) map[string]any {
	out := map[string]any{
		"status":       "error",
		"action_index": index,
		"reason":       reason,
	}
	if moduleID != "" {
		out["module_id"] = moduleID
	}
	return out
}

// modulesSnapshot projects the plan for a WorkModulesUpdate payload.
func modulesSnapshot(state *team.State) []any {
	mods := state.Modules()
	out := make([]any, 0, len(mods))
	for _, m := range mods {
		out = append(out, map[string]any{
			"module_id": m.ModuleID,
			"name":      m.Name,
			"status":    m.Status,
		})
	}
	return out
}
