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
package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view() map[string]any {
	return map[string]any{
		"state": map[string]any{
			"flags": map[string]any{
				"consecutive_no_tool_call_count": 3,
				"last_llm_error":                 "empty_response",
			},
		},
		"current_action": map[string]any{"tool_name": "dispatch_submodules"},
		"team": map[string]any{
			"work_modules": map[string]any{
				"wm_1": map[string]any{"status": "pending"},
			},
		},
	}
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"True", true},
		{"False", false},
		{"None", false},
		{"v['current_action']", true},
		{"v['state.flags.missing']", false},
		{"v['state.flags.consecutive_no_tool_call_count'] > 2", true},
		{"v['state.flags.consecutive_no_tool_call_count'] > 3", false},
		{"v['state.flags.consecutive_no_tool_call_count'] >= 3", true},
		{"v['state.flags.last_llm_error'] == 'empty_response'", true},
		{"v['state.flags.last_llm_error'] != 'empty_response'", false},
		{"v['current_action.tool_name'] == 'dispatch_submodules'", true},
		{"not v['current_action']", false},
		{"not v['state.flags.missing']", true},
		{"v['team.work_modules']", true},
		{"v['current_action'] and v['team.work_modules']", true},
		{"v['state.flags.missing'] or v['current_action']", true},
		{"v['state.flags.missing'] or v['state.flags.other_missing']", false},
		{"(v['state.flags.missing'] or True) and not False", true},
		// absent paths degrade to falsey in comparisons, never error
		{"v['no.such.path'] > 2", false},
		{"v['no.such.path'] == None", true},
	}

	for _, tt := range tests {
		got, err := EvalCondition(tt.expr, view())
		require.NoError(t, err, "expr %q", tt.expr)
		assert.Equal(t, tt.want, got, "expr %q", tt.expr)
	}
}

func TestEvalConditionSyntaxErrors(t *testing.T) {
	bad := []string{
		"",
		"v['state.flags.x'",
		"v['a'] ==",
		"(True",
		"True banana",
		"@",
		"v['a'] = 1",
	}
	for _, expr := range bad {
		_, err := EvalCondition(expr, view())
		require.Error(t, err, "expr %q", expr)
		var evalErr *EvaluatorError
		assert.ErrorAs(t, err, &evalErr, "expr %q", expr)
	}
}

func TestEvalConditionIsPure(t *testing.T) {
	v := view()
	for i := 0; i < 10; i++ {
		got, err := EvalCondition("v['state.flags.consecutive_no_tool_call_count'] > 2", v)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Equal(t, view(), v, "evaluation must not mutate the view")
}

func TestRenderTemplate(t *testing.T) {
	v := map[string]any{
		"task":  map[string]any{"name": "Research T", "turns": 4},
		"state": map[string]any{"flags": map[string]any{}},
	}

	assert.Equal(t, "Module: Research T (turn 4)",
		RenderTemplate("Module: {{ task.name }} (turn {{ task.turns }})", v))
	assert.Equal(t, "missing: ", RenderTemplate("missing: {{ no.such.path }}", v))
	assert.Equal(t, "no placeholders", RenderTemplate("no placeholders", v))
	assert.Equal(t, "Research T", RenderTemplate("{{task.name}}", v))
}
