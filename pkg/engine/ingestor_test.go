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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatedContentIngestor(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	view := map[string]any{
		"loaded_profile": map[string]any{
			"text_definitions": map[string]any{
				"self_reflection": "You made no progress on {{ state.flags.goal }}. Reflect.",
			},
		},
		"state": map[string]any{
			"flags": map[string]any{"goal": "topic T"},
		},
	}

	out := reg.Render("templated_content",
		map[string]any{"content_key": "self_reflection"}, nil, view)
	assert.Equal(t, "You made no progress on topic T. Reflect.", out)

	out = reg.Render("templated_content",
		map[string]any{"content_key": "missing_key"}, nil, view)
	assert.Contains(t, out, "not found")

	out = reg.Render("templated_content", "not a map", nil, view)
	assert.Contains(t, out, "invalid payload")
}

func TestTemplatedContentWrapperTags(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	view := map[string]any{
		"loaded_profile": map[string]any{
			"text_definitions": map[string]any{"note": "hello"},
		},
	}
	out := reg.Render("templated_content",
		map[string]any{"content_key": "note"},
		map[string]any{"wrapper_tags": []any{"<note>", "</note>"}}, view)
	assert.Equal(t, "<note>hello</note>", out)
}

func TestGenericMessageIngestor(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("generic_message",
		map[string]any{"who": "Associate", "what": "finished"},
		map[string]any{"content_template": "{{ payload.who }} has {{ payload.what }}."},
		nil)
	assert.Equal(t, "Associate has finished.", out)

	out = reg.Render("generic_message", "plain text", nil, nil)
	assert.Equal(t, "plain text", out)
}

func TestToolResultIngestorErrorReport(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("tool_result", map[string]any{
		"tool_name": "web_search",
		"is_error":  true,
		"content":   map[string]any{"code": "handler_error", "message": "boom"},
	}, nil, nil)

	assert.True(t, strings.HasPrefix(out, "<tool_error_report>"))
	assert.Contains(t, out, `"tool_execution_failed": true`)
	assert.Contains(t, out, "web_search")
	assert.Contains(t, out, "boom")
}

func TestToolResultIngestorMainContent(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("tool_result", map[string]any{
		"tool_name": "web_search",
		"content": map[string]any{
			"main_content_for_llm": "the findings",
			"internal_debug":       "should not leak",
		},
	}, nil, nil)
	assert.Contains(t, out, "the findings")
	assert.NotContains(t, out, "should not leak")
}

func TestWorkModulesIngestorRespectsOrder(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	view := map[string]any{
		"team": map[string]any{
			"work_module_order": []any{"wm_b", "wm_a"},
		},
	}
	payload := map[string]any{
		"wm_a": map[string]any{"name": "second", "status": "pending"},
		"wm_b": map[string]any{"name": "first", "status": "pending"},
	}

	out := reg.Render("work_modules", payload, nil, view)
	require.Contains(t, out, "wm_a")
	require.Contains(t, out, "wm_b")
	assert.Less(t, strings.Index(out, "wm_b"), strings.Index(out, "wm_a"),
		"creation order wins over lexical order")
}

func TestWorkModulesIngestorEmpty(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("work_modules", map[string]any{}, nil, nil)
	assert.Contains(t, out, "No work modules are currently defined.")
}

func TestDeliverablesIngestor(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("deliverables", []any{
		map[string]any{"content": "findings one", "source": "WebSearcher"},
	}, nil, nil)
	assert.Contains(t, out, "Deliverable 1")
	assert.Contains(t, out, "findings one")

	out = reg.Render("deliverables", []any{}, nil, nil)
	assert.Contains(t, out, "(none)")
}

func TestUnknownIngestorFallsBackToMarkdown(t *testing.T) {
	reg := NewIngestorRegistry(nil)
	out := reg.Render("no_such_ingestor", map[string]any{"key_one": "value"}, nil, nil)
	assert.Contains(t, out, "Key One")
	assert.Contains(t, out, "value")
}

func TestMarkdownFormatNesting(t *testing.T) {
	lines := markdownFormat(map[string]any{
		"outer": map[string]any{"inner": "deep value"},
		"list":  []any{"a", "b"},
	}, 0)
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "* **Outer:**")
	assert.Contains(t, joined, "  * **Inner:**")
	assert.Contains(t, joined, "deep value")
	assert.Contains(t, joined, "a")
}
