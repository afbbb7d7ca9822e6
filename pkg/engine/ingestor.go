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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/teradata-labs/tapestry/pkg/expr"
	"github.com/teradata-labs/tapestry/pkg/statepath"
	"go.uber.org/zap"
)

// Ingestor renders a state value or inbox payload as prompt text. The view
// is the same read-only snapshot conditions are evaluated against.
type Ingestor func(payload any, params map[string]any, view map[string]any) string

// IngestorRegistry maps ingestor ids to formatters. Read-only after boot.
type IngestorRegistry struct {
	formatters map[string]Ingestor
	logger     *zap.Logger
}

// NewIngestorRegistry creates a registry preloaded with the built-in
// formatters.
func NewIngestorRegistry(logger *zap.Logger) *IngestorRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &IngestorRegistry{
		formatters: make(map[string]Ingestor),
		logger:     logger,
	}
	r.Register("templated_content", templatedContentIngestor)
	r.Register("generic_message", genericMessageIngestor)
	r.Register("tool_result", toolResultIngestor)
	r.Register("work_modules", workModulesIngestor)
	r.Register("available_associates", availableAssociatesIngestor)
	r.Register("shared_context", sharedContextIngestor)
	r.Register("deliverables", deliverablesIngestor)
	r.Register("tagged_content", taggedContentIngestor)
	r.Register("user_prompt", userPromptIngestor)
	r.Register("markdown", markdownIngestor)
	return r
}

// Register adds or overrides a formatter.
func (r *IngestorRegistry) Register(id string, fn Ingestor) {
	if _, exists := r.formatters[id]; exists {
		r.logger.Warn("ingestor overridden", zap.String("ingestor", id))
	}
	r.formatters[id] = fn
}

// Render formats payload with the named ingestor. Unknown or empty ids fall
// back to the markdown formatter so a profile typo degrades instead of
// breaking the turn.
func (r *IngestorRegistry) Render(id string, payload any, params map[string]any, view map[string]any) string {
	fn, ok := r.formatters[id]
	if !ok {
		if id != "" {
			r.logger.Warn("unknown ingestor, using markdown fallback", zap.String("ingestor", id))
		}
		fn = markdownIngestor
	}
	return fn(payload, params, view)
}

// templatedContentIngestor looks up payload["content_key"] in the profile's
// text_definitions and interpolates {{ path }} references against the view.
func templatedContentIngestor(payload any, params map[string]any, view map[string]any) string {
	p, ok := payload.(map[string]any)
	if !ok {
		return fmt.Sprintf("[Error: templated_content received an invalid payload: %v]", payload)
	}
	key, _ := p["content_key"].(string)
	tpl, ok := statepath.Resolve(view, "loaded_profile.text_definitions."+key)
	if !ok {
		return fmt.Sprintf("[Error: Template %q not found]", key)
	}
	rendered := expr.RenderTemplate(statepath.Stringify(tpl), view)
	return wrapTags(rendered, params)
}

// genericMessageIngestor fills params["content_template"] with payload
// fields. "{{ payload }}" takes the whole payload's string form.
func genericMessageIngestor(payload any, params map[string]any, view map[string]any) string {
	tpl := "{{ payload }}"
	if t, ok := params["content_template"].(string); ok && t != "" {
		tpl = t
	}
	if m, ok := payload.(map[string]any); ok {
		for key, value := range m {
			tpl = strings.ReplaceAll(tpl, "{{ payload."+key+" }}", statepath.Stringify(value))
		}
	}
	return strings.ReplaceAll(tpl, "{{ payload }}", statepath.Stringify(payload))
}

// toolResultIngestor formats a tool result payload, preferring markdown over
// raw JSON. Errors keep full context inside a tagged JSON report.
func toolResultIngestor(payload any, params map[string]any, view map[string]any) string {
	p, ok := payload.(map[string]any)
	if !ok {
		return statepath.Stringify(payload)
	}
	toolName, _ := p["tool_name"].(string)
	content := p["content"]
	isError, _ := p["is_error"].(bool)

	if isError {
		report := map[string]any{
			"tool_execution_failed": true,
			"tool_name":             toolName,
			"error_details":         content,
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Sprintf("<tool_error_report>\ntool %s failed: %v\n</tool_error_report>", toolName, content)
		}
		return fmt.Sprintf("<tool_error_report>\n%s\n</tool_error_report>", data)
	}

	if m, ok := content.(map[string]any); ok {
		if main, ok := m["main_content_for_llm"]; ok {
			return strings.Join(markdownFormat(main, 0), "\n")
		}
		if raw, ok := m["_raw_json"]; ok {
			data, err := json.MarshalIndent(raw, "", "  ")
			if err == nil {
				return string(data)
			}
		}
	}
	return strings.Join(markdownFormat(content, 0), "\n")
}

// workModulesIngestor renders the plan in creation order. The payload is
// the team view's work_modules map; ordering comes from work_module_order.
func workModulesIngestor(payload any, params map[string]any, view map[string]any) string {
	modules, ok := payload.(map[string]any)
	if !ok {
		return "Work modules data is not in the expected format."
	}
	lines := []string{titleParam(params, "### Current Work Modules Status")}
	if len(modules) == 0 {
		lines = append(lines, "No work modules are currently defined.")
		return strings.Join(lines, "\n")
	}

	ids := orderedModuleIDs(modules, view)
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("* **%s:**", id))
		lines = append(lines, markdownFormat(modules[id], 1)...)
	}
	return strings.Join(lines, "\n")
}

func orderedModuleIDs(modules map[string]any, view map[string]any) []string {
	if order, ok := statepath.Resolve(view, "team.work_module_order"); ok {
		if list, ok := order.([]any); ok && len(list) == len(modules) {
			ids := make([]string, 0, len(list))
			for _, v := range list {
				if id, ok := v.(string); ok {
					ids = append(ids, id)
				}
			}
			if len(ids) == len(modules) {
				return ids
			}
		}
	}
	ids := make([]string, 0, len(modules))
	for id := range modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// availableAssociatesIngestor renders the dispatchable profile names.
func availableAssociatesIngestor(payload any, params map[string]any, view map[string]any) string {
	names, ok := payload.([]any)
	if !ok {
		return "Available associates list is not in the expected format."
	}
	lines := []string{titleParam(params, "### Available Associate Agent Profiles")}
	if len(names) == 0 {
		lines = append(lines, "No associate profiles are currently available.")
		return strings.Join(lines, "\n")
	}
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		sorted = append(sorted, statepath.Stringify(n))
	}
	sort.Strings(sorted)
	for _, name := range sorted {
		lines = append(lines, fmt.Sprintf("* **%s**", name))
	}
	return strings.Join(lines, "\n")
}

// sharedContextIngestor renders the cross-flow shared context map.
func sharedContextIngestor(payload any, params map[string]any, view map[string]any) string {
	lines := []string{titleParam(params, "### Shared Context")}
	lines = append(lines, markdownFormat(payload, 0)...)
	return strings.Join(lines, "\n")
}

// deliverablesIngestor renders a list of deliverable records.
func deliverablesIngestor(payload any, params map[string]any, view map[string]any) string {
	lines := []string{titleParam(params, "### Deliverables")}
	list, ok := payload.([]any)
	if !ok || len(list) == 0 {
		lines = append(lines, "  (none)")
		return strings.Join(lines, "\n")
	}
	for i, item := range list {
		lines = append(lines, fmt.Sprintf("* **Deliverable %d:**", i+1))
		lines = append(lines, markdownFormat(item, 1)...)
	}
	return strings.Join(lines, "\n")
}

// taggedContentIngestor wraps the payload string in params["wrapper_tags"].
func taggedContentIngestor(payload any, params map[string]any, view map[string]any) string {
	return wrapTags(statepath.Stringify(payload), params)
}

// userPromptIngestor extracts the user prompt from the payload.
func userPromptIngestor(payload any, params map[string]any, view map[string]any) string {
	if m, ok := payload.(map[string]any); ok {
		if prompt, ok := m["prompt"].(string); ok {
			return prompt
		}
	}
	return statepath.Stringify(payload)
}

// markdownIngestor is the default formatter for arbitrary payloads.
func markdownIngestor(payload any, params map[string]any, view map[string]any) string {
	lines := markdownFormat(payload, 0)
	if title := titleParam(params, ""); title != "" {
		lines = append([]string{title}, lines...)
	}
	return strings.Join(lines, "\n")
}

func titleParam(params map[string]any, fallback string) string {
	if t, ok := params["title"].(string); ok && t != "" {
		return t
	}
	return fallback
}

func wrapTags(content string, params map[string]any) string {
	tags, ok := params["wrapper_tags"].([]any)
	if !ok || len(tags) != 2 {
		return content
	}
	return statepath.Stringify(tags[0]) + content + statepath.Stringify(tags[1])
}

// markdownFormat recursively renders a value tree as LLM-friendly markdown.
// Map keys are sorted for stable output.
func markdownFormat(data any, level int) []string {
	indent := strings.Repeat("  ", level)
	var lines []string

	switch v := data.(type) {
	case map[string]any:
		if len(v) == 0 {
			return []string{indent + "  (empty)"}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			lines = append(lines, fmt.Sprintf("%s* **%s:**", indent, titleCase(key)))
			lines = append(lines, markdownFormat(v[key], level+1)...)
		}
	case []any:
		if len(v) == 0 {
			return []string{indent + "  (empty)"}
		}
		for _, item := range v {
			lines = append(lines, markdownFormat(item, level)...)
		}
	case string:
		for _, line := range strings.Split(strings.TrimSpace(v), "\n") {
			lines = append(lines, indent+"  "+line)
		}
	default:
		lines = append(lines, indent+"  "+statepath.Stringify(v))
	}
	return lines
}

// titleCase turns "assigned_profile_name" into "Assigned Profile Name".
func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
