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
package shuttle

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages tool registration and lookup. It is populated at boot
// and treated as read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register registers a tool with the registry.
// If a tool with the same name already exists, it will be replaced.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools returns all registered tools, sorted by name.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// AccessPolicy filters the registry down to the tools a profile may see.
type AccessPolicy struct {
	AllowedToolsets        []string
	AllowedIndividualTools []string
}

// Visible returns the tools allowed by policy: the union of whole allowed
// toolsets and individually allowed tools, sorted by name. The result feeds
// both the prompt's tool descriptions and the chat-completion tools field.
func (r *Registry) Visible(policy AccessPolicy) []Tool {
	toolsets := make(map[string]bool, len(policy.AllowedToolsets))
	for _, ts := range policy.AllowedToolsets {
		toolsets[ts] = true
	}
	individual := make(map[string]bool, len(policy.AllowedIndividualTools))
	for _, name := range policy.AllowedIndividualTools {
		individual[name] = true
	}

	var out []Tool
	for _, tool := range r.ListTools() {
		if toolsets[tool.Toolset()] || individual[tool.Name()] {
			out = append(out, tool)
		}
	}
	return out
}

// RenderPrompt renders tool descriptions and parameter schemas as prompt
// text for a tool_description segment.
func RenderPrompt(tools []Tool) string {
	if len(tools) == 0 {
		return "No tools are available this turn."
	}

	var b strings.Builder
	b.WriteString("## Available Tools\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "\n### %s\n%s\n", tool.Name(), tool.Description())
		if schema := tool.InputSchema(); schema != nil {
			if data, err := schema.ToJSON(); err == nil {
				fmt.Fprintf(&b, "Parameters (JSON Schema):\n```json\n%s\n```\n", string(data))
			}
		}
	}
	return b.String()
}
