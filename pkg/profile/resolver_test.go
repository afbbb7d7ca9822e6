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
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseAndChild() map[string]*Profile {
	return map[string]*Profile{
		"associate_base": {
			Name: "associate_base",
			Type: TypeAssociate,
			ToolAccessPolicy: ToolAccessPolicy{
				AllowedToolsets:        []string{"core"},
				AllowedIndividualTools: []string{"finish_flow"},
			},
			SystemPromptConstruction: PromptConstruction{Segments: []Segment{
				{ID: "identity", Type: SegmentStaticText, Order: 10, Content: "You are an associate."},
				{ID: "tools", Type: SegmentToolDescription, Order: 50},
			}},
			TextDefinitions: map[string]string{
				"self_reflection": "Reflect on your last response.",
			},
			PostTurnObservers: []Observer{
				{ID: "no_tool_counter", Condition: "not v['current_action']", Action: Action{
					Type:    ActionUpdateState,
					Updates: []StateUpdate{{Op: "increment", Path: "state.flags.consecutive_no_tool_call_count", Value: 1}},
				}},
			},
			FlowDecider: []Rule{
				{ID: "catch_all", Condition: "True", Action: Action{Type: ActionContinueWithTool}},
			},
		},
		"websearcher": {
			Name:         "websearcher",
			BaseProfile:  "associate_base",
			LLMConfigRef: "fast",
			ToolAccessPolicy: ToolAccessPolicy{
				AllowedToolsets: []string{"research"},
			},
			SystemPromptConstruction: PromptConstruction{Segments: []Segment{
				{ID: "identity", Type: SegmentStaticText, Order: 10, Content: "You are a web research associate."},
				{ID: "format", Type: SegmentStaticText, Order: 90, Content: "Cite sources."},
			}},
			TextDefinitions: map[string]string{
				"self_reflection": "Review findings before submitting.",
				"replan":          "Reconsider your search strategy.",
			},
		},
	}
}

func TestResolveMergesChildOverBase(t *testing.T) {
	r := NewResolver(baseAndChild())

	p, err := r.Resolve("websearcher")
	require.NoError(t, err)

	assert.Equal(t, "websearcher", p.Name)
	assert.Equal(t, TypeAssociate, p.Type, "type inherited from base")
	assert.Equal(t, "fast", p.LLMConfigRef)
	assert.Empty(t, p.BaseProfile, "effective profiles carry no base reference")

	// tool access unions
	assert.ElementsMatch(t, []string{"core", "research"}, p.ToolAccessPolicy.AllowedToolsets)
	assert.Equal(t, []string{"finish_flow"}, p.ToolAccessPolicy.AllowedIndividualTools)

	// segments union by id, child wins; base order preserved, new appended
	require.Len(t, p.SystemPromptConstruction.Segments, 3)
	assert.Equal(t, "You are a web research associate.", p.SystemPromptConstruction.Segments[0].Content)
	assert.Equal(t, "tools", p.SystemPromptConstruction.Segments[1].ID)
	assert.Equal(t, "format", p.SystemPromptConstruction.Segments[2].ID)

	// text definitions child-wins by key
	assert.Equal(t, "Review findings before submitting.", p.TextDefinitions["self_reflection"])
	assert.Equal(t, "Reconsider your search strategy.", p.TextDefinitions["replan"])

	// observers and decider inherited untouched
	require.Len(t, p.PostTurnObservers, 1)
	require.Len(t, p.FlowDecider, 1)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver(baseAndChild())

	first, err := r.Resolve("websearcher")
	require.NoError(t, err)
	second, err := r.Resolve("websearcher")
	require.NoError(t, err)

	assert.Same(t, first, second, "resolution is memoized")
	assert.Equal(t, first, second)
}

func TestResolveCycle(t *testing.T) {
	raw := map[string]*Profile{
		"a": {Name: "a", BaseProfile: "b"},
		"b": {Name: "b", BaseProfile: "a"},
	}
	r := NewResolver(raw)

	_, err := r.Resolve("a")
	require.Error(t, err)
	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver(baseAndChild())

	_, err := r.Resolve("nope")
	require.Error(t, err)
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)

	_, err = NewResolver(map[string]*Profile{
		"orphan": {Name: "orphan", BaseProfile: "ghost"},
	}).Resolve("orphan")
	require.Error(t, err)
	assert.ErrorAs(t, err, &nfErr, "missing base surfaces as not-found")
}

func TestResolveRejectsUnknownActionKind(t *testing.T) {
	raw := map[string]*Profile{
		"bad": {Name: "bad", PreTurnObservers: []Observer{
			{ID: "x", Condition: "True", Action: Action{Type: "explode"}},
		}},
	}
	_, err := NewResolver(raw).Resolve("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action kind")
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()

	base := `
name: associate_base
type: associate
tool_access_policy:
  allowed_toolsets: [core]
flow_decider:
  - id: catch_all
    condition: "True"
    action:
      type: end_agent_turn
      outcome: success
`
	child := `
name: websearcher
base_profile: associate_base
llm_config_ref: fast
future_key_we_do_not_know: tolerated
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "websearcher.yml"), []byte(child), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	profiles, err := LoadAll(dir, nil)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	p, err := NewResolver(profiles).Resolve("websearcher")
	require.NoError(t, err)
	assert.Equal(t, TypeAssociate, p.Type)
	assert.Equal(t, "fast", p.LLMConfigRef)
	require.Len(t, p.FlowDecider, 1)
}

func TestLoadFileMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("type: associate\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}
