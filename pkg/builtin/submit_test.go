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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
)

func TestGenerateMessageSummaryLastCallWins(t *testing.T) {
	rc, bus := newTestRunContext(team.NewState(nil), nil)
	defer bus.Close()
	ctx := engine.WithRunContext(context.Background(), rc)

	tool := NewGenerateMessageSummary()
	res, err := tool.Execute(ctx, map[string]interface{}{"current_associate_findings": "first pass"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, rc.Flow.HasFindings)
	assert.Equal(t, "first pass", rc.Flow.Findings)

	res, err = tool.Execute(ctx, map[string]interface{}{"current_associate_findings": "revised findings"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "revised findings", rc.Flow.Findings, "a second submission replaces the first")

	assert.True(t, tool.EndsTurn())
}

func TestGenerateMessageSummaryRequiresFindings(t *testing.T) {
	rc, bus := newTestRunContext(team.NewState(nil), nil)
	defer bus.Close()

	tool := NewGenerateMessageSummary()
	res, err := tool.Execute(engine.WithRunContext(context.Background(), rc), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, rc.Flow.HasFindings)
}

func TestFinishFlowSetsFlag(t *testing.T) {
	rc, bus := newTestRunContext(team.NewState(nil), nil)
	defer bus.Close()

	tool := NewFinishFlow()
	res, err := tool.Execute(engine.WithRunContext(context.Background(), rc), map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, tool.EndsTurn())

	v, ok := rc.Flow.Flag("finish_requested")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestGenerateMarkdownReportStoresAndWrites(t *testing.T) {
	state := team.NewState(nil)
	rc, bus := newTestRunContext(state, nil)
	defer bus.Close()
	dir := t.TempDir()

	tool := NewGenerateMarkdownReport(dir, nil)
	res, err := tool.Execute(engine.WithRunContext(context.Background(), rc), map[string]interface{}{
		"principal_final_synthesis": "# Report\n\nAll done.",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.False(t, tool.EndsTurn(), "the Principal still needs to call finish_flow")

	assert.Equal(t, "# Report\n\nAll done.", state.SharedContext()[SharedContextReportKey])

	path := filepath.Join(dir, "report_run_test.md")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Report")
}

func TestRegisterAll(t *testing.T) {
	registry := shuttle.NewRegistry()
	RegisterAll(registry, Options{})
	for _, name := range []string{
		"manage_work_modules",
		"dispatch_submodules",
		"generate_message_summary",
		"generate_markdown_report",
		"finish_flow",
	} {
		_, ok := registry.Get(name)
		assert.True(t, ok, name)
	}
}
