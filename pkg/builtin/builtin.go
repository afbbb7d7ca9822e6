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

// Package builtin provides the planning, dispatch, and submission tools
// every run carries: work-module plan management, parallel Associate
// dispatch, the Associate submit tool, report generation, and flow finish.
package builtin

import (
	"context"
	"fmt"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"go.uber.org/zap"
)

// Toolset tags for profile tool-access policies.
const (
	ToolsetPlanning = "planning"
	ToolsetCore     = "core"
)

// Options configures the built-in tool set.
type Options struct {
	// ReportDir, when non-empty, is where generate_markdown_report also
	// writes the report file.
	ReportDir string
	Logger    *zap.Logger
}

// RegisterAll installs every built-in tool into the registry.
func RegisterAll(registry *shuttle.Registry, opts Options) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	registry.Register(NewManageWorkModules(opts.Logger))
	registry.Register(NewDispatchSubmodules(opts.Logger))
	registry.Register(NewGenerateMessageSummary())
	registry.Register(NewGenerateMarkdownReport(opts.ReportDir, opts.Logger))
	registry.Register(NewFinishFlow())
}

// runContext extracts the run context or builds the standard failure result.
func runContext(ctx context.Context, toolName string) (*engine.RunContext, *shuttle.Result) {
	rc, ok := engine.RunContextFrom(ctx)
	if !ok || rc.Team == nil {
		return nil, &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:    shuttle.ErrCodeHandlerError,
				Message: fmt.Sprintf("%s requires a run context", toolName),
			},
		}
	}
	return rc, nil
}

// stringParam reads a required string parameter.
func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}
