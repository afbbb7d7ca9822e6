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
	"os"
	"path/filepath"

	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"go.uber.org/zap"
)

// SharedContextReportKey is where the final report lands in team shared
// context.
const SharedContextReportKey = "final_report"

// GenerateMarkdownReport stores the Principal's final synthesis as the run's
// report artifact. It does not end the turn: the Principal typically calls
// finish_flow right after.
type GenerateMarkdownReport struct {
	outputDir string
	logger    *zap.Logger
}

// NewGenerateMarkdownReport creates the generate_markdown_report tool.
// When outputDir is non-empty the report is also written to disk.
func NewGenerateMarkdownReport(outputDir string, logger *zap.Logger) *GenerateMarkdownReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateMarkdownReport{outputDir: outputDir, logger: logger}
}

func (t *GenerateMarkdownReport) Name() string { return "generate_markdown_report" }

func (t *GenerateMarkdownReport) Description() string {
	return "Store the final markdown report synthesized from all module " +
		"deliverables. The report becomes the run's primary artifact."
}

func (t *GenerateMarkdownReport) Toolset() string { return ToolsetCore }
func (t *GenerateMarkdownReport) EndsTurn() bool  { return false }

func (t *GenerateMarkdownReport) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("generate_markdown_report parameters", map[string]*shuttle.JSONSchema{
		"principal_final_synthesis": shuttle.NewStringSchema("the complete report in markdown"),
	}, []string{"principal_final_synthesis"})
}

func (t *GenerateMarkdownReport) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rc, fail := runContext(ctx, t.Name())
	if fail != nil {
		return fail, nil
	}
	report, ok := stringParam(params, "principal_final_synthesis")
	if !ok {
		return &shuttle.Result{
			Success: false,
			Error:   &shuttle.Error{Code: shuttle.ErrCodeSchemaViolation, Message: "principal_final_synthesis must be a non-empty string"},
		}, nil
	}

	rc.Team.SetSharedContext(SharedContextReportKey, report)

	var reportPath string
	if t.outputDir != "" {
		reportPath = filepath.Join(t.outputDir, fmt.Sprintf("report_%s.md", rc.RunID))
		if err := os.MkdirAll(t.outputDir, 0o755); err == nil {
			err = os.WriteFile(reportPath, []byte(report), 0o644)
			if err != nil {
				t.logger.Warn("failed to write report file", zap.String("path", reportPath), zap.Error(err))
				reportPath = ""
			}
		} else {
			t.logger.Warn("failed to create report directory", zap.String("dir", t.outputDir), zap.Error(err))
			reportPath = ""
		}
	}

	data := map[string]any{"main_content_for_llm": "Report stored."}
	if reportPath != "" {
		data["report_path"] = reportPath
	}
	return &shuttle.Result{Success: true, Data: data}, nil
}
