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

	"github.com/teradata-labs/tapestry/pkg/shuttle"
)

// GenerateMessageSummary is the Associate submit tool: it writes the
// findings into the flow's outcome slot and ends the flow. Calling it again
// replaces the previous findings.
type GenerateMessageSummary struct{}

// NewGenerateMessageSummary creates the generate_message_summary tool.
func NewGenerateMessageSummary() *GenerateMessageSummary {
	return &GenerateMessageSummary{}
}

func (t *GenerateMessageSummary) Name() string { return "generate_message_summary" }

func (t *GenerateMessageSummary) Description() string {
	return "Submit your findings for the assigned work module. This ends your " +
		"turn; calling it again before the flow ends replaces the previous " +
		"submission."
}

func (t *GenerateMessageSummary) Toolset() string { return ToolsetCore }
func (t *GenerateMessageSummary) EndsTurn() bool  { return true }

func (t *GenerateMessageSummary) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("generate_message_summary parameters", map[string]*shuttle.JSONSchema{
		"current_associate_findings": shuttle.NewStringSchema("the complete findings to deliver"),
	}, []string{"current_associate_findings"})
}

func (t *GenerateMessageSummary) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rc, fail := runContext(ctx, t.Name())
	if fail != nil {
		return fail, nil
	}
	findings, ok := stringParam(params, "current_associate_findings")
	if !ok {
		return &shuttle.Result{
			Success: false,
			Error:   &shuttle.Error{Code: shuttle.ErrCodeSchemaViolation, Message: "current_associate_findings must be a non-empty string"},
		}, nil
	}

	rc.Flow.Findings = findings
	rc.Flow.HasFindings = true

	return &shuttle.Result{
		Success: true,
		Data:    map[string]any{"main_content_for_llm": "Findings submitted."},
	}, nil
}

// FinishFlow terminates the calling flow with success.
type FinishFlow struct{}

// NewFinishFlow creates the finish_flow tool.
func NewFinishFlow() *FinishFlow {
	return &FinishFlow{}
}

func (t *FinishFlow) Name() string { return "finish_flow" }

func (t *FinishFlow) Description() string {
	return "Declare the task complete and end this flow with success. Call " +
		"only after the final report has been generated."
}

func (t *FinishFlow) Toolset() string { return ToolsetCore }
func (t *FinishFlow) EndsTurn() bool  { return true }

func (t *FinishFlow) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("finish_flow takes no parameters", nil, nil)
}

func (t *FinishFlow) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rc, fail := runContext(ctx, t.Name())
	if fail != nil {
		return fail, nil
	}
	rc.Flow.SetFlag("finish_requested", true)
	return &shuttle.Result{
		Success: true,
		Data:    map[string]any{"main_content_for_llm": "Flow finished."},
	}, nil
}
