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
	"context"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Executor executes tools with schema validation, panic recovery, and
// timing. Validation failures and handler errors are returned as structured
// Results so the calling agent can read them and retry; only a missing tool
// is a Go error.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute executes a tool by name with the given parameters.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", toolName)
	}

	if result := e.validateParams(tool, params); result != nil {
		return result, nil
	}

	start := time.Now()
	result, err := e.executeSafely(ctx, tool, params)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		e.logger.Warn("tool handler failed",
			zap.String("tool", toolName),
			zap.Int64("elapsed_ms", elapsed),
			zap.Error(err),
		)
		return &Result{
			Success: false,
			Error: &Error{
				Code:    ErrCodeHandlerError,
				Message: err.Error(),
			},
			ExecutionTimeMs: elapsed,
		}, nil
	}

	if result == nil {
		result = &Result{Success: true}
	}
	result.ExecutionTimeMs = elapsed
	return result, nil
}

// executeSafely invokes the handler, converting panics to errors.
func (e *Executor) executeSafely(ctx context.Context, tool Tool, params map[string]interface{}) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, params)
}

// validateParams checks params against the tool's input schema. Returns a
// non-nil failure Result on violation, nil when valid.
func (e *Executor) validateParams(tool Tool, params map[string]interface{}) *Result {
	schema := tool.InputSchema()
	if schema == nil {
		return nil
	}

	schemaJSON, err := schema.ToJSON()
	if err != nil {
		// Malformed schemas are a registration bug; fail the call loudly.
		return &Result{
			Success: false,
			Error: &Error{
				Code:    ErrCodeSchemaViolation,
				Message: fmt.Sprintf("tool %s has an unmarshalable schema: %v", tool.Name(), err),
			},
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	validation, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return &Result{
			Success: false,
			Error: &Error{
				Code:    ErrCodeSchemaViolation,
				Message: fmt.Sprintf("parameter validation failed: %v", err),
			},
		}
	}
	if validation.Valid() {
		return nil
	}

	details := make(map[string]interface{})
	var first string
	for i, issue := range validation.Errors() {
		if i == 0 {
			first = issue.String()
		}
		details[issue.Field()] = issue.Description()
	}
	e.logger.Debug("tool parameters rejected",
		zap.String("tool", tool.Name()),
		zap.Int("violations", len(validation.Errors())),
	)
	return &Result{
		Success: false,
		Error: &Error{
			Code:    ErrCodeSchemaViolation,
			Message: first,
			Details: details,
		},
	}
}
