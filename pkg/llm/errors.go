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
package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the final aggregated message has no
// content, no tool calls, AND no reasoning content. Reasoning-only
// responses count as progress and never produce this error.
var ErrEmptyResponse = errors.New("llm: empty response (no content, tool calls, or reasoning)")

// ErrTimeout is returned when a call exceeds its configured per-call
// timeout and retries are exhausted.
var ErrTimeout = errors.New("llm: call timed out")

// TransportError wraps HTTP-level failures (connection errors, non-200
// statuses). Transport errors are retried per the configured policy.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm transport: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm transport: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigNotFoundError reports an llm_config_ref with no matching entry.
type ConfigNotFoundError struct {
	Ref string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("llm config not found: %s", e.Ref)
}
