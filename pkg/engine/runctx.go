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
	"context"

	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/team"
)

// Spawner starts child Associate flows. Implemented by the Runtime; declared
// as an interface so tool packages depend on the capability, not the engine
// internals.
type Spawner interface {
	// SpawnAssociate runs a child flow to completion under ctx and returns
	// its result. The initial inbox seeds the child's first turn.
	SpawnAssociate(ctx context.Context, profileName, roleName string, initialInbox []InboxItem) (*ChildResult, error)

	// MaxConcurrentChildFlows is the dispatch parallelism bound.
	MaxConcurrentChildFlows() int
}

// ChildResult is the outcome of one child flow.
type ChildResult struct {
	FlowID   string
	Outcome  Outcome
	Findings string
	// HasFindings reports whether the child submitted via its submit tool.
	HasFindings bool
	// Messages is the child's full message history in tree form, for
	// inheritance into later dispatches.
	Messages []any
}

// RunContext gives tool handlers access to the run they execute inside.
// It travels on the context so the tool interface stays transport-shaped.
type RunContext struct {
	RunID  string
	FlowID string

	Team    *team.State
	Bus     *events.Bus
	Flow    *FlowState
	Spawner Spawner

	// ProfileName of the agent whose turn is executing.
	ProfileName string
}

type runContextKey struct{}

// WithRunContext attaches rc to ctx.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFrom extracts the run context, if present.
func RunContextFrom(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(runContextKey{}).(*RunContext)
	return rc, ok
}
