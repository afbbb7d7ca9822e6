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
	"fmt"

	"github.com/google/uuid"
	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
	"go.uber.org/zap"
)

// LLMCaller is the streaming chat-completion surface the turn engine needs.
// Tests substitute a scripted implementation.
type LLMCaller interface {
	Call(ctx context.Context, messages []llm.Message, tools []shuttle.Tool, onFrame llm.FrameFunc) (*llm.Message, error)
	Model() string
}

// LLMProvider resolves a profile's llm_config_ref to a caller.
type LLMProvider func(configRef string) (LLMCaller, error)

// Config holds the engine's runtime limits.
type Config struct {
	MaxTurnsPerFlow         int
	MaxConcurrentChildFlows int
}

// DefaultConfig returns the engine limits used when configuration does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxTurnsPerFlow:         64,
		MaxConcurrentChildFlows: 4,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxTurnsPerFlow <= 0 {
		c.MaxTurnsPerFlow = def.MaxTurnsPerFlow
	}
	if c.MaxConcurrentChildFlows <= 0 {
		c.MaxConcurrentChildFlows = def.MaxConcurrentChildFlows
	}
}

// Runtime is the per-run engine: shared registries, team state, the event
// bus, and the factory for flows. It implements Spawner so dispatch tools
// can start child Associate flows.
type Runtime struct {
	RunID     string
	Profiles  *profile.Resolver
	Registry  *shuttle.Registry
	Executor  *shuttle.Executor
	Ingestors *IngestorRegistry
	Assembler *Assembler
	Team      *team.State
	Bus       *events.Bus
	LLM       LLMProvider
	Config    Config
	Logger    *zap.Logger
}

// NewRuntime wires a runtime. Registry, resolver, and LLM provider are
// required; nil logger and zero config fall back to defaults.
func NewRuntime(runID string, profiles *profile.Resolver, registry *shuttle.Registry, llmProvider LLMProvider, teamState *team.State, bus *events.Bus, cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	ingestors := NewIngestorRegistry(logger)
	return &Runtime{
		RunID:     runID,
		Profiles:  profiles,
		Registry:  registry,
		Executor:  shuttle.NewExecutor(registry, logger),
		Ingestors: ingestors,
		Assembler: NewAssembler(ingestors, logger),
		Team:      teamState,
		Bus:       bus,
		LLM:       llmProvider,
		Config:    cfg,
		Logger:    logger,
	}
}

// NewFlow creates a flow for the named profile. The initial inbox seeds the
// first turn; firstUserMessage, when non-empty, becomes the opening user
// message (the Principal's user prompt).
func (rt *Runtime) NewFlow(profileName string, initialInbox []InboxItem, firstUserMessage string) (*Flow, error) {
	p, err := rt.Profiles.Resolve(profileName)
	if err != nil {
		return nil, err
	}
	caller, err := rt.LLM(p.LLMConfigRef)
	if err != nil {
		return nil, fmt.Errorf("resolving llm config for profile %q: %w", profileName, err)
	}

	state := NewFlowState()
	state.Inbox = append(state.Inbox, initialInbox...)
	if firstUserMessage != "" {
		state.Messages = append(state.Messages, llm.Message{
			Role:    llm.RoleUser,
			Content: firstUserMessage,
		})
	}

	id := "flow_" + uuid.NewString()[:8]
	return &Flow{
		id:      id,
		profile: p,
		state:   state,
		llm:     caller,
		rt:      rt,
		logger: rt.Logger.With(
			zap.String("flow_id", id),
			zap.String("profile", profileName),
		),
	}, nil
}

// SpawnAssociate runs a child flow to completion and returns its result.
func (rt *Runtime) SpawnAssociate(ctx context.Context, profileName, roleName string, initialInbox []InboxItem) (*ChildResult, error) {
	flow, err := rt.NewFlow(profileName, initialInbox, "")
	if err != nil {
		return nil, err
	}
	flow.state.SetFlag("role_name", roleName)

	outcome := flow.Run(ctx)
	return &ChildResult{
		FlowID:      flow.ID(),
		Outcome:     outcome,
		Findings:    flow.state.Findings,
		HasFindings: flow.state.HasFindings,
		Messages:    flow.NewMessagesSince(0),
	}, nil
}

// MaxConcurrentChildFlows reports the dispatch parallelism bound.
func (rt *Runtime) MaxConcurrentChildFlows() int {
	return rt.Config.MaxConcurrentChildFlows
}
