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

// Package run hosts the top-level run supervisor: one Run per user request,
// owning the team state, the event bus, the cancel token, and the Principal
// flow.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/events"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"github.com/teradata-labs/tapestry/pkg/team"
	"go.uber.org/zap"
)

// Config holds the run-level limits and persistence switches.
type Config struct {
	MaxTurnsPerFlow         int
	MaxConcurrentChildFlows int
	WallClockTimeout        time.Duration
	StateDumpEnabled        bool
	StateDumpPath           string
}

// Options wires a run together.
type Options struct {
	Profiles *profile.Resolver
	Registry *shuttle.Registry
	LLM      engine.LLMProvider

	// PrincipalProfile is the profile the root flow runs under.
	PrincipalProfile string
	// AssociateProfiles are the profile names available for dispatch.
	AssociateProfiles []string

	Config Config
	Logger *zap.Logger

	// Sink receives the final state dump when StateDumpEnabled is set. When
	// nil, one is derived from StateDumpPath.
	Sink DumpSink
}

// Run is one end-to-end execution for a user request.
type Run struct {
	id     string
	opts   Options
	team   *team.State
	bus    *events.Bus
	rt     *engine.Runtime
	logger *zap.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	outcome engine.Outcome

	startOnce  sync.Once
	cancelOnce sync.Once
}

// New creates a run. Start actually launches the Principal flow.
func New(opts Options) (*Run, error) {
	if opts.Profiles == nil || opts.Registry == nil || opts.LLM == nil {
		return nil, fmt.Errorf("run: profiles, registry, and llm provider are required")
	}
	if opts.PrincipalProfile == "" {
		return nil, fmt.Errorf("run: a principal profile is required")
	}
	// Profile resolution failures (unknown name, inheritance cycle) must
	// fail the run before it starts.
	if _, err := opts.Profiles.Resolve(opts.PrincipalProfile); err != nil {
		return nil, err
	}
	for _, name := range opts.AssociateProfiles {
		if _, err := opts.Profiles.Resolve(name); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := "run_" + uuid.NewString()[:8]
	logger = logger.With(zap.String("run_id", id))

	teamState := team.NewState(opts.AssociateProfiles)
	bus := events.NewBus(logger)
	rt := engine.NewRuntime(id, opts.Profiles, opts.Registry, opts.LLM, teamState, bus,
		engine.Config{
			MaxTurnsPerFlow:         opts.Config.MaxTurnsPerFlow,
			MaxConcurrentChildFlows: opts.Config.MaxConcurrentChildFlows,
		}, logger)

	return &Run{
		id:     id,
		opts:   opts,
		team:   teamState,
		bus:    bus,
		rt:     rt,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Bus returns the run's event bus for subscribers.
func (r *Run) Bus() *events.Bus { return r.bus }

// Team returns the run's team state.
func (r *Run) Team() *team.State { return r.team }

// Start launches the Principal flow on a worker goroutine with userPrompt
// as the opening user message. It returns immediately; Wait blocks for the
// outcome. Start is one-shot.
func (r *Run) Start(userPrompt string) error {
	var startErr error
	started := false
	r.startOnce.Do(func() {
		started = true
		startErr = r.start(userPrompt)
	})
	if !started {
		return fmt.Errorf("run %s already started", r.id)
	}
	return startErr
}

func (r *Run) start(userPrompt string) error {
	flow, err := r.rt.NewFlow(r.opts.PrincipalProfile, nil, userPrompt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if r.opts.Config.WallClockTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.opts.Config.WallClockTimeout)
	}
	r.cancel = cancel

	r.logger.Info("run started",
		zap.String("principal", r.opts.PrincipalProfile),
		zap.Int("associate_profiles", len(r.opts.AssociateProfiles)),
	)

	go func() {
		defer close(r.done)
		defer cancel()

		outcome := flow.Run(ctx)
		if ctx.Err() != nil {
			outcome = engine.Outcome{Status: engine.OutcomeCancelled, ErrorMessage: ctx.Err().Error()}
		}
		r.outcome = outcome

		r.bus.Publish(events.Event{
			Type:  events.TypeRunEnd,
			RunID: r.id,
			Payload: map[string]any{
				"outcome": outcome.Status,
				"error":   outcome.ErrorMessage,
			},
		})
		r.logger.Info("run ended",
			zap.String("outcome", outcome.Status),
			zap.String("error", outcome.ErrorMessage),
		)

		r.dumpState(flow)
		r.bus.Close()
	}()
	return nil
}

// Cancel fires the run's cancel token. Flows and in-flight LLM calls
// observe it at their next suspension point; no new turns start after.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() {
		if r.cancel != nil {
			r.logger.Info("run cancelled")
			r.cancel()
		}
	})
}

// Wait blocks until the Principal flow has terminated and returns the
// run outcome.
func (r *Run) Wait() engine.Outcome {
	<-r.done
	return r.outcome
}

func (r *Run) dumpState(principal *engine.Flow) {
	if !r.opts.Config.StateDumpEnabled {
		return
	}
	sink := r.opts.Sink
	if sink == nil {
		var err error
		sink, err = NewSinkForPath(r.opts.Config.StateDumpPath)
		if err != nil {
			r.logger.Error("state dump sink unavailable", zap.Error(err))
			return
		}
	}
	snap := &Snapshot{
		RunID:             r.id,
		Outcome:           r.outcome,
		CompletedAt:       time.Now().UTC(),
		TeamView:          r.team.View(),
		Modules:           r.team.Modules(),
		PrincipalMessages: principal.State().Messages,
	}
	if err := sink.Dump(snap); err != nil {
		r.logger.Error("state dump failed", zap.Error(err))
		return
	}
	r.logger.Info("state dumped", zap.String("path", r.opts.Config.StateDumpPath))
}
