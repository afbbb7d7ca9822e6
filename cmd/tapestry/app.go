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
package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/teradata-labs/tapestry/pkg/builtin"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/run"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"go.uber.org/zap"
)

// app holds the wired runtime pieces shared by the run and serve commands.
type app struct {
	logger    *zap.Logger
	profiles  *profile.Resolver
	registry  *shuttle.Registry
	llmLoader engine.LLMProvider

	principal  string
	associates []string
	runConfig  run.Config
}

// buildApp loads profiles and LLM configs per viper settings and wires the
// tool registry.
func buildApp(logger *zap.Logger) (*app, error) {
	profilesDir := viper.GetString("profiles.dir")
	raw, err := profile.LoadAll(profilesDir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading profiles from %s: %w", profilesDir, err)
	}
	resolver := profile.NewResolver(raw)

	llmConfigs, err := llm.LoadConfigs(viper.GetString("profiles.llm_configs"))
	if err != nil {
		return nil, err
	}

	registry := shuttle.NewRegistry()
	builtin.RegisterAll(registry, builtin.Options{
		ReportDir: viper.GetString("run.report_dir"),
		Logger:    logger,
	})

	principal := viper.GetString("run.principal_profile")
	var associates []string
	for _, name := range resolver.Names() {
		p, err := resolver.Resolve(name)
		if err != nil {
			return nil, err
		}
		if p.Type == profile.TypeAssociate {
			associates = append(associates, name)
		}
	}

	provider := func(ref string) (engine.LLMCaller, error) {
		if ref == "" {
			ref = "default"
		}
		cfg, err := llmConfigs.Resolve(ref)
		if err != nil {
			return nil, err
		}
		return llm.NewClient(cfg, logger), nil
	}

	return &app{
		logger:     logger,
		profiles:   resolver,
		registry:   registry,
		llmLoader:  provider,
		principal:  principal,
		associates: associates,
		runConfig: run.Config{
			MaxTurnsPerFlow:         viper.GetInt("run.max_turns_per_flow"),
			MaxConcurrentChildFlows: viper.GetInt("run.max_concurrent_child_flows"),
			WallClockTimeout:        time.Duration(viper.GetInt("run.wall_clock_timeout_ms")) * time.Millisecond,
			StateDumpEnabled:        viper.GetString("run.state_dump_path") != "",
			StateDumpPath:           viper.GetString("run.state_dump_path"),
		},
	}, nil
}

// newRun creates one unstarted run from the app wiring.
func (a *app) newRun() (*run.Run, error) {
	return run.New(run.Options{
		Profiles:          a.profiles,
		Registry:          a.registry,
		LLM:               a.llmLoader,
		PrincipalProfile:  a.principal,
		AssociateProfiles: a.associates,
		Config:            a.runConfig,
		Logger:            a.logger,
	})
}
