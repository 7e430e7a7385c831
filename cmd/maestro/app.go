// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/dispatcher"
	"github.com/kadirpekel/maestro/pkg/governor"
	"github.com/kadirpekel/maestro/pkg/llms"
	"github.com/kadirpekel/maestro/pkg/orchestrator"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/task"
	"github.com/kadirpekel/maestro/pkg/tools"
)

// app holds the wired component graph shared by serve and run.
type app struct {
	tasks        task.Service
	orchestrator *orchestrator.Orchestrator
	governor     *governor.Governor
	bus          *progress.Bus
}

func buildApp(cfg *config.Config) (*app, error) {
	providers, err := llms.RegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}

	gov := governor.New(cfg.Governor, cfg.Providers)
	disp := dispatcher.New(providers, gov, cfg.Providers)

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	toolRegistry, err := buildTools(cfg, workDir)
	if err != nil {
		return nil, err
	}

	bus := progress.NewBus()
	orch := orchestrator.New(orchestrator.Params{
		Config:        cfg.Orchestrator,
		AgentConfig:   cfg.Agent,
		Caller:        disp,
		ProviderOrder: cfg.ProviderOrder,
		Tools:         toolRegistry,
		Bus:           bus,
	})

	return &app{
		tasks:        task.NewInMemoryService(),
		orchestrator: orch,
		governor:     gov,
		bus:          bus,
	}, nil
}

func buildTools(cfg *config.Config, workDir string) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	toolTimeout := cfg.Agent.ToolTimeoutDuration()

	for _, t := range []tools.Tool{
		tools.NewCommandTool(workDir, toolTimeout),
		tools.NewReadFileTool(workDir),
		tools.NewWriteFileTool(workDir),
		tools.NewSearchTool("https://duckduckgo.com/html", toolTimeout),
	} {
		if err := registry.RegisterTool(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
