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
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/google/uuid"
)

// RunCmd runs a single task from the command line and prints the
// aggregated result.
type RunCmd struct {
	Description string `arg:"" help:"The task to execute."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.DefaultDeadline())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskID := uuid.NewString()
	result, err := app.orchestrator.Execute(ctx, taskID, c.Description)
	if err != nil {
		return fmt.Errorf("task failed: %w", err)
	}

	fmt.Println(result.Output)
	if !result.Succeeded() {
		ids := make([]string, 0, len(result.Failures))
		for id := range result.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(os.Stderr, "failed: %s: %s\n", id, result.Failures[id])
		}
		return fmt.Errorf("%d sub-task(s) failed", len(result.Failures))
	}
	return nil
}
