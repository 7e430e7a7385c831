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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/server"
)

// ServeCmd starts the HTTP task server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, app.tasks, app.orchestrator, app.bus,
		server.WithTaskTimeout(cfg.Orchestrator.DefaultDeadline()),
		server.WithHealthReporter(app.governor),
	)

	fmt.Printf("maestro server ready\n")
	fmt.Printf("   Execute: POST http://%s/execute\n", srv.Address())
	fmt.Printf("   Status:  GET  http://%s/status/{task_id}\n", srv.Address())
	fmt.Printf("   Events:  GET  http://%s/events/{task_id}\n", srv.Address())
	fmt.Printf("   Health:  GET  http://%s/health\n", srv.Address())
	fmt.Printf("   Metrics: GET  http://%s/metrics\n", srv.Address())
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, nil
}
