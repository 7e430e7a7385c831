// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the task API over HTTP: task submission,
// status polling, a server-sent event stream per task, and health.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/governor"
	"github.com/kadirpekel/maestro/pkg/orchestrator"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/task"
)

// Executor runs one top-level task to completion.
type Executor interface {
	Execute(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error)
}

// HealthReporter exposes per-provider health for the health endpoint.
type HealthReporter interface {
	Health() map[string]governor.ProviderHealth
}

// Server is the maestro HTTP server.
type Server struct {
	cfg      config.ServerConfig
	tasks    task.Service
	executor Executor
	bus      *progress.Bus
	health   HealthReporter

	taskTimeout time.Duration
	httpServer  *http.Server

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option configures the server.
type Option func(*Server)

// WithTaskTimeout caps the wall-clock time of each submitted task.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.taskTimeout = d
	}
}

// WithHealthReporter wires the governor's health snapshot into /health.
func WithHealthReporter(h HealthReporter) Option {
	return func(s *Server) {
		s.health = h
	}
}

// New creates a Server.
func New(cfg config.ServerConfig, tasks task.Service, executor Executor, bus *progress.Bus, opts ...Option) *Server {
	if cfg.Host == "" || cfg.Port == 0 {
		cfg.SetDefaults()
	}

	s := &Server{
		cfg:         cfg,
		tasks:       tasks,
		executor:    executor,
		bus:         bus,
		taskTimeout: time.Hour,
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table. Exposed so tests can drive the
// handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Post("/execute", s.handleExecute)
	r.Get("/status/{task_id}", s.handleStatus)
	r.Get("/events/{task_id}", s.handleEvents)
	r.Get("/tasks", s.handleListTasks)
	r.Delete("/tasks/{task_id}", s.handleCancelTask)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.Router(),
		// WriteTimeout stays zero: the event stream holds connections
		// open for the lifetime of a task.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown cancels in-flight tasks and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.mu.Lock()
	for _, cancelTask := range s.cancels {
		cancelTask()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// The ResponseWriter is not wrapped: wrapping breaks
		// http.Flusher for the event stream.
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// registerCancel tracks the cancel func of a running task so DELETE
// /tasks/{id} and Shutdown can reach it.
func (s *Server) registerCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
}

func (s *Server) unregisterCancel(taskID string) {
	s.mu.Lock()
	delete(s.cancels, taskID)
	s.mu.Unlock()
}

func (s *Server) lookupCancel(taskID string) (context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[taskID]
	return cancel, ok
}
