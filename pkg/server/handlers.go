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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/task"
)

type executeRequest struct {
	TaskDescription string `json:"task_description"`
	TaskType        string `json:"task_type"`
	Priority        string `json:"priority"`
	// TimeoutMinutes overrides the server's default task deadline.
	TimeoutMinutes int `json:"timeout_minutes"`
}

type executeResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleExecute accepts a task and starts it asynchronously.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.TaskDescription) == "" {
		writeError(w, http.StatusBadRequest, "task_description is required")
		return
	}
	if req.TimeoutMinutes < 0 {
		writeError(w, http.StatusBadRequest, "timeout_minutes must not be negative")
		return
	}

	t, err := s.tasks.Create(r.Context(), req.TaskDescription, req.TaskType, req.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	timeout := s.taskTimeout
	if req.TimeoutMinutes > 0 {
		timeout = time.Duration(req.TimeoutMinutes) * time.Minute
	}
	go s.runTask(t, timeout)

	writeJSON(w, http.StatusAccepted, executeResponse{
		TaskID: t.ID,
		Status: string(t.Status),
	})
}

// runTask drives one submitted task to a terminal state. It owns the
// task's lifecycle: status transitions, the cancel registration, and
// closing the event stream.
func (s *Server) runTask(t *task.Task, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.registerCancel(t.ID, cancel)
	defer func() {
		s.unregisterCancel(t.ID)
		cancel()
		s.bus.CloseStream(t.ID)
	}()

	if err := s.tasks.SetStatus(ctx, t.ID, task.StatusRunning); err != nil {
		// Cancelled between accept and start.
		return
	}
	s.bus.Publish(t.ID, progress.KindStatusChange, map[string]any{
		"status": string(task.StatusRunning),
	})

	result, err := s.executor.Execute(ctx, t.ID, t.Description)

	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		_ = s.tasks.SetStatus(context.Background(), t.ID, task.StatusCancelled)

	case err != nil:
		_ = s.tasks.SetError(context.Background(), t.ID, err.Error())

	case errors.Is(ctx.Err(), context.Canceled):
		_ = s.tasks.SetStatus(context.Background(), t.ID, task.StatusCancelled)

	case result.Succeeded():
		_ = s.tasks.SetResult(context.Background(), t.ID, result.Output)

	default:
		// Partial output is kept alongside the failure manifest; the
		// error transition below settles the terminal status.
		_ = s.tasks.SetResult(context.Background(), t.ID, result.Output)
		_ = s.tasks.SetError(context.Background(), t.ID, failureSummary(result.Failures))
	}

	final, getErr := s.tasks.Get(context.Background(), t.ID)
	if getErr != nil {
		slog.Error("task vanished after run", "task", t.ID, "error", getErr)
		return
	}
	s.bus.Publish(t.ID, progress.KindStatusChange, map[string]any{
		"status": string(final.Status),
	})
	slog.Info("task finished", "task", t.ID, "status", final.Status)
}

func failureSummary(failures map[string]string) string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", id, failures[id])
	}
	return b.String()
}

// handleStatus returns the full task record.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleListTasks returns all tasks, oldest first.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"total": len(list),
	})
}

// handleCancelTask cancels a running task.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found: "+id)
		return
	}
	if t.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "task already "+string(t.Status))
		return
	}

	if cancel, ok := s.lookupCancel(id); ok {
		cancel()
	} else {
		// Accepted but not yet started.
		_ = s.tasks.SetStatus(r.Context(), id, task.StatusCancelled)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": id,
		"status":  "cancelling",
	})
}

// handleHealth reports server liveness plus per-provider health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["providers"] = s.health.Health()
	}
	writeJSON(w, http.StatusOK, body)
}
