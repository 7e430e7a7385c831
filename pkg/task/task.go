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

// Package task tracks top-level task records behind a storage
// interface. The in-memory service is the default; persistence is an
// external collaborator implementing the same interface.
package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a top-level task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one submitted top-level task.
type Task struct {
	ID           string    `json:"task_id"`
	Description  string    `json:"description"`
	Type         string    `json:"task_type"`
	Priority     string    `json:"priority"`
	Status       Status    `json:"status"`
	Result       string    `json:"result,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Service errors.
var (
	ErrNotFound = errors.New("task not found")
	ErrTerminal = errors.New("task already terminal")
)

// Service is the task storage contract.
type Service interface {
	Create(ctx context.Context, description, taskType, priority string) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	SetStatus(ctx context.Context, id string, status Status) error
	SetResult(ctx context.Context, id, result string) error
	SetError(ctx context.Context, id, message string) error
}

// InMemoryService keeps task records in a mutex-guarded map.
type InMemoryService struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

var _ Service = (*InMemoryService)(nil)

// NewInMemoryService creates an empty service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{tasks: make(map[string]*Task)}
}

func (s *InMemoryService) Create(ctx context.Context, description, taskType, priority string) (*Task, error) {
	now := time.Now()
	t := &Task{
		ID:          uuid.NewString(),
		Description: description,
		Type:        taskType,
		Priority:    priority,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	clone := *t
	return &clone, nil
}

func (s *InMemoryService) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *InMemoryService) List(ctx context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryService) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.IsTerminal() {
		return ErrTerminal
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryService) SetResult(ctx context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Result = result
	t.Status = StatusCompleted
	t.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryService) SetError(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.ErrorMessage = message
	t.Status = StatusFailed
	t.UpdatedAt = time.Now()
	return nil
}
