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

// Package taskgraph models one top-level task as a dependency graph of
// sub-tasks with a closed set of capability roles.
package taskgraph

import (
	"fmt"
	"sync"
)

// Role is a sub-task's capability. The set is closed; parsing rejects
// anything else.
type Role string

const (
	RoleResearcher Role = "researcher"
	RoleCoder      Role = "coder"
	RoleAnalyst    Role = "analyst"
	RoleCritic     Role = "critic"
)

// ParseRole validates a role tag.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleResearcher, RoleCoder, RoleAnalyst, RoleCritic:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %s", s)
	}
}

// Status is a sub-task's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// SubTask is one planned unit of work.
type SubTask struct {
	ID          string
	Description string
	Role        Role
	Status      Status
	DependsOn   []string
	Result      string
	Err         string
}

// Graph owns the sub-tasks of one top-level task. Mutation goes through
// the Mark methods only; the orchestrator's scheduling loop is the
// single writer.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*SubTask
	order []string
}

// New validates the sub-task set and builds a graph. Duplicate ids,
// unknown dependencies, self-dependencies, and dependency cycles are
// rejected.
func New(subtasks []*SubTask) (*Graph, error) {
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("graph needs at least one subtask")
	}

	g := &Graph{tasks: make(map[string]*SubTask, len(subtasks))}
	for _, st := range subtasks {
		if st.ID == "" {
			return nil, fmt.Errorf("subtask with empty id")
		}
		if _, exists := g.tasks[st.ID]; exists {
			return nil, fmt.Errorf("duplicate subtask id: %s", st.ID)
		}
		if st.Status == "" {
			st.Status = StatusPending
		}
		g.tasks[st.ID] = st
		g.order = append(g.order, st.ID)
	}

	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if dep == st.ID {
				return nil, fmt.Errorf("subtask %s depends on itself", st.ID)
			}
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("subtask %s depends on unknown id: %s", st.ID, dep)
			}
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func (g *Graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for id, st := range g.tasks {
		indegree[id] = len(st.DependsOn)
		for _, dep := range st.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(g.tasks) {
		return fmt.Errorf("dependency cycle detected")
	}
	return nil
}

// Ready returns the pending sub-tasks whose dependencies are all done,
// in plan order.
func (g *Graph) Ready() []*SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*SubTask
	for _, id := range g.order {
		st := g.tasks[id]
		if st.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range st.DependsOn {
			if g.tasks[dep].Status != StatusDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, st)
		}
	}
	return ready
}

// MarkRunning transitions a pending sub-task to running. Running with
// an unresolved dependency is a scheduling bug, so it is rejected.
func (g *Graph) MarkRunning(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("unknown subtask: %s", id)
	}
	if st.Status != StatusPending {
		return fmt.Errorf("subtask %s is %s, not pending", id, st.Status)
	}
	for _, dep := range st.DependsOn {
		if g.tasks[dep].Status != StatusDone {
			return fmt.Errorf("subtask %s has unresolved dependency %s", id, dep)
		}
	}
	st.Status = StatusRunning
	return nil
}

// MarkDone records a successful result.
func (g *Graph) MarkDone(id, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if st, ok := g.tasks[id]; ok {
		st.Status = StatusDone
		st.Result = result
	}
}

// MarkFailed records a failure and blocks direct dependents. Independent
// branches are untouched.
func (g *Graph) MarkFailed(id, errMsg string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.tasks[id]
	if !ok {
		return
	}
	st.Status = StatusFailed
	st.Err = errMsg

	// Cascade: a pending task whose dependency failed or became blocked
	// can never start. Iterate to a fixpoint so chains settle too.
	for {
		changed := false
		for _, other := range g.tasks {
			if other.Status != StatusPending {
				continue
			}
			for _, dep := range other.DependsOn {
				depStatus := g.tasks[dep].Status
				if depStatus == StatusFailed || depStatus == StatusBlocked {
					other.Status = StatusBlocked
					other.Err = fmt.Sprintf("blocked by %s dependency %s", depStatus, dep)
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// Terminal reports whether every sub-task is done, failed, or blocked.
func (g *Graph) Terminal() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, st := range g.tasks {
		if !st.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Get returns a sub-task by id.
func (g *Graph) Get(id string) (*SubTask, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.tasks[id]
	return st, ok
}

// All returns the sub-tasks in plan order.
func (g *Graph) All() []*SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*SubTask, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Len returns the number of sub-tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}
