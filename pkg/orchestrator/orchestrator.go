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

// Package orchestrator plans a task into a sub-task graph and runs the
// graph over a bounded pool of concurrent agent loops.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/taskgraph"
	"github.com/kadirpekel/maestro/pkg/tools"
)

// Orchestrator owns planning and scheduling for top-level tasks.
type Orchestrator struct {
	cfg           config.OrchestratorConfig
	agentCfg      config.AgentConfig
	caller        agent.ModelCaller
	providerOrder []string
	planModel     string
	tools         *tools.Registry
	bus           *progress.Bus
}

// Params wires an Orchestrator.
type Params struct {
	Config        config.OrchestratorConfig
	AgentConfig   config.AgentConfig
	Caller        agent.ModelCaller
	ProviderOrder []string
	// PlanModel overrides the provider default for planning calls.
	PlanModel string
	Tools     *tools.Registry
	Bus       *progress.Bus
}

// New creates an Orchestrator.
func New(params Params) *Orchestrator {
	return &Orchestrator{
		cfg:           params.Config,
		agentCfg:      params.AgentConfig,
		caller:        params.Caller,
		providerOrder: params.ProviderOrder,
		planModel:     params.PlanModel,
		tools:         params.Tools,
		bus:           params.Bus,
	}
}

// AggregateResult combines sub-task outputs with a failure manifest.
type AggregateResult struct {
	Output    string
	Completed int
	Failures  map[string]string
	Usage     protocol.TokenUsage
}

// Succeeded reports whether every sub-task completed.
func (r *AggregateResult) Succeeded() bool {
	return len(r.Failures) == 0
}

// Execute plans and runs one top-level task under its deadline.
func (o *Orchestrator) Execute(ctx context.Context, taskID, description string) (*AggregateResult, error) {
	graph, err := o.Plan(ctx, taskID, description)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, taskID, graph)
}

// subtaskOutcome travels from a finished agent loop back to the
// scheduling loop.
type subtaskOutcome struct {
	id     string
	result *agent.Result
	err    error
}

// Run executes the graph: ready sub-tasks are dispatched concurrently
// into a bounded worker pool, one agent loop per sub-task, each bound
// to its role's tool subset. The graph is mutated only here, by the
// scheduling loop. Run returns when every sub-task is terminal or the
// context ends.
func (o *Orchestrator) Run(ctx context.Context, taskID string, graph *taskgraph.Graph) (*AggregateResult, error) {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))
	outcomes := make(chan subtaskOutcome, graph.Len())

	var wg sync.WaitGroup
	inFlight := 0

	dispatch := func() {
		for _, st := range graph.Ready() {
			if err := graph.MarkRunning(st.ID); err != nil {
				slog.Error("scheduling inconsistency", "subtask", st.ID, "error", err)
				continue
			}
			o.bus.Publish(taskID, progress.KindStatusChange, map[string]any{
				"subtask": st.ID,
				"status":  string(taskgraph.StatusRunning),
			})

			inFlight++
			wg.Add(1)
			go func(st *taskgraph.SubTask) {
				defer wg.Done()
				outcomes <- o.runSubtask(ctx, sem, taskID, graph, st)
			}(st)
		}
	}

	dispatch()
	usage := protocol.TokenUsage{}

	for inFlight > 0 {
		select {
		case outcome := <-outcomes:
			inFlight--
			o.recordOutcome(taskID, graph, outcome, &usage)
			if ctx.Err() == nil {
				dispatch()
			}

		case <-ctx.Done():
			// Let running loops observe the cancellation and report.
			for inFlight > 0 {
				outcome := <-outcomes
				inFlight--
				o.recordOutcome(taskID, graph, outcome, &usage)
			}
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		// Sub-tasks that never got dispatched still need a terminal state.
		for _, st := range graph.All() {
			if st.Status == taskgraph.StatusPending {
				graph.MarkFailed(st.ID, "cancelled before dispatch")
			}
		}
	}

	return o.aggregate(graph, usage), nil
}

// runSubtask acquires a pool slot and drives one agent loop.
func (o *Orchestrator) runSubtask(ctx context.Context, sem *semaphore.Weighted, taskID string, graph *taskgraph.Graph, st *taskgraph.SubTask) subtaskOutcome {
	if err := sem.Acquire(ctx, 1); err != nil {
		return subtaskOutcome{id: st.ID, err: err}
	}
	defer sem.Release(1)

	loop := agent.NewLoop(agent.Params{
		Config:        o.agentCfg,
		Caller:        o.caller,
		ProviderOrder: o.providerOrder,
		Model:         o.modelForRole(st.Role),
		Tools:         o.tools.Subset(roleToolNames(st.Role)...),
		Bus:           o.bus,
		TaskID:        taskID,
		SystemPrompt:  rolePrompt(st.Role),
		UserPrompt:    o.subtaskPrompt(graph, st),
	})

	result, err := loop.Run(ctx)
	return subtaskOutcome{id: st.ID, result: result, err: err}
}

// subtaskPrompt includes the results of completed dependencies so the
// agent sees its inputs.
func (o *Orchestrator) subtaskPrompt(graph *taskgraph.Graph, st *taskgraph.SubTask) string {
	var b strings.Builder
	b.WriteString(st.Description)

	for _, dep := range st.DependsOn {
		if depTask, ok := graph.Get(dep); ok && depTask.Result != "" {
			fmt.Fprintf(&b, "\n\nResult of prerequisite %q:\n%s", dep, depTask.Result)
		}
	}
	return b.String()
}

// recordOutcome folds one finished loop back into the graph.
func (o *Orchestrator) recordOutcome(taskID string, graph *taskgraph.Graph, outcome subtaskOutcome, usage *protocol.TokenUsage) {
	if outcome.result != nil {
		usage.Add(outcome.result.Usage)
	}

	switch {
	case outcome.err != nil:
		graph.MarkFailed(outcome.id, outcome.err.Error())
		o.bus.Publish(taskID, progress.KindError, map[string]any{
			"subtask": outcome.id,
			"error":   outcome.err.Error(),
		})

	case outcome.result.Reason == agent.StopCompleted:
		graph.MarkDone(outcome.id, outcome.result.Output)

	case outcome.result.Reason == agent.StopBudgetExceeded:
		// Distinct from success: a budget hit fails the sub-task with
		// whatever partial output exists noted in the error.
		graph.MarkFailed(outcome.id, "step budget exceeded")

	case outcome.result.Reason == agent.StopCancelled:
		graph.MarkFailed(outcome.id, "cancelled")

	default:
		graph.MarkFailed(outcome.id, "agent loop failed")
	}

	st, _ := graph.Get(outcome.id)
	o.bus.Publish(taskID, progress.KindStatusChange, map[string]any{
		"subtask": outcome.id,
		"status":  string(st.Status),
	})
}

// aggregate combines sub-task outputs in plan order plus a failure
// manifest.
func (o *Orchestrator) aggregate(graph *taskgraph.Graph, usage protocol.TokenUsage) *AggregateResult {
	result := &AggregateResult{
		Failures: make(map[string]string),
		Usage:    usage,
	}

	var b strings.Builder
	for _, st := range graph.All() {
		switch st.Status {
		case taskgraph.StatusDone:
			result.Completed++
			fmt.Fprintf(&b, "## %s\n%s\n\n", st.ID, st.Result)
		case taskgraph.StatusFailed, taskgraph.StatusBlocked:
			result.Failures[st.ID] = st.Err
		}
	}

	if len(result.Failures) > 0 {
		b.WriteString("## failures\n")
		for _, st := range graph.All() {
			if msg, ok := result.Failures[st.ID]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", st.ID, msg)
			}
		}
	}

	result.Output = strings.TrimSpace(b.String())
	return result
}
