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

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/llms"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/taskgraph"
	"github.com/kadirpekel/maestro/pkg/tools"
)

type callerFunc func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error)

func (f callerFunc) Call(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
	return f(ctx, order, req)
}

func isPlanningCall(req *llms.ModelRequest) bool {
	return len(req.Messages) > 0 &&
		req.Messages[0].Role == protocol.RoleSystem &&
		strings.Contains(req.Messages[0].Content, "planning agent")
}

// lastUserContent returns the newest user message, which carries the
// sub-task description.
func lastUserContent(req *llms.ModelRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == protocol.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func newTestOrchestrator(caller callerFunc) *Orchestrator {
	agentCfg := config.AgentConfig{}
	agentCfg.SetDefaults()
	orchCfg := config.OrchestratorConfig{}
	orchCfg.SetDefaults()

	return New(Params{
		Config:        orchCfg,
		AgentConfig:   agentCfg,
		Caller:        caller,
		ProviderOrder: []string{"mock"},
		Tools:         tools.NewRegistry(),
		Bus:           progress.NewBus(),
	})
}

const chainPlan = `{"subtasks": [
  {"id": "gather", "description": "collect sources", "role": "researcher", "depends_on": []},
  {"id": "analyze", "description": "analyze sources", "role": "analyst", "depends_on": ["gather"]},
  {"id": "review", "description": "review the analysis", "role": "critic", "depends_on": ["analyze"]}
]}`

func TestExecuteRunsChainInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var started []string

	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		if isPlanningCall(req) {
			return &llms.ModelResponse{Text: chainPlan, StopReason: llms.StopReasonEnd}, nil
		}
		prompt := lastUserContent(req)
		mu.Lock()
		switch {
		case strings.Contains(prompt, "collect sources"):
			started = append(started, "gather")
		case strings.Contains(prompt, "analyze sources"):
			started = append(started, "analyze")
		case strings.Contains(prompt, "review the analysis"):
			started = append(started, "review")
		}
		mu.Unlock()
		return &llms.ModelResponse{Text: "done", StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	result, err := orch.Execute(context.Background(), "t1", "write a research memo")
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, []string{"gather", "analyze", "review"}, started)
}

func TestDependencyResultsFlowIntoPrompt(t *testing.T) {
	var mu sync.Mutex
	prompts := map[string]string{}

	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		if isPlanningCall(req) {
			return &llms.ModelResponse{Text: chainPlan, StopReason: llms.StopReasonEnd}, nil
		}
		prompt := lastUserContent(req)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(prompt, "collect sources"):
			prompts["gather"] = prompt
			return &llms.ModelResponse{Text: "three primary sources found", StopReason: llms.StopReasonEnd}, nil
		case strings.Contains(prompt, "analyze sources"):
			prompts["analyze"] = prompt
		case strings.Contains(prompt, "review the analysis"):
			prompts["review"] = prompt
		}
		return &llms.ModelResponse{Text: "done", StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	_, err := orch.Execute(context.Background(), "t1", "write a research memo")
	require.NoError(t, err)

	assert.Contains(t, prompts["analyze"], `Result of prerequisite "gather"`)
	assert.Contains(t, prompts["analyze"], "three primary sources found")
	assert.NotContains(t, prompts["gather"], "Result of prerequisite")
}

func TestPlanCorrectiveRetry(t *testing.T) {
	var mu sync.Mutex
	planCalls := 0
	sawCorrection := false

	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		if !isPlanningCall(req) {
			return &llms.ModelResponse{Text: "done", StopReason: llms.StopReasonEnd}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		planCalls++
		if planCalls == 1 {
			return &llms.ModelResponse{Text: "sure, here is a plan in prose", StopReason: llms.StopReasonEnd}, nil
		}
		sawCorrection = strings.Contains(lastUserContent(req), "invalid")
		return &llms.ModelResponse{Text: chainPlan, StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	graph, err := orch.Plan(context.Background(), "t1", "write a research memo")
	require.NoError(t, err)

	assert.Equal(t, 2, planCalls)
	assert.True(t, sawCorrection, "retry should carry the parse failure back to the model")
	assert.Equal(t, 3, graph.Len())
}

func TestPlanFallsBackToSingleTask(t *testing.T) {
	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		return &llms.ModelResponse{Text: "no json here", StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	bus := orch.bus
	events, cancel := subscribeAll(t, bus, "t1")
	defer cancel()

	graph, err := orch.Plan(context.Background(), "t1", "untangle the logs")
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())

	st, ok := graph.Get("task")
	require.True(t, ok)
	assert.Equal(t, taskgraph.RoleResearcher, st.Role)
	assert.Equal(t, "untangle the logs", st.Description)

	assert.Eventually(t, func() bool {
		for _, ev := range events() {
			if ev.Kind == progress.KindError {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "planning failure should be published")
}

func TestFailedSubtaskBlocksOnlyDependents(t *testing.T) {
	graph, err := taskgraph.New([]*taskgraph.SubTask{
		{ID: "flaky", Description: "fetch the flaky feed", Role: taskgraph.RoleResearcher},
		{ID: "digest", Description: "digest the feed", Role: taskgraph.RoleAnalyst, DependsOn: []string{"flaky"}},
		{ID: "sidebar", Description: "draft the sidebar", Role: taskgraph.RoleCoder},
	})
	require.NoError(t, err)

	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		if strings.Contains(lastUserContent(req), "flaky feed") {
			return nil, fmt.Errorf("upstream feed unreachable")
		}
		return &llms.ModelResponse{Text: "done", StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	result, err := orch.Run(context.Background(), "t1", graph)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Completed)
	assert.Contains(t, result.Failures, "flaky")
	assert.Contains(t, result.Failures, "digest")
	assert.NotContains(t, result.Failures, "sidebar")

	sidebar, _ := graph.Get("sidebar")
	assert.Equal(t, taskgraph.StatusDone, sidebar.Status)
	digest, _ := graph.Get("digest")
	assert.Equal(t, taskgraph.StatusBlocked, digest.Status)
}

func TestAggregateOutputInPlanOrder(t *testing.T) {
	caller := callerFunc(func(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
		if isPlanningCall(req) {
			return &llms.ModelResponse{Text: chainPlan, StopReason: llms.StopReasonEnd}, nil
		}
		return &llms.ModelResponse{Text: "output for " + lastUserContent(req)[:7], StopReason: llms.StopReasonEnd}, nil
	})

	orch := newTestOrchestrator(caller)
	result, err := orch.Execute(context.Background(), "t1", "write a research memo")
	require.NoError(t, err)

	gather := strings.Index(result.Output, "## gather")
	analyze := strings.Index(result.Output, "## analyze")
	review := strings.Index(result.Output, "## review")
	require.True(t, gather >= 0 && analyze >= 0 && review >= 0)
	assert.Less(t, gather, analyze)
	assert.Less(t, analyze, review)
}

// subscribeAll drains a progress stream into a snapshot function.
func subscribeAll(t *testing.T, bus *progress.Bus, taskID string) (func() []progress.Event, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx, taskID)

	var mu sync.Mutex
	var events []progress.Event
	go func() {
		for ev := range ch {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()

	return func() []progress.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]progress.Event(nil), events...)
	}, cancel
}
