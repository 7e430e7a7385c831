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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/governor"
	"github.com/kadirpekel/maestro/pkg/orchestrator"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/task"
)

type executorFunc func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error)

func (f executorFunc) Execute(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
	return f(ctx, taskID, description)
}

func newTestServer(executor Executor, opts ...Option) (*Server, *httptest.Server) {
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	s := New(cfg, task.NewInMemoryService(), executor, progress.NewBus(), opts...)
	return s, httptest.NewServer(s.Router())
}

func postExecute(t *testing.T, baseURL, description string) executeResponse {
	t.Helper()
	body := fmt.Sprintf(`{"task_description": %q}`, description)
	resp, err := http.Post(baseURL+"/execute", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out executeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.TaskID)
	return out
}

func getTask(t *testing.T, baseURL, id string) *task.Task {
	t.Helper()
	resp, err := http.Get(baseURL + "/status/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out task.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func waitForTerminal(t *testing.T, baseURL, id string) *task.Task {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("task %s never reached a terminal state", id)
		case <-time.After(10 * time.Millisecond):
		}
		if cur := getTask(t, baseURL, id); cur.Status.IsTerminal() {
			return cur
		}
	}
}

func TestExecuteToCompletion(t *testing.T) {
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		return &orchestrator.AggregateResult{Output: "memo drafted", Completed: 1}, nil
	})
	_, ts := newTestServer(executor)
	defer ts.Close()

	accepted := postExecute(t, ts.URL, "draft a memo")
	assert.Equal(t, string(task.StatusQueued), accepted.Status)

	final := waitForTerminal(t, ts.URL, accepted.TaskID)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "memo drafted", final.Result)
}

func TestExecuteRejectsEmptyDescription(t *testing.T) {
	_, ts := newTestServer(executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		t.Fatal("executor must not run")
		return nil, nil
	}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/execute", "application/json", strings.NewReader(`{"task_description": "  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusUnknownTask(t *testing.T) {
	_, ts := newTestServer(executorFunc(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/no-such-task")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPartialFailureKeepsOutputAndManifest(t *testing.T) {
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		return &orchestrator.AggregateResult{
			Output:    "## gather\nsources\n",
			Completed: 1,
			Failures:  map[string]string{"analyze": "step budget exceeded"},
		}, nil
	})
	_, ts := newTestServer(executor)
	defer ts.Close()

	accepted := postExecute(t, ts.URL, "research and analyze")
	final := waitForTerminal(t, ts.URL, accepted.TaskID)

	assert.Equal(t, task.StatusFailed, final.Status)
	assert.Contains(t, final.Result, "## gather")
	assert.Contains(t, final.ErrorMessage, "analyze: step budget exceeded")
}

func TestEventStreamReplaysFromZero(t *testing.T) {
	bus := progress.NewBus()
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		// Emit a few progress events the way an agent loop would.
		for i := 0; i < 3; i++ {
			bus.Publish(taskID, progress.KindToolStart, map[string]any{"tool": fmt.Sprintf("step-%d", i)})
		}
		return &orchestrator.AggregateResult{Output: "done"}, nil
	})

	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	s := New(cfg, task.NewInMemoryService(), executor, bus)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	accepted := postExecute(t, ts.URL, "stream me")
	waitForTerminal(t, ts.URL, accepted.TaskID)

	// The stream is closed, so the replay drains and the request ends.
	resp, err := http.Get(ts.URL + "/events/" + accepted.TaskID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readAll(t, resp)
	assert.Contains(t, body, "id: 0\n")
	assert.Contains(t, body, "event: status_change")
	assert.Contains(t, body, "event: tool_start")
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			return b.String()
		}
	}
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, ts := newTestServer(executor)
	defer ts.Close()

	accepted := postExecute(t, ts.URL, "long running job")
	<-started

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/tasks/"+accepted.TaskID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	final := waitForTerminal(t, ts.URL, accepted.TaskID)
	assert.Equal(t, task.StatusCancelled, final.Status)
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		return &orchestrator.AggregateResult{Output: "done"}, nil
	})
	_, ts := newTestServer(executor)
	defer ts.Close()

	accepted := postExecute(t, ts.URL, "quick job")
	waitForTerminal(t, ts.URL, accepted.TaskID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/tasks/"+accepted.TaskID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListTasks(t *testing.T) {
	executor := executorFunc(func(ctx context.Context, taskID, description string) (*orchestrator.AggregateResult, error) {
		return &orchestrator.AggregateResult{Output: "done"}, nil
	})
	_, ts := newTestServer(executor)
	defer ts.Close()

	first := postExecute(t, ts.URL, "first job")
	second := postExecute(t, ts.URL, "second job")
	waitForTerminal(t, ts.URL, first.TaskID)
	waitForTerminal(t, ts.URL, second.TaskID)

	resp, err := http.Get(ts.URL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tasks []*task.Task `json:"tasks"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Tasks, 2)
	assert.Equal(t, "first job", out.Tasks[0].Description)
}

type stubHealth struct{}

func (stubHealth) Health() map[string]governor.ProviderHealth {
	return map[string]governor.ProviderHealth{
		"openai": {SuccessRate: 1.0, Strategy: "linear", Available: true},
	}
}

func TestHealthIncludesProviders(t *testing.T) {
	_, ts := newTestServer(executorFunc(nil), WithHealthReporter(stubHealth{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	providers, ok := out["providers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, providers, "openai")
}
