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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/maestro/pkg/llms"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/taskgraph"
)

const planSystemPrompt = `You are a planning agent. Break the task into sub-tasks with dependencies.
Respond with a single JSON object of this shape:
{"subtasks": [{"id": "<short_id>", "description": "<what to do>", "role": "researcher|coder|analyst|critic", "depends_on": ["<id>", ...]}]}
Rules: ids are unique; depends_on only references earlier sub-tasks; keep the plan minimal (1-6 sub-tasks).`

type planWire struct {
	Subtasks []struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		Role        string   `json:"role"`
		DependsOn   []string `json:"depends_on"`
	} `json:"subtasks"`
}

// Plan turns a task description into a validated task graph via one
// model call. A malformed plan gets one corrective retry carrying the
// parse error; a second failure degrades to a single-task graph so a
// bad plan can never block execution entirely.
func (o *Orchestrator) Plan(ctx context.Context, taskID, description string) (*taskgraph.Graph, error) {
	graph, err := o.planOnce(ctx, description, "")
	if err == nil {
		return graph, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("plan parse failed, retrying with corrective prompt",
		"task", taskID, "error", err)

	graph, retryErr := o.planOnce(ctx, description, err.Error())
	if retryErr == nil {
		return graph, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("plan retry failed, degrading to single-task graph",
		"task", taskID, "error", retryErr)
	o.bus.Publish(taskID, progress.KindError, map[string]any{
		"code":  "planning_failure",
		"error": retryErr.Error(),
	})

	return singleTaskGraph(description)
}

// planOnce performs one planning model call and parses it.
// correction, when non-empty, is the previous attempt's parse error.
func (o *Orchestrator) planOnce(ctx context.Context, description, correction string) (*taskgraph.Graph, error) {
	messages := []protocol.Message{
		{Role: protocol.RoleSystem, Content: planSystemPrompt},
		{Role: protocol.RoleUser, Content: "Task: " + description},
	}
	if correction != "" {
		messages = append(messages, protocol.Message{
			Role:    protocol.RoleUser,
			Content: fmt.Sprintf("Your previous plan was invalid (%s). Respond again with only the corrected JSON object.", correction),
		})
	}

	resp, err := o.caller.Call(ctx, o.providerOrder, &llms.ModelRequest{
		Model:    o.planModel,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	return parsePlan(resp.Text)
}

// parsePlan decodes the plan JSON and builds a validated graph. Graph
// validation errors (cycles, unknown deps, bad roles) count as parse
// failures so they flow into the corrective retry.
func parsePlan(text string) (*taskgraph.Graph, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan output")
	}

	var wire planWire
	if err := json.Unmarshal([]byte(text[start:end+1]), &wire); err != nil {
		return nil, fmt.Errorf("malformed plan JSON: %w", err)
	}
	if len(wire.Subtasks) == 0 {
		return nil, fmt.Errorf("plan contains no subtasks")
	}

	subtasks := make([]*taskgraph.SubTask, 0, len(wire.Subtasks))
	for _, entry := range wire.Subtasks {
		role, err := taskgraph.ParseRole(entry.Role)
		if err != nil {
			return nil, fmt.Errorf("subtask %s: %w", entry.ID, err)
		}
		subtasks = append(subtasks, &taskgraph.SubTask{
			ID:          entry.ID,
			Description: entry.Description,
			Role:        role,
			DependsOn:   entry.DependsOn,
		})
	}

	return taskgraph.New(subtasks)
}

// singleTaskGraph is the degraded fallback: the whole task as one node.
func singleTaskGraph(description string) (*taskgraph.Graph, error) {
	return taskgraph.New([]*taskgraph.SubTask{{
		ID:          "task",
		Description: description,
		Role:        taskgraph.RoleResearcher,
	}})
}
