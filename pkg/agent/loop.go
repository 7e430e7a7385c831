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

// Package agent drives one sub-task's think/act/observe loop as an
// explicit state machine. Suspension points are structural: awaiting a
// model response, awaiting tool results, or awaiting a governor
// cooldown inside the dispatcher.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/llms"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/tools"
)

// ModelCaller is the dispatcher surface the loop depends on.
type ModelCaller interface {
	Call(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error)
}

// Params wires one agent loop.
type Params struct {
	Config        config.AgentConfig
	Caller        ModelCaller
	ProviderOrder []string
	Model         string
	Tools         *tools.Registry
	Bus           *progress.Bus
	TaskID        string
	SystemPrompt  string
	UserPrompt    string
}

// Loop owns one sub-task's conversation and drives it to a terminal
// state. Not safe for concurrent use; one loop per sub-task.
type Loop struct {
	params       Params
	conversation *protocol.Conversation
	state        State
	steps        int
	usage        protocol.TokenUsage

	// pending tool calls carried between awaiting_model and
	// executing_tools
	pendingCalls []protocol.ToolCall
	finalText    string
}

// NewLoop creates a loop in the planning state.
func NewLoop(params Params) *Loop {
	conversation := protocol.NewConversation(params.SystemPrompt)
	conversation.Append(protocol.Message{Role: protocol.RoleUser, Content: params.UserPrompt})

	return &Loop{
		params:       params,
		conversation: conversation,
		state:        StatePlanning,
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return l.state
}

// Conversation exposes the transcript for inspection after the run.
func (l *Loop) Conversation() *protocol.Conversation {
	return l.conversation
}

// Run drives the state machine until a terminal state. The context
// carries both the external cancellation signal and the loop's
// deadline; a deadline hit terminates as budget_exceeded, an external
// cancel as cancelled.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.transition(StateAwaitingModel)

	for {
		if err := ctx.Err(); err != nil {
			return l.terminateForContext(err), nil
		}

		switch l.state {
		case StateAwaitingModel:
			if err := l.awaitModel(ctx); err != nil {
				if ctx.Err() != nil {
					return l.terminateForContext(ctx.Err()), nil
				}
				l.transition(StateFailed)
				l.emit(progress.KindError, map[string]any{"error": err.Error()})
				return l.result(StopFailed, ""), err
			}

		case StateExecutingTools:
			l.executeTools(ctx)
			if ctx.Err() != nil {
				return l.terminateForContext(ctx.Err()), nil
			}

			switch {
			case l.steps >= l.params.Config.MaxSteps:
				l.transition(StateFinished)
				l.emit(progress.KindStatusChange, map[string]any{
					"state":  string(StateFinished),
					"reason": string(StopBudgetExceeded),
				})
				return l.result(StopBudgetExceeded, l.lastAssistantText()), nil
			case l.steps%l.params.Config.ReflectionInterval == 0:
				l.transition(StateReflecting)
			default:
				l.transition(StateAwaitingModel)
			}

		case StateReflecting:
			l.reflect(ctx)
			if ctx.Err() != nil {
				return l.terminateForContext(ctx.Err()), nil
			}
			l.transition(StateAwaitingModel)

		case StateFinished:
			return l.result(StopCompleted, l.finalText), nil

		default:
			return l.result(StopFailed, ""), fmt.Errorf("unexpected loop state: %s", l.state)
		}
	}
}

// awaitModel performs one model turn and decides the next state.
func (l *Loop) awaitModel(ctx context.Context) error {
	req := &llms.ModelRequest{
		Model:    l.params.Model,
		Messages: l.conversation.Messages(),
		Tools:    l.toolDefinitions(),
	}

	resp, err := l.params.Caller.Call(ctx, l.params.ProviderOrder, req)
	if err != nil {
		return err
	}

	l.steps++
	l.usage.Add(resp.Usage)
	l.conversation.Append(protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	})
	if resp.Text != "" {
		l.emit(progress.KindLLMDelta, map[string]any{"text": resp.Text})
	}

	if resp.HasToolCalls() {
		l.pendingCalls = resp.ToolCalls
		l.transition(StateExecutingTools)
		return nil
	}

	l.finalText = resp.Text
	l.transition(StateFinished)
	return nil
}

func (l *Loop) toolDefinitions() []llms.ToolDefinition {
	if l.params.Tools == nil {
		return nil
	}
	var defs []llms.ToolDefinition
	for _, name := range l.params.Tools.Names() {
		tool, _ := l.params.Tools.Get(name)
		defs = append(defs, llms.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

// transition moves the state machine and emits a status event.
func (l *Loop) transition(next State) {
	if l.state == next {
		return
	}
	slog.Debug("agent state transition",
		"task", l.params.TaskID, "from", string(l.state), "to", string(next))
	l.state = next
	l.emit(progress.KindStatusChange, map[string]any{"state": string(next)})
}

func (l *Loop) emit(kind progress.Kind, data map[string]any) {
	if l.params.Bus != nil {
		l.params.Bus.Publish(l.params.TaskID, kind, data)
	}
}

// terminateForContext maps a context error to the right terminal state:
// deadline exhaustion is a budget condition, an external cancel is a
// cancellation.
func (l *Loop) terminateForContext(err error) *Result {
	if errors.Is(err, context.DeadlineExceeded) {
		l.transition(StateFinished)
		l.emit(progress.KindStatusChange, map[string]any{
			"state":  string(StateFinished),
			"reason": string(StopBudgetExceeded),
		})
		return l.result(StopBudgetExceeded, l.lastAssistantText())
	}

	l.transition(StateCancelled)
	return l.result(StopCancelled, "")
}

func (l *Loop) result(reason StopReason, output string) *Result {
	return &Result{
		State:  l.state,
		Reason: reason,
		Output: output,
		Steps:  l.steps,
		Usage:  l.usage,
	}
}

// lastAssistantText returns the most recent assistant content, used as
// a best-effort output when the budget runs out mid-conversation.
func (l *Loop) lastAssistantText() string {
	msgs := l.conversation.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == protocol.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// toolContext derives the per-tool-call context.
func (l *Loop) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := l.params.Config.ToolTimeoutDuration()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
