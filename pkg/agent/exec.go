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

package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

// executeTools runs the pending tool calls and folds their results into
// the conversation in request order.
//
// Default discipline is sequential: each result is appended before the
// next call starts, because most tools have side effects that must not
// race. When every call in the turn is side-effect-free and there is
// more than one, the batch fans out with bounded width; results are
// still merged in request order, not completion order, so the
// transcript replays deterministically.
func (l *Loop) executeTools(ctx context.Context) {
	calls := l.pendingCalls
	l.pendingCalls = nil

	var results []protocol.ToolResult
	if len(calls) > 1 && l.allSideEffectFree(calls) {
		results = l.fanOut(ctx, calls)
	} else {
		results = l.sequential(ctx, calls)
	}

	for _, result := range results {
		l.conversation.AppendToolResult(result)
	}
}

func (l *Loop) allSideEffectFree(calls []protocol.ToolCall) bool {
	if l.params.Tools == nil {
		return false
	}
	for _, call := range calls {
		tool, ok := l.params.Tools.Get(call.Name)
		if !ok || !tool.SideEffectFree() {
			return false
		}
	}
	return true
}

func (l *Loop) sequential(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			results = append(results, l.cancelledResult(call))
			continue
		}
		results = append(results, l.executeOne(ctx, call))
	}
	return results
}

// fanOut executes side-effect-free calls concurrently. The results
// slice is indexed by request position, so completion order never leaks
// into the transcript.
func (l *Loop) fanOut(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, len(calls))

	g, groupCtx := errgroup.WithContext(ctx)
	width := l.params.Config.FanoutWidth
	if width < 1 {
		width = 1
	}
	g.SetLimit(width)

	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.executeOne(groupCtx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// executeOne runs a single tool call with its bounded timeout. Every
// failure mode, including an unknown tool and a timeout, produces a
// synthetic failure result fed back to the model.
func (l *Loop) executeOne(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	l.emit(progress.KindToolStart, map[string]any{"tool": call.Name, "call_id": call.ID})

	result := l.runTool(ctx, call)
	result.ToolCallID = call.ID
	result.ToolName = call.Name

	l.emit(progress.KindToolEnd, map[string]any{
		"tool":       call.Name,
		"call_id":    call.ID,
		"success":    result.Success,
		"elapsed_ms": result.Elapsed.Milliseconds(),
	})
	return result
}

func (l *Loop) runTool(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	start := time.Now()

	if l.params.Tools == nil {
		return protocol.ToolResult{
			Success: false,
			Error:   "no tools available",
			Elapsed: time.Since(start),
		}
	}
	tool, ok := l.params.Tools.Get(call.Name)
	if !ok {
		return protocol.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("unknown tool: %s", call.Name),
			Elapsed: time.Since(start),
		}
	}

	toolCtx, cancel := l.toolContext(ctx)
	defer cancel()

	result := tool.Execute(toolCtx, call.Arguments)
	if toolCtx.Err() != nil && result.Success {
		// The tool ignored its deadline; override.
		return protocol.ToolResult{
			Success: false,
			Error:   "tool timed out",
			Elapsed: time.Since(start),
		}
	}
	return result
}

func (l *Loop) cancelledResult(call protocol.ToolCall) protocol.ToolResult {
	return protocol.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    false,
		Error:      "cancelled before execution",
	}
}
