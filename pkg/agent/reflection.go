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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/maestro/pkg/llms"
	"github.com/kadirpekel/maestro/pkg/progress"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

// Reflection is the model's own progress assessment, produced every K
// steps.
type Reflection struct {
	Confidence     float64 `json:"confidence"`
	ShouldPivot    bool    `json:"should_pivot"`
	Recommendation string  `json:"recommendation"`
}

const reflectionPrompt = `Review the conversation so far and assess progress on the task.
Respond with a single JSON object:
{"confidence": <0.0-1.0>, "should_pivot": <bool>, "recommendation": "<one sentence>"}`

// reflect performs one review turn and appends the assessment to the
// conversation as a system note. Reflection turns do not count against
// the step budget; they only consume the loop's deadline. A failed or
// unparseable review degrades to a heuristic assessment instead of
// failing the loop.
func (l *Loop) reflect(ctx context.Context) {
	messages := append([]protocol.Message{}, l.conversation.Messages()...)
	messages = append(messages, protocol.Message{
		Role:    protocol.RoleUser,
		Content: reflectionPrompt,
	})

	var reflection Reflection
	resp, err := l.params.Caller.Call(ctx, l.params.ProviderOrder, &llms.ModelRequest{
		Model:    l.params.Model,
		Messages: messages,
	})
	if err != nil {
		slog.Debug("reflection call failed, using heuristic fallback",
			"task", l.params.TaskID, "error", err)
		reflection = l.fallbackReflection()
	} else if parsed, ok := parseReflection(resp.Text); ok {
		l.usage.Add(resp.Usage)
		reflection = parsed
	} else {
		l.usage.Add(resp.Usage)
		reflection = l.fallbackReflection()
	}

	note := fmt.Sprintf("Progress check: confidence %.2f. %s", reflection.Confidence, reflection.Recommendation)
	if reflection.ShouldPivot {
		note += " Consider a different approach."
	}
	l.conversation.Append(protocol.Message{Role: protocol.RoleSystem, Content: note})

	l.emit(progress.KindReflection, map[string]any{
		"confidence":     reflection.Confidence,
		"should_pivot":   reflection.ShouldPivot,
		"recommendation": reflection.Recommendation,
	})
}

// parseReflection extracts the JSON object from the model's text.
func parseReflection(text string) (Reflection, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Reflection{}, false
	}

	var out Reflection
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return Reflection{}, false
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Reflection{}, false
	}
	return out, true
}

// fallbackReflection derives an assessment from the recent tool
// results when the model's review is unavailable.
func (l *Loop) fallbackReflection() Reflection {
	total, failed := 0, 0
	for _, msg := range l.conversation.Messages() {
		if msg.Role != protocol.RoleTool {
			continue
		}
		total++
		if strings.HasPrefix(msg.Content, "tool error:") {
			failed++
		}
	}

	if total == 0 {
		return Reflection{Confidence: 0.5, Recommendation: "No tool activity yet; continue."}
	}

	failureRate := float64(failed) / float64(total)
	return Reflection{
		Confidence:     1.0 - failureRate,
		ShouldPivot:    failureRate > 0.5,
		Recommendation: fmt.Sprintf("%d of %d tool calls failed so far.", failed, total),
	}
}
