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

// Package llms provides LLM provider implementations behind a single
// normalized request/response shape. The agent layer never sees a
// provider wire format.
package llms

import (
	"context"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// ToolDefinition describes a tool to the model. Parameters is a JSON
// schema object passed through opaquely; tools validate their own args.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ModelRequest is a provider-agnostic generation request.
// APIKey is injected per call by the dispatcher, which owns credential
// rotation; providers hold no key state of their own.
type ModelRequest struct {
	Model       string
	Messages    []protocol.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	APIKey      string
}

// Stop reasons in the normalized response.
const (
	StopReasonEnd       = "end"
	StopReasonToolCalls = "tool_calls"
	StopReasonLength    = "length"
)

/// ModelResponse is the normalized model output: final text, requested
// tool calls, and token accounting.
type ModelResponse struct {
	Text       string
	ToolCalls  []protocol.ToolCall
	Usage      protocol.TokenUsage
	StopReason string
}

// HasToolCalls reports whether the model requested tool execution.
func (r *ModelResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Provider is one LLM backend.
type Provider interface {
	// Name returns the provider's configured identifier.
	Name() string

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string

	// Generate performs one model call. Rate-limit responses surface as
	// *RateLimitError and other transport failures as *ProviderError so
	// callers can route them through backoff and failover.
	Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}
