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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

const anthropicVersion = "2023-06-01"

// Anthropic requires max_tokens; used when the request leaves it unset.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	name   string
	cfg    *config.ProviderConfig
	client *http.Client
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a provider for the Anthropic API.
func NewAnthropicProvider(name string, cfg *config.ProviderConfig) *AnthropicProvider {
	return &AnthropicProvider{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
	}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

func (p *AnthropicProvider) DefaultModel() string {
	return p.cfg.Model
}

// ============================================================
// Wire format
// ============================================================

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is a content block: text, tool_use, or tool_result.
type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ============================================================
// Generate
// ============================================================

func (p *AnthropicProvider) Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to encode request", Err: err}
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(p.name, resp.StatusCode, resp.Header, p.parseErrorMessage(respBody))
	}

	return p.parseResponse(respBody)
}

// buildRequest maps the normalized shape onto the messages API.
// System messages are hoisted into the top-level system field; tool
// results become tool_result blocks on user-role messages.
func (p *AnthropicProvider) buildRequest(req *ModelRequest) *anthropicRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	out := &anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case protocol.RoleAssistant:
			wire := anthropicMessage{Role: "assistant"}
			if msg.Content != "" {
				wire.Content = append(wire.Content, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				wire.Content = append(wire.Content, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			out.Messages = append(out.Messages, wire)

		case protocol.RoleTool:
			isError := strings.HasPrefix(msg.Content, "tool error:")
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
					IsError:   isError,
				}},
			})

		default:
			out.Messages = append(out.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	out.System = strings.Join(systemParts, "\n\n")

	for _, tool := range req.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return out
}

func (p *AnthropicProvider) parseResponse(body []byte) (*ModelResponse, error) {
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to decode response", Err: err}
	}

	out := &ModelResponse{
		Usage: protocol.TokenUsage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}

	var textParts []string
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	out.Text = strings.Join(textParts, "")

	switch wire.StopReason {
	case "tool_use":
		out.StopReason = StopReasonToolCalls
	case "max_tokens":
		out.StopReason = StopReasonLength
	default:
		out.StopReason = StopReasonEnd
	}

	return out, nil
}

func (p *AnthropicProvider) parseErrorMessage(body []byte) string {
	var wire anthropicErrorResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	return strings.TrimSpace(string(body))
}
