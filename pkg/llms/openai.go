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
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

// OpenAIProvider talks to the OpenAI chat completions API and any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name   string
	cfg    *config.ProviderConfig
	client *http.Client
}

// Compile-time interface check.
var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for an OpenAI-compatible backend.
func NewOpenAIProvider(name string, cfg *config.ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) DefaultModel() string {
	return p.cfg.Model
}

// ============================================================
// Wire format
// ============================================================

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIToolFuncDef `json:"function"`
}

type openAIToolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ============================================================
// Generate
// ============================================================

func (p *OpenAIProvider) Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to encode request", Err: err}
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

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

func (p *OpenAIProvider) buildRequest(req *ModelRequest) *openAIRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	out := &openAIRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	for _, msg := range req.Messages {
		wire := openAIMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out.Messages = append(out.Messages, wire)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIToolFuncDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return out
}

func (p *OpenAIProvider) parseResponse(body []byte) (*ModelResponse, error) {
	var wire openAIResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ProviderError{Provider: p.name, Message: "failed to decode response", Err: err}
	}
	if len(wire.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Message: "response contains no choices"}
	}

	choice := wire.Choices[0]
	out := &ModelResponse{
		Text: choice.Message.Content,
		Usage: protocol.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &ProviderError{
					Provider: p.name,
					Message:  fmt.Sprintf("malformed tool arguments for %s", tc.Function.Name),
					Err:      err,
				}
			}
		}
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = StopReasonToolCalls
	case "length":
		out.StopReason = StopReasonLength
	default:
		out.StopReason = StopReasonEnd
	}
	if out.HasToolCalls() {
		out.StopReason = StopReasonToolCalls
	}

	return out, nil
}

func (p *OpenAIProvider) parseErrorMessage(body []byte) string {
	var wire openAIErrorResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	return strings.TrimSpace(string(body))
}
