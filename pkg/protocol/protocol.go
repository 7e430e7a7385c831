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

// Package protocol defines the conversation types shared by agents,
// providers, and tools: messages, tool calls, and tool results.
package protocol

import (
	"time"
)

// Message roles. The set is closed; providers map these onto their
// own wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing one ToolCall.
// A timed-out or failed tool produces a result with Success=false,
// never an in-band error; the model sees the failure as content.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	Success    bool          `json:"success"`
	Content    string        `json:"content,omitempty"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Message is one entry in a conversation. Tool result messages carry
// the ToolCallID that links them back to the assistant's request.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// TokenUsage is normalized token accounting across providers.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another response.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Conversation is an append-only ordered message sequence. It is owned
// by a single agent loop and is not safe for concurrent mutation.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation seeded with a system prompt,
// if non-empty.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.Append(Message{Role: RoleSystem, Content: systemPrompt})
	}
	return c
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// AppendToolResult appends a tool result as a tool-role message.
func (c *Conversation) AppendToolResult(result ToolResult) {
	content := result.Content
	if !result.Success {
		content = "tool error: " + result.Error
	}
	c.Append(Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: result.ToolCallID,
	})
}

// Messages returns the ordered message slice. Callers must not mutate it.
func (c *Conversation) Messages() []Message {
	return c.messages
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}
