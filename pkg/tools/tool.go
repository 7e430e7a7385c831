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

// Package tools defines the tool contract consumed by agent loops and
// the built-in tool implementations.
//
// A tool validates its own arguments and enforces its own safety
// constraints (path restriction, allowlists, timeouts). The core treats
// every tool uniformly through this interface.
package tools

import (
	"context"
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/registry"
)

// Tool is one capability an agent can invoke.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON schema for the tool's arguments, or nil.
	Schema() map[string]any

	// SideEffectFree reports whether concurrent execution is safe.
	// Only side-effect-free calls are eligible for fan-out.
	SideEffectFree() bool

	// Execute runs the tool. Failures are expressed in the result, not
	// as an error; the model adapts to failure content.
	Execute(ctx context.Context, args map[string]any) protocol.ToolResult
}

// Registry holds tools by name.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Name(), t)
}

// Subset returns a registry restricted to the named tools; names not
// present are skipped.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if tool, ok := r.Get(name); ok {
			_ = sub.Register(name, tool)
		}
	}
	return sub
}

// failure builds a failed result.
func failure(toolName, message string, elapsed time.Duration) protocol.ToolResult {
	return protocol.ToolResult{
		ToolName: toolName,
		Success:  false,
		Error:    message,
		Elapsed:  elapsed,
	}
}

// success builds a successful result.
func success(toolName, content string, elapsed time.Duration) protocol.ToolResult {
	return protocol.ToolResult{
		ToolName: toolName,
		Success:  true,
		Content:  content,
		Elapsed:  elapsed,
	}
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
