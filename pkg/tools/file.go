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

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// resolveWorkspacePath joins a relative path against the workspace root
// and rejects escapes.
func resolveWorkspacePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	full := filepath.Clean(filepath.Join(root, rel))
	rootClean := filepath.Clean(root)
	if full != rootClean && !strings.HasPrefix(full, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

// ReadFileTool reads a file from the task workspace.
type ReadFileTool struct {
	root string
}

var _ Tool = (*ReadFileTool)(nil)

// NewReadFileTool creates a read tool rooted at root.
func NewReadFileTool(root string) *ReadFileTool {
	return &ReadFileTool{root: root}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the task workspace." }

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Workspace-relative file path",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) SideEffectFree() bool { return true }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) protocol.ToolResult {
	start := time.Now()

	rel, ok := stringArg(args, "path")
	if !ok {
		return failure(t.Name(), "missing required argument: path", time.Since(start))
	}
	full, err := resolveWorkspacePath(t.root, rel)
	if err != nil {
		return failure(t.Name(), err.Error(), time.Since(start))
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return failure(t.Name(), fmt.Sprintf("read failed: %v", err), time.Since(start))
	}
	return success(t.Name(), string(data), time.Since(start))
}

// WriteFileTool writes a file into the task workspace.
type WriteFileTool struct {
	root string
}

var _ Tool = (*WriteFileTool)(nil)

// NewWriteFileTool creates a write tool rooted at root.
func NewWriteFileTool(root string) *WriteFileTool {
	return &WriteFileTool{root: root}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the task workspace." }

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Workspace-relative file path",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

// File writes race; always sequential.
func (t *WriteFileTool) SideEffectFree() bool { return false }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) protocol.ToolResult {
	start := time.Now()

	rel, ok := stringArg(args, "path")
	if !ok {
		return failure(t.Name(), "missing required argument: path", time.Since(start))
	}
	content, _ := args["content"].(string)

	full, err := resolveWorkspacePath(t.root, rel)
	if err != nil {
		return failure(t.Name(), err.Error(), time.Since(start))
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return failure(t.Name(), fmt.Sprintf("mkdir failed: %v", err), time.Since(start))
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return failure(t.Name(), fmt.Sprintf("write failed: %v", err), time.Since(start))
	}
	return success(t.Name(), fmt.Sprintf("wrote %d bytes to %s", len(content), rel), time.Since(start))
}
