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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// CommandTool executes allowlisted shell commands in a working
// directory. Each invocation runs in its own process group so that
// cancellation kills the full process tree, not just the direct child.
type CommandTool struct {
	workDir string
	allowed map[string]bool
	timeout time.Duration
}

var _ Tool = (*CommandTool)(nil)

// Default command allowlist; callers can extend at construction.
var defaultAllowedCommands = []string{
	"ls", "cat", "head", "tail", "wc", "grep", "find", "echo", "python3", "go",
}

// NewCommandTool creates a command tool rooted at workDir.
func NewCommandTool(workDir string, timeout time.Duration, extraAllowed ...string) *CommandTool {
	allowed := make(map[string]bool)
	for _, cmd := range defaultAllowedCommands {
		allowed[cmd] = true
	}
	for _, cmd := range extraAllowed {
		allowed[cmd] = true
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &CommandTool{
		workDir: workDir,
		allowed: allowed,
		timeout: timeout,
	}
}

func (t *CommandTool) Name() string {
	return "execute_command"
}

func (t *CommandTool) Description() string {
	return "Execute a shell command in the task workspace. Only allowlisted programs may run."
}

func (t *CommandTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to execute",
			},
		},
		"required": []string{"command"},
	}
}

// Commands may write files or mutate state; never fanned out.
func (t *CommandTool) SideEffectFree() bool {
	return false
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]any) protocol.ToolResult {
	start := time.Now()

	command, ok := stringArg(args, "command")
	if !ok {
		return failure(t.Name(), "missing required argument: command", time.Since(start))
	}
	if err := t.checkAllowed(command); err != nil {
		return failure(t.Name(), err.Error(), time.Since(start))
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = t.workDir
	// New process group: a kill reaches every descendant.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return failure(t.Name(), fmt.Sprintf("failed to start: %v", err), time.Since(start))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		t.killGroup(cmd)
		<-done
		if ctx.Err() != nil {
			return failure(t.Name(), "command cancelled", time.Since(start))
		}
		return failure(t.Name(), fmt.Sprintf("command timed out after %s", t.timeout), time.Since(start))

	case err := <-done:
		output := stdout.String()
		if stderr.Len() > 0 {
			output += "\n" + stderr.String()
		}
		if err != nil {
			return failure(t.Name(), fmt.Sprintf("command failed: %v\n%s", err, output), time.Since(start))
		}
		return success(t.Name(), strings.TrimSpace(output), time.Since(start))
	}
}

// killGroup terminates the command's whole process group.
func (t *CommandTool) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

func (t *CommandTool) checkAllowed(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	program := fields[0]
	if idx := strings.LastIndex(program, "/"); idx >= 0 {
		program = program[idx+1:]
	}
	if !t.allowed[program] {
		return fmt.Errorf("command not allowed: %s", program)
	}
	return nil
}
