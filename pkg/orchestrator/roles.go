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

package orchestrator

import (
	"github.com/kadirpekel/maestro/pkg/taskgraph"
)

// Role dispatch is a closed switch over the capability set. A role maps
// to a tool subset and a system prompt at configuration time; there is
// no open-ended runtime lookup.

func roleToolNames(role taskgraph.Role) []string {
	switch role {
	case taskgraph.RoleResearcher:
		return []string{"web_search", "read_file"}
	case taskgraph.RoleCoder:
		return []string{"execute_command", "write_file", "read_file"}
	case taskgraph.RoleAnalyst:
		return []string{"read_file"}
	case taskgraph.RoleCritic:
		return nil // pure model review
	default:
		return nil
	}
}

func rolePrompt(role taskgraph.Role) string {
	switch role {
	case taskgraph.RoleResearcher:
		return "You are a research agent. Gather relevant, verifiable information for the task. Cite what you found. When you have enough material, answer with a concise summary of the findings."
	case taskgraph.RoleCoder:
		return "You are a coding agent. Write, run, and fix code to accomplish the task. Verify your work by executing it. Answer with what you built and how it was verified."
	case taskgraph.RoleAnalyst:
		return "You are an analysis agent. Examine the provided material, extract the key insights, and answer with a structured analysis."
	case taskgraph.RoleCritic:
		return "You are a critic agent. Review the provided work for errors, gaps, and weak reasoning. Answer with concrete, prioritized feedback."
	default:
		return "You are a capable assistant. Complete the task and answer with the result."
	}
}

// modelForRole applies a per-role model override when configured.
func (o *Orchestrator) modelForRole(role taskgraph.Role) string {
	if model, ok := o.cfg.RoleModels[string(role)]; ok {
		return model
	}
	return ""
}
