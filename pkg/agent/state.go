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

import "github.com/kadirpekel/maestro/pkg/protocol"

// State is an agent loop's position in its lifecycle.
type State string

const (
	StatePlanning       State = "planning"
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateReflecting     State = "reflecting"
	StateFinished       State = "finished"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// IsTerminal reports whether the state ends the loop.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateFailed, StateCancelled:
		return true
	}
	return false
}

// StopReason says why a loop reached a terminal state. Budget
// exhaustion is reported distinctly, never conflated with success.
type StopReason string

const (
	StopCompleted      StopReason = "completed"
	StopBudgetExceeded StopReason = "budget_exceeded"
	StopFailed         StopReason = "failed"
	StopCancelled      StopReason = "cancelled"
)

// Result is the outcome of one agent loop run.
type Result struct {
	State  State
	Reason StopReason
	Output string
	Steps  int
	Usage  protocol.TokenUsage
}
