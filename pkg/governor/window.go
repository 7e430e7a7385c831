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

package governor

// outcomeWindow is a fixed-size ring over recent call outcomes.
// Not safe for concurrent use; callers hold the provider lock.
type outcomeWindow struct {
	outcomes []bool
	next     int
	count    int
}

func newOutcomeWindow(size int) *outcomeWindow {
	if size < 1 {
		size = 1
	}
	return &outcomeWindow{outcomes: make([]bool, size)}
}

// Record appends one outcome, evicting the oldest when full.
func (w *outcomeWindow) Record(success bool) {
	w.outcomes[w.next] = success
	w.next = (w.next + 1) % len(w.outcomes)
	if w.count < len(w.outcomes) {
		w.count++
	}
}

// SuccessRate is the fraction of recorded outcomes that succeeded.
// An empty window reports 1.0 so fresh providers start healthy.
func (w *outcomeWindow) SuccessRate() float64 {
	if w.count == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < w.count; i++ {
		if w.outcomes[i] {
			successes++
		}
	}
	return float64(successes) / float64(w.count)
}

// Full reports whether the window has seen at least its size in outcomes.
func (w *outcomeWindow) Full() bool {
	return w.count == len(w.outcomes)
}
