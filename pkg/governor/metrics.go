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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquireCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "governor",
		Name:      "acquire_total",
		Help:      "Acquire decisions by provider and decision kind.",
	}, []string{"provider", "decision"})

	reportCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "governor",
		Name:      "outcomes_total",
		Help:      "Reported call outcomes by provider.",
	}, []string{"provider", "outcome"})
)
