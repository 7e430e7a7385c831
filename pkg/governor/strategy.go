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
	"math"
	"math/rand"
	"time"

	"github.com/kadirpekel/maestro/pkg/config"
)

// strategyState computes cooldown delays. For the adaptive strategy it
// tracks which concrete strategy is currently active, escalating to
// exponential when the success rate drops and relaxing back to linear
// when it recovers (with hysteresis between the two thresholds).
type strategyState struct {
	cfg    config.GovernorConfig
	active string
}

func newStrategyState(cfg config.GovernorConfig) *strategyState {
	active := cfg.Strategy
	if active == config.StrategyAdaptive {
		active = config.StrategyLinear
	}
	return &strategyState{cfg: cfg, active: active}
}

// Active returns the strategy currently in effect.
func (s *strategyState) Active() string {
	if s.cfg.Strategy == config.StrategyAdaptive {
		return s.active
	}
	return s.cfg.Strategy
}

// Delay computes the cooldown after the given consecutive-failure count.
// successRate feeds the adaptive escalation decision.
func (s *strategyState) Delay(failures int, successRate float64) time.Duration {
	if s.cfg.Strategy == config.StrategyAdaptive {
		switch {
		case successRate < s.cfg.EscalateBelow:
			s.active = config.StrategyExponential
		case successRate > s.cfg.RelaxAbove:
			s.active = config.StrategyLinear
		}
	}

	base := s.cfg.BaseDelayDuration()
	max := s.cfg.MaxDelayDuration()

	var delay time.Duration
	switch s.Active() {
	case config.StrategyFixed:
		delay = base
	case config.StrategyLinear:
		delay = time.Duration(failures) * base
	default: // exponential
		delay = time.Duration(float64(base) * math.Pow(2, float64(failures-1)))
	}
	if delay > max {
		delay = max
	}

	return addJitter(delay, s.cfg.JitterFactor)
}

// addJitter spreads a delay by ±factor so concurrent loops do not retry
// in lockstep.
func addJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor * float64(d)
	return d + time.Duration(jitter)
}
