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

// Package governor serializes rate-limit state per provider: credential
// cooldowns, backoff strategy selection, and health scoring. It decides
// whether a call may proceed, must wait, or should fail over.
package governor

import (
	"sync"
	"time"

	"github.com/kadirpekel/maestro/pkg/config"
)

// Outcome is the result of a provider call, reported back by the dispatcher.
type Outcome int

const (
	// OutcomeSuccess is a completed call.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited is a throttling response.
	OutcomeRateLimited
	// OutcomeProviderFailure is a network, auth, or 5xx failure. It weighs
	// more heavily against the provider's health than throttling does.
	OutcomeProviderFailure
)

// DecisionKind classifies an Acquire result.
type DecisionKind int

const (
	// Proceed grants a credential for one call.
	Proceed DecisionKind = iota
	// Wait asks the caller to sleep before retrying this provider.
	Wait
	// Unavailable tells the caller to fail over to another provider.
	Unavailable
)

// Decision is the answer to one Acquire call.
type Decision struct {
	Kind       DecisionKind
	Credential string
	WaitFor    time.Duration
}

// CredentialState tracks one API key's throttling history. Owned by
// exactly one provider; mutated only under that provider's lock.
type CredentialState struct {
	Key                 string
	ConsecutiveFailures int
	CooldownUntil       time.Time
	LastSuccess         time.Time
}

// ProviderHealth is a read-only snapshot for status reporting.
type ProviderHealth struct {
	SuccessRate       float64       `json:"success_rate"`
	Strategy          string        `json:"backoff_strategy"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Available         bool          `json:"available"`
}

// providerState is everything the governor tracks for one provider.
// All fields are guarded by mu; there is no global governor lock.
type providerState struct {
	mu       sync.Mutex
	creds    []*CredentialState
	cursor   int
	strategy *strategyState
	window   *outcomeWindow
}

// Governor applies backoff strategies and credential rotation per provider.
type Governor struct {
	cfg       config.GovernorConfig
	providers map[string]*providerState
	now       func() time.Time
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// New creates a Governor for the given providers. The provider set is
// fixed at construction.
func New(cfg config.GovernorConfig, providers map[string]*config.ProviderConfig, opts ...Option) *Governor {
	g := &Governor{
		cfg:       cfg,
		providers: make(map[string]*providerState, len(providers)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	for name, p := range providers {
		ps := &providerState{
			strategy: newStrategyState(cfg),
			window:   newOutcomeWindow(cfg.WindowSize),
		}
		for _, key := range p.APIKeys {
			ps.creds = append(ps.creds, &CredentialState{Key: key})
		}
		g.providers[name] = ps
	}
	return g
}

// Acquire decides whether a call to the provider may proceed.
// Credentials rotate round-robin, skipping those in cooldown. If every
// credential is cooling, the shortest remaining wait is returned. A
// provider whose success rate has fallen below the health floor is
// reported unavailable so the caller can fail over.
func (g *Governor) Acquire(provider string) Decision {
	ps, ok := g.providers[provider]
	if !ok {
		return Decision{Kind: Unavailable}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.window.Full() && ps.window.SuccessRate() < g.cfg.HealthFloor {
		acquireCounter.WithLabelValues(provider, "unavailable").Inc()
		return Decision{Kind: Unavailable}
	}

	now := g.now()
	n := len(ps.creds)
	shortest := time.Duration(-1)
	for i := 0; i < n; i++ {
		cred := ps.creds[(ps.cursor+i)%n]
		if !cred.CooldownUntil.After(now) {
			ps.cursor = (ps.cursor + i + 1) % n
			acquireCounter.WithLabelValues(provider, "proceed").Inc()
			return Decision{Kind: Proceed, Credential: cred.Key}
		}
		remaining := cred.CooldownUntil.Sub(now)
		if shortest < 0 || remaining < shortest {
			shortest = remaining
		}
	}

	acquireCounter.WithLabelValues(provider, "wait").Inc()
	return Decision{Kind: Wait, WaitFor: shortest}
}

// Report records the outcome of one call made with the given credential.
func (g *Governor) Report(provider, credential string, outcome Outcome) {
	ps, ok := g.providers[provider]
	if !ok {
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	var cred *CredentialState
	for _, c := range ps.creds {
		if c.Key == credential {
			cred = c
			break
		}
	}
	if cred == nil {
		return
	}

	switch outcome {
	case OutcomeSuccess:
		cred.ConsecutiveFailures = 0
		cred.CooldownUntil = time.Time{}
		cred.LastSuccess = g.now()
		ps.window.Record(true)
		reportCounter.WithLabelValues(provider, "success").Inc()

	case OutcomeRateLimited:
		cred.ConsecutiveFailures++
		cred.CooldownUntil = g.now().Add(ps.strategy.Delay(cred.ConsecutiveFailures, ps.window.SuccessRate()))
		ps.window.Record(false)
		reportCounter.WithLabelValues(provider, "rate_limited").Inc()

	case OutcomeProviderFailure:
		cred.ConsecutiveFailures++
		cred.CooldownUntil = g.now().Add(ps.strategy.Delay(cred.ConsecutiveFailures, ps.window.SuccessRate()))
		// Hard failures count double against health.
		ps.window.Record(false)
		ps.window.Record(false)
		reportCounter.WithLabelValues(provider, "provider_failure").Inc()
	}
}

// Health returns a snapshot per provider for status reporting.
func (g *Governor) Health() map[string]ProviderHealth {
	out := make(map[string]ProviderHealth, len(g.providers))
	now := g.now()
	for name, ps := range g.providers {
		ps.mu.Lock()
		h := ProviderHealth{
			SuccessRate: ps.window.SuccessRate(),
			Strategy:    ps.strategy.Active(),
			Available:   !(ps.window.Full() && ps.window.SuccessRate() < g.cfg.HealthFloor),
		}
		for _, cred := range ps.creds {
			if cred.CooldownUntil.After(now) {
				remaining := cred.CooldownUntil.Sub(now)
				if h.CooldownRemaining == 0 || remaining < h.CooldownRemaining {
					h.CooldownRemaining = remaining
				}
			}
		}
		ps.mu.Unlock()
		out[name] = h
	}
	return out
}
