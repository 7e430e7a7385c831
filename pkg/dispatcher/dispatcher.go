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

// Package dispatcher routes model calls through provider failover: it
// asks the governor for a credential, performs the call, reports the
// outcome, and walks the preference order until a provider answers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/governor"
	"github.com/kadirpekel/maestro/pkg/llms"
)

// ErrProviderUnavailable marks a provider skipped without a network call.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Dispatcher performs governed, failover-aware model calls.
type Dispatcher struct {
	providers *llms.Registry
	governor  *governor.Governor
	configs   map[string]*config.ProviderConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSleep overrides the cooldown sleeper. Tests use this to avoid
// real waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// New creates a Dispatcher.
func New(providers *llms.Registry, gov *governor.Governor, configs map[string]*config.ProviderConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		governor:  gov,
		configs:   configs,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Call performs one model call, trying providers in preference order.
// Per provider: a Proceed decision triggers the network call, a Wait
// decision sleeps once and consumes one retry, and Unavailable skips to
// the next provider without touching the network. Every outcome is
// reported to the governor. When the whole order fails the caller gets
// an *ExhaustedError carrying the last error per provider.
func (d *Dispatcher) Call(ctx context.Context, order []string, req *llms.ModelRequest) (*llms.ModelResponse, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("no providers in preference order")
	}

	attempts := make(map[string]error, len(order))

	for _, name := range order {
		provider, ok := d.providers.Get(name)
		if !ok {
			attempts[name] = fmt.Errorf("unknown provider: %s", name)
			continue
		}

		resp, err := d.callProvider(ctx, name, provider, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// Cancellation is not a provider fault; surface it directly.
			return nil, ctx.Err()
		}
		attempts[name] = err
		slog.Debug("provider exhausted, failing over",
			"provider", name, "error", err)
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

// callProvider tries one provider up to its configured max retries.
func (d *Dispatcher) callProvider(ctx context.Context, name string, provider llms.Provider, req *llms.ModelRequest) (*llms.ModelResponse, error) {
	maxRetries := 1
	if cfg, ok := d.configs[name]; ok && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		decision := d.governor.Acquire(name)
		switch decision.Kind {
		case governor.Unavailable:
			if lastErr == nil {
				lastErr = ErrProviderUnavailable
			}
			return nil, lastErr

		case governor.Wait:
			if err := d.sleep(ctx, decision.WaitFor); err != nil {
				return nil, err
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("cooldown not cleared after %s", decision.WaitFor)
			}
			continue

		case governor.Proceed:
			attemptReq := *req
			attemptReq.APIKey = decision.Credential

			resp, err := provider.Generate(ctx, &attemptReq)
			if err == nil {
				d.governor.Report(name, decision.Credential, governor.OutcomeSuccess)
				return resp, nil
			}

			lastErr = err
			if llms.IsRateLimit(err) {
				d.governor.Report(name, decision.Credential, governor.OutcomeRateLimited)
			} else {
				d.governor.Report(name, decision.Credential, governor.OutcomeProviderFailure)
			}
			if ctx.Err() != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
