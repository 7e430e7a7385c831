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

package llms

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError is a throttling response (HTTP 429). RetryAfter is the
// provider's hint when present, zero otherwise.
type RateLimitError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s): %s", e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

// ProviderError is a non-throttling transport failure: auth, 5xx, or
// network level.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err is a throttling failure.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// parseRetryAfter extracts a retry hint from response headers.
// Understands Retry-After in seconds or HTTP-date form, plus the
// reset-style headers some providers send.
func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	for _, key := range []string{"X-RateLimit-Reset-Requests", "X-RateLimit-Reset", "anthropic-ratelimit-requests-reset"} {
		v := h.Get(key)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// classifyHTTPError maps a non-2xx response to the error taxonomy.
func classifyHTTPError(provider string, status int, h http.Header, message string) error {
	if status == http.StatusTooManyRequests {
		return &RateLimitError{
			Provider:   provider,
			StatusCode: status,
			RetryAfter: parseRetryAfter(h),
			Message:    message,
		}
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
	}
}
