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
	"context"
	"sync"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// MockProvider is a scriptable in-memory provider used by tests and by
// dry-run invocations. Responses are consumed in order; when the script
// runs out, the last entry repeats. A GenerateFunc, when set, overrides
// the script entirely.
type MockProvider struct {
	mu           sync.Mutex
	name         string
	model        string
	responses    []*ModelResponse
	errs         []error
	calls        int
	GenerateFunc func(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock that answers with plain text.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:  name,
		model: "mock-model",
		responses: []*ModelResponse{
			{Text: "ok", StopReason: StopReasonEnd},
		},
	}
}

// Script replaces the response sequence. Positions with a non-nil error
// fail instead of answering.
func (m *MockProvider) Script(responses []*ModelResponse, errs []error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.errs = errs
	m.calls = 0
	return m
}

// AlwaysFail makes every call return err.
func (m *MockProvider) AlwaysFail(err error) *MockProvider {
	m.GenerateFunc = func(context.Context, *ModelRequest) (*ModelResponse, error) {
		return nil, err
	}
	return m
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) DefaultModel() string {
	return m.model
}

// Calls returns how many Generate calls the mock has served.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	if m.GenerateFunc != nil {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()
		return m.GenerateFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < 0 || m.responses[idx] == nil {
		return &ModelResponse{Text: "", StopReason: StopReasonEnd}, nil
	}

	resp := *m.responses[idx]
	resp.Usage = protocol.TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &resp, nil
}
