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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// SearchTool queries an external search endpoint. Independent searches
// carry no side effects, so a model turn requesting several of them can
// fan out.
type SearchTool struct {
	endpoint string
	client   *http.Client
}

var _ Tool = (*SearchTool)(nil)

// NewSearchTool creates a search tool against the given endpoint.
// The endpoint receives the query as a `q` parameter.
func NewSearchTool(endpoint string, timeout time.Duration) *SearchTool {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SearchTool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *SearchTool) Name() string        { return "web_search" }
func (t *SearchTool) Description() string { return "Search the web and return result snippets." }

func (t *SearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) SideEffectFree() bool { return true }

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) protocol.ToolResult {
	start := time.Now()

	query, ok := stringArg(args, "query")
	if !ok {
		return failure(t.Name(), "missing required argument: query", time.Since(start))
	}
	if t.endpoint == "" {
		return failure(t.Name(), "search endpoint not configured", time.Since(start))
	}

	reqURL := t.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return failure(t.Name(), fmt.Sprintf("bad request: %v", err), time.Since(start))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return failure(t.Name(), fmt.Sprintf("search failed: %v", err), time.Since(start))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(t.Name(), fmt.Sprintf("failed to read results: %v", err), time.Since(start))
	}
	if resp.StatusCode != http.StatusOK {
		return failure(t.Name(), fmt.Sprintf("search returned status %d", resp.StatusCode), time.Since(start))
	}
	return success(t.Name(), string(body), time.Since(start))
}
