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

package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "summarize the report", "research", "high")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusQueued, created.Status)

	require.NoError(t, svc.SetStatus(ctx, created.ID, StatusRunning))
	require.NoError(t, svc.SetResult(ctx, created.ID, "the summary"))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "the summary", got.Result)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestSetStatusRejectsTerminalTransition(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "a task", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetError(ctx, created.ID, "boom"))

	err = svc.SetStatus(ctx, created.ID, StatusRunning)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestGetUnknownTask(t *testing.T) {
	svc := NewInMemoryService()
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloneOnReturn(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "a task", "", "")
	require.NoError(t, err)

	created.Description = "mutated by caller"
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a task", got.Description)
}

func TestListReturnsAllTasks(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "first", "", "")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "second", "", "")
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{list[0].ID, list[1].ID})
}
