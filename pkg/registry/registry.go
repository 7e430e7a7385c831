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

// Package registry provides a generic, concurrency-safe name registry.
package registry

import (
	"fmt"
	"sync"
)

// BaseRegistry is a minimal name-to-value registry safe for concurrent use.
type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewBaseRegistry creates an empty registry.
func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

// Register adds an item under the given name.
// Registering an existing name is an error.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("item already registered: %s", name)
	}
	r.items[name] = item
	return nil
}

// Get retrieves an item by name.
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]
	return item, ok
}

// Names returns all registered names.
func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	return names
}

// Remove deletes an item by name.
func (r *BaseRegistry[T]) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, name)
}

// Len returns the number of registered items.
func (r *BaseRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}
