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
	"fmt"

	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/registry"
)

// Registry holds the configured providers by name.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProviderFromConfig constructs a provider from its configuration.
func NewProviderFromConfig(name string, cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderTypeOpenAI:
		return NewOpenAIProvider(name, cfg), nil
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider(name, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// RegistryFromConfig builds a registry with every configured provider.
func RegistryFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	for name, providerCfg := range cfg.Providers {
		provider, err := NewProviderFromConfig(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if err := r.Register(name, provider); err != nil {
			return nil, err
		}
	}
	return r, nil
}
