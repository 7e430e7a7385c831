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

// Package config defines the configuration model and loader.
package config

import (
	"fmt"
	"time"
)

// Provider types supported by the LLM layer.
const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
)

// Backoff strategies the rate limit governor can apply.
const (
	StrategyFixed       = "fixed"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
	StrategyAdaptive    = "adaptive"
)

// Config is the root configuration.
type Config struct {
	Providers map[string]*ProviderConfig `yaml:"providers" json:"providers"`
	// ProviderOrder is the failover preference: primary first.
	ProviderOrder []string           `yaml:"provider_order" json:"provider_order"`
	Governor      GovernorConfig     `yaml:"governor" json:"governor"`
	Agent         AgentConfig        `yaml:"agent" json:"agent"`
	Orchestrator  OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Server        ServerConfig       `yaml:"server" json:"server"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// ProviderConfig describes one LLM backend. Immutable after load.
type ProviderConfig struct {
	Type    string   `yaml:"type" json:"type"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
	APIKeys []string `yaml:"api_keys" json:"api_keys"`
	Model   string   `yaml:"model" json:"model"`
	// Timeout is the per-request timeout in seconds.
	Timeout    int `yaml:"timeout" json:"timeout"`
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (p *ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GovernorConfig tunes backoff, cooldowns, and health scoring.
// Delays are in seconds.
type GovernorConfig struct {
	Strategy      string  `yaml:"strategy" json:"strategy"`
	BaseDelay     float64 `yaml:"base_delay" json:"base_delay"`
	MaxDelay      float64 `yaml:"max_delay" json:"max_delay"`
	JitterFactor  float64 `yaml:"jitter_factor" json:"jitter_factor"`
	WindowSize    int     `yaml:"window_size" json:"window_size"`
	EscalateBelow float64 `yaml:"escalate_below" json:"escalate_below"`
	RelaxAbove    float64 `yaml:"relax_above" json:"relax_above"`
	HealthFloor   float64 `yaml:"health_floor" json:"health_floor"`
}

// BaseDelayDuration returns the base delay as a duration.
func (g *GovernorConfig) BaseDelayDuration() time.Duration {
	return time.Duration(g.BaseDelay * float64(time.Second))
}

// MaxDelayDuration returns the delay cap as a duration.
func (g *GovernorConfig) MaxDelayDuration() time.Duration {
	return time.Duration(g.MaxDelay * float64(time.Second))
}

// AgentConfig tunes the per-subtask agent loop.
type AgentConfig struct {
	MaxSteps           int `yaml:"max_steps" json:"max_steps"`
	ReflectionInterval int `yaml:"reflection_interval" json:"reflection_interval"`
	// ToolTimeout is the per-tool-call timeout in seconds.
	ToolTimeout int `yaml:"tool_timeout" json:"tool_timeout"`
	FanoutWidth int `yaml:"fanout_width" json:"fanout_width"`
}

// ToolTimeoutDuration returns the per-tool-call timeout as a duration.
func (a *AgentConfig) ToolTimeoutDuration() time.Duration {
	return time.Duration(a.ToolTimeout) * time.Second
}

// OrchestratorConfig tunes planning and the worker pool.
type OrchestratorConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// DefaultTimeout is the global task deadline in minutes, used when the
	// caller does not supply one.
	DefaultTimeout int               `yaml:"default_timeout" json:"default_timeout"`
	RoleModels     map[string]string `yaml:"role_models" json:"role_models"`
}

// DefaultDeadline returns the global task deadline as a duration.
func (o *OrchestratorConfig) DefaultDeadline() time.Duration {
	return time.Duration(o.DefaultTimeout) * time.Minute
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Address returns the host:port listen address.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig tunes the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// SetDefaults fills zero values with sensible defaults.
func (c *Config) SetDefaults() {
	for _, p := range c.Providers {
		p.SetDefaults()
	}
	if len(c.ProviderOrder) == 0 {
		for name := range c.Providers {
			c.ProviderOrder = append(c.ProviderOrder, name)
		}
	}
	c.Governor.SetDefaults()
	c.Agent.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Server.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	for _, name := range c.ProviderOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("provider_order references unknown provider: %s", name)
		}
	}
	if err := c.Governor.Validate(); err != nil {
		return fmt.Errorf("governor: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

func (p *ProviderConfig) SetDefaults() {
	if p.Type == "" {
		p.Type = ProviderTypeOpenAI
	}
	if p.BaseURL == "" {
		switch p.Type {
		case ProviderTypeAnthropic:
			p.BaseURL = "https://api.anthropic.com"
		default:
			p.BaseURL = "https://api.openai.com/v1"
		}
	}
	if p.Timeout == 0 {
		p.Timeout = 120
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
}

func (p *ProviderConfig) Validate() error {
	switch p.Type {
	case ProviderTypeOpenAI, ProviderTypeAnthropic:
	default:
		return fmt.Errorf("unknown provider type: %s", p.Type)
	}
	if len(p.APIKeys) == 0 {
		return fmt.Errorf("at least one api key is required")
	}
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (g *GovernorConfig) SetDefaults() {
	if g.Strategy == "" {
		g.Strategy = StrategyAdaptive
	}
	if g.BaseDelay == 0 {
		g.BaseDelay = 1.0
	}
	if g.MaxDelay == 0 {
		g.MaxDelay = 60.0
	}
	if g.JitterFactor == 0 {
		g.JitterFactor = 0.1
	}
	if g.WindowSize == 0 {
		g.WindowSize = 20
	}
	if g.EscalateBelow == 0 {
		g.EscalateBelow = 0.5
	}
	if g.RelaxAbove == 0 {
		g.RelaxAbove = 0.8
	}
	if g.HealthFloor == 0 {
		g.HealthFloor = 0.2
	}
}

func (g *GovernorConfig) Validate() error {
	switch g.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential, StrategyAdaptive:
	default:
		return fmt.Errorf("unknown strategy: %s", g.Strategy)
	}
	if g.BaseDelay > g.MaxDelay {
		return fmt.Errorf("base_delay exceeds max_delay")
	}
	if g.EscalateBelow >= g.RelaxAbove {
		return fmt.Errorf("escalate_below must be lower than relax_above")
	}
	return nil
}

func (a *AgentConfig) SetDefaults() {
	if a.MaxSteps == 0 {
		a.MaxSteps = 8
	}
	if a.ReflectionInterval == 0 {
		a.ReflectionInterval = 3
	}
	if a.ToolTimeout == 0 {
		a.ToolTimeout = 60
	}
	if a.FanoutWidth == 0 {
		a.FanoutWidth = 4
	}
}

func (a *AgentConfig) Validate() error {
	if a.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be positive")
	}
	if a.ReflectionInterval < 1 {
		return fmt.Errorf("reflection_interval must be positive")
	}
	return nil
}

func (o *OrchestratorConfig) SetDefaults() {
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = 3
	}
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = 60
	}
}

func (s *ServerConfig) SetDefaults() {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
}
