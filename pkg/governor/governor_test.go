package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/config"
)

func testProviderConfig(keys ...string) map[string]*config.ProviderConfig {
	return map[string]*config.ProviderConfig{
		"primary": {
			Type:    config.ProviderTypeOpenAI,
			APIKeys: keys,
			Model:   "test-model",
		},
	}
}

func testGovernorConfig(strategy string) config.GovernorConfig {
	cfg := config.GovernorConfig{
		Strategy:     strategy,
		JitterFactor: -1, // deterministic delays
	}
	cfg.SetDefaults()
	cfg.JitterFactor = 0
	return cfg
}

func TestCooldownGrowsWithConsecutiveFailures(t *testing.T) {
	now := time.Now()
	g := New(testGovernorConfig(config.StrategyExponential), testProviderConfig("k1"),
		WithClock(func() time.Time { return now }))

	var previous time.Duration
	for i := 0; i < 6; i++ {
		g.Report("primary", "k1", OutcomeRateLimited)

		decision := g.Acquire("primary")
		require.Equal(t, Wait, decision.Kind)
		assert.GreaterOrEqual(t, decision.WaitFor, previous,
			"cooldown must not shrink while failures continue")
		previous = decision.WaitFor
	}

	// Cap applies.
	assert.LessOrEqual(t, previous, 60*time.Second)
}

func TestCooldownResetsAfterSuccess(t *testing.T) {
	now := time.Now()
	g := New(testGovernorConfig(config.StrategyExponential), testProviderConfig("k1"),
		WithClock(func() time.Time { return now }))

	for i := 0; i < 4; i++ {
		g.Report("primary", "k1", OutcomeRateLimited)
	}
	require.Equal(t, Wait, g.Acquire("primary").Kind)

	g.Report("primary", "k1", OutcomeSuccess)

	decision := g.Acquire("primary")
	require.Equal(t, Proceed, decision.Kind)

	// The next failure starts over from the base delay.
	g.Report("primary", "k1", OutcomeRateLimited)
	decision = g.Acquire("primary")
	require.Equal(t, Wait, decision.Kind)
	assert.Equal(t, time.Second, decision.WaitFor)
}

func TestCredentialRoundRobin(t *testing.T) {
	g := New(testGovernorConfig(config.StrategyFixed), testProviderConfig("k1", "k2", "k3"))

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		decision := g.Acquire("primary")
		require.Equal(t, Proceed, decision.Kind)
		seen[decision.Credential]++
	}

	assert.Len(t, seen, 3, "each credential visited exactly once per cycle")
	for key, count := range seen {
		assert.Equal(t, 1, count, "credential %s over-visited", key)
	}

	// Second cycle repeats the rotation.
	decision := g.Acquire("primary")
	require.Equal(t, Proceed, decision.Kind)
	assert.Equal(t, 1, seen[decision.Credential])
}

func TestRoundRobinSkipsCoolingCredentials(t *testing.T) {
	now := time.Now()
	g := New(testGovernorConfig(config.StrategyFixed), testProviderConfig("k1", "k2"),
		WithClock(func() time.Time { return now }))

	g.Report("primary", "k1", OutcomeRateLimited)

	for i := 0; i < 3; i++ {
		decision := g.Acquire("primary")
		require.Equal(t, Proceed, decision.Kind)
		assert.Equal(t, "k2", decision.Credential)
	}
}

func TestAllCredentialsCoolingReturnsShortestWait(t *testing.T) {
	now := time.Now()
	g := New(testGovernorConfig(config.StrategyLinear), testProviderConfig("k1", "k2"),
		WithClock(func() time.Time { return now }))

	g.Report("primary", "k1", OutcomeRateLimited)
	g.Report("primary", "k2", OutcomeRateLimited)
	g.Report("primary", "k2", OutcomeRateLimited)

	decision := g.Acquire("primary")
	require.Equal(t, Wait, decision.Kind)
	// k1 has one failure (1s), k2 has two (2s); shortest wins.
	assert.Equal(t, time.Second, decision.WaitFor)
}

func TestUnhealthyProviderBecomesUnavailable(t *testing.T) {
	cfg := testGovernorConfig(config.StrategyFixed)
	cfg.WindowSize = 4
	now := time.Now()
	g := New(cfg, testProviderConfig("k1"), WithClock(func() time.Time { return now }))

	for i := 0; i < 4; i++ {
		g.Report("primary", "k1", OutcomeRateLimited)
	}

	decision := g.Acquire("primary")
	assert.Equal(t, Unavailable, decision.Kind)

	health := g.Health()["primary"]
	assert.False(t, health.Available)
	assert.Equal(t, 0.0, health.SuccessRate)
}

func TestProviderFailureWeighsDouble(t *testing.T) {
	cfg := testGovernorConfig(config.StrategyFixed)
	cfg.WindowSize = 4
	g := New(cfg, testProviderConfig("k1"))

	g.Report("primary", "k1", OutcomeSuccess)
	g.Report("primary", "k1", OutcomeSuccess)
	g.Report("primary", "k1", OutcomeProviderFailure)

	// Window holds [true, true, false, false]: two misses for one failure.
	health := g.Health()["primary"]
	assert.Equal(t, 0.5, health.SuccessRate)
}

func TestAdaptiveEscalatesAndRelaxes(t *testing.T) {
	cfg := testGovernorConfig(config.StrategyAdaptive)
	cfg.WindowSize = 10
	cfg.HealthFloor = 0.01 // keep the provider available for this test
	now := time.Now()
	g := New(cfg, testProviderConfig("k1"), WithClock(func() time.Time { return now }))

	require.Equal(t, config.StrategyLinear, g.Health()["primary"].Strategy)

	for i := 0; i < 8; i++ {
		g.Report("primary", "k1", OutcomeRateLimited)
	}
	assert.Equal(t, config.StrategyExponential, g.Health()["primary"].Strategy)

	for i := 0; i < 12; i++ {
		g.Report("primary", "k1", OutcomeSuccess)
	}
	g.Report("primary", "k1", OutcomeRateLimited)
	assert.Equal(t, config.StrategyLinear, g.Health()["primary"].Strategy)
}

func TestUnknownProviderUnavailable(t *testing.T) {
	g := New(testGovernorConfig(config.StrategyFixed), testProviderConfig("k1"))
	assert.Equal(t, Unavailable, g.Acquire("nonexistent").Kind)
}
