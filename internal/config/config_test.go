package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "confluence", cfg.App.Name)
	assert.Equal(t, "2.1.0", cfg.Engine.Version)

	// Phase table
	require.Len(t, cfg.Engine.PhaseRules, 4)
	accum, ok := cfg.Engine.RuleForPhase(1)
	require.True(t, ok)
	assert.Equal(t, "ACCUMULATION", accum.Name)
	assert.Equal(t, []string{"LONG"}, accum.AllowedDirections)
	markup, _ := cfg.Engine.RuleForPhase(2)
	assert.Equal(t, 1.2, markup.SizeCap)
	dist, _ := cfg.Engine.RuleForPhase(3)
	assert.Equal(t, "DISTRIBUTION", dist.Name)

	// Thresholds and caps
	assert.Equal(t, 80.0, cfg.Engine.ExecuteThreshold)
	assert.Equal(t, 60.0, cfg.Engine.WaitThreshold)
	assert.Equal(t, 0.6, cfg.Engine.VolatilityCaps["HIGH"])
	assert.Equal(t, 1.15, cfg.Engine.QualityBoosts["EXTREME"])
	assert.Equal(t, 12.0, cfg.Engine.MaxSpreadBps)

	// Context rules
	assert.Equal(t, 300000, cfg.Context.MaxAgeMS)
	assert.Contains(t, cfg.Context.RequiredSources, "saty_phase")
	assert.Len(t, cfg.Context.ExpertSources, 2)

	// Feed budgets
	require.Contains(t, cfg.Market.Feeds, "analytics")
	assert.Equal(t, 800, cfg.Market.Feeds["analytics"].PerDayLimit)
	assert.Equal(t, 600, cfg.Market.Feeds["options"].TimeoutMS)
}

func TestPhaseRuleAllows(t *testing.T) {
	rule := PhaseRule{Name: "MARKUP", AllowedDirections: []string{"LONG", "SHORT"}}
	assert.True(t, rule.Allows("LONG"))
	assert.True(t, rule.Allows("SHORT"))
	assert.False(t, rule.Allows("NEUTRAL"))

	accum := PhaseRule{Name: "ACCUMULATION", AllowedDirections: []string{"LONG"}}
	assert.False(t, accum.Allows("SHORT"))
}

func TestHashIsStableAndContentSensitive(t *testing.T) {
	a, err := Load("")
	require.NoError(t, err)
	b, err := Load("")
	require.NoError(t, err)

	require.NotEmpty(t, a.Hash())
	assert.Equal(t, a.Hash(), b.Hash(), "identical config must hash identically")

	// Deployment wiring must not affect the hash
	b.Database.Password = "different"
	b.Auth.WebhookSecret = "different"
	assert.Equal(t, a.Hash(), b.Hash())

	// Engine rules must
	b.Engine.ExecuteThreshold = 85
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestValidateRejectsBadEngineRules(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Engine.ExecuteThreshold = 50 // below wait threshold
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait < execute")
}

func TestValidateRejectsMissingVolatilityCap(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	delete(cfg.Engine.VolatilityCaps, "HIGH")
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volatility_caps missing HIGH")
}
