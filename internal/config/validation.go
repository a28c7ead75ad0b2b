package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate checks the loaded configuration for internally consistent
// engine rules. It runs once during Load; a failure is fatal.
func (c *Config) Validate() error {
	var errs []string

	if c.Engine.Version == "" {
		errs = append(errs, "engine.version must not be empty")
	}
	if len(c.Engine.PhaseRules) != 4 {
		errs = append(errs, fmt.Sprintf("engine.phase_rules must define phases 1-4, got %d", len(c.Engine.PhaseRules)))
	}
	for key, rule := range c.Engine.PhaseRules {
		phase, err := strconv.Atoi(key)
		if err != nil || phase < 1 || phase > 4 {
			errs = append(errs, fmt.Sprintf("engine.phase_rules: invalid phase %q", key))
		}
		if rule.Name == "" {
			errs = append(errs, fmt.Sprintf("engine.phase_rules[%s].name must not be empty", key))
		}
		if len(rule.AllowedDirections) == 0 {
			errs = append(errs, fmt.Sprintf("engine.phase_rules[%s] must allow at least one direction", key))
		}
		for _, d := range rule.AllowedDirections {
			if d != "LONG" && d != "SHORT" {
				errs = append(errs, fmt.Sprintf("engine.phase_rules[%s]: unknown direction %q", key, d))
			}
		}
		if rule.SizeCap <= 0 {
			errs = append(errs, fmt.Sprintf("engine.phase_rules[%s].size_cap must be positive", key))
		}
	}

	if c.Engine.MinSizeMultiplier <= 0 || c.Engine.MaxSizeMultiplier <= c.Engine.MinSizeMultiplier {
		errs = append(errs, "engine size multiplier bounds must satisfy 0 < min < max")
	}
	if c.Engine.WaitThreshold <= 0 || c.Engine.ExecuteThreshold <= c.Engine.WaitThreshold {
		errs = append(errs, "engine thresholds must satisfy 0 < wait < execute")
	}
	if c.Engine.ExecuteThreshold > 100 {
		errs = append(errs, "engine.execute_threshold must not exceed 100")
	}
	for _, vol := range []string{"LOW", "NORMAL", "HIGH"} {
		if _, ok := c.Engine.VolatilityCaps[vol]; !ok {
			errs = append(errs, fmt.Sprintf("engine.volatility_caps missing %s", vol))
		}
	}
	for _, q := range []string{"EXTREME", "HIGH", "MEDIUM"} {
		if _, ok := c.Engine.QualityBoosts[q]; !ok {
			errs = append(errs, fmt.Sprintf("engine.quality_boosts missing %s", q))
		}
	}

	if c.Context.MaxAgeMS <= 0 {
		errs = append(errs, "context.max_age_ms must be positive")
	}
	if len(c.Context.RequiredSources) == 0 {
		errs = append(errs, "context.required_sources must not be empty")
	}
	if len(c.Context.ExpertSources) == 0 {
		errs = append(errs, "context.expert_sources must not be empty")
	}

	for name, feed := range c.Market.Feeds {
		if feed.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("market.feeds.%s.base_url must not be empty", name))
		}
		if feed.TimeoutMS <= 0 {
			errs = append(errs, fmt.Sprintf("market.feeds.%s.timeout_ms must be positive", name))
		}
		if feed.PerDayLimit <= 0 || feed.PerMinLimit <= 0 {
			errs = append(errs, fmt.Sprintf("market.feeds.%s rate budgets must be positive", name))
		}
	}

	if c.Retry.Attempts < 0 {
		errs = append(errs, "retry.attempts must not be negative")
	}
	if c.Retry.DelayMS < 0 {
		errs = append(errs, "retry.delay_ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
