package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration. It is loaded once at startup
// and treated as immutable afterwards; components hold it by reference.
type Config struct {
	App      AppConfig      `mapstructure:"app" json:"app"`
	Server   ServerConfig   `mapstructure:"server" json:"-"`
	Auth     AuthConfig     `mapstructure:"auth" json:"-"`
	Database DatabaseConfig `mapstructure:"database" json:"-"`
	Redis    RedisConfig    `mapstructure:"redis" json:"-"`
	NATS     NATSConfig     `mapstructure:"nats" json:"-"`
	Engine   EngineConfig   `mapstructure:"engine" json:"engine"`
	Context  ContextConfig  `mapstructure:"context" json:"context"`
	Market   MarketConfig   `mapstructure:"market" json:"market"`
	Retry    RetryConfig    `mapstructure:"retry" json:"retry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name         string `mapstructure:"name" json:"name"`
	Environment  string `mapstructure:"environment" json:"environment"` // development, staging, production
	LogLevel     string `mapstructure:"log_level" json:"-"`
	LogFormat    string `mapstructure:"log_format" json:"-"`
	DecisionOnly bool   `mapstructure:"decision_only" json:"decision_only"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	RequestsPerMin  int    `mapstructure:"requests_per_min"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_sec"`
}

// AuthConfig contains webhook authentication settings. Empty secrets
// disable the corresponding check.
type AuthConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	BearerToken   string `mapstructure:"bearer_token"`
	DebugToken    string `mapstructure:"debug_token"`
}

// DatabaseConfig contains PostgreSQL settings. URL wins over the
// discrete fields when set (typically from DATABASE_URL).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains optional shared-cache settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains outbound intent messaging settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// EngineConfig contains the deterministic decision rules
type EngineConfig struct {
	Version                 string               `mapstructure:"version" json:"version"`
	PhaseRules              map[string]PhaseRule `mapstructure:"phase_rules" json:"phase_rules"`
	VolatilityCaps          map[string]float64   `mapstructure:"volatility_caps" json:"volatility_caps"`
	QualityBoosts           map[string]float64   `mapstructure:"quality_boosts" json:"quality_boosts"`
	MinSizeMultiplier       float64              `mapstructure:"min_size_multiplier" json:"min_size_multiplier"`
	MaxSizeMultiplier       float64              `mapstructure:"max_size_multiplier" json:"max_size_multiplier"`
	ExecuteThreshold        float64              `mapstructure:"execute_threshold" json:"execute_threshold"`
	WaitThreshold           float64              `mapstructure:"wait_threshold" json:"wait_threshold"`
	MinAIScore              float64              `mapstructure:"min_ai_score" json:"min_ai_score"`
	AIScorePenalty          float64              `mapstructure:"ai_score_penalty" json:"ai_score_penalty"`
	AlignmentBonusThreshold float64              `mapstructure:"alignment_bonus_threshold" json:"alignment_bonus_threshold"`
	AlignmentBonus          float64              `mapstructure:"alignment_bonus" json:"alignment_bonus"`
	MaxSpreadBps            float64              `mapstructure:"max_spread_bps" json:"max_spread_bps"`
	MaxATRSpike             float64              `mapstructure:"max_atr_spike" json:"max_atr_spike"`
	MinDepthScore           float64              `mapstructure:"min_depth_score" json:"min_depth_score"`
}

// PhaseRule constrains direction and size for one market phase
type PhaseRule struct {
	Name              string   `mapstructure:"name" json:"name"`
	AllowedDirections []string `mapstructure:"allowed_directions" json:"allowed_directions"`
	SizeCap           float64  `mapstructure:"size_cap" json:"size_cap"`
}

// RuleForPhase looks up the rule for a numeric phase. Keys are decimal
// strings because viper decodes YAML map keys as strings.
func (e *EngineConfig) RuleForPhase(phase int) (PhaseRule, bool) {
	rule, ok := e.PhaseRules[strconv.Itoa(phase)]
	return rule, ok
}

// Allows reports whether the phase permits trading in the direction
func (r PhaseRule) Allows(direction string) bool {
	for _, d := range r.AllowedDirections {
		if d == direction {
			return true
		}
	}
	return false
}

// ContextConfig controls per-symbol context completeness and expiry
type ContextConfig struct {
	MaxAgeMS        int      `mapstructure:"max_age_ms" json:"max_age_ms"`
	RequiredSources []string `mapstructure:"required_sources" json:"required_sources"`
	ExpertSources   []string `mapstructure:"expert_sources" json:"expert_sources"`
	KnownSources    []string `mapstructure:"known_sources" json:"known_sources"`
}

// MaxAge returns the context expiry window as a duration
func (c *ContextConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMS) * time.Millisecond
}

// MarketConfig contains per-provider feed settings and cache TTLs
type MarketConfig struct {
	Feeds     map[string]FeedConfig `mapstructure:"feeds" json:"feeds"`
	CacheTTLs CacheTTLConfig        `mapstructure:"cache_ttls" json:"cache_ttls"`
	SweepMS   int                   `mapstructure:"sweep_ms" json:"sweep_ms"`
}

// FeedConfig contains one provider's connection and budget settings
type FeedConfig struct {
	BaseURL     string `mapstructure:"base_url" json:"base_url"`
	APIKeyEnv   string `mapstructure:"api_key_env" json:"api_key_env"`
	TimeoutMS   int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	PerDayLimit int    `mapstructure:"per_day_limit" json:"per_day_limit"`
	PerMinLimit int    `mapstructure:"per_min_limit" json:"per_min_limit"`
}

// Timeout returns the per-call deadline for this feed
func (f *FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMS) * time.Millisecond
}

// CacheTTLConfig contains per-section cache lifetimes in milliseconds.
// Options and stats both carry derived indicators and share the
// indicator TTL; the order-book section has its own shorter one.
type CacheTTLConfig struct {
	IndicatorMS int `mapstructure:"indicator_ms" json:"indicator_ms"`
	LiquidityMS int `mapstructure:"liquidity_ms" json:"liquidity_ms"`
}

// RetryConfig controls provider retry behavior
type RetryConfig struct {
	Attempts int `mapstructure:"attempts" json:"attempts"`
	DelayMS  int `mapstructure:"delay_ms" json:"delay_ms"`
}

// Delay returns the base backoff delay
func (r *RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Load loads configuration from file and environment variables.
// The returned Config is frozen by convention: nothing mutates it after
// load, and Hash() fingerprints its decision-relevant content.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CONFLUENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("database.url", "DATABASE_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "confluence")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.decision_only", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.requests_per_min", 300)
	v.SetDefault("server.shutdown_timeout_sec", 10)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "confluence")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "confluence.intents.paper")

	// Engine defaults
	v.SetDefault("engine.version", "2.1.0")
	v.SetDefault("engine.phase_rules", map[string]interface{}{
		"1": map[string]interface{}{"name": "ACCUMULATION", "allowed_directions": []string{"LONG"}, "size_cap": 1.0},
		"2": map[string]interface{}{"name": "MARKUP", "allowed_directions": []string{"LONG", "SHORT"}, "size_cap": 1.2},
		"3": map[string]interface{}{"name": "DISTRIBUTION", "allowed_directions": []string{"SHORT"}, "size_cap": 1.0},
		"4": map[string]interface{}{"name": "MARKDOWN", "allowed_directions": []string{"LONG", "SHORT"}, "size_cap": 1.2},
	})
	v.SetDefault("engine.volatility_caps", map[string]float64{"LOW": 1.2, "NORMAL": 1.0, "HIGH": 0.6})
	v.SetDefault("engine.quality_boosts", map[string]float64{"EXTREME": 1.15, "HIGH": 1.0, "MEDIUM": 0.85})
	v.SetDefault("engine.min_size_multiplier", 0.5)
	v.SetDefault("engine.max_size_multiplier", 3.0)
	v.SetDefault("engine.execute_threshold", 80.0)
	v.SetDefault("engine.wait_threshold", 60.0)
	v.SetDefault("engine.min_ai_score", 6.0)
	v.SetDefault("engine.ai_score_penalty", 0.5)
	v.SetDefault("engine.alignment_bonus_threshold", 70.0)
	v.SetDefault("engine.alignment_bonus", 1.1)
	v.SetDefault("engine.max_spread_bps", 12.0)
	v.SetDefault("engine.max_atr_spike", 3.0)
	v.SetDefault("engine.min_depth_score", 30.0)

	// Context defaults
	v.SetDefault("context.max_age_ms", 300000)
	v.SetDefault("context.required_sources", []string{"saty_phase"})
	v.SetDefault("context.expert_sources", []string{"options_expert", "raw_signal"})
	v.SetDefault("context.known_sources", []string{"saty_phase", "mtf_alignment", "options_expert", "raw_signal", "strat_validator"})

	// Market feed defaults
	v.SetDefault("market.feeds.options.base_url", "https://api.marketdata.app/v1")
	v.SetDefault("market.feeds.options.api_key_env", "OPTIONS_FEED_API_KEY")
	v.SetDefault("market.feeds.options.timeout_ms", 600)
	v.SetDefault("market.feeds.options.per_day_limit", 10000)
	v.SetDefault("market.feeds.options.per_min_limit", 60)

	v.SetDefault("market.feeds.analytics.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("market.feeds.analytics.api_key_env", "ANALYTICS_FEED_API_KEY")
	v.SetDefault("market.feeds.analytics.timeout_ms", 600)
	v.SetDefault("market.feeds.analytics.per_day_limit", 800)
	v.SetDefault("market.feeds.analytics.per_min_limit", 8)

	v.SetDefault("market.feeds.liquidity.base_url", "https://api.polygon.io/v2")
	v.SetDefault("market.feeds.liquidity.api_key_env", "LIQUIDITY_FEED_API_KEY")
	v.SetDefault("market.feeds.liquidity.timeout_ms", 600)
	v.SetDefault("market.feeds.liquidity.per_day_limit", 200)
	v.SetDefault("market.feeds.liquidity.per_min_limit", 200)

	// Cache TTL defaults
	v.SetDefault("market.cache_ttls.indicator_ms", 300000)
	v.SetDefault("market.cache_ttls.liquidity_ms", 60000)
	v.SetDefault("market.sweep_ms", 60000)

	// Retry defaults
	v.SetDefault("retry.attempts", 2)
	v.SetDefault("retry.delay_ms", 50)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetServerAddr returns the HTTP listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Hash returns the hex SHA-256 of the decision-relevant configuration.
// Connection and credential sections are excluded via json:"-" so the
// hash identifies engine behavior, not deployment wiring.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
