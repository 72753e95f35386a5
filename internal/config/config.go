package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Finalize   FinalizeConfig   `yaml:"finalize" mapstructure:"finalize"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Assets     AssetsConfig     `yaml:"assets" mapstructure:"assets"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Model             string `yaml:"model" mapstructure:"model"`
	SearchContextSize string `yaml:"search_context_size" mapstructure:"search_context_size"`
}

// WorkflowConfig configures the per-image extract/validate loop.
type WorkflowConfig struct {
	Threshold       int      `yaml:"threshold" mapstructure:"threshold"`
	MaxRetries      int      `yaml:"max_retries" mapstructure:"max_retries"`
	ImageDelayMs    int      `yaml:"image_delay_ms" mapstructure:"image_delay_ms"`
	CallTimeoutSecs int      `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	Patterns        []string `yaml:"patterns" mapstructure:"patterns"`
	KeepPartial     bool     `yaml:"keep_partial" mapstructure:"keep_partial"`
}

// ImageDelay returns the pause between consecutive images.
func (w WorkflowConfig) ImageDelay() time.Duration {
	return time.Duration(w.ImageDelayMs) * time.Millisecond
}

// CallTimeout returns the per backend call timeout. Zero disables it.
func (w WorkflowConfig) CallTimeout() time.Duration {
	return time.Duration(w.CallTimeoutSecs) * time.Second
}

// Finalize modes.
const (
	FinalizeBatch      = "batch"
	FinalizeIndividual = "individual"
)

// FinalizeConfig configures the search-grounded cleanup step.
type FinalizeConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Mode             string `yaml:"mode" mapstructure:"mode"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AssetsConfig points at the prompt and schema directory.
type AssetsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
	PerMTok  float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultPatterns are the image globs scanned when none are configured.
var DefaultPatterns = []string{"**/*.jpeg", "**/*.jpg", "**/*.png"}

var unboundKeys = []string{
	"anthropic.key",
	"anthropic.base_url",
	"perplexity.key",
	"assets.dir",
	"metrics.textfile",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCORITO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are unknown to AutomaticEnv during Unmarshal.
	for _, key := range unboundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.search_context_size", "medium")
	v.SetDefault("workflow.threshold", 8)
	v.SetDefault("workflow.max_retries", 3)
	v.SetDefault("workflow.image_delay_ms", 2000)
	v.SetDefault("workflow.call_timeout_secs", 120)
	v.SetDefault("workflow.patterns", DefaultPatterns)
	v.SetDefault("workflow.keep_partial", false)
	v.SetDefault("finalize.enabled", true)
	v.SetDefault("finalize.mode", FinalizeBatch)
	v.SetDefault("finalize.retry_attempts", 3)
	v.SetDefault("finalize.breaker_threshold", 5)
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "scorito.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.perplexity.per_mtok", 1.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present and in
// range. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	required := func(val, key string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Sprintf("%s is required (SCORITO_%s)", key, envKey(key)))
		}
	}

	switch mode {
	case "extract":
		required(c.Anthropic.Key, "anthropic.key")
		required(c.Anthropic.Model, "anthropic.model")
		if c.Finalize.Enabled {
			required(c.Perplexity.Key, "perplexity.key")
			switch c.Finalize.Mode {
			case FinalizeBatch, FinalizeIndividual:
			default:
				errs = append(errs, fmt.Sprintf("finalize.mode must be %q or %q, got %q", FinalizeBatch, FinalizeIndividual, c.Finalize.Mode))
			}
		}
		if c.Workflow.Threshold < 0 || c.Workflow.Threshold > 10 {
			errs = append(errs, "workflow.threshold must be between 0 and 10")
		}
		if c.Workflow.MaxRetries < 1 {
			errs = append(errs, "workflow.max_retries must be >= 1")
		}
		if c.Workflow.ImageDelayMs < 0 {
			errs = append(errs, "workflow.image_delay_ms must be >= 0")
		}
		if c.Workflow.CallTimeoutSecs < 0 {
			errs = append(errs, "workflow.call_timeout_secs must be >= 0")
		}
		if c.Store.Enabled {
			errs = append(errs, c.storeErrors()...)
		}
	case "store":
		errs = append(errs, c.storeErrors()...)
	case "assets":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.DatabaseURL) == "" {
		errs = append(errs, fmt.Sprintf("store.database_url is required (SCORITO_%s)", envKey("store.database_url")))
	}
	return errs
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// InitLogger initializes the global zap logger. Format "auto" picks the
// console encoder when stderr is a terminal.
func InitLogger(cfg LogConfig) error {
	format := cfg.Format
	if format == "auto" || format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "console"
		}
	}

	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
