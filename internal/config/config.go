package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/tracing"
	"github.com/spf13/viper"
)

// DefaultPath is where the container image mounts features.yaml.
const DefaultPath = "/app/config/features.yaml"

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type QuotaConfig struct {
	DailyLimit   int    `mapstructure:"daily_limit"`
	CookieName   string `mapstructure:"cookie_name"`
	CookieSecret string `mapstructure:"cookie_secret"`
	SecureCookie bool   `mapstructure:"secure_cookie"`
}

type CompletionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ResolverConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// HostRate paces wrapper fetches per host, in requests per second; 0 disables.
	HostRate  float64 `mapstructure:"host_rate"`
	HostBurst int     `mapstructure:"host_burst"`
}

type CitationsConfig struct {
	MaxCitations int           `mapstructure:"max_citations"`
	Concurrency  int           `mapstructure:"concurrency"`
	ItemTimeout  time.Duration `mapstructure:"item_timeout"`
}

type RegistryConfig struct {
	// Path overrides the embedded publisher table when set.
	Path string `mapstructure:"path"`
}

type ValidationConfig struct {
	LanguageThreshold float64 `mapstructure:"language_threshold"`
}

type RedisConfig struct {
	// URL enables the resolution cache, e.g. redis://redis:6379/0.
	URL string `mapstructure:"url"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

type CircuitBreakerConfig struct {
	Completion circuitbreaker.Settings `mapstructure:"completion"`
	Redis      circuitbreaker.Settings `mapstructure:"redis"`
}

// Config is the gateway configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Quota          QuotaConfig          `mapstructure:"quota"`
	Completion     CompletionConfig     `mapstructure:"completion"`
	Resolver       ResolverConfig       `mapstructure:"resolver"`
	Citations      CitationsConfig      `mapstructure:"citations"`
	Registry       RegistryConfig       `mapstructure:"registry"`
	Validation     ValidationConfig     `mapstructure:"validation"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads features.yaml at path (Path() when empty). A missing file is not
// an error: defaults and environment overrides still apply. Nested keys map
// to upper-case env names with dots replaced, so quota.daily_limit is
// QUOTA_DAILY_LIMIT.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAliases(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("quota.daily_limit", 25)
	v.SetDefault("quota.cookie_name", "coverage_usage")
	v.SetDefault("quota.cookie_secret", "")
	v.SetDefault("quota.secure_cookie", true)

	v.SetDefault("completion.base_url", "http://llm-service:8000")
	v.SetDefault("completion.timeout", 45*time.Second)

	v.SetDefault("resolver.timeout", 5*time.Second)
	v.SetDefault("resolver.cache_ttl", 24*time.Hour)
	v.SetDefault("resolver.host_rate", 10.0)
	v.SetDefault("resolver.host_burst", 20)

	v.SetDefault("citations.max_citations", 12)
	v.SetDefault("citations.concurrency", 6)
	v.SetDefault("citations.item_timeout", 8*time.Second)

	v.SetDefault("registry.path", "")
	v.SetDefault("validation.language_threshold", 0.7)
	v.SetDefault("redis.url", "")

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "coverage-gateway")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")

	for name, s := range map[string]circuitbreaker.Settings{
		"completion": circuitbreaker.CompletionSettings(),
		"redis":      circuitbreaker.RedisSettings(),
	} {
		prefix := "circuit_breaker." + name + "."
		v.SetDefault(prefix+"max_requests", s.MaxRequests)
		v.SetDefault(prefix+"interval", s.Interval)
		v.SetDefault(prefix+"timeout", s.Timeout)
		v.SetDefault(prefix+"failure_threshold", s.FailureThreshold)
		v.SetDefault(prefix+"success_threshold", s.SuccessThreshold)
	}
}

// bindAliases keeps the variable names the rest of the deployment already uses.
func bindAliases(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("completion.base_url", "COMPLETION_BASE_URL", "LLM_SERVICE_URL")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("observability.metrics.port", "OBSERVABILITY_METRICS_PORT", "METRICS_PORT")
	_ = v.BindEnv("observability.logging.level", "OBSERVABILITY_LOGGING_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("observability.tracing.enabled", "OBSERVABILITY_TRACING_ENABLED", "OTEL_ENABLED")
	_ = v.BindEnv("observability.tracing.otlp_endpoint", "OBSERVABILITY_TRACING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("quota.cookie_secret", "QUOTA_COOKIE_SECRET", "COVERAGE_COOKIE_SECRET")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, fmt.Errorf("quota.daily_limit must be positive, got %d", c.Quota.DailyLimit))
	}
	if c.Quota.CookieName == "" {
		errs = append(errs, errors.New("quota.cookie_name is required"))
	}
	if c.Completion.Timeout <= 0 {
		errs = append(errs, errors.New("completion.timeout must be positive"))
	}
	if c.Citations.MaxCitations <= 0 || c.Citations.Concurrency <= 0 {
		errs = append(errs, errors.New("citations.max_citations and citations.concurrency must be positive"))
	}
	if t := c.Validation.LanguageThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("validation.language_threshold must be in (0,1], got %v", t))
	}
	return errors.Join(errs...)
}
