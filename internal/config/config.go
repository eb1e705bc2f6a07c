// Package config loads the digest service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// DIGEST_-prefixed environment variables (DIGEST_REGISTRY_MAX_CONCURRENCY maps
// to registry.max_concurrency).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/wehubfusion/Digest/internal/logging"
	"github.com/wehubfusion/Digest/pkg/extractor"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIGEST_"

// Config is the full service configuration.
type Config struct {
	Registry   RegistryConfig   `koanf:"registry"`
	Lifelog    LifelogConfig    `koanf:"lifelog"`
	LLM        LLMConfig        `koanf:"llm"`
	NATS       NATSConfig       `koanf:"nats"`
	Storage    StorageConfig    `koanf:"storage"`
	Tracing    TracingConfig    `koanf:"tracing"`
	Sentry     SentryConfig     `koanf:"sentry"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Log        logging.Config   `koanf:"log"`
	Digest     DigestConfig     `koanf:"digest"`
	Extractors ExtractorsConfig `koanf:"extractors"`
}

// RegistryConfig mirrors registry.Options.
type RegistryConfig struct {
	MaxConcurrency   int           `koanf:"max_concurrency"`
	ExtractorTimeout time.Duration `koanf:"extractor_timeout"`
	ContinueOnError  bool          `koanf:"continue_on_error"`
}

// LifelogConfig configures the lifelog API client.
type LifelogConfig struct {
	APIKey     string        `koanf:"api_key"`
	BaseURL    string        `koanf:"base_url"`
	Timezone   string        `koanf:"timezone"`
	PageSize   int           `koanf:"page_size"`
	MaxRetries int           `koanf:"max_retries"`
	RateLimit  float64       `koanf:"rate_limit"`
	Timeout    time.Duration `koanf:"timeout"`
}

// LLMConfig configures the text-generation client.
type LLMConfig struct {
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url"`
	Model     string        `koanf:"model"`
	MaxTokens int           `koanf:"max_tokens"`
	RateLimit float64       `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
}

// NATSConfig configures the delivery handoff. An empty URL disables it.
type NATSConfig struct {
	URL               string `koanf:"url"`
	Name              string `koanf:"name"`
	Stream            string `koanf:"stream"`
	Subject           string `koanf:"subject"`
	Token             string `koanf:"token"`
	MaxReconnects     int    `koanf:"max_reconnects"`
	PublishMaxRetries int    `koanf:"publish_max_retries"`
}

// StorageConfig configures the report archive. An empty connection string
// disables it.
type StorageConfig struct {
	ConnectionString string `koanf:"connection_string"`
	Container        string `koanf:"container"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string  `koanf:"dsn"`
	Environment string  `koanf:"environment"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ScheduleConfig is the daily run time.
type ScheduleConfig struct {
	Hour     int    `koanf:"hour"`
	Minute   int    `koanf:"minute"`
	Timezone string `koanf:"timezone"`
}

// DigestConfig describes the recipient.
type DigestConfig struct {
	Recipients []string `koanf:"recipients"`
	UserName   string   `koanf:"user_name"`
}

// ExtractorsConfig lists the units to register.
type ExtractorsConfig struct {
	// Global is layered over every unit's defaults.
	Global extractor.Override `koanf:"global"`
	// Units is keyed by extractor id. When empty every built-in unit is
	// registered with its defaults.
	Units map[string]UnitConfig `koanf:"units"`
}

// UnitConfig configures one registered unit.
type UnitConfig struct {
	// Type selects the implementation; it defaults to the id.
	Type string `koanf:"type"`
	// Name is the section title of script units.
	Name     string             `koanf:"name"`
	Enabled  *bool              `koanf:"enabled"`
	Priority *int               `koanf:"priority"`
	Settings extractor.Settings `koanf:"settings"`
}

// Override returns the unit's configuration layer.
func (u UnitConfig) Override() *extractor.Override {
	o := &extractor.Override{Enabled: u.Enabled, Priority: u.Priority, Settings: u.Settings}
	if o.IsZero() {
		return nil
	}
	return o
}

// TypeFor returns the implementation type of unit id.
func (c ExtractorsConfig) TypeFor(id string) string {
	if t := c.Units[id].Type; t != "" {
		return t
	}
	return id
}

const defaults = `
registry:
  max_concurrency: 5
  extractor_timeout: 30s
  continue_on_error: true
lifelog:
  base_url: https://api.limitless.ai
  timezone: UTC
  page_size: 10
  max_retries: 3
  rate_limit: 2
  timeout: 30s
llm:
  model: claude-3-5-haiku-latest
  max_tokens: 1024
  rate_limit: 1
  timeout: 60s
nats:
  name: digest
  stream: DIGEST
  subject: digest.email
  max_reconnects: 10
  publish_max_retries: 3
storage:
  container: digest-reports
tracing:
  enabled: false
  service_name: digest
  endpoint: 127.0.0.1:4318
  protocol: http
  insecure: true
  sample_ratio: 1.0
sentry:
  environment: development
  sample_rate: 1.0
schedule:
  hour: 21
  minute: 0
log:
  level: info
  format: json
`

// Load reads the configuration. path may be empty; a missing explicit path
// is an error.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		content = data
	}
	return LoadBytes(content)
}

// LoadBytes reads the configuration from YAML content plus the environment.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps DIGEST_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func (c *Config) applyDefaults() {
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = c.Lifelog.Timezone
	}
	if c.Digest.UserName == "" {
		c.Digest.UserName = "You"
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Registry.MaxConcurrency < 1 {
		return fmt.Errorf("registry.max_concurrency must be at least 1, got %d", c.Registry.MaxConcurrency)
	}
	if c.Registry.ExtractorTimeout <= 0 {
		return fmt.Errorf("registry.extractor_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Lifelog.Timezone); err != nil {
		return fmt.Errorf("lifelog.timezone: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("schedule.hour must be between 0 and 23, got %d", c.Schedule.Hour)
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		return fmt.Errorf("schedule.minute must be between 0 and 59, got %d", c.Schedule.Minute)
	}
	if c.Lifelog.PageSize < 1 || c.Lifelog.PageSize > 10 {
		return fmt.Errorf("lifelog.page_size must be between 1 and 10, got %d", c.Lifelog.PageSize)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "http", "grpc":
	default:
		return fmt.Errorf("tracing.protocol must be http or grpc, got %q", c.Tracing.Protocol)
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		return fmt.Errorf("sentry.sample_rate must be between 0 and 1")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	for id, u := range c.Extractors.Units {
		if u.Priority != nil && *u.Priority < 0 {
			return fmt.Errorf("extractors.units.%s.priority must be non-negative", id)
		}
	}
	return nil
}

// Location returns the lifelog time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Lifelog.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScheduleLocation returns the time zone the schedule fires in.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
