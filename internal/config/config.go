// Package config loads the collector configuration from a YAML file, with
// credentials and connection strings taken from the environment (and an
// optional .env file).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/checkpoint"
	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/logging"
	"github.com/Sternrassler/dota-collector/pkg/provider"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log         logging.Config `yaml:"log"`
	UserAgent   string         `yaml:"user_agent"`
	Timeout     time.Duration  `yaml:"timeout"`
	Concurrency int            `yaml:"concurrency"`

	// TargetTimeout bounds each target of collect-all. Zero means no limit.
	TargetTimeout time.Duration `yaml:"target_timeout"`

	Output     OutputConfig       `yaml:"output"`
	Checkpoint CheckpointConfig   `yaml:"checkpoint"`
	Redis      RedisConfig        `yaml:"redis"`
	Cache      CacheConfig        `yaml:"cache"`
	Retry      client.RetryConfig `yaml:"retry"`

	// DecodeRetries is how often a malformed page is re-requested. Zero
	// disables retries; the first malformed page ends the run.
	DecodeRetries int `yaml:"decode_retries"`

	Providers map[string]ProviderConfig `yaml:"providers"`
	Targets   []TargetConfig            `yaml:"targets"`
}

// OutputConfig selects the sinks every page is written to.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	PageFiles bool   `yaml:"page_files"`
	JSONL     bool   `yaml:"jsonl"`

	// SQLitePath enables the SQLite sink.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSNEnv names the variable holding the Postgres DSN. The sink is
	// enabled when the variable is set.
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`

	// PostgresDSN is resolved from PostgresDSNEnv.
	PostgresDSN string `yaml:"-"`
}

// CheckpointConfig selects the cursor store.
type CheckpointConfig struct {
	// Backend is "file" or "redis".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// RedisConfig is the connection used by the Redis cursor store, shared rate
// limit state and the response cache.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`

	Password string `yaml:"-"`
}

// CacheConfig controls the reference response cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// ProviderConfig configures one API.
type ProviderConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// SharedRateLimit keeps the budget in Redis so several hosts share it.
	SharedRateLimit bool `yaml:"shared_rate_limit"`

	Query     string         `yaml:"query"`
	DataPath  []string       `yaml:"data_path"`
	Variables map[string]any `yaml:"variables"`

	// APIKey is resolved from APIKeyEnv and never read from the file.
	APIKey string `yaml:"-"`
}

// TargetConfig is one named collection.
type TargetConfig struct {
	Name       string            `yaml:"name"`
	Provider   string            `yaml:"provider"`
	Endpoint   string            `yaml:"endpoint"`
	Params     map[string]string `yaml:"params"`
	PageSize   int               `yaml:"page_size"`
	MaxRecords int               `yaml:"max_records"`

	// Since is an RFC3339 timestamp. Records that started earlier end the run.
	Since string `yaml:"since"`

	// Snapshot marks a non-paginated reference endpoint.
	Snapshot bool `yaml:"snapshot"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() Config {
	return Config{
		Log:         logging.Config{Level: logging.LevelInfo},
		UserAgent:   "dota-collector/1.0",
		Timeout:     30 * time.Second,
		Concurrency: 4,
		Output: OutputConfig{
			Dir:       "data",
			PageFiles: true,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     "state",
		},
		Redis:         RedisConfig{Addr: "localhost:6379"},
		Cache:         CacheConfig{Retention: 7 * 24 * time.Hour},
		Retry:         client.DefaultRetryConfig(),
		DecodeRetries: 1,
	}
}

// Load reads path, loads .env files, resolves secrets and validates.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default, resolves secrets and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.resolveEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveEnv() {
	for name, p := range c.Providers {
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
		c.Providers[name] = p
	}
	if c.Output.PostgresDSNEnv != "" {
		c.Output.PostgresDSN = os.Getenv(c.Output.PostgresDSNEnv)
	}
	if c.Redis.PasswordEnv != "" {
		c.Redis.Password = os.Getenv(c.Redis.PasswordEnv)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user_agent is required"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1 (got %d)", c.Concurrency))
	}
	if c.TargetTimeout < 0 {
		errs = append(errs, fmt.Errorf("target_timeout must not be negative (got %s)", c.TargetTimeout))
	}
	if c.DecodeRetries < 0 {
		errs = append(errs, fmt.Errorf("decode_retries must be >= 0 (got %d)", c.DecodeRetries))
	}

	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Dir == "" {
			errs = append(errs, errors.New("checkpoint.dir is required for the file backend"))
		}
	case "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	if c.needsRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}

	if !c.Output.PageFiles && !c.Output.JSONL && c.Output.SQLitePath == "" && c.Output.PostgresDSNEnv == "" {
		errs = append(errs, errors.New("output: no sink enabled"))
	}
	if (c.Output.PageFiles || c.Output.JSONL) && c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required for file sinks"))
	}

	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required"))
	}
	seen := make(map[string]bool)
	for _, t := range c.Targets {
		if err := checkpoint.ValidateTarget(t.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("duplicate target %q", t.Name))
		}
		seen[t.Name] = true

		if t.Endpoint == "" {
			errs = append(errs, fmt.Errorf("target %s: endpoint is required", t.Name))
		}
		if _, err := provider.New(c.ProviderConfig(t.Provider)); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
		}
		if t.PageSize < 0 || t.MaxRecords < 0 {
			errs = append(errs, fmt.Errorf("target %s: page_size and max_records must not be negative", t.Name))
		}
		if _, err := t.SinceTime(); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) needsRedis() bool {
	if c.Checkpoint.Backend == "redis" || c.Cache.Enabled {
		return true
	}
	for _, p := range c.Providers {
		if p.SharedRateLimit {
			return true
		}
	}
	return false
}

// NeedsRedis reports whether any component uses the Redis connection.
func (c *Config) NeedsRedis() bool {
	return c.needsRedis()
}

// Target returns the named target.
func (c *Config) Target(name string) (TargetConfig, error) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return TargetConfig{}, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(c.TargetNames(), ", "))
}

// TargetNames returns the configured target names, sorted.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Provider returns the provider settings of name; unknown names get zero settings.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[strings.ToLower(name)]
}

// ProviderConfig converts the settings of name into an adapter configuration.
func (c *Config) ProviderConfig(name string) provider.Config {
	p := c.Provider(name)
	return provider.Config{
		Name:      name,
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		Query:     p.Query,
		DataPath:  p.DataPath,
		Variables: p.Variables,
	}
}

// SinceTime parses Since. An empty value yields the zero time.
func (t TargetConfig) SinceTime() (time.Time, error) {
	if t.Since == "" {
		return time.Time{}, nil
	}
	since, err := time.Parse(time.RFC3339, t.Since)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: %w", err)
	}
	return since, nil
}

// Query returns Params as URL values.
func (t TargetConfig) Query() url.Values {
	q := make(url.Values, len(t.Params))
	for k, v := range t.Params {
		q.Set(k, v)
	}
	return q
}
