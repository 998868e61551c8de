// Package config provides the configuration of the agent service.
// Secrets are never part of the configuration, they are resolved by name at runtime.
package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/engine"
	"github.com/effective-security/sdragent/eventsource"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/pkg/prompts"
	"github.com/effective-security/sdragent/session"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/effective-security/sdragent/tools/tavily"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

// Backend of the cache and session stores
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config of the agent service
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Model    ModelConfig    `json:"model" yaml:"model"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Sessions SessionsConfig `json:"sessions" yaml:"sessions"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Secrets  SecretsConfig  `json:"secrets" yaml:"secrets"`
	// Servers are registered at startup if they do not exist
	Servers []*gateway.Descriptor `json:"servers,omitempty" yaml:"servers,omitempty"`
}

// HTTPConfig of the API server
type HTTPConfig struct {
	Address string `json:"address" yaml:"address"`
}

// ModelConfig of the model event source
type ModelConfig struct {
	Name         string        `json:"name" yaml:"name"`
	BaseURL      string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxTokens    int64         `json:"max_tokens" yaml:"max_tokens"`
	MaxTurns     int           `json:"max_turns" yaml:"max_turns"`
	TurnTimeout  time.Duration `json:"turn_timeout" yaml:"turn_timeout"`
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// SystemPromptFormat is go-template, jinja2 or text
	SystemPromptFormat prompts.Format `json:"system_prompt_format,omitempty" yaml:"system_prompt_format,omitempty"`
}

// StorageConfig of the SQL storage
type StorageConfig struct {
	// Dialect is postgres or sqlite
	Dialect storage.Dialect `json:"dialect" yaml:"dialect"`
	DSN     string          `json:"dsn" yaml:"dsn"`
}

// CacheConfig of the memoization cache
type CacheConfig struct {
	Backend       string        `json:"backend" yaml:"backend"`
	AnalysisTTL   time.Duration `json:"analysis_ttl" yaml:"analysis_ttl"`
	ResearchTTL   time.Duration `json:"research_ttl" yaml:"research_ttl"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// SessionsConfig of the session store
type SessionsConfig struct {
	Backend       string        `json:"backend" yaml:"backend"`
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	EvictInterval time.Duration `json:"evict_interval" yaml:"evict_interval"`
	// TTL of the sessions in redis, 0 to keep them until evicted
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// RedisConfig of the redis client
type RedisConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	DB   int    `json:"db,omitempty" yaml:"db,omitempty"`
	// PasswordSecret is the name of the secret with the redis password
	PasswordSecret string `json:"password_secret,omitempty" yaml:"password_secret,omitempty"`
	Prefix         string `json:"prefix" yaml:"prefix"`
}

// SecretsConfig of the secret resolver chain
type SecretsConfig struct {
	// EnvPrefix is prepended to the secret names looked up in the environment
	EnvPrefix string `json:"env_prefix,omitempty" yaml:"env_prefix,omitempty"`
	// DotEnv is an optional file with secrets, checked after the environment
	DotEnv string `json:"dotenv,omitempty" yaml:"dotenv,omitempty"`
}

// Load returns the configuration from the YAML or JSON file,
// variables in the values are expanded from the environment.
// Empty file returns the default configuration.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, err
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults sets the values not specified in the configuration
func (c *Config) SetDefaults() {
	c.HTTP.Address = values.StringsCoalesce(c.HTTP.Address, ":8080")

	c.Model.Name = values.StringsCoalesce(c.Model.Name, eventsource.DefaultModel)
	c.Model.MaxTokens = values.NumbersCoalesce(c.Model.MaxTokens, eventsource.DefaultMaxTokens)
	c.Model.MaxTurns = values.NumbersCoalesce(c.Model.MaxTurns, eventsource.DefaultMaxTurns)
	c.Model.TurnTimeout = values.NumbersCoalesce(c.Model.TurnTimeout, engine.DefaultTurnTimeout)

	c.Storage.Dialect = storage.Dialect(values.StringsCoalesce(string(c.Storage.Dialect), string(storage.SQLite)))
	c.Storage.DSN = values.StringsCoalesce(c.Storage.DSN, "sdragent.db")

	c.Cache.Backend = values.StringsCoalesce(c.Cache.Backend, BackendMemory)
	c.Cache.AnalysisTTL = values.NumbersCoalesce(c.Cache.AnalysisTTL, sdr.DefaultAnalysisTTL)
	c.Cache.ResearchTTL = values.NumbersCoalesce(c.Cache.ResearchTTL, tavily.DefaultResearchTTL)
	c.Cache.SweepInterval = values.NumbersCoalesce(c.Cache.SweepInterval, cache.DefaultSweepInterval)

	c.Sessions.Backend = values.StringsCoalesce(c.Sessions.Backend, BackendMemory)
	c.Sessions.IdleTimeout = values.NumbersCoalesce(c.Sessions.IdleTimeout, session.DefaultIdleTimeout)
	c.Sessions.EvictInterval = values.NumbersCoalesce(c.Sessions.EvictInterval, session.DefaultEvictInterval)

	c.Redis.Addr = values.StringsCoalesce(c.Redis.Addr, "localhost:6379")
	c.Redis.Prefix = values.StringsCoalesce(c.Redis.Prefix, "sdragent")
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	switch c.Storage.Dialect {
	case storage.Postgres, storage.SQLite:
	default:
		return errors.Newf("unsupported storage dialect: %q", c.Storage.Dialect)
	}
	if _, err := c.SystemTemplate(); err != nil {
		return errors.WithMessage(err, "model.system_prompt")
	}
	for _, b := range []string{c.Cache.Backend, c.Sessions.Backend} {
		if b != BackendMemory && b != BackendRedis {
			return errors.Newf("unsupported backend: %q", b)
		}
	}
	for _, d := range c.Servers {
		if err := d.Validate(); err != nil {
			return errors.WithMessagef(err, "server %q", d.ID)
		}
	}
	return nil
}

// SystemTemplate returns the parsed system prompt, nil if not configured
func (c *Config) SystemTemplate() (*prompts.Template, error) {
	if c.Model.SystemPrompt == "" {
		return nil, nil
	}
	return prompts.New(c.Model.SystemPrompt, c.Model.SystemPromptFormat)
}

// UsesRedis returns true if a store is configured with the redis backend
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == BackendRedis || c.Sessions.Backend == BackendRedis
}

// YAML returns the configuration as YAML
func (c *Config) YAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode config")
	}
	return string(b), nil
}
