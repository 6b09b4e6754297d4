// Package config loads flowpatch settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dukex/flowpatch/pkg/cache"
	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/provision"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Instance struct {
	URL      string        `yaml:"url"      validate:"required,url"`
	Username string        `yaml:"username" validate:"required_without=Token"`
	Password string        `yaml:"password" validate:"required_with=Username"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"  validate:"gte=0"`
}

type Cache struct {
	Backend  string        `yaml:"backend"   validate:"oneof=memory redis"`
	RedisURL string        `yaml:"redis_url" validate:"required_if=Backend redis"`
	TTL      time.Duration `yaml:"ttl"       validate:"gte=0"`
}

type Persistence struct {
	URL string `yaml:"url" validate:"required"`
}

type EventBus struct {
	Provider string `yaml:"provider" validate:"oneof=gochannel kafka"`
	Brokers  string `yaml:"brokers"  validate:"required_if=Provider kafka"`
	Buffer   int    `yaml:"buffer"   validate:"gte=0"`
}

type Bootstrap struct {
	Endpoint string        `yaml:"endpoint" validate:"required"`
	TTL      time.Duration `yaml:"ttl"      validate:"gte=0"`
}

type Config struct {
	Instance    Instance                      `yaml:"instance"`
	Catalog     map[string]capability.Catalog `yaml:"catalog"`
	Cache       Cache                         `yaml:"cache"`
	Persistence Persistence                   `yaml:"persistence"`
	EventBus    EventBus                      `yaml:"event_bus"`
	Bootstrap   Bootstrap                     `yaml:"bootstrap"`
	LogLevel    string                        `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Instance:    Instance{Timeout: 30 * time.Second},
		Cache:       Cache{Backend: cache.BackendMemory, TTL: 10 * time.Minute},
		Persistence: Persistence{URL: "file://./data"},
		EventBus:    EventBus{Provider: "gochannel"},
		Bootstrap:   Bootstrap{Endpoint: provision.DefaultEndpointName, TTL: provision.DefaultEndpointTTL},
		LogLevel:    "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.Instance.Timeout == 0 {
		c.Instance.Timeout = d.Instance.Timeout
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = d.Cache.Backend
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = d.Cache.TTL
	}

	if c.Persistence.URL == "" {
		c.Persistence.URL = d.Persistence.URL
	}

	if c.EventBus.Provider == "" {
		c.EventBus.Provider = d.EventBus.Provider
	}

	if c.Bootstrap.Endpoint == "" {
		c.Bootstrap.Endpoint = d.Bootstrap.Endpoint
	}

	if c.Bootstrap.TTL == 0 {
		c.Bootstrap.TTL = d.Bootstrap.TTL
	}

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	c.Instance.URL = strings.TrimRight(c.Instance.URL, "/")
}

// Tables returns the catalog tables with the configured overrides applied.
func (c Config) Tables() (capability.Tables, error) {
	overrides := capability.Tables{}

	for name, catalog := range c.Catalog {
		kind, err := models.ParseElementKind(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}

		overrides[kind] = catalog
	}

	return capability.DefaultTables().Merge(overrides), nil
}

// Validate checks the configuration before anything connects.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	var errs []error

	if err := v.Struct(c); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Tables(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
