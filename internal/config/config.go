package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/state-handoff/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HANDOFF_"

// Account is an operator identity allowed to call the API. The account name
// becomes the sender of every execute it makes.
type Account struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// EventsConfig configures where committed events are published besides the
// in-process feed.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Config holds all configuration (defaults, config file, environment, CLI flags).
type Config struct {
	Listen   string        `yaml:"listen"`
	Store    store.Options `yaml:"store"`
	Events   EventsConfig  `yaml:"events"`
	Metrics  *bool         `yaml:"metrics"`
	Accounts []Account     `yaml:"accounts"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	metrics := true
	return &Config{
		Listen:  ":8080",
		Store:   store.Options{Driver: store.DriverMemory},
		Events:  EventsConfig{Subject: "handoff.events"},
		Metrics: &metrics,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), a .env file in the working directory, and HANDOFF_*
// environment variables, in increasing order of precedence. Callers that
// layer more overrides on top call Validate once they are applied.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// loadFile reads a YAML config file. Only the values present in the file
// replace the defaults.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if file.Listen != "" {
		c.Listen = file.Listen
	}
	if file.Store.Driver != "" {
		c.Store.Driver = file.Store.Driver
	}
	if file.Store.Path != "" {
		c.Store.Path = file.Store.Path
	}
	if file.Store.NATSURL != "" {
		c.Store.NATSURL = file.Store.NATSURL
	}
	if file.Store.Bucket != "" {
		c.Store.Bucket = file.Store.Bucket
	}
	if file.Events.NATSURL != "" {
		c.Events.NATSURL = file.Events.NATSURL
	}
	if file.Events.Subject != "" {
		c.Events.Subject = file.Events.Subject
	}
	if file.Metrics != nil {
		c.Metrics = file.Metrics
	}

	// Accounts always come from the config file
	c.Accounts = file.Accounts

	return nil
}

// applyEnv overlays HANDOFF_* variables. HANDOFF_ACCOUNTS is a comma
// separated list of name:password pairs and replaces the file's accounts.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN":          &c.Listen,
		"STORE_DRIVER":    &c.Store.Driver,
		"STORE_PATH":      &c.Store.Path,
		"STORE_NATS_URL":  &c.Store.NATSURL,
		"STORE_BUCKET":    &c.Store.Bucket,
		"EVENTS_NATS_URL": &c.Events.NATSURL,
		"EVENTS_SUBJECT":  &c.Events.Subject,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "METRICS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS: %w", EnvPrefix, err)
		}
		c.Metrics = &b
	}

	if v, ok := lookup(EnvPrefix + "ACCOUNTS"); ok && v != "" {
		accounts, err := parseAccounts(v)
		if err != nil {
			return fmt.Errorf("%sACCOUNTS: %w", EnvPrefix, err)
		}
		c.Accounts = accounts
	}
	return nil
}

func parseAccounts(s string) ([]Account, error) {
	var accounts []Account
	for _, pair := range strings.Split(s, ",") {
		name, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("expected name:password, got %q", pair)
		}
		accounts = append(accounts, Account{Name: name, Password: password})
	}
	return accounts, nil
}

// MetricsEnabled reports whether the Prometheus endpoint is served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverNATS:
		if c.Store.NATSURL == "" {
			return fmt.Errorf("store driver %q requires store.nats_url", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" || a.Password == "" {
			return fmt.Errorf("account %d: name and password are required", i)
		}
		// Senders share one namespace with instance addresses, which are UUIDs.
		if _, err := uuid.Parse(a.Name); err == nil {
			return fmt.Errorf("account %q: name must not be an instance address", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("account %q defined twice", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}
