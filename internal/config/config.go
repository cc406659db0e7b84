// Package config handles feedveil configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dom/roddom"
	"github.com/hazyhaar/feedveil/item"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/oracle"
	"github.com/hazyhaar/feedveil/site"
	"github.com/hazyhaar/feedveil/veil"
)

// API key variables, first non-empty wins.
var apiKeyEnv = []string{"FEEDVEIL_API_KEY", "OPENROUTER_API_KEY"}

// Config is the top-level feedveil configuration.
type Config struct {
	Oracle   oracle.Config           `yaml:"oracle"`
	Browser  BrowserConfig           `yaml:"browser"`
	Admin    AdminConfig             `yaml:"admin"`
	Store    StoreConfig             `yaml:"store"`
	Pipeline PipelineConfig          `yaml:"pipeline"`
	Sites    map[string]SiteOverride `yaml:"sites"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	DisableStealth   bool          `yaml:"disable_stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	OpTimeout        time.Duration `yaml:"op_timeout"`
	PruneInterval    time.Duration `yaml:"prune_interval"`
}

// AdminConfig controls the admin HTTP listener.
type AdminConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
	MCP  bool   `yaml:"mcp"`
}

// StoreConfig locates the databases.
type StoreConfig struct {
	SettingsDB      string        `yaml:"settings_db"`
	SettingsFile    string        `yaml:"settings_file"` // used instead of SettingsDB when set
	ObservabilityDB string        `yaml:"observability_db"`
	Retention       time.Duration `yaml:"retention"`
	WatchInterval   time.Duration `yaml:"watch_interval"`
	WatchDebounce   time.Duration `yaml:"watch_debounce"`
}

// PipelineConfig tunes the observation loop.
type PipelineConfig struct {
	BatchMode  bool          `yaml:"batch_mode"`
	BatchSize  int           `yaml:"batch_size"`
	Settle     time.Duration `yaml:"settle"`
	RescanCron string        `yaml:"rescan_cron"` // forced rescans, empty disables
	Labels     veil.Labels   `yaml:"labels"`
}

// SiteOverride replaces parts of a site adapter. Unset fields keep the
// built-in values; an unknown id declares a new adapter.
type SiteOverride struct {
	Name       string           `yaml:"name"`
	Domains    []string         `yaml:"domains"`
	Containers []string         `yaml:"containers"`
	Roots      []string         `yaml:"roots"`
	Fields     item.FieldSpec   `yaml:"fields"`
	Prompt     classify.Subject `yaml:"prompt"`
	Settle     time.Duration    `yaml:"settle"`
}

// Default returns a configuration with every default applied and the API
// key taken from the environment.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg
}

// LoadFile reads a YAML configuration file. An empty path yields Default().
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = oracle.DefaultBaseURL
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = oracle.DefaultModel
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 20 * time.Second
	}
	if c.Store.SettingsDB == "" {
		c.Store.SettingsDB = "feedveil.db"
	}
	if c.Store.ObservabilityDB == "" {
		c.Store.ObservabilityDB = "feedveil_obs.db"
	}
	if c.Store.Retention <= 0 {
		c.Store.Retention = 30 * 24 * time.Hour
	}
	if c.Store.WatchInterval <= 0 {
		c.Store.WatchInterval = time.Second
	}
	if c.Store.WatchDebounce <= 0 {
		c.Store.WatchDebounce = 500 * time.Millisecond
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.Settle <= 0 {
		c.Pipeline.Settle = 500 * time.Millisecond
	}
}

func (c *Config) applyEnv() {
	if c.Oracle.APIKey != "" {
		return
	}
	for _, k := range apiKeyEnv {
		if v := os.Getenv(k); v != "" {
			c.Oracle.APIKey = v
			return
		}
	}
}

// RodConfig converts the browser section for roddom.
func (b BrowserConfig) RodConfig() roddom.Config {
	return roddom.Config{
		RemoteURL:        b.Remote,
		Headful:          b.Headful,
		DisableStealth:   b.DisableStealth,
		ResourceBlocking: b.ResourceBlocking,
		NavigateTimeout:  b.NavigateTimeout,
		OpTimeout:        b.OpTimeout,
		PruneInterval:    b.PruneInterval,
	}
}

// LoopConfig converts the pipeline section for observe.
func (p PipelineConfig) LoopConfig() observe.Config {
	return observe.Config{
		BatchMode: p.BatchMode,
		BatchSize: p.BatchSize,
		Settle:    p.Settle,
		Labels:    p.Labels,
	}
}

// Registry returns the built-in adapters with the site overrides applied.
func (c *Config) Registry() (*site.Registry, error) {
	reg := site.Default()
	for id, o := range c.Sites {
		base, ok := reg.Get(id)
		a := &site.Adapter{ID: id}
		if ok {
			cp := *base
			a = &cp
		}
		o.apply(a)
		if err := reg.Put(a); err != nil {
			return nil, fmt.Errorf("config: sites.%s: %w", id, err)
		}
	}
	return reg, nil
}

func (o SiteOverride) apply(a *site.Adapter) {
	if o.Name != "" {
		a.Name = o.Name
	}
	if len(o.Domains) > 0 {
		a.Domains = o.Domains
	}
	if len(o.Containers) > 0 {
		a.Containers = o.Containers
	}
	if len(o.Roots) > 0 {
		a.Roots = o.Roots
	}
	a.Fields = a.Fields.Override(o.Fields)
	if o.Prompt.Noun != "" {
		a.Prompt = o.Prompt
	}
	if o.Settle > 0 {
		a.Settle = o.Settle
	}
}
