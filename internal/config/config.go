// Package config loads notegraph configuration from defaults, the user
// config file, the project .notegraph.yaml and NOTEGRAPH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Graph delete policies.
const (
	// DeletePolicyTombstone keeps other pages' edges to a deleted page until
	// those pages are next re-indexed.
	DeletePolicyTombstone = "tombstone"
	// DeletePolicyCascade removes edges to a deleted page eagerly.
	DeletePolicyCascade = "cascade"
)

// ProjectConfigNames are the accepted project config file names.
var ProjectConfigNames = []string{".notegraph.yaml", ".notegraph.yml"}

// Config represents the complete notegraph configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Graph     GraphConfig     `yaml:"graph" json:"graph"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Render    RenderConfig    `yaml:"render" json:"render"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// StoreConfig configures the page store.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite database path. Empty means <data-dir>/pages.db.
	Path string `yaml:"path" json:"path"`
	// CacheSize is the number of pages kept in the read cache (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// MaxContentBytes rejects larger page bodies as invalid content.
	MaxContentBytes int `yaml:"max_content_bytes" json:"max_content_bytes"`
}

// GraphConfig configures the graph index.
type GraphConfig struct {
	// DeletePolicy is "tombstone" (default) or "cascade".
	DeletePolicy string `yaml:"delete_policy" json:"delete_policy"`
	// MaxDepth caps traversal depth requested by callers.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// SearchConfig configures ranked search.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`
	// Timeout is the default query deadline (e.g. "2s", "0" disables).
	Timeout string `yaml:"timeout" json:"timeout"`
}

// SyncConfig configures the synchronizer worker pool and degraded retries.
type SyncConfig struct {
	Workers      int     `yaml:"workers" json:"workers"`
	MaxRetries   int     `yaml:"max_retries" json:"max_retries"`
	InitialDelay string  `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64 `yaml:"multiplier" json:"multiplier"`
}

// RenderConfig configures the display renderer.
type RenderConfig struct {
	// Engine is "goldmark" (default, in-process) or "pandoc".
	Engine     string `yaml:"engine" json:"engine"`
	PandocPath string `yaml:"pandoc_path" json:"pandoc_path"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// WatchConfig configures vault import and watching.
type WatchConfig struct {
	Debounce   string   `yaml:"debounce" json:"debounce"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures the local query log.
type TelemetryConfig struct {
	Disabled   bool `yaml:"disabled" json:"disabled"`
	MaxQueries int  `yaml:"max_queries" json:"max_queries"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:         BackendSQLite,
			CacheSize:       1024,
			MaxContentBytes: 4 << 20,
		},
		Graph: GraphConfig{
			DeletePolicy: DeletePolicyTombstone,
			MaxDepth:     16,
		},
		Search: SearchConfig{
			DefaultLimit: 20,
			MaxLimit:     200,
			Timeout:      "2s",
		},
		Sync: SyncConfig{
			Workers:      runtime.NumCPU(),
			MaxRetries:   5,
			InitialDelay: "50ms",
			MaxDelay:     "5s",
			Multiplier:   2.0,
		},
		Render: RenderConfig{
			Engine:     "goldmark",
			PandocPath: "pandoc",
			CacheSize:  256,
			Timeout:    "10s",
		},
		Watch: WatchConfig{
			Debounce:   "200ms",
			Extensions: []string{".md", ".markdown"},
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			MaxQueries: 1000,
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/notegraph/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/notegraph/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "notegraph", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "notegraph", "config.yaml")
	}
	return filepath.Join(home, ".config", "notegraph", "config.yaml")
}

// loadUserConfig returns nil, nil when no user config exists.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := &Config{}
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/notegraph/config.yaml)
//  3. Project config (.notegraph.yaml in dir)
//  4. Environment variables (NOTEGRAPH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := loadUserConfig()
	if err != nil {
		return nil, ngerrors.ConfigError("failed to load user config", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	for _, name := range ProjectConfigNames {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		projectCfg := &Config{}
		if err := projectCfg.loadYAML(path); err != nil {
			return nil, ngerrors.ConfigError("failed to load project config", err).
				WithDetail("path", path)
		}
		cfg.mergeWith(projectCfg)
		break
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults merged with a single explicit config file.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	fileCfg := &Config{}
	if err := fileCfg.loadYAML(path); err != nil {
		return nil, ngerrors.New(ngerrors.ErrCodeConfigNotFound, "failed to load config file", err).
			WithDetail("path", path)
	}
	cfg.mergeWith(fileCfg)
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// mergeWith overwrites c with the non-zero fields of other.
func (c *Config) mergeWith(other *Config) {
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.CacheSize != 0 {
		c.Store.CacheSize = other.Store.CacheSize
	}
	if other.Store.MaxContentBytes != 0 {
		c.Store.MaxContentBytes = other.Store.MaxContentBytes
	}

	if other.Graph.DeletePolicy != "" {
		c.Graph.DeletePolicy = other.Graph.DeletePolicy
	}
	if other.Graph.MaxDepth != 0 {
		c.Graph.MaxDepth = other.Graph.MaxDepth
	}

	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}

	if other.Sync.Workers != 0 {
		c.Sync.Workers = other.Sync.Workers
	}
	if other.Sync.MaxRetries != 0 {
		c.Sync.MaxRetries = other.Sync.MaxRetries
	}
	if other.Sync.InitialDelay != "" {
		c.Sync.InitialDelay = other.Sync.InitialDelay
	}
	if other.Sync.MaxDelay != "" {
		c.Sync.MaxDelay = other.Sync.MaxDelay
	}
	if other.Sync.Multiplier != 0 {
		c.Sync.Multiplier = other.Sync.Multiplier
	}

	if other.Render.Engine != "" {
		c.Render.Engine = other.Render.Engine
	}
	if other.Render.PandocPath != "" {
		c.Render.PandocPath = other.Render.PandocPath
	}
	if other.Render.CacheSize != 0 {
		c.Render.CacheSize = other.Render.CacheSize
	}
	if other.Render.Timeout != "" {
		c.Render.Timeout = other.Render.Timeout
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Disabled is opt-out, so a set value always wins.
	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
	if other.Telemetry.MaxQueries != 0 {
		c.Telemetry.MaxQueries = other.Telemetry.MaxQueries
	}
}

// applyEnvOverrides applies NOTEGRAPH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NOTEGRAPH_STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("NOTEGRAPH_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("NOTEGRAPH_DELETE_POLICY"); v != "" {
		c.Graph.DeletePolicy = strings.ToLower(v)
	}
	if v := os.Getenv("NOTEGRAPH_SEARCH_TIMEOUT"); v != "" {
		c.Search.Timeout = v
	}
	if v := os.Getenv("NOTEGRAPH_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.Workers = n
		}
	}
	if v := os.Getenv("NOTEGRAPH_SYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("NOTEGRAPH_RENDER_ENGINE"); v != "" {
		c.Render.Engine = strings.ToLower(v)
	}
	if v := os.Getenv("NOTEGRAPH_PANDOC_PATH"); v != "" {
		c.Render.PandocPath = v
	}
	if v := os.Getenv("NOTEGRAPH_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("NOTEGRAPH_TELEMETRY_DISABLED"); v != "" {
		c.Telemetry.Disabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	default:
		return invalid("store.backend must be 'sqlite' or 'memory', got %q", c.Store.Backend)
	}
	if c.Store.CacheSize < 0 {
		return invalid("store.cache_size must be non-negative, got %d", c.Store.CacheSize)
	}
	if c.Store.MaxContentBytes <= 0 {
		return invalid("store.max_content_bytes must be positive, got %d", c.Store.MaxContentBytes)
	}

	switch c.Graph.DeletePolicy {
	case DeletePolicyTombstone, DeletePolicyCascade:
	default:
		return invalid("graph.delete_policy must be 'tombstone' or 'cascade', got %q", c.Graph.DeletePolicy)
	}
	if c.Graph.MaxDepth <= 0 {
		return invalid("graph.max_depth must be positive, got %d", c.Graph.MaxDepth)
	}

	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return invalid("search limits must satisfy 0 < default_limit <= max_limit, got %d/%d",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}

	if c.Sync.Workers <= 0 {
		return invalid("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return invalid("sync.max_retries must be non-negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Multiplier < 1 {
		return invalid("sync.multiplier must be >= 1, got %.2f", c.Sync.Multiplier)
	}

	for field, value := range map[string]string{
		"search.timeout":     c.Search.Timeout,
		"sync.initial_delay": c.Sync.InitialDelay,
		"sync.max_delay":     c.Sync.MaxDelay,
		"render.timeout":     c.Render.Timeout,
		"watch.debounce":     c.Watch.Debounce,
	} {
		if _, err := parseDuration(value); err != nil {
			return invalid("%s: %v", field, err)
		}
	}

	switch c.Render.Engine {
	case "goldmark", "pandoc":
	default:
		return invalid("render.engine must be 'goldmark' or 'pandoc', got %q", c.Render.Engine)
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return invalid("server.transport must be 'stdio', got %q", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return ngerrors.Newf(ngerrors.ErrCodeConfigInvalid, format, args...).
		WithSuggestion("fix the value in .notegraph.yaml or unset the NOTEGRAPH_* override")
}

// SearchTimeout returns the default search deadline; zero means none.
func (c *Config) SearchTimeout() time.Duration {
	d, _ := parseDuration(c.Search.Timeout)
	return d
}

// RenderTimeout returns the external renderer timeout.
func (c *Config) RenderTimeout() time.Duration {
	d, _ := parseDuration(c.Render.Timeout)
	return d
}

// WatchDebounce returns the watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseDuration(c.Watch.Debounce)
	return d
}

// RetryConfig returns the degraded-index retry policy.
func (c *Config) RetryConfig() ngerrors.RetryConfig {
	initial, _ := parseDuration(c.Sync.InitialDelay)
	maxDelay, _ := parseDuration(c.Sync.MaxDelay)
	return ngerrors.RetryConfig{
		MaxRetries:   c.Sync.MaxRetries,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   c.Sync.Multiplier,
		Jitter:       true,
	}
}

// StorePath resolves the SQLite path relative to dataDir.
func (c *Config) StorePath(dataDir string) string {
	if c.Store.Path == "" {
		return filepath.Join(dataDir, "pages.db")
	}
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dataDir, c.Store.Path)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
