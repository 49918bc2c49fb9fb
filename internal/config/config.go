// Package config loads MinhOS's declarative configuration document
// (spec.md §6.6): bridge target, the symbol roots table, ingestor/store/
// gapfiller/orders policy, and logging verbosity. No key outside this
// document may be consulted by component code at runtime.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/minhos/mdic/internal/symbol"
)

// Config is the complete MinhOS configuration document.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Symbols   SymbolsConfig   `yaml:"symbols"`
	Ingestor  IngestorConfig  `yaml:"ingestor"`
	Store     StoreConfig     `yaml:"store"`
	Gapfiller GapfillerConfig `yaml:"gapfiller"`
	Orders    OrdersConfig    `yaml:"orders"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Server is not part of spec.md §6.6's declarative document; it is the
	// one deployment-specific surface (listen address) overridden by
	// flag/env at process start, the way the teacher's WSPort/Host are.
	Server ServerConfig `yaml:"server"`
}

// BridgeConfig controls the Bridge Transport (C2).
type BridgeConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	TimeoutMs           int      `yaml:"timeout_ms"`
	AllowedPathPrefixes []string `yaml:"allowed_path_prefixes"`
}

// BaseURL renders the bridge's base URL from host/port.
func (b BridgeConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.Port)
}

// SymbolsConfig is the Symbol Registry's declarative root table (C1).
type SymbolsConfig struct {
	Roots []symbol.RootConfig `yaml:"roots"`
}

// IngestorConfig controls the Tick Snapshot Ingestor (C5).
type IngestorConfig struct {
	PollIntervalMs     int            `yaml:"poll_interval_ms"`
	PollIntervalOverMs map[string]int `yaml:"poll_interval_overrides_ms"` // per-symbol
	StaleThresholdS    int            `yaml:"stale_threshold_s"`
	SnapshotDir        string         `yaml:"snapshot_dir"`
}

// StoreConfig controls the Time-Series Store (C6).
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"` // "mongo" today
}

// GapfillerConfig controls the Gap Detector & Backfiller (C7).
type GapfillerConfig struct {
	LookbackDays   int `yaml:"lookback_days"`
	MaxConcurrent  int `yaml:"max_concurrent"`
	IntervalS      int `yaml:"interval_s"`
}

// OrdersConfig controls the Order Submission Bridge (C9).
type OrdersConfig struct {
	SubmitTimeoutMs int `yaml:"submit_timeout_ms"`
	PollIntervalMs  int `yaml:"poll_interval_ms"`
}

// ArchiveConfig controls C6's cold-storage rotation out of the hot store.
type ArchiveConfig struct {
	MaxLocalMB int    `yaml:"max_local_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	S3Bucket   string `yaml:"s3_bucket"` // empty disables S3 upload
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// ServerConfig is the HTTP listen address for livefeed's REST/websocket
// surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads the YAML document at configPath (environment variables
// referenced with ${VAR} are expanded first, matching the teacher's
// os.ExpandEnv pattern), overlays flag/env overrides for the server
// listen address, normalizes defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "mdic.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var c Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	c.applyOverrides()
	c.normalize()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// applyOverrides lets the deployment-specific server address be set by
// flag or environment variable without editing the YAML document,
// matching the teacher's flag.XxxVar + envStr/envInt pattern.
func (c *Config) applyOverrides() {
	var host *string
	if f := flag.Lookup("host"); f != nil {
		v := f.Value.String()
		host = &v
	} else {
		host = flag.String("host", envStr("MDIC_HOST", ""), "override server.host")
	}
	var port *int
	if f := flag.Lookup("port"); f != nil {
		n, _ := strconv.Atoi(f.Value.String())
		port = &n
	} else {
		port = flag.Int("port", envInt("MDIC_PORT", 0), "override server.port")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	if *host != "" {
		c.Server.Host = *host
	}
	if *port != 0 {
		c.Server.Port = *port
	}
}

func (c *Config) normalize() {
	if c.Bridge.TimeoutMs == 0 {
		c.Bridge.TimeoutMs = 5000
	}
	if c.Ingestor.PollIntervalMs == 0 {
		c.Ingestor.PollIntervalMs = 100
	}
	if c.Ingestor.StaleThresholdS == 0 {
		c.Ingestor.StaleThresholdS = 60
	}
	if c.Gapfiller.LookbackDays == 0 {
		c.Gapfiller.LookbackDays = 30
	}
	if c.Gapfiller.MaxConcurrent == 0 {
		c.Gapfiller.MaxConcurrent = 4
	}
	if c.Gapfiller.IntervalS == 0 {
		c.Gapfiller.IntervalS = 300
	}
	if c.Archive.MaxAgeDays == 0 {
		c.Archive.MaxAgeDays = 90
	}
	if c.Orders.SubmitTimeoutMs == 0 {
		c.Orders.SubmitTimeoutMs = 10000
	}
	if c.Orders.PollIntervalMs == 0 {
		c.Orders.PollIntervalMs = 200
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8100
	}
}

// Validate checks every configuration value spec.md §6.6 names.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bridge.Host) == "" {
		return fmt.Errorf("bridge.host is required")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if len(c.Bridge.AllowedPathPrefixes) == 0 {
		return fmt.Errorf("bridge.allowed_path_prefixes must name at least one allow-listed prefix")
	}

	if len(c.Symbols.Roots) == 0 {
		return fmt.Errorf("symbols.roots must configure at least one root")
	}
	for i, r := range c.Symbols.Roots {
		if r.Root == "" {
			return fmt.Errorf("symbols.roots[%d]: root is required", i)
		}
		if len(r.Expirations) == 0 {
			return fmt.Errorf("symbols.roots[%d] (%s): expiration_dates must be non-empty", i, r.Root)
		}
	}

	if c.Ingestor.PollIntervalMs <= 0 {
		return fmt.Errorf("ingestor.poll_interval_ms must be > 0")
	}
	if c.Ingestor.StaleThresholdS <= 0 {
		return fmt.Errorf("ingestor.stale_threshold_s must be > 0")
	}

	if strings.TrimSpace(c.Store.DataDir) == "" {
		return fmt.Errorf("store.data_dir is required")
	}

	if c.Gapfiller.LookbackDays <= 0 {
		return fmt.Errorf("gapfiller.lookback_days must be > 0")
	}
	if c.Gapfiller.MaxConcurrent <= 0 {
		return fmt.Errorf("gapfiller.max_concurrent must be > 0")
	}
	if c.Gapfiller.IntervalS <= 0 {
		return fmt.Errorf("gapfiller.interval_s must be > 0")
	}

	if c.Orders.SubmitTimeoutMs <= 0 {
		return fmt.Errorf("orders.submit_timeout_ms must be > 0")
	}
	if c.Orders.PollIntervalMs <= 0 {
		return fmt.Errorf("orders.poll_interval_ms must be > 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	return nil
}

// PollInterval returns the default ingestor cadence as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ingestor.PollIntervalMs) * time.Millisecond
}

// PollIntervalOverrides converts the per-symbol millisecond overrides into
// the map[string]time.Duration shape internal/livefeed.Config expects.
func (c *Config) PollIntervalOverrides() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Ingestor.PollIntervalOverMs))
	for sym, ms := range c.Ingestor.PollIntervalOverMs {
		out[sym] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// StaleAfter returns the ingestor's staleness threshold as a time.Duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Ingestor.StaleThresholdS) * time.Second
}

// MaxAge returns the archiver's retention window as a time.Duration.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Archive.MaxAgeDays) * 24 * time.Hour
}

// MaxLocalBytes returns the archiver's local shard budget in bytes; 0
// disables local rotation.
func (c *Config) MaxLocalBytes() int64 {
	return int64(c.Archive.MaxLocalMB) << 20
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
