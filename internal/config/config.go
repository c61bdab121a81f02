// ABOUTME: Configuration loading and parsing for the clawhuddle server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DeploymentMode selects how gateway containers are exposed and probed.
type DeploymentMode string

const (
	// ModeLocalDevelopment publishes each gateway's internal port on an
	// OS-assigned host port so it is reachable without the reverse proxy.
	ModeLocalDevelopment DeploymentMode = "local"

	// ModeProduction publishes no ports; traffic reaches gateways through
	// the reverse proxy on the shared bridge network.
	ModeProduction DeploymentMode = "production"
)

// PublishesPorts reports whether containers get a host port binding.
func (m DeploymentMode) PublishesPorts() bool {
	return m == ModeLocalDevelopment
}

// Config represents the complete clawhuddle configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Gateways  GatewaysConfig  `yaml:"gateways"`
	Routing   RoutingConfig   `yaml:"routing"`
	Skills    SkillsConfig    `yaml:"skills"`
	Tasks     TasksConfig     `yaml:"tasks"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve on :443 with the node's tailnet certificate
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig toggles span emission for lifecycle operations.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GatewaysConfig describes how per-member gateway containers are built.
type GatewaysConfig struct {
	Image           string         `yaml:"image"`
	InternalPort    int            `yaml:"internal_port"`
	Network         string         `yaml:"network"`
	ContainerPrefix string         `yaml:"container_prefix"`
	Domain          string         `yaml:"domain"`
	GatewayDomain   string         `yaml:"gateway_domain"`
	DataDir         string         `yaml:"data_dir"`
	HostDataDir     string         `yaml:"host_data_dir"` // absolute host path used for bind mounts
	Mode            DeploymentMode `yaml:"mode"`
	DockerHost      string         `yaml:"docker_host"` // empty uses DOCKER_HOST / the default socket

	HealthTimeout time.Duration `yaml:"-"`
	ExecTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HealthTimeoutRaw string `yaml:"health_timeout"`
	ExecTimeoutRaw   string `yaml:"exec_timeout"`
}

// RoutingConfig holds the reverse-proxy map settings.
type RoutingConfig struct {
	MapPath        string `yaml:"map_path"`
	ProxyContainer string `yaml:"proxy_container"`
	GatewayHost    string `yaml:"gateway_host"`
	ResolveHost    bool   `yaml:"resolve_host"`
}

// SkillsConfig controls the skill repository cache.
type SkillsConfig struct {
	CacheDir string `yaml:"cache_dir"`

	CloneTimeout time.Duration `yaml:"-"`
	PullTimeout  time.Duration `yaml:"-"`

	CloneTimeoutRaw string `yaml:"clone_timeout"`
	PullTimeoutRaw  string `yaml:"pull_timeout"`
}

// TasksConfig controls retries for best-effort follow-up work.
type TasksConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	InitialInterval time.Duration `yaml:"-"`
	MaxInterval     time.Duration `yaml:"-"`
	DedupeWindow    time.Duration `yaml:"-"`

	InitialIntervalRaw string `yaml:"initial_interval"`
	MaxIntervalRaw     string `yaml:"max_interval"`
	DedupeWindowRaw    string `yaml:"dedupe_window"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with the values the gateway image expects.
func (c *Config) applyDefaults() {
	g := &c.Gateways
	if g.Image == "" {
		g.Image = "clawhuddle-gateway:local"
	}
	if g.InternalPort == 0 {
		g.InternalPort = 6100
	}
	if g.Network == "" {
		g.Network = "clawhuddle-net"
	}
	if g.ContainerPrefix == "" {
		g.ContainerPrefix = "clawhuddle-gw-"
	}
	if g.Domain == "" {
		g.Domain = "localhost"
	}
	if g.GatewayDomain == "" {
		g.GatewayDomain = g.Domain
	}
	if g.DataDir == "" {
		g.DataDir = "./data"
	}
	if g.HostDataDir == "" {
		if abs, err := filepath.Abs(g.DataDir); err == nil {
			g.HostDataDir = abs
		}
	}
	if g.Mode == "" {
		g.Mode = ModeLocalDevelopment
	}
	if g.HealthTimeout == 0 {
		g.HealthTimeout = 5 * time.Second
	}
	if g.ExecTimeout == 0 {
		g.ExecTimeout = 10 * time.Second
	}

	r := &c.Routing
	if r.MapPath == "" {
		r.MapPath = filepath.Join(g.DataDir, "nginx", "gateway-map.conf")
	}
	if r.ProxyContainer == "" {
		r.ProxyContainer = "clawhuddle-nginx"
	}
	if r.GatewayHost == "" {
		r.GatewayHost = "127.0.0.1"
	}

	s := &c.Skills
	if s.CacheDir == "" {
		s.CacheDir = filepath.Join(g.DataDir, "skill-repos")
	}
	if s.CloneTimeout == 0 {
		s.CloneTimeout = 60 * time.Second
	}
	if s.PullTimeout == 0 {
		s.PullTimeout = 30 * time.Second
	}

	t := &c.Tasks
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 3
	}
	if t.InitialInterval == 0 {
		t.InitialInterval = 2 * time.Second
	}
	if t.MaxInterval == 0 {
		t.MaxInterval = 30 * time.Second
	}
	if t.DedupeWindow == 0 {
		t.DedupeWindow = 10 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Gateways.Mode {
	case ModeLocalDevelopment, ModeProduction:
	default:
		return fmt.Errorf("gateways.mode must be %q or %q, got %q", ModeLocalDevelopment, ModeProduction, c.Gateways.Mode)
	}

	if c.Gateways.InternalPort < 1 || c.Gateways.InternalPort > 65535 {
		return fmt.Errorf("gateways.internal_port out of range: %d", c.Gateways.InternalPort)
	}

	if !filepath.IsAbs(c.Gateways.HostDataDir) {
		return fmt.Errorf("gateways.host_data_dir must be an absolute path (got %q)", c.Gateways.HostDataDir)
	}

	if c.Tasks.MaxAttempts < 1 {
		return fmt.Errorf("tasks.max_attempts must be at least 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateways.health_timeout", cfg.Gateways.HealthTimeoutRaw, &cfg.Gateways.HealthTimeout},
		{"gateways.exec_timeout", cfg.Gateways.ExecTimeoutRaw, &cfg.Gateways.ExecTimeout},
		{"skills.clone_timeout", cfg.Skills.CloneTimeoutRaw, &cfg.Skills.CloneTimeout},
		{"skills.pull_timeout", cfg.Skills.PullTimeoutRaw, &cfg.Skills.PullTimeout},
		{"tasks.initial_interval", cfg.Tasks.InitialIntervalRaw, &cfg.Tasks.InitialInterval},
		{"tasks.max_interval", cfg.Tasks.MaxIntervalRaw, &cfg.Tasks.MaxInterval},
		{"tasks.dedupe_window", cfg.Tasks.DedupeWindowRaw, &cfg.Tasks.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
