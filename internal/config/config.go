package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/samgo/internal/env"
	"github.com/loykin/samgo/internal/logger"
)

// EnvPrefix prefixes environment overrides: SAMGO_SERVICE_DSN overrides
// service.dsn.
const EnvPrefix = "SAMGO"

// Config is the TOML file layout.
type Config struct {
	Emulator   EmulatorConfig   `toml:"emulator" mapstructure:"emulator"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Service    ServiceConfig    `toml:"service" mapstructure:"service"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`

	// path of the file this was loaded from, empty for defaults only
	file string
}

type EmulatorConfig struct {
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	// Launcher is "exec" (re-executed child process) or "inprocess".
	Launcher string   `toml:"launcher" mapstructure:"launcher"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
}

type SupervisorConfig struct {
	SnapshotTimeout time.Duration `toml:"snapshot_timeout" mapstructure:"snapshot_timeout"`
	ReadyTimeout    time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	TerminateWait   time.Duration `toml:"terminate_wait" mapstructure:"terminate_wait"`
	MutationGap     time.Duration `toml:"mutation_gap" mapstructure:"mutation_gap"`
	MaxResends      int           `toml:"max_resends" mapstructure:"max_resends"`
	SampleUsage     bool          `toml:"sample_usage" mapstructure:"sample_usage"`
}

type ServiceConfig struct {
	// Backend is "memory" or "sql".
	Backend string `toml:"backend" mapstructure:"backend"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
	User    string `toml:"user" mapstructure:"user"`
	// Catalog is a JSON catalog file seeding the memory backend.
	Catalog string `toml:"catalog" mapstructure:"catalog"`
}

type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen        string      `toml:"listen" mapstructure:"listen"`
	BasePath      string      `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string      `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string      `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig  `toml:"tls" mapstructure:"tls"`
	Auth          *AuthConfig `toml:"auth" mapstructure:"auth"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// AuthConfig protects the HTTP API with basic credentials and/or static
// bearer tokens.
type AuthConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	Username     string   `toml:"username" mapstructure:"username"`
	PasswordHash string   `toml:"password_hash" mapstructure:"password_hash"` // bcrypt
	Tokens       []string `toml:"tokens" mapstructure:"tokens"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Interval between samples of the child's CPU and memory gauges.
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("emulator.poll_interval", time.Second)
	v.SetDefault("emulator.launcher", "exec")
	v.SetDefault("emulator.env", []string{})
	v.SetDefault("emulator.env_files", []string{})
	v.SetDefault("supervisor.snapshot_timeout", 10*time.Second)
	v.SetDefault("supervisor.ready_timeout", 30*time.Second)
	v.SetDefault("supervisor.terminate_wait", 5*time.Second)
	v.SetDefault("supervisor.mutation_gap", 10*time.Millisecond)
	v.SetDefault("supervisor.max_resends", 2)
	v.SetDefault("supervisor.sample_usage", true)
	v.SetDefault("service.backend", "memory")
	v.SetDefault("service.dsn", "")
	v.SetDefault("service.user", "default")
	v.SetDefault("service.catalog", "")
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("server.listen", "127.0.0.1:8480")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", 5*time.Second)
}

// Load reads path (TOML) on top of the defaults and applies SAMGO_*
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.file = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// File returns the path the config was loaded from.
func (c *Config) File() string { return c.file }

func (c *Config) Validate() error {
	var errs []error
	switch c.Emulator.Launcher {
	case "exec", "inprocess":
	default:
		errs = append(errs, fmt.Errorf("emulator.launcher must be exec or inprocess, got %q", c.Emulator.Launcher))
	}
	switch c.Service.Backend {
	case "memory":
	case "sql":
		if strings.TrimSpace(c.Service.DSN) == "" {
			errs = append(errs, errors.New("service.dsn is required for the sql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("service.backend must be memory or sql, got %q", c.Service.Backend))
	}
	if c.Service.User == "" {
		errs = append(errs, errors.New("service.user must not be empty"))
	}
	if c.Emulator.PollInterval <= 0 {
		errs = append(errs, errors.New("emulator.poll_interval must be positive"))
	}
	if c.Server.Auth != nil && c.Server.Auth.Enabled && c.Server.Auth.PasswordHash == "" && len(c.Server.Auth.Tokens) == 0 {
		errs = append(errs, errors.New("server.auth enabled without password_hash or tokens"))
	}
	return errors.Join(errs...)
}

// ChildEnv merges the environment handed to the emulated game: env_files in
// order, then the env list. Later entries win; ${VAR} references are expanded.
func (c *Config) ChildEnv() ([]string, error) {
	m := env.Var{}
	for _, p := range c.Emulator.EnvFiles {
		pairs, err := env.LoadFile(p)
		if err != nil {
			return nil, err
		}
		m.Merge(pairs)
	}
	m.Apply(c.Emulator.Env)
	return m.List(), nil
}
