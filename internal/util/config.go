// Package util provides configuration, logging and filesystem helpers for edgegate.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	Controller ControllerConfig `mapstructure:"controller"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Device     DeviceConfig     `mapstructure:"device"`
	Diag       DiagConfig       `mapstructure:"diag"`
	Web        WebConfig        `mapstructure:"web"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
}

// ControllerConfig describes the SD-WAN controller connection.
type ControllerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Tenant         string        `mapstructure:"tenant"`
	VerifyTLS      bool          `mapstructure:"verify_tls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

// Configured reports whether a controller host was provided.
func (c ControllerConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != ""
}

// CacheConfig holds per-interval statistics cache TTLs.
type CacheConfig struct {
	TTL5Min       time.Duration `mapstructure:"ttl_5min"`
	TTL1Hr        time.Duration `mapstructure:"ttl_1hr"`
	TTL1Day       time.Duration `mapstructure:"ttl_1day"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetryConfig holds the shared backoff settings.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// DeviceConfig holds SSH command execution defaults.
type DeviceConfig struct {
	Port           int           `mapstructure:"port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Retries        int           `mapstructure:"retries"`
	DisablePaging  bool          `mapstructure:"disable_paging"`
}

// DiagConfig holds local diagnostic tool limits.
type DiagConfig struct {
	PingCeiling     time.Duration `mapstructure:"ping_ceiling"`
	TraceCeiling    time.Duration `mapstructure:"trace_ceiling"`
	ScanConcurrency int           `mapstructure:"scan_concurrency"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
}

// WebConfig holds the JSON API listener settings.
type WebConfig struct {
	Listen string `mapstructure:"listen"`
}

// DaemonConfig holds background job intervals.
type DaemonConfig struct {
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	KeepaliveWindow   time.Duration `mapstructure:"keepalive_window"`
	HistoryRetention  time.Duration `mapstructure:"history_retention"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	StatusInterval    time.Duration `mapstructure:"status_interval"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".edgegate")

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "edgegate.log"),

		Controller: ControllerConfig{
			Port:           443,
			RequestTimeout: 30 * time.Second,
			Retries:        3,
			SessionTTL:     25 * time.Minute,
		},
		Cache: CacheConfig{
			TTL5Min:       1 * time.Minute,
			TTL1Hr:        5 * time.Minute,
			TTL1Day:       30 * time.Minute,
			SweepInterval: 1 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Device: DeviceConfig{
			Port:           22,
			DialTimeout:    10 * time.Second,
			CommandTimeout: 30 * time.Second,
			Retries:        2,
			DisablePaging:  true,
		},
		Diag: DiagConfig{
			PingCeiling:     60 * time.Second,
			TraceCeiling:    120 * time.Second,
			ScanConcurrency: 20,
			ScanTimeout:     2 * time.Second,
		},
		Web: WebConfig{
			Listen: "127.0.0.1:8080",
		},
		Daemon: DaemonConfig{
			KeepaliveInterval: 1 * time.Minute,
			KeepaliveWindow:   3 * time.Minute,
			HistoryRetention:  30 * 24 * time.Hour,
			PruneInterval:     6 * time.Hour,
			StatusInterval:    10 * time.Second,
		},
	}
}

// LoadConfig loads configuration from file and environment. An empty path
// searches for config.yaml in the data dir and the working directory.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	setDefaults(v, cfg)

	v.SetEnvPrefix("EDGEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(cfg.DataDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)

	v.SetDefault("controller.host", cfg.Controller.Host)
	v.SetDefault("controller.port", cfg.Controller.Port)
	v.SetDefault("controller.username", cfg.Controller.Username)
	v.SetDefault("controller.password", cfg.Controller.Password)
	v.SetDefault("controller.tenant", cfg.Controller.Tenant)
	v.SetDefault("controller.verify_tls", cfg.Controller.VerifyTLS)
	v.SetDefault("controller.request_timeout", cfg.Controller.RequestTimeout)
	v.SetDefault("controller.retries", cfg.Controller.Retries)
	v.SetDefault("controller.session_ttl", cfg.Controller.SessionTTL)

	v.SetDefault("cache.ttl_5min", cfg.Cache.TTL5Min)
	v.SetDefault("cache.ttl_1hr", cfg.Cache.TTL1Hr)
	v.SetDefault("cache.ttl_1day", cfg.Cache.TTL1Day)
	v.SetDefault("cache.sweep_interval", cfg.Cache.SweepInterval)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", cfg.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", cfg.Retry.MaxBackoff)

	v.SetDefault("device.port", cfg.Device.Port)
	v.SetDefault("device.dial_timeout", cfg.Device.DialTimeout)
	v.SetDefault("device.command_timeout", cfg.Device.CommandTimeout)
	v.SetDefault("device.retries", cfg.Device.Retries)
	v.SetDefault("device.disable_paging", cfg.Device.DisablePaging)

	v.SetDefault("diag.ping_ceiling", cfg.Diag.PingCeiling)
	v.SetDefault("diag.trace_ceiling", cfg.Diag.TraceCeiling)
	v.SetDefault("diag.scan_concurrency", cfg.Diag.ScanConcurrency)
	v.SetDefault("diag.scan_timeout", cfg.Diag.ScanTimeout)

	v.SetDefault("web.listen", cfg.Web.Listen)

	v.SetDefault("daemon.keepalive_interval", cfg.Daemon.KeepaliveInterval)
	v.SetDefault("daemon.keepalive_window", cfg.Daemon.KeepaliveWindow)
	v.SetDefault("daemon.history_retention", cfg.Daemon.HistoryRetention)
	v.SetDefault("daemon.prune_interval", cfg.Daemon.PruneInterval)
	v.SetDefault("daemon.status_interval", cfg.Daemon.StatusInterval)
}

// DBPath returns the history database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "edgegate.db")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "edgegate.pid")
}

// StatusPath returns the daemon status file location.
func (c *Config) StatusPath() string {
	return filepath.Join(c.DataDir, "status.json")
}

// CommonPorts returns the default port list for scans.
func CommonPorts() []int {
	return []int{
		21, 22, 23, 25, 53, 80, 110, 135, 139, 143,
		161, 179, 443, 445, 830, 993, 995, 3389, 8080, 8443,
	}
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
