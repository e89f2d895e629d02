package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Queue   QueueConfig   `yaml:"queue" envconfig:"QUEUE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains the localhost HTTP server configuration consumed by
// the desktop shell
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"127.0.0.1"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"8710"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig contains license validation and server-protocol configuration
type LicenseConfig struct {
	// ServerURL is the base URL of the license issuing server.
	ServerURL string `yaml:"server_url" envconfig:"SERVER_URL" default:"https://licensing.hydrosuite.io"`
	// NetworkTimeout bounds every server round-trip. A timeout is treated as
	// a transient failure, never as revocation or corruption.
	NetworkTimeout time.Duration `yaml:"network_timeout" envconfig:"NETWORK_TIMEOUT" default:"10s"`
	// GracePeriodDays is the window after expiry during which the license
	// still validates as usable.
	GracePeriodDays int `yaml:"grace_period_days" envconfig:"GRACE_PERIOD_DAYS" default:"7"`
	// ExpiringSoonDays controls when the expiring-soon event fires.
	ExpiringSoonDays int `yaml:"expiring_soon_days" envconfig:"EXPIRING_SOON_DAYS" default:"14"`
	// HeartbeatInterval is the cadence of the background session heartbeat
	// and periodic re-validation.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" default:"10m"`
	// ClockRollbackGrace is how far behind the last recorded run time the
	// wall clock may be before rollback is flagged. Legitimate timezone and
	// DST changes must not trip this.
	ClockRollbackGrace time.Duration `yaml:"clock_rollback_grace" envconfig:"CLOCK_ROLLBACK_GRACE" default:"1h"`
	// ServerDriftThreshold is the allowed divergence between the local clock
	// and an authoritative server timestamp.
	ServerDriftThreshold time.Duration `yaml:"server_drift_threshold" envconfig:"SERVER_DRIFT_THRESHOLD" default:"30m"`
	// ActivationRPS and ActivationBurst rate-limit activation attempts.
	ActivationRPS   float64 `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" default:"0.2"`
	ActivationBurst int     `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"3"`
	// CertificateKeepDays controls pruning of fully verified processing
	// certificates from the local cache.
	CertificateKeepDays int `yaml:"certificate_keep_days" envconfig:"CERTIFICATE_KEEP_DAYS" default:"90"`
}

// QueueConfig contains offline operation queue configuration
type QueueConfig struct {
	// DatabaseFile is the sqlite file backing the durable queue, relative to
	// the data directory unless absolute.
	DatabaseFile string `yaml:"database_file" envconfig:"DATABASE_FILE" default:"offline-queue.db"`
	// DefaultMaxAttempts applies to operations enqueued without an explicit
	// retry budget.
	DefaultMaxAttempts int `yaml:"default_max_attempts" envconfig:"DEFAULT_MAX_ATTEMPTS" default:"5"`
	// DrainInterval is how often the processor attempts to drain pending
	// operations while online.
	DrainInterval time.Duration `yaml:"drain_interval" envconfig:"DRAIN_INTERVAL" default:"2m"`
	// RetryBackoff is the minimum delay before a failed operation becomes
	// eligible again.
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/hydrocli.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ExecutableDir string `yaml:"executable_dir" envconfig:"EXECUTABLE_DIR"`
	DataDir       string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	BackupDir     string `yaml:"backup_dir" envconfig:"BACKUP_DIR" default:"backup"`
	LogsDir       string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and the optional
// config file next to the executable
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("HYDRO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// mergeConfigs merges file configuration with environment overrides.
// Environment variables take precedence over file values.
func mergeConfigs(file, env Config) Config {
	merged := file

	if env.Server.Host != "" {
		merged.Server.Host = env.Server.Host
	}
	if env.Server.Port != 0 {
		merged.Server.Port = env.Server.Port
	}
	if env.License.ServerURL != "" {
		merged.License.ServerURL = env.License.ServerURL
	}
	if env.License.GracePeriodDays != 0 {
		merged.License.GracePeriodDays = env.License.GracePeriodDays
	}
	if env.Logging.Level != "" {
		merged.Logging.Level = env.Logging.Level
	}
	if env.Logging.Output != "" {
		merged.Logging.Output = env.Logging.Output
	}
	if env.Paths.DataDir != "" {
		merged.Paths.DataDir = env.Paths.DataDir
	}
	if env.Paths.BackupDir != "" {
		merged.Paths.BackupDir = env.Paths.BackupDir
	}

	return merged
}

// resolvePaths makes all configured paths absolute relative to the
// executable directory
func (c *Config) resolvePaths() error {
	if c.Paths.ExecutableDir == "" {
		exeDir, err := ExecutableDir()
		if err != nil {
			return err
		}
		c.Paths.ExecutableDir = exeDir
	}

	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Paths.ExecutableDir, p)
	}

	c.Paths.DataDir = resolve(c.Paths.DataDir)
	c.Paths.BackupDir = resolve(c.Paths.BackupDir)
	c.Paths.LogsDir = resolve(c.Paths.LogsDir)
	if !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(c.Paths.ExecutableDir, c.Logging.FilePath)
	}
	if !filepath.IsAbs(c.Queue.DatabaseFile) {
		c.Queue.DatabaseFile = filepath.Join(c.Paths.DataDir, c.Queue.DatabaseFile)
	}

	return nil
}

// validate checks configuration invariants
func (c *Config) validate() error {
	// Port 0 asks the OS for an ephemeral port
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.GracePeriodDays < 0 {
		return fmt.Errorf("grace period days cannot be negative: %d", c.License.GracePeriodDays)
	}
	if c.License.NetworkTimeout <= 0 {
		return fmt.Errorf("network timeout must be positive: %s", c.License.NetworkTimeout)
	}
	if c.Queue.DefaultMaxAttempts < 1 {
		return fmt.Errorf("default max attempts must be at least 1: %d", c.Queue.DefaultMaxAttempts)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// getConfigFilePath returns the path of the optional YAML config file,
// located next to the executable
func getConfigFilePath() string {
	exeDir, err := ExecutableDir()
	if err != nil {
		return "hydrocli.yaml"
	}
	return filepath.Join(exeDir, "hydrocli.yaml")
}

// FileExists reports whether the given path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
