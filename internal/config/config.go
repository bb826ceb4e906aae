// Package config loads the daemon's YAML configuration file.
//
// Deliberately thin: no schema versioning, no migration, no HCL. Full
// config-file validation/materialization is out of this daemon's scope;
// this loader exists only to turn one YAML document into a typed struct
// with sane defaults so the rest of the daemon has something to construct
// itself from.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/wardline/wardline/internal/brand"
	"github.com/wardline/wardline/internal/validation"
)

// Config is the daemon's runtime configuration.
type Config struct {
	BaseDir string `yaml:"base_dir"`

	CommandPort            int    `yaml:"command_port"`
	AllowPlaintextCommands bool   `yaml:"allow_plaintext_commands"`
	TLSKeyBase64           string `yaml:"tls_key_base64"`
	TLSIVBase64            string `yaml:"tls_iv_base64"`

	ThresholdAttempts int `yaml:"threshold_attempts"`
	ThresholdSeconds  int `yaml:"threshold_seconds"`
	DefaultBlockSecs  int `yaml:"default_block_seconds"`

	GeoBlockEnabled bool `yaml:"geo_block_enabled"`

	PlaintextLogsEnabled bool `yaml:"plaintext_logs_enabled"`
	PollIntervalMillis   int  `yaml:"poll_interval_millis"`
	MaxLogArchives       int  `yaml:"max_log_archives"`

	SyslogPath string `yaml:"syslog_path"`

	SSHPort int `yaml:"ssh_port"`

	MetricsAddr string `yaml:"metrics_addr"`

	SecureExportDirName string `yaml:"secure_export_dir"`

	LogJSON  bool   `yaml:"log_json"`
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		BaseDir:                brand.GetStateDir(),
		CommandPort:            53860,
		AllowPlaintextCommands: false,
		ThresholdAttempts:      5,
		ThresholdSeconds:       60,
		DefaultBlockSecs:       3600,
		GeoBlockEnabled:        true,
		PlaintextLogsEnabled:   true,
		PollIntervalMillis:     2000,
		MaxLogArchives:         10,
		SyslogPath:             "/var/log/syslog",
		SSHPort:                22,
		MetricsAddr:            "127.0.0.1:9090",
		SecureExportDirName:    "SecureExports",
		LogLevel:               "info",
	}
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for any field the file omits. A missing file is not an error;
// Load returns pure defaults so a daemon with no config can still start
// against documented conventions.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if envPort := os.Getenv("SSH_PORT"); envPort != "" && cfg.SSHPort == 0 {
		var n int
		if _, err := fmt.Sscanf(envPort, "%d", &n); err == nil {
			cfg.SSHPort = n
		}
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir = brand.GetStateDir()
	}

	if err := validation.ValidatePortNumber(cfg.CommandPort); err != nil {
		return nil, fmt.Errorf("command_port: %w", err)
	}
	if err := validation.ValidatePortNumber(cfg.SSHPort); err != nil {
		return nil, fmt.Errorf("ssh_port: %w", err)
	}

	return cfg, nil
}

// Path helpers derive the fixed sub-layout rooted at BaseDir.

func (c *Config) FirewallConfigPath() string {
	return filepath.Join(c.BaseDir, "FirewallConfig", "firewallconfig.yaml")
}

func (c *Config) BlockListPath() string {
	return filepath.Join(c.BaseDir, "BlockList", "blocklist.txt")
}

func (c *Config) WhitelistPath() string {
	return filepath.Join(c.BaseDir, "Whitelist", "whitelist.txt")
}

func (c *Config) GeoBlockedCountriesPath() string {
	return filepath.Join(c.BaseDir, "GeoBlock", "blocked_countries.txt")
}

func (c *Config) GeoZonesDir() string {
	return filepath.Join(c.BaseDir, "GeoBlock", "zones")
}

func (c *Config) RulesPath() string {
	return filepath.Join(c.BaseDir, "FirewallRuleSet", "rules.txt")
}

func (c *Config) CustomRulesPath() string {
	return filepath.Join(c.BaseDir, "FirewallRuleSet", "custom_rules.txt")
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.BaseDir, "Database", "firewall.db")
}

func (c *Config) ConnectionLogPath() string {
	return filepath.Join(c.BaseDir, "connection_attempts.log")
}

func (c *Config) ServerConnectionLogsDir() string {
	return filepath.Join(c.BaseDir, "ServerConnectionLogs")
}

func (c *Config) CertificatePath() string {
	return filepath.Join(c.BaseDir, "certificate.pem")
}

func (c *Config) CertificateKeyPath() string {
	return filepath.Join(c.BaseDir, "certificate.key")
}

func (c *Config) SecureExportPath() string {
	name := c.SecureExportDirName
	if name == "" {
		name = "SecureExports"
	}
	return filepath.Join(c.BaseDir, name)
}
