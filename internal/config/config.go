// Package config loads ~/.tpost/config.toml, the optional per-session .env
// file, and TPOST_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Upload modes.
const (
	ModeDrive  = "drive"
	ModeHosted = "hosted"
)

const (
	DefaultGraphURL           = "https://graph.microsoft.com/v1.0"
	DefaultAuthority          = "https://login.microsoftonline.com"
	DefaultTenant             = "organizations"
	DefaultLargeFileThreshold = 4 * 1024 * 1024
	DefaultChunkSize          = 327680
	DefaultProbeInterval      = 15
)

// Config represents the global ~/.tpost/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	MetricsAddr    string        `toml:"metrics_addr"`
	Graph          GraphConfig   `toml:"graph"`
	Auth           AuthConfig    `toml:"auth"`
	Upload         UploadConfig  `toml:"upload"`
	Audit          AuditConfig   `toml:"audit"`
	Network        NetworkConfig `toml:"network"`
}

type GraphConfig struct {
	BaseURL string `toml:"base_url"`
}

type AuthConfig struct {
	AuthorityURL string   `toml:"authority_url"`
	ClientID     string   `toml:"client_id"`
	TenantID     string   `toml:"tenant_id"`
	Scopes       []string `toml:"scopes"`
}

// UploadConfig selects how images reach the channel.
type UploadConfig struct {
	Mode               string `toml:"mode"`
	LargeFileThreshold int64  `toml:"large_file_threshold"`
	ChunkSize          int64  `toml:"chunk_size"`
	MaxWidth           int    `toml:"max_width"`
	MaxHeight          int    `toml:"max_height"`
	QualitySteps       []int  `toml:"quality_steps"`
	BudgetBytes        int    `toml:"budget_bytes"`
}

// AuditConfig points at the SharePoint list receiving upload log entries.
// Audit is off unless both ids are set.
type AuditConfig struct {
	SiteID string `toml:"site_id"`
	ListID string `toml:"list_id"`
	Source string `toml:"source"`
}

type NetworkConfig struct {
	ProbeURL             string `toml:"probe_url"`
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds"`
}

// Enabled reports whether audit entries should be written.
func (a AuditConfig) Enabled() bool {
	return a.SiteID != "" && a.ListID != ""
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = DefaultGraphURL
	}
	c.Graph.BaseURL = strings.TrimRight(c.Graph.BaseURL, "/")
	if c.Auth.AuthorityURL == "" {
		c.Auth.AuthorityURL = DefaultAuthority
	}
	c.Auth.AuthorityURL = strings.TrimRight(c.Auth.AuthorityURL, "/")
	if c.Auth.TenantID == "" {
		c.Auth.TenantID = DefaultTenant
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{
			"offline_access",
			"User.Read",
			"Team.ReadBasic.All",
			"Channel.ReadBasic.All",
			"TeamMember.Read.All",
			"ChannelMessage.Send",
			"Sites.ReadWrite.All",
		}
	}
	if c.Upload.Mode == "" {
		c.Upload.Mode = ModeDrive
	}
	if c.Upload.LargeFileThreshold <= 0 {
		c.Upload.LargeFileThreshold = DefaultLargeFileThreshold
	}
	if c.Upload.ChunkSize <= 0 {
		c.Upload.ChunkSize = DefaultChunkSize
	}
	if c.Upload.MaxWidth <= 0 {
		c.Upload.MaxWidth = 1920
	}
	if c.Upload.MaxHeight <= 0 {
		c.Upload.MaxHeight = 1920
	}
	if len(c.Upload.QualitySteps) == 0 {
		c.Upload.QualitySteps = []int{85, 70, 55, 40}
	}
	if c.Upload.BudgetBytes <= 0 {
		c.Upload.BudgetBytes = 3 * 1024 * 1024
	}
	if c.Audit.Source == "" {
		c.Audit.Source = "tpost"
	}
	if c.Network.ProbeURL == "" {
		c.Network.ProbeURL = c.Graph.BaseURL
	}
	if c.Network.ProbeIntervalSeconds <= 0 {
		c.Network.ProbeIntervalSeconds = DefaultProbeInterval
	}
}

// Validate rejects settings the upload client cannot honor.
func (c *Config) Validate() error {
	switch c.Upload.Mode {
	case ModeDrive, ModeHosted:
	default:
		return fmt.Errorf("upload.mode %q: must be %q or %q", c.Upload.Mode, ModeDrive, ModeHosted)
	}
	if c.Upload.ChunkSize%DefaultChunkSize != 0 {
		return fmt.Errorf("upload.chunk_size %d: must be a multiple of %d", c.Upload.ChunkSize, DefaultChunkSize)
	}
	return nil
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve builds the effective daemon config: the TOML file (defaults when
// missing), then envPath loaded into the environment, then TPOST_* overrides.
func Resolve(path, envPath string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if envPath != "" {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"TPOST_CLIENT_ID", &c.Auth.ClientID},
		{"TPOST_TENANT_ID", &c.Auth.TenantID},
		{"TPOST_GRAPH_URL", &c.Graph.BaseURL},
		{"TPOST_METRICS_ADDR", &c.MetricsAddr},
		{"TPOST_UPLOAD_MODE", &c.Upload.Mode},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
