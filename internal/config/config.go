// Package config defines the YAML configuration for the web proxy server and
// handles loading, default filling, and the admin credential rewrite performed
// on first boot.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EncryptPrefix marks an admin credential that has already been hashed.
// The scheme is an unsalted sha256 kept for compatibility with existing
// config files; it is not suitable for new deployments.
const EncryptPrefix = "$encrypt$"

// AdminConfig holds the management surface credentials.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProjectConfig gates adapter registration per provider project.
type ProjectConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DeepSeekConfig holds DeepSeek adapter tunables.
type DeepSeekConfig struct {
	// DeviceID is sent on password logins. Defaults to "web_proxy_api".
	DeviceID string `yaml:"device-id"`
	// PowWasm points at the web client's sha3 solver artifact on disk. When
	// empty the artifact embedded at build time is used.
	PowWasm string `yaml:"pow-wasm"`
}

// GrokConfig holds the Grok adapter tunables.
type GrokConfig struct {
	AutoRefreshTokens   *bool    `yaml:"auto_refresh_tokens"`
	BaseURL             string   `yaml:"base_url"`
	XStatsigID          string   `yaml:"x_statsig_id"`
	DynamicStatsig      bool     `yaml:"dynamic_statsig"`
	Temporary           bool     `yaml:"temporary"`
	ProxyURL            string   `yaml:"proxy_url"`
	ProxyPoolURL        string   `yaml:"proxy_pool_url"`
	ProxyPoolInterval   int      `yaml:"proxy_pool_interval"`
	RetryStatusCodes    []int    `yaml:"retry_status_codes"`
	FilteredTags        string   `yaml:"filtered_tags"`
	ShowThinking        bool     `yaml:"show_thinking"`
	ImageMode           string   `yaml:"image_mode"`
	ImageCacheMaxSizeMB int      `yaml:"image_cache_max_size_mb"`
	VideoCacheMaxSizeMB int      `yaml:"video_cache_max_size_mb"`
	Filtered            []string `yaml:"-"`
}

// Config is the root configuration structure loaded from config.yaml.
type Config struct {
	Host          string                   `yaml:"host"`
	Port          int                      `yaml:"port"`
	Debug         bool                     `yaml:"debug"`
	LoggingToFile bool                     `yaml:"logging-to-file"`
	AccountsDir   string                   `yaml:"accounts-dir"`
	DataDir       string                   `yaml:"data-dir"`
	Keys          []string                 `yaml:"keys"`
	Admin         AdminConfig              `yaml:"admin"`
	Projects      map[string]ProjectConfig `yaml:"projects"`
	DeepSeek      DeepSeekConfig           `yaml:"deepseek"`
	Grok          GrokConfig               `yaml:"grok"`

	path string
}

// AutoRefreshEnabled reports whether the Grok background refresher is enabled.
// It defaults to on when the field is absent from the config file.
func (g *GrokConfig) AutoRefreshEnabled() bool {
	if g.AutoRefreshTokens == nil {
		return true
	}
	return *g.AutoRefreshTokens
}

// LoadConfig reads and parses the configuration file at the given path.
// A missing or malformed file is an error; the caller is expected to treat it
// as fatal at boot. Plaintext admin credentials are hashed and written back.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.path = path
	cfg.applyDefaults()

	if cfg.encryptAdminCredentials() {
		if errSave := cfg.Save(); errSave != nil {
			return nil, fmt.Errorf("config: persist encrypted admin credentials: %w", errSave)
		}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AccountsDir == "" {
		c.AccountsDir = "accounts"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Projects == nil {
		c.Projects = map[string]ProjectConfig{}
	}
	if c.DeepSeek.DeviceID == "" {
		c.DeepSeek.DeviceID = "web_proxy_api"
	}
	if c.Grok.BaseURL == "" {
		c.Grok.BaseURL = "https://grok.com"
	}
	if len(c.Grok.RetryStatusCodes) == 0 {
		c.Grok.RetryStatusCodes = []int{401, 429}
	}
	if c.Grok.FilteredTags == "" {
		c.Grok.FilteredTags = "xaiartifact,xai:tool_usage_card,grok:render"
	}
	c.Grok.Filtered = splitTags(c.Grok.FilteredTags)
	if c.Grok.ImageMode == "" {
		c.Grok.ImageMode = "url"
	}
	if c.Grok.ImageCacheMaxSizeMB <= 0 {
		c.Grok.ImageCacheMaxSizeMB = 512
	}
	if c.Grok.VideoCacheMaxSizeMB <= 0 {
		c.Grok.VideoCacheMaxSizeMB = 1024
	}
	if c.Grok.ProxyPoolInterval <= 0 {
		c.Grok.ProxyPoolInterval = 300
	}
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ProjectEnabled reports whether a provider project is enabled in the config.
func (c *Config) ProjectEnabled(name string) bool {
	project, ok := c.Projects[name]
	return ok && project.Enabled
}

// HasKey reports whether the given bearer token is one of the configured API keys.
func (c *Config) HasKey(key string) bool {
	if key == "" {
		return false
	}
	for _, candidate := range c.Keys {
		if candidate == key {
			return true
		}
	}
	return false
}

// encryptAdminCredentials hashes any plaintext admin credential in place and
// reports whether the config needs to be written back.
func (c *Config) encryptAdminCredentials() bool {
	changed := false
	if c.Admin.Username != "" && !strings.HasPrefix(c.Admin.Username, EncryptPrefix) {
		c.Admin.Username = EncryptValue(c.Admin.Username)
		changed = true
	}
	if c.Admin.Password != "" && !strings.HasPrefix(c.Admin.Password, EncryptPrefix) {
		c.Admin.Password = EncryptValue(c.Admin.Password)
		changed = true
	}
	return changed
}

// EncryptValue returns the stored form of an admin credential.
func EncryptValue(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return EncryptPrefix + hex.EncodeToString(sum[:])
}

// MatchesEncrypted compares a plaintext value against a stored credential.
func MatchesEncrypted(stored, plain string) bool {
	if !strings.HasPrefix(stored, EncryptPrefix) {
		return stored == plain
	}
	return stored == EncryptValue(plain)
}

// CheckAdmin validates a management login attempt.
func (c *Config) CheckAdmin(username, password string) bool {
	if c.Admin.Username == "" || c.Admin.Password == "" {
		return false
	}
	return MatchesEncrypted(c.Admin.Username, username) && MatchesEncrypted(c.Admin.Password, password)
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: no backing file")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}
