package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Security selects how a connection to a mail server is established.
type Security string

const (
	SecurityNone     Security = "none"
	SecurityStartTLS Security = "starttls"
	SecuritySSL      Security = "ssl"
)

// Valid reports whether s is a known security mode.
func (s Security) Valid() bool {
	switch s {
	case SecurityNone, SecurityStartTLS, SecuritySSL:
		return true
	}
	return false
}

// Config holds the application configuration
type Config struct {
	CachePath      string `mapstructure:"cache_path"`
	LogLevel       string `mapstructure:"log_level"`
	SyncInterval   int    `mapstructure:"sync_interval"`
	DefaultAccount string `mapstructure:"default_account"`

	Accounts []Account `mapstructure:"accounts"`
}

// Account holds the configuration for a single email account. Accounts are
// immutable inputs: passwords are never part of the configuration and come
// from the credential store instead.
type Account struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`

	IMAPHost     string   `mapstructure:"imap_host"`
	IMAPPort     int      `mapstructure:"imap_port"`
	IMAPSecurity Security `mapstructure:"imap_security"`
	IMAPUsername string   `mapstructure:"imap_username"`

	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPSecurity Security `mapstructure:"smtp_security"`
	SMTPUsername string   `mapstructure:"smtp_username"`

	Signature string `mapstructure:"signature"`
}

// IMAPAddr returns the host:port address of the account's IMAP server.
func (a *Account) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", a.IMAPHost, a.IMAPPort)
}

// SMTPAddr returns the host:port address of the account's SMTP server.
func (a *Account) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", a.SMTPHost, a.SMTPPort)
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/tuimail/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.toml")
	}
	return filepath.Join(home, ".config", "tuimail", "config.toml")
}

// Load reads the configuration from the given TOML file. Top-level settings
// may be overridden through TUIMAIL_-prefixed environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("cache_path", defaultCachePath())
	v.SetDefault("log_level", "info")
	v.SetDefault("sync_interval", 30)

	v.SetEnvPrefix("TUIMAIL")
	v.AutomaticEnv()
	for _, key := range []string{"cache_path", "log_level", "sync_interval", "default_account"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// defaultCachePath places the cache database under the user cache dir.
func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "tuimail", "cache.db")
	}
	return filepath.Join(dir, "tuimail", "cache.db")
}

// applyDefaults fills in per-account defaults for omitted fields.
func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPSecurity == "" {
			acc.IMAPSecurity = SecuritySSL
		} else {
			acc.IMAPSecurity = Security(strings.ToLower(string(acc.IMAPSecurity)))
		}
		if acc.SMTPSecurity == "" {
			acc.SMTPSecurity = SecurityStartTLS
		} else {
			acc.SMTPSecurity = Security(strings.ToLower(string(acc.SMTPSecurity)))
		}
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.SMTPPort == 0 {
			if acc.SMTPSecurity == SecuritySSL {
				acc.SMTPPort = 465
			} else {
				acc.SMTPPort = 587
			}
		}
		if acc.IMAPUsername == "" {
			acc.IMAPUsername = acc.Email
		}
		if acc.SMTPUsername == "" {
			acc.SMTPUsername = acc.Email
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}

	if c.SyncInterval < 1 {
		return fmt.Errorf("sync_interval must be at least 1 second")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true

		if acc.Email == "" {
			return fmt.Errorf("account %s: email is required", acc.Name)
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Name)
		}
		if acc.SMTPHost == "" {
			return fmt.Errorf("account %s: smtp_host is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid smtp_port", acc.Name)
		}
		if !acc.IMAPSecurity.Valid() {
			return fmt.Errorf("account %s: invalid imap_security %q", acc.Name, acc.IMAPSecurity)
		}
		if !acc.SMTPSecurity.Valid() {
			return fmt.Errorf("account %s: invalid smtp_security %q", acc.Name, acc.SMTPSecurity)
		}
	}

	if c.DefaultAccount != "" && !seen[c.DefaultAccount] {
		return fmt.Errorf("default_account %s does not match any account", c.DefaultAccount)
	}

	return nil
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*Account, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the configured default account, or the first
// account when none is named.
func (c *Config) GetDefaultAccount() *Account {
	if len(c.Accounts) == 0 {
		return nil
	}

	if c.DefaultAccount != "" {
		for i := range c.Accounts {
			if c.Accounts[i].Name == c.DefaultAccount {
				return &c.Accounts[i]
			}
		}
	}

	return &c.Accounts[0]
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
