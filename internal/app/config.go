package app

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the application-level configuration loaded from a TOML file.
// It covers where state lives and how the remote API is reached; the
// user's filter settings themselves live in the store.
type Config struct {
	DBPath                string            `toml:"db_path"`
	APIBaseURL            string            `toml:"api_base_url"`
	RequestTimeoutSeconds int               `toml:"request_timeout_seconds"`
	LogLevel              string            `toml:"log_level"`
	LogFormat             string            `toml:"log_format"`
	Credentials           CredentialsConfig `toml:"credentials"`
}

// CredentialsConfig holds the Bilibili cookie credentials used by the
// follow-list endpoint. Leave empty to run without authenticated calls.
type CredentialsConfig struct {
	UserID   string `toml:"user_id"`
	CSRF     string `toml:"csrf"`
	SessData string `toml:"sessdata"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:                filepath.Join(home, ".bili-blocker", "blocker.db"),
		APIBaseURL:            DefaultAPIBaseURL,
		RequestTimeoutSeconds: 15,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// LoadConfig reads a TOML config file, filling missing fields with
// defaults. A missing file yields the defaults without error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultConfig().DBPath
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 15
	}
	return cfg, nil
}

// RequestTimeout returns the configured HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BiliCredentials converts the config credentials for the API client.
func (c Config) BiliCredentials() BiliCredentials {
	return BiliCredentials{
		UserID:   c.Credentials.UserID,
		CSRF:     c.Credentials.CSRF,
		SessData: c.Credentials.SessData,
	}
}
