// Package config loads vidchat settings. Later sources win: defaults, the
// YAML file, environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lotas/vidchat/internal/backend"
	"github.com/lotas/vidchat/internal/storage"
	"gopkg.in/yaml.v3"
)

// Environment variables.
const (
	EnvBackend = "VIDCHAT_BACKEND"
	EnvPort    = "VIDCHAT_PORT"
	EnvDB      = "VIDCHAT_DB"
	EnvLogDir  = "VIDCHAT_LOG_DIR"
)

const (
	DefaultBackendURL = "http://localhost:8000"
	DefaultPort       = 19192
)

// Config holds all runtime settings.
type Config struct {
	BackendURL     string        `yaml:"backend_url"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DBPath         string        `yaml:"db_path"`
	LogDir         string        `yaml:"log_dir"`
	Greeting       string        `yaml:"greeting"`
	ControlURL     string        `yaml:"control_url"`
}

// Default returns the built-in settings.
func Default() Config {
	dbPath, _ := storage.DefaultDBPath()
	return Config{
		BackendURL:     DefaultBackendURL,
		Port:           DefaultPort,
		RequestTimeout: backend.DefaultTimeout,
		DBPath:         dbPath,
		LogDir:         DefaultLogDir(),
	}
}

// DefaultPath returns ~/.config/vidchat/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vidchat", "config.yaml")
}

// DefaultLogDir returns ~/.local/share/vidchat.
func DefaultLogDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "vidchat")
}

// Load reads path over the defaults, then applies the environment. A
// missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// Fields absent from the file keep their current values.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.BackendURL = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup(EnvLogDir); ok && v != "" {
		c.LogDir = v
	}
	return nil
}

// Validate checks settings that would otherwise fail later.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q: must be an http(s) URL", c.BackendURL)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout %s is negative", c.RequestTimeout)
	}
	if c.DBPath == "" {
		return errors.New("db path is empty")
	}
	return nil
}
