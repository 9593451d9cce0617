// Package config loads runtime settings from SFTPDECK_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

// Prefix is the environment variable prefix for all settings.
const Prefix = "SFTPDECK"

// Settings holds every tunable of the process.
type Settings struct {
	RegistryPath string `envconfig:"REGISTRY_PATH" default:"~/.sftpdeck.yaml"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"10m"`
	Workers         int           `envconfig:"WORKERS" default:"4"`
	PageSize        int           `envconfig:"PAGE_SIZE" default:"10"`

	// Authentication extras. Password is only read for non-interactive use.
	Password   string `envconfig:"PASSWORD"`
	KeyPath    string `envconfig:"KEY_PATH"`
	UseAgent   bool   `envconfig:"USE_AGENT" default:"false"`
	KnownHosts string `envconfig:"KNOWN_HOSTS"`

	MetricsAddr     string `envconfig:"METRICS_ADDR"`
	CleanupArchives bool   `envconfig:"CLEANUP_ARCHIVES" default:"false"`
}

// Load reads settings from the environment and expands ~ in path settings.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var err error
	if s.RegistryPath, err = ExpandPath(s.RegistryPath); err != nil {
		return nil, fmt.Errorf("expand registry path: %w", err)
	}
	if s.KeyPath, err = ExpandPath(s.KeyPath); err != nil {
		return nil, fmt.Errorf("expand key path: %w", err)
	}
	if s.KnownHosts, err = ExpandPath(s.KnownHosts); err != nil {
		return nil, fmt.Errorf("expand known_hosts path: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that numeric settings are usable.
func (s *Settings) Validate() error {
	var errs []string

	if s.ConnectTimeout <= 0 {
		errs = append(errs, "connect timeout must be positive")
	}
	if s.TransferTimeout <= 0 {
		errs = append(errs, "transfer timeout must be positive")
	}
	if s.Workers <= 0 {
		errs = append(errs, "workers must be at least 1")
	}
	if s.PageSize <= 0 {
		errs = append(errs, "page size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}

	if path == "~" {
		return homedir.Dir()
	}

	return path, nil
}
