package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultURLTemplate points at the CPython embeddable builds.
const DefaultURLTemplate = "https://www.python.org/ftp/python/{version}/python-{version}-embed-amd64.zip"

// Config captures the user settings stored in settings.yaml.
type Config struct {
	Version    int              `yaml:"version"`
	Download   DownloadConfig   `yaml:"download"`
	Verify     VerifyConfig     `yaml:"verify"`
	Lock       LockConfig       `yaml:"lock"`
	Activation ActivationConfig `yaml:"activation"`
}

// DownloadConfig describes where artifacts come from.
type DownloadConfig struct {
	URLTemplate         string            `yaml:"url_template"`
	ChecksumURLTemplate string            `yaml:"checksum_url_template,omitempty"`
	Checksums           map[string]string `yaml:"checksums,omitempty"`
	StripComponents     int               `yaml:"strip_components"`
	Timeout             time.Duration     `yaml:"timeout"`
	Retries             RetryConfig       `yaml:"retries"`
}

// RetryConfig bounds retries of failed downloads.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type VerifyConfig struct {
	RequireDigest *bool `yaml:"require_digest,omitempty"`
}

// RequireDigestValue returns the effective flag applying defaults.
func (v VerifyConfig) RequireDigestValue() bool {
	if v.RequireDigest == nil {
		return false
	}
	return *v.RequireDigest
}

type LockConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	FailFast bool          `yaml:"fail_fast"`
}

// ActivationConfig controls which search path is edited and which directory
// of an install goes on it.
type ActivationConfig struct {
	BinSubdir *string `yaml:"bin_subdir,omitempty"`
	Target    string  `yaml:"target"`
}

// BinSubdirValue returns the effective executable subdirectory. Embeddable
// Windows builds keep python.exe at the top of the tree.
func (a ActivationConfig) BinSubdirValue() string {
	if a.BinSubdir != nil {
		return *a.BinSubdir
	}
	return defaultBinSubdir()
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Download: DownloadConfig{
			URLTemplate: DefaultURLTemplate,
			Timeout:     10 * time.Minute,
			Retries: RetryConfig{
				Attempts:     3,
				InitialDelay: time.Second,
				MaxDelay:     15 * time.Second,
			},
		},
		Lock: LockConfig{
			Timeout: 30 * time.Second,
		},
		Activation: ActivationConfig{
			Target: "auto",
		},
	}
}

// Load reads the YAML settings from disk if they exist, otherwise returns the
// default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults ensures nested fields fall back to sensible defaults when the
// YAML omits or zeroes them.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if c.Download.URLTemplate == "" {
		c.Download.URLTemplate = defaults.Download.URLTemplate
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = defaults.Download.Timeout
	}
	if c.Download.Retries.Attempts == 0 {
		c.Download.Retries.Attempts = defaults.Download.Retries.Attempts
	}
	if c.Download.Retries.InitialDelay == 0 {
		c.Download.Retries.InitialDelay = defaults.Download.Retries.InitialDelay
	}
	if c.Download.Retries.MaxDelay == 0 {
		c.Download.Retries.MaxDelay = defaults.Download.Retries.MaxDelay
	}
	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = defaults.Lock.Timeout
	}
	if c.Activation.Target == "" {
		c.Activation.Target = defaults.Activation.Target
	}
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return buf, nil
}

func defaultBinSubdir() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "bin"
}
