// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads the host configuration of the trust layer.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/purchasekit/go-response-trust/pkg/fileutils"
	"github.com/purchasekit/go-response-trust/pkg/verification"
)

const (
	// ModeEnvVar is the name of the environment variable overriding the verification mode.
	ModeEnvVar = "PURCHASEKIT_VERIFICATION_MODE"

	// PublicKeyEnvVar is the name of the environment variable
	// that contains the base64-encoded public key certificate.
	PublicKeyEnvVar = "PURCHASEKIT_PUBLIC_KEY"

	configFileName = "purchasekit/trust.yaml"
)

// Config is the trust layer configuration file.
type Config struct {
	BaseURL      string       `yaml:"base_url"`
	Verification Verification `yaml:"verification"`
	Retry        Retry        `yaml:"retry"`
	RateLimit    RateLimit    `yaml:"rate_limit"`
	Cache        Cache        `yaml:"cache"`
}

// Verification selects the verification mode and its public key.
type Verification struct {
	// Mode is one of disabled, informational or enforced.
	Mode string `yaml:"mode"`

	// PublicKeyFile is the path of the certificate file.
	PublicKeyFile string `yaml:"public_key_file"`

	// PublicKeyBase64 is the base64 encoded certificate, mutually exclusive with PublicKeyFile.
	PublicKeyBase64 string `yaml:"public_key_base64"`
}

// Retry configures the retry policy, zero values mean defaults.
type Retry struct {
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// RateLimit paces the requests, zero means unlimited.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Cache configures the ETag cache, zero TTL keeps entries until invalidated.
type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

// DefaultPath returns the default configuration file path under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// LoadDefault loads the configuration from the XDG config directories and applies
// the environment overrides. A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	cfg := &Config{}

	if path, err := xdg.SearchConfigFile(configFileName); err == nil {
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	return cfg, nil
}

// Load reads a configuration file. If the file does not exist, it returns
// the defaults without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}

		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Parse parses the YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overrides the verification settings from the environment.
//
// A public key from the environment replaces the configured key file.
func (c *Config) ApplyEnv() {
	if value, ok := os.LookupEnv(ModeEnvVar); ok {
		c.Verification.Mode = value
	}

	if value, ok := os.LookupEnv(PublicKeyEnvVar); ok {
		c.Verification.PublicKeyBase64 = value
		c.Verification.PublicKeyFile = ""
	}
}

// Validate checks the configuration and returns all problems found.
func (c *Config) Validate() error {
	var err error

	level, levelErr := verification.ParseLevel(c.Verification.Mode)
	if levelErr != nil {
		err = multierror.Append(err, levelErr)
	}

	hasFile := c.Verification.PublicKeyFile != ""
	hasBase64 := strings.TrimSpace(c.Verification.PublicKeyBase64) != ""

	switch {
	case hasFile && hasBase64:
		err = multierror.Append(err, errors.New("verification: public_key_file and public_key_base64 are mutually exclusive"))
	case levelErr == nil && level != verification.LevelDisabled && !hasFile && !hasBase64:
		err = multierror.Append(err, fmt.Errorf("verification: mode %s requires a public key", level))
	case hasFile && !fileutils.FileExists(c.Verification.PublicKeyFile):
		err = multierror.Append(err, fmt.Errorf("verification: public key file %q does not exist", c.Verification.PublicKeyFile))
	case hasFile && !fileutils.IsReadable(c.Verification.PublicKeyFile):
		err = multierror.Append(err, fmt.Errorf("verification: public key file %q is not readable", c.Verification.PublicKeyFile))
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		err = multierror.Append(err, fmt.Errorf("retry: max_retries must not be negative: %d", *c.Retry.MaxRetries))
	}

	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		err = multierror.Append(err, errors.New("retry: delays must not be negative"))
	}

	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		err = multierror.Append(err, fmt.Errorf("retry: base_delay %s exceeds max_delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		err = multierror.Append(err, fmt.Errorf("rate_limit: requests_per_minute must not be negative: %d", c.RateLimit.RequestsPerMinute))
	}

	if c.Cache.TTL < 0 {
		err = multierror.Append(err, fmt.Errorf("cache: ttl must not be negative: %s", c.Cache.TTL))
	}

	return err
}

// VerificationMode builds the configured verification mode.
//
// The public key is loaded here, so an invalid key (keys.ErrInvalidKey) is reported
// at configuration time rather than on the first request.
func (c *Config) VerificationMode() (verification.Mode, error) {
	level, err := verification.ParseLevel(c.Verification.Mode)
	if err != nil {
		return nil, err
	}

	if level == verification.LevelDisabled {
		return verification.Disabled(), nil
	}

	certificate, err := c.publicKey()
	if err != nil {
		return nil, err
	}

	return verification.NewMode(level, certificate)
}

func (c *Config) publicKey() ([]byte, error) {
	if c.Verification.PublicKeyFile != "" {
		return os.ReadFile(c.Verification.PublicKeyFile)
	}

	certificate, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Verification.PublicKeyBase64))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	return certificate, nil
}
