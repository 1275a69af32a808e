// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads tool settings from TOML, YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/go-fpga-attest/abi"
	"github.com/google/go-fpga-attest/client"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the attestation tools. Command-line flags override it.
type Config struct {
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`
	CRL    CRLConfig    `toml:"crl" json:"crl" yaml:"crl"`
	// Output is the default output format: "text", "json" or "yaml".
	Output string `toml:"output" json:"output" yaml:"output"`
	// Verbose enables informational logging.
	Verbose bool `toml:"verbose" json:"verbose" yaml:"verbose"`
}

// DeviceConfig describes how to reach the device.
type DeviceConfig struct {
	// HPS is a "host:<h>; port:<p>" connection string. Takes precedence over Serial.
	HPS string `toml:"hps" json:"hps" yaml:"hps"`
	// Serial is the path of a tty connected to the device mailbox console.
	Serial string `toml:"serial" json:"serial" yaml:"serial"`
	// BaudRate of the serial line.
	BaudRate int `toml:"baud_rate" json:"baud_rate" yaml:"baud_rate"`
	// ClientID tags mailbox requests.
	ClientID int `toml:"client_id" json:"client_id" yaml:"client_id"`
	// RecordFormat is the measurement record layout: "v1" or "v2".
	RecordFormat string `toml:"record_format" json:"record_format" yaml:"record_format"`
	// TimeoutSec bounds each device exchange.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// CRLConfig describes where revocation lists come from.
type CRLConfig struct {
	// Directory serves CRLs from local files instead of the network when set.
	Directory string `toml:"directory" json:"directory" yaml:"directory"`
	// CachePath is an SQLite database caching fetched CRLs until their next update.
	CachePath string `toml:"cache_path" json:"cache_path" yaml:"cache_path"`
	// RequireLeaf rejects a leaf certificate without a CRL distribution point.
	RequireLeaf bool `toml:"require_leaf" json:"require_leaf" yaml:"require_leaf"`
	// TimeoutSec bounds the retries of a single CRL download.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			BaudRate:     115200,
			ClientID:     1,
			RecordFormat: abi.RecordFormatV2.String(),
			TimeoutSec:   30,
		},
		CRL: CRLConfig{
			TimeoutSec: 120,
		},
		Output: "text",
	}
}

// DeviceTimeout returns Device.TimeoutSec as a duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Device.TimeoutSec) * time.Second
}

// CRLTimeout returns CRL.TimeoutSec as a duration.
func (c *Config) CRLTimeout() time.Duration {
	return time.Duration(c.CRL.TimeoutSec) * time.Second
}

// Validate returns every problem with the settings combined.
func (c *Config) Validate() error {
	var errs error
	if c.Device.HPS != "" {
		if _, err := client.ParseHPSConfig(c.Device.HPS); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.Device.ClientID < 0 || c.Device.ClientID > 0xF {
		errs = multierr.Append(errs, fmt.Errorf("client_id %d does not fit in 4 bits", c.Device.ClientID))
	}
	if c.Device.BaudRate <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("baud_rate %d must be positive", c.Device.BaudRate))
	}
	if _, err := abi.ParseRecordFormat(c.Device.RecordFormat); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Device.TimeoutSec < 0 || c.CRL.TimeoutSec < 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	switch c.Output {
	case "text", "json", "yaml":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown output format %q", c.Output))
	}
	return errs
}

// Decode parses data over the defaults. ext is a file extension such as ".toml".
func Decode(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension %q", ext)
	}
	return cfg, nil
}

// Load reads the file at path, choosing the format from its extension, and validates it. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Encode serializes cfg in the format named by ext.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	}
	return nil, fmt.Errorf("unknown config file extension %q", ext)
}

// Save writes cfg to path in the format named by its extension.
func Save(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
