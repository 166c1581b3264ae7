// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the mydia binaries.
//
// Configuration comes from a single YAML file named by either the
// MYDIA_CONFIG environment variable or an explicit --config flag. There
// is no automatic discovery and environment variables never override
// file values; configuration stays deterministic and auditable.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration shared by the mydia binaries.
// Each binary reads only its own section.
type Config struct {
	// Relay configures the mydia-relay server.
	Relay RelayConfig `yaml:"relay"`

	// Node configures the mydia-node instance daemon.
	Node NodeConfig `yaml:"node"`

	// Tunnel configures the mydia-tunnel client daemon.
	Tunnel TunnelConfig `yaml:"tunnel"`
}

// RelayConfig configures the claim broker and session forwarder.
type RelayConfig struct {
	// Listen is the TCP address the relay HTTP surface binds to.
	Listen string `yaml:"listen"`

	// ClaimTTL is how long a pairing claim stays retrievable.
	// Default: 5m.
	ClaimTTL string `yaml:"claim_ttl"`

	// ClaimCodeLength is the number of characters in generated claim
	// codes. Default: 6. Valid range: 6-8.
	ClaimCodeLength int `yaml:"claim_code_length"`

	// SweepInterval is how often expired claims are garbage-collected.
	// Default: 1m.
	SweepInterval string `yaml:"sweep_interval"`

	// SweepRetention is how long past expiry a claim is retained
	// before the sweeper removes it. Default: 10m.
	SweepRetention string `yaml:"sweep_retention"`
}

// NodeConfig configures the instance daemon.
type NodeConfig struct {
	// KeyPath is where the node's static identity private key is
	// persisted (raw 32 bytes, mode 0600).
	KeyPath string `yaml:"key_path"`

	// Listen is the TCP address the direct transport listener binds
	// to. Use ":0" for an ephemeral port.
	Listen string `yaml:"listen"`

	// DirectAddrs are the externally reachable addresses advertised in
	// endpoint descriptors. Typically the LAN address plus any
	// port-forwarded public address.
	DirectAddrs []string `yaml:"direct_addrs"`

	// RelayURL is the base URL of the mydia-relay this node registers
	// claims with and holds its fallback session against.
	RelayURL string `yaml:"relay_url"`

	// MediaRoot is the directory the node serves media segments from.
	MediaRoot string `yaml:"media_root"`
}

// TunnelConfig configures the client-side tunnel proxy and prober.
type TunnelConfig struct {
	// KeyPath is where the client device's static identity private key
	// is persisted.
	KeyPath string `yaml:"key_path"`

	// Listen is the loopback address the tunnel proxy binds to.
	// Default: "127.0.0.1:0" (ephemeral port).
	Listen string `yaml:"listen"`

	// ProbeTimeout bounds each direct connect attempt. Default: 10s.
	ProbeTimeout string `yaml:"probe_timeout"`

	// RequestTimeout bounds each forwarded transport call, independent
	// of the local caller's own timeout. Default: 30s.
	RequestTimeout string `yaml:"request_timeout"`
}

// Default returns the base configuration applied before the file loads.
func Default() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".local", "share", "mydia")

	return &Config{
		Relay: RelayConfig{
			Listen:          ":8470",
			ClaimTTL:        "5m",
			ClaimCodeLength: 6,
			SweepInterval:   "1m",
			SweepRetention:  "10m",
		},
		Node: NodeConfig{
			KeyPath: filepath.Join(stateDir, "node.key"),
			Listen:  ":7946",
		},
		Tunnel: TunnelConfig{
			KeyPath:        filepath.Join(stateDir, "device.key"),
			Listen:         "127.0.0.1:0",
			ProbeTimeout:   "10s",
			RequestTimeout: "30s",
		},
	}
}

// Load loads configuration from the file named by MYDIA_CONFIG. Fails
// if the variable is unset; there are no fallback locations.
func Load() (*Config, error) {
	path := os.Getenv("MYDIA_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("MYDIA_CONFIG environment variable not set; " +
			"set it to the path of your mydia.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merged over Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors. All problems are
// reported at once via errors.Join.
func (c *Config) Validate() error {
	var errs []error

	for _, field := range []struct {
		name, value string
	}{
		{"relay.claim_ttl", c.Relay.ClaimTTL},
		{"relay.sweep_interval", c.Relay.SweepInterval},
		{"relay.sweep_retention", c.Relay.SweepRetention},
		{"tunnel.probe_timeout", c.Tunnel.ProbeTimeout},
		{"tunnel.request_timeout", c.Tunnel.RequestTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if c.Relay.ClaimCodeLength < 6 || c.Relay.ClaimCodeLength > 8 {
		errs = append(errs, fmt.Errorf("relay.claim_code_length must be 6-8, got %d", c.Relay.ClaimCodeLength))
	}

	if c.Node.RelayURL != "" {
		if _, err := url.Parse(c.Node.RelayURL); err != nil {
			errs = append(errs, fmt.Errorf("node.relay_url: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration parses a duration config field that Validate has already
// checked. Panics on a malformed value; call Validate first.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("config: Duration called on unvalidated value: " + err.Error())
	}
	return d
}
