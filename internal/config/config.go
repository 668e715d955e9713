// Package config loads srx-server's configuration from a YAML file,
// overlaid by environment variables and CLI flags, per spec.md §6.4.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Config is the full srx-server configuration, spec.md §6.4 plus the
// ambient metrics/TLS/logging additions SPEC_FULL.md's §6 calls for.
type Config struct {
	Server   ServerConfig  `koanf:"server"`
	RPKI     RPKIConfig    `koanf:"rpki"`
	BGPsec   BGPsecConfig  `koanf:"bgpsec"`
	Console  ConsoleConfig `koanf:"console"`
	Metrics  MetricsConfig `koanf:"metrics"`
	LogLevel string        `koanf:"loglevel"`
	Mapping  MappingConfig `koanf:"mapping"`
}

type ServerConfig struct {
	Port                     int           `koanf:"port"`
	SyncAfterConnEstablished bool          `koanf:"sync_after_conn_established"`
	ModeNoSendQueue          bool          `koanf:"mode_no_sendqueue"`
	ModeNoReceiveQueue       bool          `koanf:"mode_no_receivequeue"`
	DefaultKeepWindow        time.Duration `koanf:"default_keep_window"`
	HandshakeTimeout         time.Duration `koanf:"handshake_timeout"`
	ExpectedProxies          int           `koanf:"expected_proxies"`
}

type RPKIConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	TLS             bool          `koanf:"tls"`
	Insecure        bool          `koanf:"insecure"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	RetryInterval   time.Duration `koanf:"retry_interval"`
	ExpireInterval  time.Duration `koanf:"expire_interval"`
	SessionID       uint32        `koanf:"session_id"`
	CacheID         uint32        `koanf:"cache_id"`
}

type BGPsecConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	SigningKeyPath string `koanf:"signing_key_path"`
}

type ConsoleConfig struct {
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
}

type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

// MappingConfig carries the static slot->proxy_id bindings, spec.md §6.4's
// `mapping_routerID: [u32;256]` (slot 0 is never assigned).
type MappingConfig struct {
	RouterID [256]uint32 `koanf:"-"`
}

const envPrefix = "SRX_SERVER_"

// Load reads path (if non-empty), overlays SRX_SERVER_-prefixed environment
// variables, then overlays any flags already parsed into fs, applying
// defaults first so unset keys still validate.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"server.port":                179,
		"server.default_keep_window": "30s",
		"server.handshake_timeout":   "5s",
		"server.expected_proxies":    8,
		"rpki.port":                  323,
		"rpki.refresh_interval":      "3600s",
		"rpki.retry_interval":        "600s",
		"rpki.expire_interval":       "7200s",
		"bgpsec.port":                179,
		"console.port":               8050,
		"metrics.listen":             ":9100",
		"loglevel":                   "info",
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("stat config file %s: %w", path, statErr)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flag config: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	for i, v := range k.Ints("mapping.router_id") {
		if i >= len(cfg.Mapping.RouterID) {
			break
		}
		cfg.Mapping.RouterID[i] = uint32(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md §6.4's key list implies: ports in
// range, a non-zero keep window, and slot 0 of the mapping table left
// unassigned.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.RPKI.Port <= 0 || c.RPKI.Port > 65535 {
		return fmt.Errorf("config: rpki.port out of range: %d", c.RPKI.Port)
	}
	if c.Server.DefaultKeepWindow <= 0 {
		return fmt.Errorf("config: server.default_keep_window must be > 0")
	}
	if c.Server.ExpectedProxies <= 0 {
		return fmt.Errorf("config: server.expected_proxies must be > 0")
	}
	if c.Mapping.RouterID[0] != 0 {
		return fmt.Errorf("config: mapping.router_id[0] must be 0 (slot 0 is never assigned)")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: loglevel is invalid: %w", err)
	}
	return nil
}
