// Package config loads agent settings from defaults, a YAML file and
// HIDLINK_* environment variables. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "HIDLINK_"

type Config struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	TCPPort             int    `yaml:"tcp_port"` // 0 disables the TCP transport
	WebPort             int    `yaml:"web_port"` // 0 disables the web UI
	HostId              string `yaml:"host_id"`
	TrustedRegistryPath string `yaml:"trusted_registry_path"`
	AuditLogPath        string `yaml:"audit_log_path"`
	RateLimitPerSec     int    `yaml:"rate_limit_per_sec"`
	NonceWindow         int    `yaml:"nonce_window"`
	PairingCode         string `yaml:"pairing_code"` // empty generates a random code
	PairingCodeTTLMs    int64  `yaml:"pairing_code_ttl_ms"`
	MaxClients          int    `yaml:"max_clients"`
	LogLevel            string `yaml:"log_level"`
	MDNS                bool   `yaml:"mdns"`
	MCP                 bool   `yaml:"mcp"`
}

func Default() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8765,
		WebPort:             8080,
		HostId:              "windows-host",
		TrustedRegistryPath: "trusted_devices.json",
		AuditLogPath:        "audit.log",
		RateLimitPerSec:     30,
		NonceWindow:         200,
		PairingCodeTTLMs:    60000,
		MaxClients:          16,
		LogLevel:            "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path skips the file; a path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays HIDLINK_* variables found through lookup (os.LookupEnv
// when nil).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	strs := map[string]*string{
		"HOST":                  &c.Host,
		"HOST_ID":               &c.HostId,
		"TRUSTED_REGISTRY_PATH": &c.TrustedRegistryPath,
		"AUDIT_LOG_PATH":        &c.AuditLogPath,
		"PAIRING_CODE":          &c.PairingCode,
		"LOG_LEVEL":             &c.LogLevel,
	}
	ints := map[string]*int{
		"PORT":               &c.Port,
		"TCP_PORT":           &c.TCPPort,
		"WEB_PORT":           &c.WebPort,
		"RATE_LIMIT_PER_SEC": &c.RateLimitPerSec,
		"NONCE_WINDOW":       &c.NonceWindow,
		"MAX_CLIENTS":        &c.MaxClients,
	}
	bools := map[string]*bool{
		"MDNS": &c.MDNS,
		"MCP":  &c.MCP,
	}

	var errs []error
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = n
		}
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "PAIRING_CODE_TTL_MS"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPAIRING_CODE_TTL_MS: %w", EnvPrefix, err))
		} else {
			c.PairingCodeTTLMs = n
		}
	}
	return errors.Join(errs...)
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// Validate clamps the rate limit to at least one message per second and
// reports every setting the agent cannot run with.
func (c *Config) Validate() error {
	if c.RateLimitPerSec < 1 {
		c.RateLimitPerSec = 1
	}

	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	for name, p := range map[string]int{"tcp_port": c.TCPPort, "web_port": c.WebPort} {
		if p < 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, p))
		}
	}
	if c.HostId == "" {
		errs = append(errs, errors.New("host_id must not be empty"))
	}
	if c.TrustedRegistryPath == "" {
		errs = append(errs, errors.New("trusted_registry_path must not be empty"))
	}
	if c.AuditLogPath == "" {
		errs = append(errs, errors.New("audit_log_path must not be empty"))
	}
	if c.NonceWindow < 1 {
		errs = append(errs, fmt.Errorf("nonce_window %d must be positive", c.NonceWindow))
	}
	if c.PairingCode != "" && !sixDigits.MatchString(c.PairingCode) {
		errs = append(errs, errors.New("pairing_code must be exactly six digits"))
	}
	if c.PairingCodeTTLMs < 1 {
		errs = append(errs, errors.New("pairing_code_ttl_ms must be positive"))
	}
	if c.MaxClients < 1 {
		errs = append(errs, errors.New("max_clients must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
