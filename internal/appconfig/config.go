// Package appconfig manages persisted settings and runtime file paths.
package appconfig

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tunnelbar/tunnelbar/internal/model"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

// TunnelConfig describes the supervised SSH/SOCKS tunnel: the remote-access
// proxy endpoint, the jump host to tunnel through, the local SOCKS port, and
// the path to the remote-access client executable. LocalPort is string-typed
// (it is edited through a form) and must parse to a valid port before the
// supervisor may start.
type TunnelConfig struct {
	ProxyAddr  string `yaml:"proxy_addr"`
	JumpHost   string `yaml:"jump_host"`
	LocalPort  string `yaml:"local_port"`
	ClientPath string `yaml:"client_path"`
}

// Validate reports the first reason this configuration cannot start a tunnel.
func (c TunnelConfig) Validate() error {
	if strings.TrimSpace(c.ProxyAddr) == "" {
		return fmt.Errorf("proxy address is empty")
	}
	if strings.TrimSpace(c.JumpHost) == "" {
		return fmt.Errorf("jump host is empty")
	}
	if strings.TrimSpace(c.ClientPath) == "" {
		return fmt.Errorf("client path is empty")
	}
	if _, err := util.ParsePort(c.LocalPort); err != nil {
		return fmt.Errorf("local port: %w", err)
	}
	return nil
}

// Port returns the parsed local SOCKS port, or 0 if LocalPort is invalid.
func (c TunnelConfig) Port() int {
	p, err := util.ParsePort(c.LocalPort)
	if err != nil {
		return 0
	}
	return p
}

// HTTPProxyConfig describes the optional local HTTP proxy process.
type HTTPProxyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	LocalPort  int    `yaml:"local_port"`
	BinaryPath string `yaml:"binary_path"`
}

// Validate reports why the proxy cannot start. Disabled configs never
// validate; the supervisor treats that as a distinct condition.
func (c HTTPProxyConfig) Validate() error {
	if !c.Enabled {
		return fmt.Errorf("http proxy is disabled")
	}
	if strings.TrimSpace(c.BinaryPath) == "" {
		return fmt.Errorf("proxy binary path is empty")
	}
	if err := util.ValidatePort(c.LocalPort); err != nil {
		return err
	}
	return nil
}

// ContentionConfig controls the pre-flight port-contention policy.
// KillExisting terminates owners without asking. StrictInspection consults
// the native connection table when the lsof invocation itself fails, instead
// of assuming the port is free.
type ContentionConfig struct {
	KillExisting     bool `yaml:"kill_existing"`
	StrictInspection bool `yaml:"strict_inspection"`
}

// UIConfig contains status surface settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// Config holds all persisted settings, including the managed-service list.
type Config struct {
	Tunnel        TunnelConfig           `yaml:"tunnel"`
	HTTPProxy     HTTPProxyConfig        `yaml:"http_proxy"`
	Contention    ContentionConfig       `yaml:"contention"`
	Notifications bool                   `yaml:"notifications_enabled"`
	UI            UIConfig               `yaml:"ui"`
	Services      []model.ManagedService `yaml:"services"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Tunnel:        TunnelConfig{LocalPort: "1080", ClientPath: "tsh"},
		HTTPProxy:     HTTPProxyConfig{LocalPort: 8888},
		Notifications: true,
		UI:            UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/tunnelbar.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tunnelbar"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "tunnelbar"), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = util.DefaultRefreshSeconds
	}
	for i := range cfg.Services {
		cfg.Services[i].Category = model.ParseCategory(string(cfg.Services[i].Category))
	}
	return cfg, nil
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// AddService registers a new managed service, assigning its immutable ID.
func (c *Config) AddService(svc model.ManagedService) (model.ManagedService, error) {
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Label = strings.TrimSpace(svc.Label)
	if svc.Name == "" {
		return model.ManagedService{}, fmt.Errorf("service name cannot be empty")
	}
	if svc.Label == "" {
		return model.ManagedService{}, fmt.Errorf("service label cannot be empty")
	}
	if svc.Port != 0 {
		if err := util.ValidatePort(svc.Port); err != nil {
			return model.ManagedService{}, err
		}
	}
	for _, existing := range c.Services {
		if existing.Label == svc.Label {
			return model.ManagedService{}, fmt.Errorf("service with label %s already registered", svc.Label)
		}
	}
	svc.ID = newServiceID()
	svc.Category = model.ParseCategory(string(svc.Category))
	c.Services = append(c.Services, svc)
	model.SortServices(c.Services)
	return svc, nil
}

// UpdateService replaces a registered service by ID. The ID itself is
// immutable; an update for an unknown ID is rejected.
func (c *Config) UpdateService(svc model.ManagedService) error {
	for i, existing := range c.Services {
		if existing.ID == svc.ID {
			svc.Category = model.ParseCategory(string(svc.Category))
			c.Services[i] = svc
			model.SortServices(c.Services)
			return nil
		}
	}
	return fmt.Errorf("service not found: %s", svc.ID)
}

// RemoveService deletes a registered service by ID.
func (c *Config) RemoveService(id string) error {
	for i, existing := range c.Services {
		if existing.ID == id {
			c.Services = append(c.Services[:i], c.Services[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("service not found: %s", id)
}

// FindService looks up a registered service by ID, label, or name. IDs and
// labels match exactly; names match case-insensitively since they are what
// users type.
func (c *Config) FindService(key string) (model.ManagedService, bool) {
	for _, svc := range c.Services {
		if svc.ID == key || svc.Label == key {
			return svc, true
		}
	}
	for _, svc := range c.Services {
		if strings.EqualFold(svc.Name, key) {
			return svc, true
		}
	}
	return model.ManagedService{}, false
}

func newServiceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Only reachable when the OS entropy source is broken.
		return fmt.Sprintf("svc-%d", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
