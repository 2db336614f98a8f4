// Package config manages saved device profiles and display themes. Profiles
// live in a YAML file by default or in TOML when the path ends in .toml, and
// passwords are encrypted at rest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// DefaultProfileName is the profile used when none is named.
const DefaultProfileName = "default"

// encryptedPrefix marks a password stored by SaveProfile. Passwords without
// it were written by hand and are used as is.
const encryptedPrefix = "enc:"

// Config represents the complete configuration file structure
type Config struct {
	DefaultProfile string                        `yaml:"default_profile,omitempty" toml:"default_profile,omitempty"`
	Profiles       map[string]interfaces.Profile `yaml:"profiles" toml:"profiles"`
	Themes         map[string]interfaces.Theme   `yaml:"themes" toml:"themes"`
}

// Ensure Manager implements ConfigManager at compile time.
var _ interfaces.ConfigManager = (*Manager)(nil)

// Manager implements interfaces.ConfigManager
type Manager struct {
	configPath   string
	securityMgr  SecurityManager
	logger       *logging.Logger
	mutex        sync.Mutex
	cachedConfig *Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfigPath overrides the configuration file location.
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.configPath = path
		}
	}
}

// WithSecurityManager overrides the credential encryption backend.
func WithSecurityManager(s SecurityManager) Option {
	return func(m *Manager) {
		if s != nil {
			m.securityMgr = s
		}
	}
}

// NewManager creates a configuration manager with OS-appropriate paths.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{logger: logging.GetConfigLogger()}
	for _, opt := range opts {
		opt(m)
	}

	if m.configPath == "" {
		path, err := getConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine configuration path: %w", err)
		}
		m.configPath = path
	}
	if m.securityMgr == nil {
		keyPath, err := DefaultKeyPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine security key path: %w", err)
		}
		securityMgr, err := NewSecurityManager(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security manager: %w", err)
		}
		m.securityMgr = securityMgr
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return m, nil
}

// getConfigPath determines the OS-appropriate configuration file path
func getConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rpc2ctl", "profiles.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "rpc2ctl", "profiles.yaml"), nil
}

func (m *Manager) isTOML() bool {
	return strings.EqualFold(filepath.Ext(m.configPath), ".toml")
}

func (m *Manager) unmarshal(data []byte, config *Config) error {
	if m.isTOML() {
		return toml.Unmarshal(data, config)
	}
	return yaml.Unmarshal(data, config)
}

func (m *Manager) marshal(config *Config) ([]byte, error) {
	if m.isTOML() {
		return toml.Marshal(config)
	}
	return yaml.Marshal(config)
}

// loadConfig reads and parses the configuration file, creating defaults if
// necessary. Callers hold m.mutex.
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		config := createDefaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.cachedConfig = config
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := m.unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	for name, profile := range config.Profiles {
		if !strings.HasPrefix(profile.Password, encryptedPrefix) {
			continue
		}
		plain, err := m.securityMgr.DecryptCredential(strings.TrimPrefix(profile.Password, encryptedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password for profile %s: %w", name, err)
		}
		profile.Password = plain
		config.Profiles[name] = profile
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes the configuration with passwords encrypted.
func (m *Manager) saveConfig(config *Config) error {
	configCopy := *config
	configCopy.Profiles = make(map[string]interfaces.Profile, len(config.Profiles))

	for name, profile := range config.Profiles {
		if profile.Password != "" {
			encrypted, err := m.securityMgr.EncryptCredential(profile.Password)
			if err != nil {
				return fmt.Errorf("failed to encrypt password for profile %s: %w", name, err)
			}
			profile.Password = encryptedPrefix + encrypted
		}
		configCopy.Profiles[name] = profile
	}

	data, err := m.marshal(&configCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// createDefaultConfig points the default profile at the factory address of
// most devices.
func createDefaultConfig() *Config {
	return &Config{
		DefaultProfile: DefaultProfileName,
		Profiles: map[string]interfaces.Profile{
			DefaultProfileName: {
				Name:     DefaultProfileName,
				Host:     "192.168.1.108",
				Username: "admin",
				Theme:    "github",
			},
		},
		Themes: map[string]interfaces.Theme{
			"github": {
				Name:    "github",
				Syntax:  "github",
				Success: "#28a745",
				Error:   "#dc3545",
				Warning: "#ffc107",
				Info:    "#17a2b8",
			},
			"monokai": {
				Name:    "monokai",
				Syntax:  "monokai",
				Success: "#a6e22e",
				Error:   "#f92672",
				Warning: "#fd971f",
				Info:    "#66d9ef",
			},
		},
	}
}

// LoadProfile retrieves a profile by name. An empty name loads the default
// profile.
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if name == "" {
		name = config.DefaultProfile
		if name == "" {
			name = DefaultProfileName
		}
	}

	profile, exists := config.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	profile.Name = name

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}
	m.logger.LogConfigLoad(m.configPath, name)
	return &profile, nil
}

// SaveProfile persists a profile to the configuration file
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}
	config.Profiles[profile.Name] = *profile

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cachedConfig = config
	return nil
}

// ListProfiles returns all profile names in sorted order.
func (m *Manager) ListProfiles() ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoadTheme retrieves theme configuration by name
func (m *Manager) LoadTheme(name string) (*interfaces.Theme, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	theme, exists := config.Themes[name]
	if !exists {
		return nil, fmt.Errorf("theme '%s' not found", name)
	}
	theme.Name = name
	return &theme, nil
}

// ValidateProfile ensures profile has all required fields
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.TrimSpace(profile.Host) == "" {
		return fmt.Errorf("profile host cannot be empty")
	}
	if _, err := protocol.ParseBaseURL(profile.Host); err != nil {
		return fmt.Errorf("invalid host: %w", err)
	}
	if strings.TrimSpace(profile.Username) == "" {
		return fmt.Errorf("profile username cannot be empty")
	}
	if profile.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if profile.KeepAliveInterval < 0 {
		return fmt.Errorf("keep-alive interval cannot be negative")
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache clears the cached configuration, forcing a reload on next access
func (m *Manager) InvalidateCache() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cachedConfig = nil
}

// DeleteProfile removes a profile from the configuration
func (m *Manager) DeleteProfile(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	if name == DefaultProfileName || name == config.DefaultProfile {
		return fmt.Errorf("cannot delete the default profile")
	}

	delete(config.Profiles, name)
	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cachedConfig = config
	return nil
}
