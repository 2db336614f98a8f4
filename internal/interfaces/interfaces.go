// Package interfaces defines the core interfaces shared across rpc2ctl for
// dependency injection and testability.
package interfaces

import (
	"context"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Profile represents a saved device connection
type Profile struct {
	Name              string            `yaml:"name" toml:"name"`
	Host              string            `yaml:"host" toml:"host"`
	Username          string            `yaml:"username" toml:"username"`
	Password          string            `yaml:"password,omitempty" toml:"password,omitempty"`
	Theme             string            `yaml:"theme" toml:"theme"`
	Timeout           time.Duration     `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	KeepAliveInterval time.Duration     `yaml:"keepalive_interval,omitempty" toml:"keepalive_interval,omitempty"`
	Metadata          map[string]string `yaml:"metadata,omitempty" toml:"metadata,omitempty"`
}

// Theme represents visual styling configuration
type Theme struct {
	Name    string `yaml:"name" toml:"name"`
	Syntax  string `yaml:"syntax" toml:"syntax"`
	Success string `yaml:"success" toml:"success"`
	Error   string `yaml:"error" toml:"error"`
	Warning string `yaml:"warning" toml:"warning"`
	Info    string `yaml:"info" toml:"info"`
}

// ConfigManager handles profile persistence
type ConfigManager interface {
	// LoadProfile retrieves a profile by name from the configuration file
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile to the configuration file
	SaveProfile(profile *Profile) error

	// ListProfiles returns all available profile names
	ListProfiles() ([]string, error)

	// LoadTheme retrieves theme configuration by name
	LoadTheme(name string) (*Theme, error)

	// ValidateProfile ensures profile has all required fields
	ValidateProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}

// Sender sends one call through an established (or anonymous) session.
type Sender interface {
	Send(ctx context.Context, call protocol.Call) (*protocol.Response, error)
}

// SessionController is a Sender that can also (re)authenticate.
type SessionController interface {
	Sender

	// Login runs the challenge-response handshake
	Login(ctx context.Context, username, password string) error

	// Authenticated reports whether the last login succeeded
	Authenticated() bool
}

// ContentRenderer turns protocol output into terminal text
type ContentRenderer interface {
	// RenderResponse formats a reply envelope
	RenderResponse(resp *protocol.Response) (string, error)

	// RenderError formats any error with a hint
	RenderError(err error) string

	// RenderStatus formats a one-line status message
	RenderStatus(kind, message string) string
}
