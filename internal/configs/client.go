package configs

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientProfile configures the terminal client. It is read from a YAML file; command
// line flags override individual fields.
type ClientProfile struct {
	// ServerURL is the HTTP base URL of the server, e.g. http://localhost:8080.
	ServerURL string `yaml:"server_url"`

	// WSPath is the broker endpoint path on the server.
	WSPath string `yaml:"ws_path"`

	// ReconnectDelay is the fixed pause between connection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// EchoWindow bounds the match between an optimistic reply and its broadcast copy.
	EchoWindow time.Duration `yaml:"echo_window"`

	// StateDir holds the persisted credential and the session's client id.
	StateDir string `yaml:"state_dir"`

	// Debug enables debug-level console logging.
	Debug bool `yaml:"debug"`
}

// DefaultClientProfile returns the profile used when no file exists.
func DefaultClientProfile() ClientProfile {
	stateDir := ".supportchat"
	if dir, err := os.UserConfigDir(); err == nil {
		stateDir = filepath.Join(dir, "supportchat")
	}

	return ClientProfile{
		ServerURL:      "http://localhost:8080",
		WSPath:         "/api/ws-chat",
		ReconnectDelay: 2 * time.Second,
		EchoWindow:     2000 * time.Millisecond,
		StateDir:       stateDir,
	}
}

// LoadClientProfile reads the profile at path over the defaults. A missing file is not
// an error.
func LoadClientProfile(path string) (ClientProfile, error) {
	profile := DefaultClientProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return ClientProfile{}, fmt.Errorf("read client profile: %w", err)
	}

	if err := yaml.Unmarshal(data, &profile); err != nil {
		return ClientProfile{}, fmt.Errorf("parse client profile %s: %w", path, err)
	}

	return profile, profile.Validate()
}

// Validate checks the fields a client cannot run without.
func (p ClientProfile) Validate() error {
	u, err := url.Parse(p.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an absolute http(s) URL", p.ServerURL)
	}
	if p.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive")
	}
	if p.EchoWindow <= 0 {
		return fmt.Errorf("echo_window must be positive")
	}
	if p.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	return nil
}

// APIURL joins an API path onto the server URL.
func (p ClientProfile) APIURL(path string) string {
	u, _ := url.Parse(p.ServerURL)
	return u.JoinPath(path).String()
}

// WSURL returns the broker endpoint with the scheme switched to ws or wss.
func (p ClientProfile) WSURL() string {
	u, _ := url.Parse(p.ServerURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.JoinPath(p.WSPath).String()
}
