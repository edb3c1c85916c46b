package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/runebook/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Engine    EngineConfig      `yaml:"engine"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Remote    RemoteConfig      `yaml:"remote"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Remote.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port      int           `yaml:"port"`
	Keepalive time.Duration `yaml:"keepalive"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Keepalive, validation.Min(time.Duration(0))),
	)
}

// WorkspaceConfig holds the local cache directory and placeholder template.
type WorkspaceConfig struct {
	Path     string          `yaml:"path"`
	Template models.Template `yaml:"template"`
	// Watch reloads the workspace when another process rewrites the cache.
	Watch bool `yaml:"watch"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Template, validation.By(func(interface{}) error {
			return validation.ValidateStruct(&c.Template,
				validation.Field(&c.Template.Name, validation.Required),
			)
		})),
	)
}

// EngineConfig holds the execution engine configuration.
type EngineConfig struct {
	// Path is the sandbox directory documents are staged into.
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration for the remote store server.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds server authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Tokens maps each token to the
//     identity it may access and must be non-empty.
type AuthConfig struct {
	Mode   string            `yaml:"mode"`
	Tokens map[string]string `yaml:"tokens"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && len(c.Tokens) == 0 {
		return fmt.Errorf("auth: mode is %q but tokens are empty", AuthModeToken)
	}
	for token, identity := range c.Tokens {
		if token == "" || identity == "" {
			return fmt.Errorf("auth: tokens must map a non-empty token to a non-empty identity")
		}
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// RemoteConfig holds the client-side remote document store settings.
// An empty URL disables sync.
type RemoteConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	PushTimeout time.Duration `yaml:"push_timeout"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.By(httpURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.PushTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
	)
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

// Enabled reports whether a remote is configured.
func (c *RemoteConfig) Enabled() bool {
	return c.URL != ""
}

// starterTemplate is a placeholder the bundled Go interpreter can run.
var starterTemplate = models.Template{
	Name:    "main.go",
	Content: "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello World!\")\n}\n",
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:      8080,
				Keepalive: 15 * time.Second,
			},
		},
		Workspace: WorkspaceConfig{
			Path:     "./workspace",
			Template: starterTemplate,
		},
		Engine: EngineConfig{
			Path:    "./workspace/.sandbox",
			Timeout: 30 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "./runebook.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Remote: RemoteConfig{
			Timeout:     10 * time.Second,
			PushTimeout: 10 * time.Second,
			RetryDelay:  2 * time.Second,
		},
	}
}
