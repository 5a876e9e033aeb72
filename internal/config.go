package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/bibcite/internal/directive"
	"github.com/starford/bibcite/internal/fetch"
	"github.com/starford/bibcite/internal/library"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Library    LibraryConfig     `yaml:"library"`
	Render     RenderConfig      `yaml:"render"`
	Directives DirectivesConfig  `yaml:"directives"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Directives.Validate()
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
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig guards the administrative endpoints.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// LibraryConfig controls how remote libraries are fetched and read.
//
// AllowedHosts lists the hosts a document or API caller may name as a
// library ("example.org", "*.example.org", or "*" for any). The host of
// DefaultURL is always allowed.
type LibraryConfig struct {
	DefaultURL         string        `yaml:"default_url"`
	AllowedHosts       []string      `yaml:"allowed_hosts"`
	Format             string        `yaml:"format"`
	Dormancy           time.Duration `yaml:"dormancy"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxBytes           int64         `yaml:"max_bytes"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	UserAgent          string        `yaml:"user_agent"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	if c.Format == "" {
		c.Format = library.FormatAuto
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultURL, validation.By(httpURL)),
		validation.Field(&c.AllowedHosts, validation.Each(validation.Required, validation.Match(hostPatternRe))),
		validation.Field(&c.Format, validation.In(library.FormatAuto, library.FormatBibTeX, library.FormatCSLJSON)),
		validation.Field(&c.Dormancy, validation.Min(time.Duration(0))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxBytes, validation.Min(int64(0))),
	)
}

var hostPatternRe = regexp.MustCompile(`^(\*|(\*\.)?[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?)$`)

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	var unrestricted *library.HostPolicy
	return unrestricted.Check(s)
}

// HostPolicy builds the library host allowlist.
func (c *LibraryConfig) HostPolicy() *library.HostPolicy {
	hosts := append([]string(nil), c.AllowedHosts...)
	if u, err := url.Parse(c.DefaultURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
	}
	return library.NewHostPolicy(hosts...)
}

// FetchConfig converts the section into fetcher settings.
func (c *LibraryConfig) FetchConfig() fetch.Config {
	return fetch.Config{
		Dormancy:           c.Dormancy,
		Timeout:            c.Timeout,
		MaxBytes:           c.MaxBytes,
		UserAgent:          c.UserAgent,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// RenderConfig locates user styles and templates.
type RenderConfig struct {
	StylesDir    string `yaml:"styles_dir"`
	TemplatesDir string `yaml:"templates_dir"`
	DefaultStyle string `yaml:"default_style"`
	Watch        bool   `yaml:"watch"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StylesDir, validation.Required),
		validation.Field(&c.TemplatesDir, validation.Required),
		validation.Field(&c.DefaultStyle, validation.Required),
	)
}

// DirectivesConfig holds the per-directive style and template defaults.
type DirectivesConfig struct {
	Bibshow directive.Presentation `yaml:"bibshow"`
	Bibcite directive.Presentation `yaml:"bibcite"`
	Bibtex  directive.Presentation `yaml:"bibtex"`
}

// Validate validates the directive defaults.
func (c *DirectivesConfig) Validate() error {
	for name, p := range map[string]*directive.Presentation{
		directive.Bibshow: &c.Bibshow,
		directive.Bibcite: &c.Bibcite,
		directive.Bibtex:  &c.Bibtex,
	} {
		if err := validation.ValidateStruct(p,
			validation.Field(&p.Style, validation.Required),
			validation.Field(&p.Template, validation.Required),
		); err != nil {
			return fmt.Errorf("directives.%s: %w", name, err)
		}
	}
	return nil
}

// Defaults builds the directive defaults for the processor.
func (c *Config) Defaults() directive.Defaults {
	return directive.Defaults{
		LibraryURL: c.Library.DefaultURL,
		Bibshow:    c.Directives.Bibshow,
		Bibcite:    c.Directives.Bibcite,
		Bibtex:     c.Directives.Bibtex,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	d := directive.DefaultDefaults()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./bibcite.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Library: LibraryConfig{
			Format:             library.FormatAuto,
			Dormancy:           300 * time.Second,
			Timeout:            30 * time.Second,
			MaxBytes:           32 << 20,
			InsecureSkipVerify: true,
			UserAgent:          "bibcite/1.0",
		},
		Render: RenderConfig{
			StylesDir:    "./styles",
			TemplatesDir: "./templates",
			DefaultStyle: "ieee",
			Watch:        true,
		},
		Directives: DirectivesConfig{
			Bibshow: d.Bibshow,
			Bibcite: d.Bibcite,
			Bibtex:  d.Bibtex,
		},
	}
}
