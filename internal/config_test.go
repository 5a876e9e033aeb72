package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/bibcite/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Library.Dormancy != 300*time.Second {
		t.Errorf("dormancy = %v", cfg.Library.Dormancy)
	}
	d := cfg.Defaults()
	if d.Bibshow.Template != "bibshow-definition-list" || d.Bibtex.Style != "ieee" {
		t.Errorf("directive defaults = %+v", d)
	}
}

func TestLibraryConfig_Format(t *testing.T) {
	cfg := LibraryConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty format should default: %v", err)
	}
	if cfg.Format != "auto" {
		t.Errorf("format = %q", cfg.Format)
	}
	cfg.Format = "ris"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestDirectivesConfig_MissingTemplate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Directives.Bibcite.Template = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "directives.bibcite") {
		t.Fatalf("err = %v, want directives.bibcite error", err)
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("BIBCITE_TEST_LIB", "https://example.org/lib.bib")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  http:
    port: 9090
library:
  default_url: ${BIBCITE_TEST_LIB}
  dormancy: 10m
  format: csl-json
directives:
  bibtex:
    style: apa
    template: bibtex-unordered-list
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 {
		t.Errorf("port = %d", cfg.App.HTTP.Port)
	}
	if cfg.Library.DefaultURL != "https://example.org/lib.bib" {
		t.Errorf("default url = %q", cfg.Library.DefaultURL)
	}
	if cfg.Library.Dormancy != 10*time.Minute || cfg.Library.Format != "csl-json" {
		t.Errorf("library = %+v", cfg.Library)
	}
	if cfg.Directives.Bibtex.Style != "apa" || cfg.Directives.Bibshow.Style != "ieee" {
		t.Errorf("directives = %+v", cfg.Directives)
	}
	if cfg.Library.FetchConfig().Dormancy != 10*time.Minute {
		t.Error("fetch config not derived from library section")
	}
}

func TestLibraryConfig_AllowedHosts(t *testing.T) {
	cfg := NewDefaultConfig().Library
	cfg.AllowedHosts = []string{"example.org", "*.uni.edu", "*"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid hosts rejected: %v", err)
	}

	for _, bad := range [][]string{{""}, {"https://example.org"}, {"example.org/path"}} {
		cfg.AllowedHosts = bad
		if err := cfg.Validate(); err == nil {
			t.Errorf("allowed_hosts %q should fail validation", bad)
		}
	}

	cfg.AllowedHosts = nil
	cfg.DefaultURL = "ftp://example.org/lib.bib"
	if err := cfg.Validate(); err == nil {
		t.Error("non-http default_url should fail validation")
	}
}

func TestLibraryConfig_HostPolicy(t *testing.T) {
	cfg := NewDefaultConfig().Library
	cfg.DefaultURL = "https://refs.example.org/lib.bib"
	cfg.AllowedHosts = []string{"*.uni.edu"}
	p := cfg.HostPolicy()

	if err := p.Check("https://refs.example.org/other.bib"); err != nil {
		t.Errorf("default library host rejected: %v", err)
	}
	if err := p.Check("https://lib.uni.edu/a.bib"); err != nil {
		t.Errorf("listed host rejected: %v", err)
	}
	if err := p.Check("http://127.0.0.1:8080/admin"); err == nil {
		t.Error("unlisted host accepted")
	}

	if err := NewDefaultConfig().Library.HostPolicy().Check("https://example.org/x.bib"); err == nil {
		t.Error("empty allowlist without default url should reject every host")
	}
}
