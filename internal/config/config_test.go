package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "themesync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("THEMESYNC_TEST_PASSWORD", "shpat_123")
	path := writeConfig(t, `
store: demo-shop
api_key: key
password: ${THEMESYNC_TEST_PASSWORD}
theme_id: 123456
root: ./theme
journal: ${THEMESYNC_TEST_JOURNAL:-memory://}
queue:
  cooldown: 750ms
  low_water: 2
  request_timeout: 30s
events:
  addr: 127.0.0.1:8787
  jwt_secret: s3cret
log:
  level: debug
preprocess:
  yaml_schema: true
  source_maps: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Password != "shpat_123" {
		t.Fatalf("expected expanded password, got %q", cfg.Password)
	}
	if cfg.ThemeID != "123456" {
		t.Fatalf("expected numeric theme id as string, got %q", cfg.ThemeID)
	}
	if cfg.Journal != "memory://" {
		t.Fatalf("expected default journal, got %q", cfg.Journal)
	}
	if cfg.Queue.Cooldown.Duration != 750*time.Millisecond || cfg.Queue.LowWater != 2 || cfg.Queue.RequestTimeout.Duration != 30*time.Second {
		t.Fatalf("unexpected queue config %+v", cfg.Queue)
	}
	if !cfg.Preprocess.YAMLSchema || !cfg.Preprocess.SourceMaps || cfg.Preprocess.Flatten {
		t.Fatalf("unexpected preprocess config %+v", cfg.Preprocess)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "store: demo-shop\npassword: x\ntheme_id: \"42\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Queue.Cooldown.Duration != 600*time.Millisecond || cfg.Queue.LowWater != 1 || cfg.Root != "." {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	for name, content := range map[string]string{
		"unknown field": "store: demo-shop\nshop_name: legacy\n",
		"bad duration":  "store: demo-shop\nqueue:\n  cooldown: soon\n",
		"bad level":     "store: demo-shop\nlog:\n  level: loud\n",
		"bad theme id":  "store: demo-shop\ntheme_id: main\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected schema error, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected missing configuration, got %v", err)
	}
	cfg.Store = "demo-shop"
	cfg.Password = "x"
	if err := cfg.Validate(); !errors.Is(err, ErrMissingThemeID) {
		t.Fatalf("expected missing theme id, got %v", err)
	}
	cfg.ThemeID = "42"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("THEMESYNC_TEST_SET", "value")
	got := ExpandEnv("a=${THEMESYNC_TEST_SET} b=${THEMESYNC_TEST_UNSET} c=${THEMESYNC_TEST_UNSET:-fallback}")
	if got != "a=value b= c=fallback" {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestValidateEventsRequiresSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateEvents(); err != nil {
		t.Fatalf("expected no error without an events address, got %v", err)
	}
	cfg.Events.Addr = "127.0.0.1:8090"
	if err := cfg.ValidateEvents(); !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected missing configuration, got %v", err)
	}
	cfg.Events.JWTSecret = "s3cret"
	if err := cfg.ValidateEvents(); err != nil {
		t.Fatalf("expected valid events config, got %v", err)
	}
}
