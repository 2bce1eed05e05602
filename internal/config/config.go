// Package config loads themesync.yaml.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "themesync.yaml"

var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrMissingThemeID       = errors.New("missing theme_id")
)

//go:embed schema.json
var schemaJSON []byte

type Config struct {
	Store      string           `yaml:"store"`
	APIKey     string           `yaml:"api_key"`
	Password   string           `yaml:"password"`
	ThemeID    ID               `yaml:"theme_id"`
	Root       string           `yaml:"root"`
	BaseURL    string           `yaml:"base_url"`
	APIVersion string           `yaml:"api_version"`
	Journal    string           `yaml:"journal"`
	Queue      QueueConfig      `yaml:"queue"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
}

type QueueConfig struct {
	Cooldown       Duration `yaml:"cooldown"`
	LowWater       int      `yaml:"low_water"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type EventsConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PreprocessConfig struct {
	YAMLSchema bool `yaml:"yaml_schema"`
	SourceMaps bool `yaml:"source_maps"`
	LiquidExt  bool `yaml:"liquid_ext"`
	Flatten    bool `yaml:"flatten"`
}

// ID accepts both numeric and quoted theme ids.
type ID string

func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("theme_id must be a scalar")
	}
	*id = ID(strings.TrimSpace(node.Value))
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Duration parses strings like "600ms" or "20s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func Default() Config {
	return Config{
		Root: ".",
		Queue: QueueConfig{
			Cooldown:       Duration{600 * time.Millisecond},
			LowWater:       1,
			RequestTimeout: Duration{20 * time.Second},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path, expands environment references, checks the document
// against the embedded schema and decodes it over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse([]byte(ExpandEnv(string(data))), path)
}

// Parse validates and decodes an already expanded document. name only
// labels errors.
func Parse(data []byte, name string) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	if raw != nil {
		if err := validateSchema(raw); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", name, err)
		}
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
	}
	return &cfg, nil
}

// Validate reports what a sync run cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Store) == "" {
		missing = append(missing, "store")
	}
	if strings.TrimSpace(c.Password) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfiguration, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(c.ThemeID.String()) == "" {
		return ErrMissingThemeID
	}
	return nil
}

// ValidateEvents rejects a status API address without a JWT secret, since
// the API would otherwise be reachable with tokens anyone can sign.
func (c *Config) ValidateEvents() error {
	if strings.TrimSpace(c.Events.Addr) != "" && strings.TrimSpace(c.Events.JWTSecret) == "" {
		return fmt.Errorf("%w: events.jwt_secret is required when events.addr is set", ErrMissingConfiguration)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("themesync.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("themesync.schema.json")
	})
	return schema, schemaErr
}

// validateSchema round-trips the YAML value through JSON so the validator
// sees the same number and map types it would for a JSON document.
func validateSchema(raw any) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
