package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/platform/env"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("ewatercycle.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// UserConfigPath is $XDG_CONFIG_HOME/ewatercycle/ewatercycle.yaml.
func UserConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "ewatercycle", FileName)
}

const SystemConfigPath = "/etc/" + FileName

// SearchPaths lists candidate config files in lookup order.
func SearchPaths() []string {
	if p := strings.TrimSpace(env.String("EWATERCYCLE_CONFIG", "")); p != "" {
		return []string{p}
	}
	return []string{UserConfigPath(), SystemConfigPath}
}

// Find returns the first existing config file, or "" when none exists.
func Find() string {
	for _, p := range SearchPaths() {
		if fsutil.Exists(p) {
			return p
		}
	}
	return ""
}

// Parse validates raw YAML against the config schema and decodes it.
func Parse(data []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return Default(), nil
	}
	sch, err := compiledSchema()
	if err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("convert config: %w", err)
	}
	var generic any
	if err := json.Unmarshal(blob, &generic); err != nil {
		return Config{}, fmt.Errorf("convert config: %w", err)
	}
	if err := sch.Validate(generic); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load reads, validates and normalizes the config file at path.
func Load(path string, logger *slog.Logger) (Config, error) {
	abs, err := fsutil.Abs(path, fsutil.PathOptions{})
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s does not exist: %w", abs, err)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", abs, err)
	}
	cfg.Source = abs
	if err := cfg.Normalize(logger); err != nil {
		return Config{}, fmt.Errorf("%s: %w", abs, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

// FromEnv loads the config file found by Find (or the defaults) and applies
// EWATERCYCLE_* overrides.
func FromEnv(logger *slog.Logger) (Config, error) {
	cfg := Default()
	if p := Find(); p != "" {
		loaded, err := Load(p, logger)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if v := env.String("EWATERCYCLE_CONTAINER_ENGINE", ""); v != "" {
		engine, err := ParseEngine(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse EWATERCYCLE_CONTAINER_ENGINE: %w", err)
		}
		cfg.ContainerEngine = engine
	}
	cfg.OutputDir = env.String("EWATERCYCLE_OUTPUT_DIR", cfg.OutputDir)
	cfg.ParametersetDir = env.String("EWATERCYCLE_PARAMETERSET_DIR", cfg.ParametersetDir)
	cfg.ApptainerDir = env.String("EWATERCYCLE_APPTAINER_DIR", cfg.ApptainerDir)
	cfg.GRDCLocation = env.String("EWATERCYCLE_GRDC_LOCATION", cfg.GRDCLocation)
	if err := cfg.Normalize(logger); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dump renders the config as YAML without its source path.
func (c Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// Save writes the config to path. An empty path means the file it was loaded
// from, or the user config path when it was built in memory.
func (c Config) Save(path string) (string, error) {
	if path == "" {
		path = c.Source
	}
	if path == "" {
		path = UserConfigPath()
	}
	text, err := c.Dump()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
