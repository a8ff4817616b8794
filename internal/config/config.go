// Package config holds the eWaterCycle configuration: where parameter sets,
// GRDC observations and container images live, which container engine runs
// the models and where model output goes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
)

const FileName = "ewatercycle.yaml"

var ErrUnknownEngine = errors.New("unknown_container_engine")

type Engine string

const (
	EngineDocker    Engine = "docker"
	EngineApptainer Engine = "apptainer"
)

// ParseEngine accepts docker and apptainer; singularity is an alias of apptainer.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "docker":
		return EngineDocker, nil
	case "apptainer", "singularity":
		return EngineApptainer, nil
	default:
		return "", fmt.Errorf("%w: %q, must be docker or apptainer", ErrUnknownEngine, s)
	}
}

type ParameterSetEntry struct {
	Directory              string   `yaml:"directory" json:"directory"`
	Config                 string   `yaml:"config" json:"config"`
	DOI                    string   `yaml:"doi,omitempty" json:"doi,omitempty"`
	TargetModel            string   `yaml:"target_model,omitempty" json:"target_model,omitempty"`
	SupportedModelVersions []string `yaml:"supported_model_versions,omitempty" json:"supported_model_versions,omitempty"`
}

type Config struct {
	GRDCLocation    string                       `yaml:"grdc_location,omitempty"`
	ContainerEngine Engine                       `yaml:"container_engine,omitempty"`
	ApptainerDir    string                       `yaml:"apptainer_dir,omitempty"`
	SingularityDir  string                       `yaml:"singularity_dir,omitempty"`
	OutputDir       string                       `yaml:"output_dir,omitempty"`
	ParametersetDir string                       `yaml:"parameterset_dir,omitempty"`
	ParameterSets   map[string]ParameterSetEntry `yaml:"parameter_sets,omitempty"`

	// Source is the file the configuration was loaded from, empty when built in memory.
	Source string `yaml:"-"`
}

func Default() Config {
	return Config{
		GRDCLocation:    ".",
		ContainerEngine: EngineDocker,
		ApptainerDir:    ".",
		OutputDir:       ".",
		ParametersetDir: ".",
		ParameterSets:   map[string]ParameterSetEntry{},
	}
}

func (c Config) Clone() Config {
	out := c
	out.ParameterSets = make(map[string]ParameterSetEntry, len(c.ParameterSets))
	for name, ps := range c.ParameterSets {
		ps.SupportedModelVersions = slices.Clone(ps.SupportedModelVersions)
		out.ParameterSets[name] = ps
	}
	return out
}

// ParameterSetNames returns the configured parameter set names in sorted order.
func (c Config) ParameterSetNames() []string {
	return slices.Sorted(maps.Keys(c.ParameterSets))
}

func (c Config) Validate() error {
	if _, err := ParseEngine(string(c.ContainerEngine)); err != nil {
		return err
	}
	dirs := []struct {
		key   string
		value string
	}{
		{"grdc_location", c.GRDCLocation},
		{"apptainer_dir", c.ApptainerDir},
		{"output_dir", c.OutputDir},
		{"parameterset_dir", c.ParametersetDir},
	}
	for _, d := range dirs {
		if d.value == "" {
			continue
		}
		p, err := fsutil.Abs(d.value, fsutil.PathOptions{})
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if !fsutil.IsDir(p) {
			return fmt.Errorf("%s: %s is not an existing directory", d.key, d.value)
		}
	}
	for name, ps := range c.ParameterSets {
		if strings.TrimSpace(ps.Directory) == "" {
			return fmt.Errorf("parameter_sets.%s.directory is required", name)
		}
		if strings.TrimSpace(ps.Config) == "" {
			return fmt.Errorf("parameter_sets.%s.config is required", name)
		}
	}
	return nil
}

// Normalize expands home directories, folds the deprecated singularity_dir into
// apptainer_dir and makes parameter set paths absolute. Missing parameter set
// files are reported through logger.
func (c *Config) Normalize(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c.ContainerEngine == "" {
		c.ContainerEngine = EngineDocker
	}
	engine, err := ParseEngine(string(c.ContainerEngine))
	if err != nil {
		return err
	}
	c.ContainerEngine = engine

	if c.SingularityDir != "" {
		source := c.Source
		if source == "" {
			source = "in-memory object"
		}
		logger.Warn("singularity_dir field has been deprecated, use apptainer_dir", "config", source)
		c.ApptainerDir = c.SingularityDir
		c.SingularityDir = ""
	}

	for _, p := range []*string{&c.GRDCLocation, &c.ApptainerDir, &c.OutputDir, &c.ParametersetDir} {
		if *p == "" || *p == "." {
			continue
		}
		abs, err := fsutil.Abs(*p, fsutil.PathOptions{})
		if err != nil {
			return err
		}
		*p = abs
	}

	if c.ParameterSets == nil {
		c.ParameterSets = map[string]ParameterSetEntry{}
	}
	for name, ps := range c.ParameterSets {
		abs, err := ps.MakeAbsolute(c.ParametersetDir)
		if err != nil {
			return fmt.Errorf("parameter set %s: %w", name, err)
		}
		if !fsutil.Exists(abs.Directory) {
			logger.Warn("parameter set loaded in config but directory does not seem to exist",
				"parameter_set", name, "directory", abs.Directory)
		}
		if !fsutil.Exists(abs.Config) {
			logger.Warn("parameter set loaded in config but config does not seem to exist",
				"parameter_set", name, "config", abs.Config)
		}
		c.ParameterSets[name] = abs
	}
	return nil
}

// MakeAbsolute resolves Directory against root and Config against Directory.
func (p ParameterSetEntry) MakeAbsolute(root string) (ParameterSetEntry, error) {
	if root == "" {
		root = "."
	}
	dir, err := fsutil.Abs(p.Directory, fsutil.PathOptions{Parent: root})
	if err != nil {
		return p, err
	}
	cfg, err := fsutil.Abs(p.Config, fsutil.PathOptions{Parent: dir})
	if err != nil {
		return p, err
	}
	p.Directory = dir
	p.Config = cfg
	return p, nil
}
