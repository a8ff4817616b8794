// Package parameterset describes the static input files of a model and how
// to fetch them.
package parameterset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
)

var (
	ErrNotFound     = errors.New("parameter_set_not_found")
	ErrNotAvailable = errors.New("parameter_set_not_available")
	ErrNoDownloader = errors.New("parameter_set_has_no_downloader")
)

// Downloader fills a directory with the files of a parameter set.
type Downloader interface {
	Download(ctx context.Context, dir string) error
}

type ParameterSet struct {
	Name string
	// Directory holds the files. Relative paths are resolved against the
	// parameterset_dir of the configuration.
	Directory string
	// Config is the model configuration file. Relative paths are resolved
	// against Directory.
	Config string
	DOI    string
	// TargetModel is the model the set works with.
	TargetModel string
	// SupportedModelVersions lists the model versions the set works with.
	// Empty means every version.
	SupportedModelVersions []string
	Downloader             Downloader
}

func New(name, directory, cfg string) ParameterSet {
	return ParameterSet{Name: name, Directory: directory, Config: cfg, DOI: "N/A", TargetModel: "generic"}
}

func FromConfig(name string, e config.ParameterSetEntry) ParameterSet {
	ps := New(name, e.Directory, e.Config)
	if e.DOI != "" {
		ps.DOI = e.DOI
	}
	if e.TargetModel != "" {
		ps.TargetModel = e.TargetModel
	}
	ps.SupportedModelVersions = slices.Clone(e.SupportedModelVersions)
	return ps
}

// Entry returns the form stored under parameter_sets in the configuration.
func (p ParameterSet) Entry() config.ParameterSetEntry {
	versions := slices.Clone(p.SupportedModelVersions)
	slices.Sort(versions)
	return config.ParameterSetEntry{
		Directory:              p.Directory,
		Config:                 p.Config,
		DOI:                    p.DOI,
		TargetModel:            p.TargetModel,
		SupportedModelVersions: versions,
	}
}

// MakeAbsolute resolves Directory against parametersetDir and Config
// against Directory.
func (p *ParameterSet) MakeAbsolute(parametersetDir string) error {
	e, err := p.Entry().MakeAbsolute(parametersetDir)
	if err != nil {
		return fmt.Errorf("parameter set %s: %w", p.Name, err)
	}
	p.Directory, p.Config = e.Directory, e.Config
	return nil
}

// IsAvailable reports whether both the directory and the config file exist.
func (p ParameterSet) IsAvailable() bool {
	return fsutil.Exists(p.Directory) && fsutil.Exists(p.Config)
}

// SupportsVersion reports whether the set can be used with model version v.
func (p ParameterSet) SupportsVersion(v string) bool {
	return len(p.SupportedModelVersions) == 0 || slices.Contains(p.SupportedModelVersions, v)
}

// Download fetches the set below parametersetDir. It is skipped when the
// config file already exists, unless force is set.
func (p *ParameterSet) Download(ctx context.Context, parametersetDir string, force bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := p.MakeAbsolute(parametersetDir); err != nil {
		return err
	}
	if fsutil.Exists(p.Config) && !force {
		logger.Info("parameter set already exists, skipping download", "parameter_set", p.Name, "directory", p.Directory)
		return nil
	}
	if p.Downloader == nil {
		return fmt.Errorf("%w: cannot download parameter set %s", ErrNoDownloader, p.Name)
	}
	if err := os.MkdirAll(p.Directory, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", p.Directory, err)
	}
	logger.Info("downloading parameter set", "parameter_set", p.Name, "directory", p.Directory)
	if err := p.Downloader.Download(ctx, p.Directory); err != nil {
		return fmt.Errorf("download parameter set %s: %w", p.Name, err)
	}
	logger.Info("download complete", "parameter_set", p.Name)
	return nil
}

func (p ParameterSet) String() string {
	var b strings.Builder
	b.WriteString("Parameter set\n-------------\n")
	fmt.Fprintf(&b, "name=%s\n", p.Name)
	fmt.Fprintf(&b, "directory=%s\n", p.Directory)
	fmt.Fprintf(&b, "config=%s\n", p.Config)
	fmt.Fprintf(&b, "doi=%s\n", p.DOI)
	fmt.Fprintf(&b, "target_model=%s\n", p.TargetModel)
	fmt.Fprintf(&b, "supported_model_versions=%s", strings.Join(p.SupportedModelVersions, ","))
	return b.String()
}
