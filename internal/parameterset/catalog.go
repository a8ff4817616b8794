package parameterset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

// All returns every parameter set in the configuration.
func All(cfg config.Config) []ParameterSet {
	out := make([]ParameterSet, 0, len(cfg.ParameterSets))
	for _, name := range cfg.ParameterSetNames() {
		ps := FromConfig(name, cfg.ParameterSets[name])
		if err := ps.MakeAbsolute(cfg.ParametersetDir); err != nil {
			slog.Warn("parameter set paths not resolved", "parameter_set", name, "error", err)
		}
		out = append(out, ps)
	}
	return out
}

// Available lists the names of the parameter sets present on disk, limited
// to targetModel when it is not empty.
func Available(cfg config.Config, targetModel string) ([]string, error) {
	all := All(cfg)
	if len(all) == 0 {
		if cfg.Source == "" {
			return nil, errors.New("no configuration file found")
		}
		return nil, fmt.Errorf("no parameter sets defined in %s, download the examples or define your own", cfg.Source)
	}
	var names []string
	for _, ps := range all {
		if ps.IsAvailable() && (targetModel == "" || ps.TargetModel == targetModel) {
			names = append(names, ps.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no parameter sets defined for %s model in %s", targetModel, cfg.Source)
	}
	return names, nil
}

// Get returns the named parameter set if its files are present.
func Get(cfg config.Config, name string) (ParameterSet, error) {
	e, ok := cfg.ParameterSets[name]
	if !ok {
		return ParameterSet{}, fmt.Errorf("%w: no parameter set available with name %s", ErrNotFound, name)
	}
	ps := FromConfig(name, e)
	if err := ps.MakeAbsolute(cfg.ParametersetDir); err != nil {
		return ParameterSet{}, err
	}
	if !ps.IsAvailable() {
		return ParameterSet{}, fmt.Errorf("%w: cannot find parameter set with attributes\n%s", ErrNotAvailable, ps)
	}
	return ps, nil
}

// DownloadExamples downloads sets into the configured parameterset_dir,
// records them in the configuration and saves it.
func DownloadExamples(ctx context.Context, store *config.Store, sets []ParameterSet, force bool, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := store.Get().ParametersetDir
	downloaded := make([]ParameterSet, 0, len(sets))
	for _, ps := range sets {
		if err := ps.Download(ctx, dir, force, logger); err != nil {
			return "", err
		}
		downloaded = append(downloaded, ps)
	}
	logger.Info("example parameter sets downloaded", "count", len(downloaded))

	err := store.Update(func(c *config.Config) {
		for _, ps := range downloaded {
			c.ParameterSets[ps.Name] = ps.Entry()
		}
	})
	if err != nil {
		return "", err
	}
	path, err := store.Save("")
	if err != nil {
		dump, _ := store.Get().Dump()
		return "", fmt.Errorf("write parameter sets to configuration file, save the content below manually:\n%s\n: %w", dump, err)
	}
	logger.Info("saved parameter sets to configuration file", "path", path)
	return path, nil
}
