package model

import (
	"context"
	"log/slog"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

// Parameter is one setting of a model with its current value.
type Parameter struct {
	Name  string
	Value any
}

// Env is what a plugin sees of the model it belongs to.
type Env struct {
	Config       config.Config
	ParameterSet *parameterset.ParameterSet
	Forcing      forcing.Forcing
	Version      string
	// CfgDir is empty before Setup.
	CfgDir string
	Logger *slog.Logger
}

// Plugin knows one hydrological model: its image, its settings and how to
// write its configuration file.
type Plugin interface {
	// Name is the lower case model name parameter sets refer to in their
	// target_model.
	Name() string
	// Versions lists the supported versions, the first one is the default.
	// An empty list accepts any version.
	Versions() []string
	// Image returns the container image of version. Local plugins return "".
	Image(version string) container.Image
	// Parameters lists the settings Setup accepts with their defaults.
	Parameters(env Env) []Parameter
	// MakeCfgFile writes the model configuration into env.CfgDir and returns
	// its path. params holds the values passed to Setup.
	MakeCfgFile(ctx context.Context, env Env, params map[string]any) (string, error)
}

// CfgDirMaker prepares the config directory before the config file is
// written, for models that want their input copied next to it.
type CfgDirMaker interface {
	PrepareCfgDir(ctx context.Context, env Env) error
}

// InputDirsProvider adds directories the container must be able to read.
type InputDirsProvider interface {
	InputDirs(env Env) []string
}

// WrapperProvider adds BMI wrappers, applied after memoization.
type WrapperProvider interface {
	Wrappers() []bmi.Wrapper
}

// CoordIndexer maps coordinates to flat grid indices for models whose grid
// is not a plain lon/lat raster.
type CoordIndexer interface {
	CoordsToIndices(ctx context.Context, b bmi.Bmi, name string, lats, lons []float64) ([]int, error)
}

// GridProvider returns the lat/lon grid of a variable.
type GridProvider interface {
	LatLonGrid(ctx context.Context, b bmi.Bmi, name string) (Grid, error)
}

// FinalizeHook replaces the remote finalize call.
type FinalizeHook interface {
	Finalize(ctx context.Context, b bmi.Bmi) error
}

// LocalPlugin runs its BMI in process.
type LocalPlugin interface {
	Plugin
	NewBmi() bmi.Bmi
}
