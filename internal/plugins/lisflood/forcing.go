package lisflood

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/geo"
)

const (
	DiagnosticScript = "hydrology/lisflood.py"
	// DefaultGridStep is the cell size used when no target grid is given.
	DefaultGridStep = 0.1

	OptionTargetGrid = "target_grid"
	OptionRunLisvap  = "run_lisvap"
)

// TargetGrid is the target_grid option as read from YAML or flags.
type TargetGrid struct {
	StartLongitude float64 `yaml:"start_longitude"`
	EndLongitude   float64 `yaml:"end_longitude"`
	StepLongitude  float64 `yaml:"step_longitude"`
	StartLatitude  float64 `yaml:"start_latitude"`
	EndLatitude    float64 `yaml:"end_latitude"`
	StepLatitude   float64 `yaml:"step_latitude"`
}

func (g TargetGrid) esmvaltool() esmvaltool.TargetGrid {
	return esmvaltool.TargetGrid{
		StartLongitude: g.StartLongitude,
		StartLatitude:  g.StartLatitude,
		EndLongitude:   g.EndLongitude,
		EndLatitude:    g.EndLatitude,
		StepLongitude:  g.StepLongitude,
		StepLatitude:   g.StepLatitude,
	}
}

// LisvapOptions is the run_lisvap option.
type LisvapOptions struct {
	// Config is the LISVAP settings template.
	Config string `yaml:"lisvap_config"`
	// MaskMap has the extent and resolution of the parameter set.
	MaskMap string `yaml:"mask_map"`
	Version string `yaml:"version"`
	// ParameterSetDir holds maps_netcdf with the LISVAP base maps.
	ParameterSetDir string `yaml:"parameterset_dir"`
}

// decodeOption converts a typed or map valued option into out.
func decodeOption(v any, out any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func targetGrid(r forcing.Request) (esmvaltool.TargetGrid, bool, error) {
	v, ok := r.Options[OptionTargetGrid]
	if !ok || v == nil {
		return esmvaltool.TargetGrid{}, false, nil
	}
	switch g := v.(type) {
	case esmvaltool.TargetGrid:
		return g, true, nil
	case TargetGrid:
		return g.esmvaltool(), true, nil
	}
	var g TargetGrid
	if err := decodeOption(v, &g); err != nil {
		return esmvaltool.TargetGrid{}, false, fmt.Errorf("option %s: %w", OptionTargetGrid, err)
	}
	return g.esmvaltool(), true, nil
}

func lisvapOptions(r forcing.Request) (*LisvapOptions, error) {
	v, ok := r.Options[OptionRunLisvap]
	if !ok || v == nil {
		return nil, nil
	}
	o, ok := v.(LisvapOptions)
	if !ok {
		if err := decodeOption(v, &o); err != nil {
			return nil, fmt.Errorf("option %s: %w", OptionRunLisvap, err)
		}
	}
	if o.Config == "" || o.MaskMap == "" || o.ParameterSetDir == "" {
		return nil, fmt.Errorf("%w: %s needs lisvap_config, mask_map and parameterset_dir", forcing.ErrInvalid, OptionRunLisvap)
	}
	for _, p := range []*string{&o.Config, &o.MaskMap, &o.ParameterSetDir} {
		abs, err := fsutil.Abs(*p, fsutil.PathOptions{})
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", OptionRunLisvap, err)
		}
		*p = abs
	}
	return &o, nil
}

// Recipe regrids each variable onto the target grid, cuts it to the shape
// and converts it to the units LISVAP and LISFLOOD read. Without a target
// grid a 0.1 degree grid around the shape is used.
func Recipe(r forcing.Request) (esmvaltool.Recipe, error) {
	grid, ok, err := targetGrid(r)
	if err != nil {
		return esmvaltool.Recipe{}, err
	}
	if !ok {
		e, err := geo.ShapeExtents(r.Shape, 0)
		if err != nil {
			return esmvaltool.Recipe{}, fmt.Errorf("guess target grid: %w", err)
		}
		grid = esmvaltool.GridFromExtents(geo.FitExtentsToGrid(e, DefaultGridStep, DefaultGridStep/2, 4), DefaultGridStep)
	}

	b := esmvaltool.NewBuilder().
		Title("Lisflood forcing recipe").
		Description("Lisflood forcing recipe")
	r.ApplyDataset(b)
	celsius := esmvaltool.VariableOptions{Units: "degC"}
	return b.Start(r.StartTime.Year()).
		End(r.EndTime.Year()).
		Shape(r.Shape).
		Regrid("linear", grid).
		AddVariable("pr", esmvaltool.VariableOptions{Units: "kg m-2 d-1"}).
		AddVariable("tas", celsius).
		AddVariable("tasmax", celsius).
		AddVariable("tasmin", celsius).
		AddVariable("tdps", esmvaltool.VariableOptions{Mip: "Eday", Units: "degC"}).
		AddVariable("uas", esmvaltool.VariableOptions{}).
		AddVariable("vas", esmvaltool.VariableOptions{}).
		AddVariable("rsds", esmvaltool.VariableOptions{Units: "J m-2 day-1"}).
		Script(DiagnosticScript, map[string]any{"catchment": stem(r.Shape)}).
		Build()
}

// ForcingSpec generates LISFLOOD forcing. When the request carries the
// run_lisvap option the evaporation maps are computed with lv.
func ForcingSpec(lv *Lisvap, logger *slog.Logger) forcing.Spec {
	if logger == nil {
		logger = slog.Default()
	}
	return forcing.Spec{
		Kind:   forcing.KindLisflood,
		Recipe: Recipe,
		Construct: func(ctx context.Context, base forcing.Base, out esmvaltool.Output, req forcing.Request) (forcing.Forcing, error) {
			for _, name := range []string{"pr", "tas"} {
				if _, ok := out.Files[name]; !ok {
					return nil, fmt.Errorf("%w: recipe output has no %s file", forcing.ErrUnknownVariable, name)
				}
			}
			opts, err := lisvapOptions(req)
			if err != nil {
				return nil, err
			}
			base.Filenames = maps.Clone(out.Files)
			f := forcing.NewLisflood(base)
			f.PrefixPrecipitation = out.Files["pr"]
			f.PrefixTavg = out.Files["tas"]
			if opts == nil {
				logger.Warn("run_lisvap is not set, no forcing data is generated for e0, es0 and et0; the recipe output holds the LISVAP input",
					"directory", out.Directory)
				return f, nil
			}
			if lv == nil {
				return nil, fmt.Errorf("%w: %s is set but no container engine is configured", forcing.ErrInvalid, OptionRunLisvap)
			}
			files, err := lv.Run(ctx, LisvapRun{
				Options:    *opts,
				ForcingDir: out.Directory,
				Dataset:    datasetName(req),
				Basin:      stem(req.Shape),
				StartTime:  req.StartTime,
				EndTime:    req.EndTime,
				Files:      out.Files,
			})
			if err != nil {
				return nil, err
			}
			maps.Copy(f.Filenames, files)
			f.PrefixE0 = files["e0"]
			f.PrefixES0 = files["es0"]
			f.PrefixET0 = files["et0"]
			return f, nil
		},
	}
}

func datasetName(r forcing.Request) string {
	switch {
	case r.Dataset.Dataset != "":
		return r.Dataset.Dataset
	case r.DatasetName != "":
		return r.DatasetName
	default:
		return "ERA5"
	}
}
