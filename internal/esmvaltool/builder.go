package esmvaltool

import (
	"errors"
	"fmt"
	"maps"

	"github.com/ewatercycle/ewatercycle-go/internal/geo"
)

const (
	DiagnosticName   = "diagnostic"
	SpatialName      = "spatial"
	ScriptName       = "script"
	DefaultStartYear = 0
	DefaultEndYear   = 10000
	DefaultMip       = "day"
)

// CopyDiagnostic names the built-in diagnostic that copies the preprocessed
// files to the diagnostic output. The runner replaces it with a real script
// path before handing the recipe to ESMValTool.
const CopyDiagnostic = "ewatercycle/copy.py"

var (
	ErrNoDataset      = errors.New("recipe has no dataset")
	ErrUnknownDataset = errors.New("unknown_dataset")
)

// VariableOptions tunes one variable. Zero values fall back to the builder
// defaults.
type VariableOptions struct {
	Mip       string
	Units     string
	Stats     *ClimateStatistics
	ShortName string
	StartYear int
	EndYear   int
}

// Builder assembles a recipe with a single dataset and a single diagnostic.
// Each variable gets its own preprocessor, a copy of the spatial
// preprocessor at the time the variable is added plus its unit conversion
// and climatology. Configure the spatial selection before adding variables.
type Builder struct {
	recipe    Recipe
	startYear int
	endYear   int
	err       error
}

func NewBuilder() *Builder {
	var diag Diagnostic
	diag.Scripts.Set(ScriptName, Script{Script: CopyDiagnostic})
	b := &Builder{
		recipe: Recipe{
			Documentation: Documentation{
				Authors:  []string{"unmaintained"},
				Projects: []string{"ewatercycle"},
			},
		},
		startYear: DefaultStartYear,
		endYear:   DefaultEndYear,
	}
	b.recipe.Diagnostics.Set(DiagnosticName, diag)
	return b
}

func (b *Builder) Title(title string) *Builder {
	b.recipe.Documentation.Title = title
	return b
}

func (b *Builder) Description(description string) *Builder {
	b.recipe.Documentation.Description = description
	return b
}

// Dataset selects a predefined dataset by name. An unknown name fails Build.
func (b *Builder) Dataset(name string) *Builder {
	d, ok := LookupDataset(name)
	if !ok {
		b.fail(fmt.Errorf("%w: %q, known datasets are %v", ErrUnknownDataset, name, DatasetNames()))
		return b
	}
	return b.DatasetValue(d)
}

// DatasetValue replaces the dataset. A recipe holds one dataset.
func (b *Builder) DatasetValue(d Dataset) *Builder {
	b.recipe.Datasets = []Dataset{d}
	return b
}

func (b *Builder) Start(year int) *Builder {
	b.startYear = year
	return b
}

func (b *Builder) End(year int) *Builder {
	b.endYear = year
	return b
}

// Shape selects the area inside a shapefile, cropped to its bounds.
func (b *Builder) Shape(file string) *Builder {
	return b.ShapeWith(file, true, false)
}

func (b *Builder) ShapeWith(file string, crop, decomposed bool) *Builder {
	var p Preprocessor
	p.Set("extract_shape", map[string]any{
		"shapefile":  file,
		"crop":       crop,
		"decomposed": decomposed,
	})
	b.recipe.Preprocessors.Set(SpatialName, p)
	return b
}

// Region selects a lon/lat box.
func (b *Builder) Region(e geo.Extents) *Builder {
	var p Preprocessor
	p.Set("extract_region", map[string]any{
		"start_longitude": e.StartLongitude,
		"end_longitude":   e.EndLongitude,
		"start_latitude":  e.StartLatitude,
		"end_latitude":    e.EndLatitude,
	})
	b.recipe.Preprocessors.Set(SpatialName, p)
	return b
}

// RegionByShape selects the padded bounding box of a shapefile.
func (b *Builder) RegionByShape(file string, pad float64) *Builder {
	e, err := geo.ShapeExtents(file, pad)
	if err != nil {
		b.fail(fmt.Errorf("region by shape: %w", err))
		return b
	}
	return b.Region(e)
}

// TargetGrid is a regular lon/lat grid given by its first and last cell
// centers and the spacing between them.
type TargetGrid struct {
	StartLongitude float64
	StartLatitude  float64
	EndLongitude   float64
	EndLatitude    float64
	StepLongitude  float64
	StepLatitude   float64
}

func (g TargetGrid) args() map[string]any {
	return map[string]any{
		"start_longitude": g.StartLongitude,
		"start_latitude":  g.StartLatitude,
		"end_longitude":   g.EndLongitude,
		"end_latitude":    g.EndLatitude,
		"step_longitude":  g.StepLongitude,
		"step_latitude":   g.StepLatitude,
	}
}

// GridFromExtents returns the grid with cell centers at the extents.
func GridFromExtents(e geo.Extents, step float64) TargetGrid {
	return TargetGrid{
		StartLongitude: e.StartLongitude,
		StartLatitude:  e.StartLatitude,
		EndLongitude:   e.EndLongitude,
		EndLatitude:    e.EndLatitude,
		StepLongitude:  step,
		StepLatitude:   step,
	}
}

// Regrid interpolates onto g before the current spatial selection is
// applied. Call it after Shape or Region.
func (b *Builder) Regrid(scheme string, g TargetGrid) *Builder {
	current, _ := b.recipe.Preprocessors.Get(SpatialName)
	var p Preprocessor
	p.Set("regrid", map[string]any{"scheme": scheme, "target_grid": g.args()})
	for _, key := range current.Keys() {
		if key == "regrid" {
			continue
		}
		v, _ := current.Get(key)
		p.Set(key, v)
	}
	b.recipe.Preprocessors.Set(SpatialName, p)
	return b
}

// Lump averages the spatial selection into a single value per time step.
func (b *Builder) Lump() *Builder {
	p, _ := b.recipe.Preprocessors.Get(SpatialName)
	p = p.Clone()
	p.Set("area_statistics", map[string]any{"operator": "mean"})
	b.recipe.Preprocessors.Set(SpatialName, p)
	return b
}

// AddUnit adds a preprocessor that only converts units.
func (b *Builder) AddUnit(name, units string) *Builder {
	var p Preprocessor
	p.Set("convert_units", map[string]any{"units": units})
	b.recipe.Preprocessors.Set(name, p)
	return b
}

func (b *Builder) AddVariables(names ...string) *Builder {
	for _, name := range names {
		b.AddVariable(name, VariableOptions{})
	}
	return b
}

func (b *Builder) AddVariable(name string, opts VariableOptions) *Builder {
	if opts.Stats != nil {
		if err := opts.Stats.Validate(); err != nil {
			b.fail(fmt.Errorf("variable %s: %w", name, err))
			return b
		}
	}
	preprocessor := b.addPreprocessor(name, opts)
	v := Variable{
		Mip:          opts.Mip,
		Preprocessor: preprocessor,
		StartYear:    opts.StartYear,
		EndYear:      opts.EndYear,
		ShortName:    opts.ShortName,
	}
	if v.Mip == "" {
		v.Mip = DefaultMip
	}
	if v.StartYear == 0 {
		v.StartYear = b.startYear
	}
	if v.EndYear == 0 {
		v.EndYear = b.endYear
	}
	diag := b.diagnostic()
	diag.Variables.Set(name, v)
	b.recipe.Diagnostics.Set(DiagnosticName, diag)
	return b
}

func (b *Builder) addPreprocessor(name string, opts VariableOptions) string {
	if b.recipe.Preprocessors.Has(name) {
		return name
	}
	spatial, _ := b.recipe.Preprocessors.Get(SpatialName)
	p := spatial.Clone()
	if opts.Units != "" {
		p.Set("convert_units", map[string]any{"units": opts.Units})
	}
	if opts.Stats != nil {
		p.Set("climate_statistics", opts.Stats.args())
	}
	b.recipe.Preprocessors.Set(name, p)
	return name
}

// Script replaces the diagnostic script. Arguments are passed to the script
// as extra keys.
func (b *Builder) Script(path string, args map[string]any) *Builder {
	diag := b.diagnostic()
	diag.Scripts.Set(ScriptName, Script{Script: path, Args: maps.Clone(args)})
	b.recipe.Diagnostics.Set(DiagnosticName, diag)
	return b
}

func (b *Builder) diagnostic() Diagnostic {
	diag, _ := b.recipe.Diagnostics.Get(DiagnosticName)
	return diag
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the recipe or the first error met while building it.
func (b *Builder) Build() (Recipe, error) {
	if b.err != nil {
		return Recipe{}, b.err
	}
	if len(b.recipe.Datasets) == 0 {
		return Recipe{}, ErrNoDataset
	}
	return b.recipe, nil
}
