package esmvaltool

import (
	"errors"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/geo"
	"github.com/ewatercycle/ewatercycle-go/internal/geo/geotest"
)

func decode(t *testing.T, r Recipe) map[string]any {
	t.Helper()
	data, err := r.YAML()
	if err != nil {
		t.Fatalf("YAML() err=%v", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("yaml.Unmarshal() err=%v\n%s", err, data)
	}
	return out
}

func dig(t *testing.T, m map[string]any, path ...string) any {
	t.Helper()
	var cur any = m
	for _, p := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("%s: not a mapping at %q", strings.Join(path, "."), p)
		}
		cur, ok = mm[p]
		if !ok {
			t.Fatalf("%s: missing %q", strings.Join(path, "."), p)
		}
	}
	return cur
}

func TestGenericDistributedRecipe(t *testing.T) {
	r, err := GenericDistributedRecipe(GenericRequest{
		StartYear: 2000,
		EndYear:   2001,
		Shape:     "/data/Rhine.shp",
	})
	if err != nil {
		t.Fatalf("GenericDistributedRecipe() err=%v", err)
	}

	if got, want := r.Preprocessors.Keys(), []string{"spatial", "pr", "tas", "tasmin", "tasmax"}; !slices.Equal(got, want) {
		t.Fatalf("preprocessors=%v, want %v", got, want)
	}
	doc := decode(t, r)
	if got := dig(t, doc, "documentation", "title"); got != "Generic distributed forcing recipe" {
		t.Fatalf("title=%v", got)
	}
	datasets := dig(t, doc, "datasets").([]any)
	ds := datasets[0].(map[string]any)
	if ds["dataset"] != "ERA5" || ds["project"] != "OBS6" || ds["tier"] != 3 || ds["type"] != "reanaly" || ds["version"] != 1 {
		t.Fatalf("dataset=%v", ds)
	}
	if got := dig(t, doc, "preprocessors", "tas", "extract_shape", "shapefile"); got != "/data/Rhine.shp" {
		t.Fatalf("tas shapefile=%v", got)
	}
	if got := dig(t, doc, "preprocessors", "tas", "extract_shape", "crop"); got != true {
		t.Fatalf("crop=%v, want true", got)
	}
	pr := dig(t, doc, "diagnostics", "diagnostic", "variables", "pr").(map[string]any)
	if pr["start_year"] != 2000 || pr["end_year"] != 2001 || pr["preprocessor"] != "pr" {
		t.Fatalf("pr variable=%v", pr)
	}
	if got := dig(t, doc, "diagnostics", "diagnostic", "scripts", "script", "script"); got != CopyDiagnostic {
		t.Fatalf("script=%v, want %s", got, CopyDiagnostic)
	}
}

func TestGenericLumpedRecipe(t *testing.T) {
	r, err := GenericLumpedRecipe(GenericRequest{
		StartYear:   1990,
		EndYear:     1991,
		Shape:       "/data/Rhine.shp",
		DatasetName: "ERA-Interim",
		Variables:   []string{"pr"},
	})
	if err != nil {
		t.Fatalf("GenericLumpedRecipe() err=%v", err)
	}
	p, ok := r.Preprocessors.Get("pr")
	if !ok {
		t.Fatalf("missing pr preprocessor")
	}
	if got, want := p.Keys(), []string{"extract_shape", "area_statistics"}; !slices.Equal(got, want) {
		t.Fatalf("pr steps=%v, want %v", got, want)
	}
	if r.Datasets[0].Dataset != "ERA-Interim" {
		t.Fatalf("dataset=%s", r.Datasets[0].Dataset)
	}
}

func TestBuilder_NoDataset(t *testing.T) {
	_, err := NewBuilder().AddVariables("pr").Build()
	if !errors.Is(err, ErrNoDataset) {
		t.Fatalf("Build() err=%v, want ErrNoDataset", err)
	}
}

func TestBuilder_UnknownDataset(t *testing.T) {
	_, err := NewBuilder().Dataset("MERRA").Build()
	if !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("Build() err=%v, want ErrUnknownDataset", err)
	}
}

func TestBuilder_DefaultYears(t *testing.T) {
	r, err := NewBuilder().Dataset("ERA5").AddVariables("pr").Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	diag, _ := r.Diagnostics.Get(DiagnosticName)
	v, _ := diag.Variables.Get("pr")
	if v.StartYear != DefaultStartYear || v.EndYear != DefaultEndYear {
		t.Fatalf("years=%d-%d, want %d-%d", v.StartYear, v.EndYear, DefaultStartYear, DefaultEndYear)
	}
}

func TestBuilder_Climatology(t *testing.T) {
	r, err := NewBuilder().
		Dataset("ERA5").
		Start(2000).End(2001).
		Shape("/data/Rhine.shp").
		AddVariable("pr", VariableOptions{Units: "kg m-2 d-1"}).
		AddVariable("pr_climatology", VariableOptions{
			Units:     "kg m-2 d-1",
			Stats:     &DailyMean,
			ShortName: "pr",
			StartYear: 1990,
			EndYear:   1991,
		}).
		Script("hydrology/pcrglobwb.py", map[string]any{"basin": "Rhine"}).
		Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	p, _ := r.Preprocessors.Get("pr_climatology")
	if got, want := p.Keys(), []string{"extract_shape", "convert_units", "climate_statistics"}; !slices.Equal(got, want) {
		t.Fatalf("steps=%v, want %v", got, want)
	}
	doc := decode(t, r)
	clim := dig(t, doc, "diagnostics", "diagnostic", "variables", "pr_climatology").(map[string]any)
	if clim["short_name"] != "pr" || clim["start_year"] != 1990 || clim["end_year"] != 1991 {
		t.Fatalf("pr_climatology=%v", clim)
	}
	if got := dig(t, doc, "preprocessors", "pr_climatology", "climate_statistics", "operator"); got != "mean" {
		t.Fatalf("operator=%v", got)
	}
	script := dig(t, doc, "diagnostics", "diagnostic", "scripts", "script").(map[string]any)
	if script["script"] != "hydrology/pcrglobwb.py" || script["basin"] != "Rhine" {
		t.Fatalf("script=%v", script)
	}
}

func TestBuilder_InvalidStatistics(t *testing.T) {
	_, err := NewBuilder().Dataset("ERA5").
		AddVariable("pr", VariableOptions{Stats: &ClimateStatistics{Operator: "mode", Period: "day"}}).
		Build()
	if err == nil {
		t.Fatalf("Build() expected error for unknown operator")
	}
}

func TestBuilder_ExistingPreprocessorIsKept(t *testing.T) {
	r, err := NewBuilder().Dataset("ERA5").
		AddUnit("pr", "mm d-1").
		Shape("/data/Rhine.shp").
		AddVariables("pr").
		Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	p, _ := r.Preprocessors.Get("pr")
	if got := p.Keys(); !slices.Equal(got, []string{"convert_units"}) {
		t.Fatalf("pr steps=%v, want [convert_units]", got)
	}
}

func TestBuilder_RegionByShape(t *testing.T) {
	shape := geotest.WriteSquareShape(t, t.TempDir(), "Rhine", 4.12, 50.04, 7.36, 52.97)
	r, err := NewBuilder().Dataset("ERA5").RegionByShape(shape, 3).AddVariables("tas").Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	p, _ := r.Preprocessors.Get("tas")
	region, ok := p.Get("extract_region")
	if !ok {
		t.Fatalf("tas steps=%v, want extract_region", p.Keys())
	}
	if got := region["start_longitude"].(float64); math.Abs(got-1.1) > 1e-9 {
		t.Fatalf("start_longitude=%v, want 1.1", got)
	}
	if got := region["end_latitude"].(float64); math.Abs(got-56.0) > 1e-9 {
		t.Fatalf("end_latitude=%v, want 56", got)
	}
}

func TestBuilder_RegionByShapeMissingFile(t *testing.T) {
	_, err := NewBuilder().Dataset("ERA5").RegionByShape(filepath.Join(t.TempDir(), "nope.shp"), 0).Build()
	if err == nil {
		t.Fatalf("Build() expected error")
	}
}

func TestBuilder_Region(t *testing.T) {
	r, err := NewBuilder().Dataset("ERA5").
		Region(geo.Extents{StartLongitude: 3, EndLongitude: 10, StartLatitude: 45, EndLatitude: 52}).
		Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	doc := decode(t, r)
	if got := dig(t, doc, "preprocessors", "spatial", "extract_region", "end_longitude"); got != 10 && got != 10.0 {
		t.Fatalf("end_longitude=%v", got)
	}
}

func TestBuilder_RegridBeforeShape(t *testing.T) {
	grid := TargetGrid{StartLongitude: 3, StartLatitude: 46, EndLongitude: 12, EndLatitude: 55, StepLongitude: 0.1, StepLatitude: 0.1}
	r, err := NewBuilder().Dataset("ERA5").
		Shape("/data/Rhine.shp").
		Regrid("linear", grid).
		AddVariable("pr", VariableOptions{Units: "kg m-2 d-1"}).
		Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	p, _ := r.Preprocessors.Get("pr")
	if got, want := p.Keys(), []string{"regrid", "extract_shape", "convert_units"}; !slices.Equal(got, want) {
		t.Fatalf("pr steps=%v, want %v", got, want)
	}
	doc := decode(t, r)
	if got := dig(t, doc, "preprocessors", "spatial", "regrid", "target_grid", "step_latitude"); got != 0.1 {
		t.Fatalf("step_latitude=%v, want 0.1", got)
	}
	if got := dig(t, doc, "diagnostics", "diagnostic", "variables", "pr", "mip"); got != DefaultMip {
		t.Fatalf("mip=%v, want %s", got, DefaultMip)
	}
}
