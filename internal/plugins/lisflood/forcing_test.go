package lisflood

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/geo/geotest"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
)

func testRequest(t *testing.T) forcing.Request {
	t.Helper()
	return forcing.Request{
		DatasetName: "ERA5",
		StartTime:   isotime.MustParse("1990-01-01T00:00:00Z"),
		EndTime:     isotime.MustParse("1990-12-31T00:00:00Z"),
		Shape:       geotest.WriteSquareShape(t, t.TempDir(), "Rhine", 4.12, 50.01, 7.38, 52.96),
	}
}

func TestRecipe_GuessesTargetGrid(t *testing.T) {
	r, err := Recipe(testRequest(t))
	if err != nil {
		t.Fatalf("Recipe() err=%v", err)
	}
	pr, _ := r.Preprocessors.Get("pr")
	if want := []string{"regrid", "extract_shape", "convert_units"}; !reflect.DeepEqual(pr.Keys(), want) {
		t.Fatalf("pr steps=%v, want %v", pr.Keys(), want)
	}
	regrid, _ := pr.Get("regrid")
	grid := regrid["target_grid"].(map[string]any)
	if grid["start_longitude"] != 4.05 || grid["end_latitude"] != 53.05 || grid["step_latitude"] != 0.1 {
		t.Fatalf("target_grid=%v", grid)
	}
	diag, _ := r.Diagnostics.Get(esmvaltool.DiagnosticName)
	tdps, _ := diag.Variables.Get("tdps")
	if tdps.Mip != "Eday" {
		t.Fatalf("tdps mip=%s, want Eday", tdps.Mip)
	}
	script, _ := diag.Scripts.Get(esmvaltool.ScriptName)
	if script.Script != DiagnosticScript || script.Args["catchment"] != "Rhine" {
		t.Fatalf("script=%+v", script)
	}
}

func TestRecipe_TargetGridOption(t *testing.T) {
	req := testRequest(t)
	req.Options = map[string]any{OptionTargetGrid: map[string]any{
		"start_longitude": 0.0, "end_longitude": 10.0, "step_longitude": 0.5,
		"start_latitude": 40.0, "end_latitude": 50.0, "step_latitude": 0.5,
	}}
	r, err := Recipe(req)
	if err != nil {
		t.Fatalf("Recipe() err=%v", err)
	}
	spatial, _ := r.Preprocessors.Get(esmvaltool.SpatialName)
	regrid, _ := spatial.Get("regrid")
	grid := regrid["target_grid"].(map[string]any)
	if grid["end_longitude"] != 10.0 || grid["step_longitude"] != 0.5 {
		t.Fatalf("target_grid=%v", grid)
	}
}

const lisvapTemplate = `<lfsettings>
  <textvar name="CalendarDayStart" value=""/>
  <textvar name="StepStart" value=""/>
  <textvar name="StepEnd" value=""/>
  <textvar name="PathOut" value=""/>
  <textvar name="PathBaseMapsIn" value=""/>
  <textvar name="MaskMap" value=""/>
  <textvar name="PathMeteoIn" value=""/>
  <textvar name="TAvgMaps" value=""/>
  <textvar name="TMaxMaps" value=""/>
  <textvar name="TMinMaps" value=""/>
  <textvar name="EActMaps" value=""/>
  <textvar name="WindMaps" value=""/>
  <textvar name="RgdMaps" value=""/>
  <textvar name="PrefixE0" value=""/>
  <textvar name="PrefixES0" value=""/>
  <textvar name="PrefixET0" value=""/>
</lfsettings>
`

func recipeFiles() map[string]string {
	files := map[string]string{}
	for _, v := range []string{"pr", "tas", "tasmax", "tasmin", "e", "sfcWind", "rsds"} {
		files[v] = "lisflood_ERA5_Rhine_" + v + "_1990_1990.nc"
	}
	return files
}

func TestForcingSpec_RunsLisvap(t *testing.T) {
	psDir := t.TempDir()
	template := filepath.Join(psDir, "lisvap.xml")
	if err := os.WriteFile(template, []byte(lisvapTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()
	var calls [][]string
	lv := &Lisvap{
		Config: config.Config{ContainerEngine: config.EngineDocker},
		Runner: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, append([]string{name}, args...))
			return nil, nil
		},
	}
	req := testRequest(t)
	req.Options = map[string]any{OptionRunLisvap: map[string]any{
		"lisvap_config":    template,
		"mask_map":         filepath.Join(psDir, "model_mask.nc"),
		"version":          "20.10",
		"parameterset_dir": psDir,
	}}
	spec := ForcingSpec(lv, nil)
	out := esmvaltool.Output{Directory: outDir, Files: recipeFiles()}

	f, err := spec.Construct(context.Background(), forcing.Base{Directory: outDir}, out, req)
	if err != nil {
		t.Fatalf("Construct() err=%v", err)
	}
	lf := f.(*forcing.Lisflood)
	if lf.PrefixE0 != "lisflood_ERA5_Rhine_e0_1990_1990.nc" || lf.PrefixPrecipitation != "lisflood_ERA5_Rhine_pr_1990_1990.nc" {
		t.Fatalf("Construct()=%+v", lf)
	}
	if lf.Filenames["et0"] != "lisflood_ERA5_Rhine_et0_1990_1990.nc" {
		t.Fatalf("Filenames=%v", lf.Filenames)
	}

	if len(calls) != 1 || calls[0][0] != "docker" {
		t.Fatalf("calls=%v", calls)
	}
	cfgFile := filepath.Join(outDir, "lisvap_ERA5_setting.xml")
	if last := calls[0][len(calls[0])-1]; last != cfgFile {
		t.Fatalf("lisvap config arg=%s, want %s", last, cfgFile)
	}
	s, err := LoadSettings(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"CalendarDayStart": "01/01/1990 00:00",
		"StepEnd":          "31/12/1990 00:00",
		"PathBaseMapsIn":   psDir + "/maps_netcdf",
		"MaskMap":          filepath.Join(psDir, "model_mask"),
		"PathMeteoIn":      outDir,
		"WindMaps":         "$(PathMeteoIn)/lisflood_ERA5_Rhine_sfcWind_1990_1990",
		"PrefixES0":        "lisflood_ERA5_Rhine_es0_1990_1990",
	}
	for name, v := range want {
		if got, _ := s.Value(name); got != v {
			t.Errorf("%s=%q, want %q", name, got, v)
		}
	}
}

func TestForcingSpec_WithoutLisvap(t *testing.T) {
	spec := ForcingSpec(nil, nil)
	out := esmvaltool.Output{Directory: "/out", Files: recipeFiles()}
	f, err := spec.Construct(context.Background(), forcing.Base{Directory: "/out"}, out, testRequest(t))
	if err != nil {
		t.Fatalf("Construct() err=%v", err)
	}
	lf := f.(*forcing.Lisflood)
	if lf.PrefixE0 != "e0.nc" || !strings.HasSuffix(lf.PrefixTavg, "_tas_1990_1990.nc") {
		t.Fatalf("Construct()=%+v", lf)
	}
}

func TestForcingSpec_LisvapWithoutEngine(t *testing.T) {
	req := testRequest(t)
	req.Options = map[string]any{OptionRunLisvap: LisvapOptions{Config: "a.xml", MaskMap: "m.nc", ParameterSetDir: "/ps"}}
	out := esmvaltool.Output{Directory: "/out", Files: recipeFiles()}
	if _, err := ForcingSpec(nil, nil).Construct(context.Background(), forcing.Base{}, out, req); err == nil {
		t.Fatalf("Construct() err=nil without a lisvap runner")
	}
}
