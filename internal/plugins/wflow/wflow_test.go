package wflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-ini/ini"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/bmi/bmitest"
	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/geo/geotest"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

const sbmIni = `[framework]
netcdfoutput = outmaps.nc
netcdfinput = inmaps/forcing.nc

[run]
starttime = 1991-01-01 00:00:00
endtime = 1991-12-31 00:00:00
timestepsecs = 86400

[inputmapstacks]
Precipitation = /inmaps/P
EvapoTranspiration = /inmaps/PET
Temperature = /inmaps/TEMP
`

func testEnv(t *testing.T, withForcing bool) model.Env {
	t.Helper()
	psDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(psDir, "wflow_sbm_nc.ini"), []byte(sbmIni), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(psDir, "staticmaps"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(psDir, "staticmaps", "wflow_dem.map"), []byte("dem"), 0o644); err != nil {
		t.Fatal(err)
	}
	ps := parameterset.New("wflow_rhine_sbm_nc", psDir, "wflow_sbm_nc.ini")
	ps.TargetModel = Name
	env := model.Env{ParameterSet: &ps, CfgDir: t.TempDir()}
	if withForcing {
		fdir := t.TempDir()
		if err := os.WriteFile(filepath.Join(fdir, "wflow_ERA5_Rhine_1990_1990.nc"), []byte("nc"), 0o644); err != nil {
			t.Fatal(err)
		}
		f := forcing.NewWflow(forcing.Base{
			StartTime: isotime.MustParse("1990-01-01T00:00:00Z"),
			EndTime:   isotime.MustParse("1990-12-31T00:00:00Z"),
			Directory: fdir,
		})
		f.NetcdfInput = "wflow_ERA5_Rhine_1990_1990.nc"
		f.Inflow = "/inflow"
		env.Forcing = f
	}
	return env
}

func TestParameters(t *testing.T) {
	got := New().Parameters(testEnv(t, false))
	want := []model.Parameter{
		{Name: "start_time", Value: "1991-01-01T00:00:00Z"},
		{Name: "end_time", Value: "1991-12-31T00:00:00Z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parameters()=%v, want %v", got, want)
	}
}

func TestSetup_WithForcing(t *testing.T) {
	env := testEnv(t, true)
	p := New().(*Plugin)
	ctx := context.Background()
	if err := p.PrepareCfgDir(ctx, env); err != nil {
		t.Fatalf("PrepareCfgDir() err=%v", err)
	}
	for _, name := range []string{"wflow_sbm_nc.ini", "staticmaps/wflow_dem.map", "wflow_ERA5_Rhine_1990_1990.nc"} {
		if _, err := os.Stat(filepath.Join(env.CfgDir, name)); err != nil {
			t.Fatalf("%s not copied: %v", name, err)
		}
	}
	path, err := p.MakeCfgFile(ctx, env, map[string]any{"end_time": "1990-06-30T00:00:00Z"})
	if err != nil {
		t.Fatalf("MakeCfgFile() err=%v", err)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	for _, c := range []struct{ section, key, want string }{
		{"framework", "netcdfinput", "wflow_ERA5_Rhine_1990_1990.nc"},
		{"framework", "netcdfoutput", "outmaps.nc"},
		{"run", "starttime", "1990-01-01 00:00:00"},
		{"run", "endtime", "1990-06-30 00:00:00"},
		{"inputmapstacks", "Precipitation", "/pr"},
		{"inputmapstacks", "EvapoTranspiration", "/pet"},
		{"inputmapstacks", "Temperature", "/tas"},
		{"inputmapstacks", "Inflow", "/inflow"},
		{"API", "RiverRunoff", "2, m/s"},
	} {
		if got := cfg.Section(c.section).Key(c.key).String(); got != c.want {
			t.Fatalf("%s.%s=%q, want %q", c.section, c.key, got, c.want)
		}
	}
	dirs := p.InputDirs(env)
	if want := []string{env.ParameterSet.Directory, env.Forcing.Common().Directory}; !reflect.DeepEqual(dirs, want) {
		t.Fatalf("InputDirs()=%v, want %v", dirs, want)
	}
}

func TestLoad_WrongForcing(t *testing.T) {
	env := testEnv(t, false)
	env.Forcing = forcing.NewHype(forcing.Base{})
	if _, err := New().MakeCfgFile(context.Background(), env, nil); !errors.Is(err, ErrWrongForcing) {
		t.Fatalf("MakeCfgFile()=%v, want ErrWrongForcing", err)
	}
}

func TestWrappers_SwapXY(t *testing.T) {
	fake := bmitest.New()
	wrapped := bmi.Wrap(fake, New().(*Plugin).Wrappers()...)
	x, err := wrapped.GetGridX(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetGridX() err=%v", err)
	}
	if !reflect.DeepEqual(x, fake.Y) {
		t.Fatalf("GetGridX()=%v, want %v", x, fake.Y)
	}
}

func TestRecipe_PaddedShapeRegion(t *testing.T) {
	shape := geotest.WriteSquareShape(t, t.TempDir(), "Rhine", 4.12, 50.01, 7.38, 52.96)
	r, err := Recipe(forcing.Request{
		StartTime: isotime.MustParse("1990-01-01T00:00:00Z"),
		EndTime:   isotime.MustParse("1990-12-31T00:00:00Z"),
		Shape:     shape,
		Options:   map[string]any{OptionDEMFile: "wflow_parameterset/meuse/staticmaps/wflow_dem.map"},
	})
	if err != nil {
		t.Fatalf("Recipe() err=%v", err)
	}
	diag, _ := r.Diagnostics.Get(esmvaltool.DiagnosticName)
	if want := []string{"tas", "pr", "psl", "rsds", "orog", "rsdt"}; !reflect.DeepEqual(diag.Variables.Keys(), want) {
		t.Fatalf("variables=%v, want %v", diag.Variables.Keys(), want)
	}
	orog, _ := diag.Variables.Get("orog")
	if orog.Mip != "fix" {
		t.Fatalf("orog mip=%s", orog.Mip)
	}
	script, _ := diag.Scripts.Get(esmvaltool.ScriptName)
	if script.Args["basin"] != "Rhine" || script.Args["regrid"] != "area_weighted" {
		t.Fatalf("script args=%v", script.Args)
	}
	p, _ := r.Preprocessors.Get("tas")
	region, _ := p.Get("extract_region")
	if region["start_longitude"] != 1.1 || region["end_latitude"] != 56.0 {
		t.Fatalf("extract_region=%v", region)
	}
}

func TestRecipe_RequiresDEM(t *testing.T) {
	if _, err := Recipe(forcing.Request{Shape: "/data/Rhine.shp"}); !errors.Is(err, forcing.ErrInvalid) {
		t.Fatalf("Recipe()=%v, want ErrInvalid", err)
	}
}
