package esmvaltool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

func attrs(t *testing.T, kv map[string]any) api.AttributeMap {
	t.Helper()
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	m, err := util.NewOrderedMap(keys, kv)
	if err != nil {
		t.Fatalf("NewOrderedMap() err=%v", err)
	}
	return m
}

// writeForcingNC writes a file whose first data variable is name, preceded
// by a time coordinate with bounds.
func writeForcingNC(t *testing.T, path, name string) {
	t.Helper()
	w, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatalf("OpenWriter() err=%v", err)
	}
	vars := []struct {
		name string
		v    api.Variable
	}{
		{"time", api.Variable{
			Values:     []float64{0, 1, 2},
			Dimensions: []string{"time"},
			Attributes: attrs(t, map[string]any{"bounds": "time_bnds", "units": "days since 2000-01-01"}),
		}},
		{"time_bnds", api.Variable{
			Values:     [][]float64{{0, 1}, {1, 2}, {2, 3}},
			Dimensions: []string{"time", "bnds"},
			Attributes: attrs(t, map[string]any{}),
		}},
		{name, api.Variable{
			Values:     []float32{1.5, 2.5, 3.5},
			Dimensions: []string{"time"},
			Attributes: attrs(t, map[string]any{"units": "kg m-2 s-1"}),
		}},
	}
	for _, v := range vars {
		if err := w.AddVar(v.name, v.v); err != nil {
			t.Fatalf("AddVar(%s) err=%v", v.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFirstDataVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OBS6_ERA5_reanaly_1_day_pr_2000-2001.nc")
	writeForcingNC(t, path, "pr")

	got, err := FirstDataVariable(path)
	if err != nil {
		t.Fatalf("FirstDataVariable() err=%v", err)
	}
	if got != "pr" {
		t.Fatalf("FirstDataVariable()=%q, want pr", got)
	}
}

func TestParseOutput(t *testing.T) {
	dir := t.TempDir()
	writeForcingNC(t, filepath.Join(dir, "OBS6_ERA5_reanaly_1_day_pr_2000-2001.nc"), "pr")
	for _, name := range []string{"map.png", "Derived_Makkink_evspsblpot.csv", "OBS6_ERA5_reanaly_1_day_pr_2000-2001_provenance.xml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := ParseOutput(dir)
	if err != nil {
		t.Fatalf("ParseOutput() err=%v", err)
	}
	if out.Directory != dir {
		t.Fatalf("Directory=%s, want %s", out.Directory, dir)
	}
	want := map[string]string{
		"pr":                         "OBS6_ERA5_reanaly_1_day_pr_2000-2001.nc",
		"Derived_Makkink_evspsblpot": "Derived_Makkink_evspsblpot.csv",
	}
	if len(out.Files) != len(want) {
		t.Fatalf("Files=%v, want %v", out.Files, want)
	}
	for k, v := range want {
		if out.Files[k] != v {
			t.Fatalf("Files[%s]=%q, want %q", k, out.Files[k], v)
		}
	}
}

func TestParseOutput_Empty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plot.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ParseOutput(dir)
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("ParseOutput() err=%v, want ErrNoOutput", err)
	}
	if !strings.Contains(err.Error(), "No recipe output files found") {
		t.Fatalf("ParseOutput() err=%q", err)
	}
}

func TestRunner_Run(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "esmvaltool_output")
	recipe, err := GenericDistributedRecipe(GenericRequest{StartYear: 2000, EndYear: 2001, Shape: "/data/Rhine.shp", Variables: []string{"pr"}})
	if err != nil {
		t.Fatalf("GenericDistributedRecipe() err=%v", err)
	}

	var gotArgs []string
	r := NewRunner(Config{Bin: "esmvaltool", OutputDir: outDir}, discardLogger())
	r.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		recipePath := args[len(args)-1]
		if !strings.HasPrefix(filepath.Base(recipePath), "ewcrep") || filepath.Ext(recipePath) != ".yml" {
			t.Errorf("recipe file %s, want ewcrep*.yml", recipePath)
		}
		saved, err := LoadRecipe(recipePath)
		if err != nil {
			t.Fatalf("LoadRecipe() err=%v", err)
		}
		diag, _ := saved.Diagnostics.Get(DiagnosticName)
		script, _ := diag.Scripts.Get(ScriptName)
		if !filepath.IsAbs(script.Script) {
			t.Errorf("script=%s, want absolute path to copy diagnostic", script.Script)
		}
		if _, err := os.Stat(script.Script); err != nil {
			t.Errorf("copy diagnostic missing: %v", err)
		}

		stem := strings.TrimSuffix(filepath.Base(recipePath), ".yml")
		older := filepath.Join(args[2], stem+"_20200101_000000", "work", DiagnosticName, ScriptName)
		newer := filepath.Join(args[2], stem+"_20240305_131155", "work", DiagnosticName, ScriptName)
		for _, d := range []string{older, newer} {
			if err := os.MkdirAll(d, 0o755); err != nil {
				t.Fatal(err)
			}
		}
		writeForcingNC(t, filepath.Join(newer, "OBS6_ERA5_reanaly_1_day_pr_2000-2001.nc"), "pr")
		return []byte("Run was successful"), nil
	}

	out, err := r.Run(context.Background(), recipe, "")
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if gotArgs[0] != "esmvaltool" || gotArgs[1] != "run" || gotArgs[2] != "--output_dir" || gotArgs[3] != outDir {
		t.Fatalf("args=%v", gotArgs)
	}
	if !strings.Contains(out.Directory, "_20240305_131155") {
		t.Fatalf("Directory=%s, want newest run", out.Directory)
	}
	if out.Files["pr"] != "OBS6_ERA5_reanaly_1_day_pr_2000-2001.nc" {
		t.Fatalf("Files=%v", out.Files)
	}

	diag, _ := recipe.Diagnostics.Get(DiagnosticName)
	script, _ := diag.Scripts.Get(ScriptName)
	if script.Script != CopyDiagnostic {
		t.Fatalf("Run() changed the caller's recipe script to %s", script.Script)
	}
}

func TestRunner_RunFailure(t *testing.T) {
	recipe, err := GenericDistributedRecipe(GenericRequest{Shape: "/data/Rhine.shp"})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(Config{Bin: "esmvaltool", OutputDir: t.TempDir()}, discardLogger())
	r.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("ERROR No input files found for variable pr"), errors.New("exit status 1")
	}
	_, err = r.Run(context.Background(), recipe, "")
	if err == nil || !strings.Contains(err.Error(), "No input files found") {
		t.Fatalf("Run() err=%v, want esmvaltool output in error", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("EWATERCYCLE_ESMVALTOOL_BIN", "/opt/esmvaltool/bin/esmvaltool")
	t.Setenv("EWATERCYCLE_ESMVALTOOL_OUTPUT_DIR", "/scratch/esmvaltool")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Bin != "/opt/esmvaltool/bin/esmvaltool" || cfg.OutputDir != "/scratch/esmvaltool" {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}

	t.Setenv("EWATERCYCLE_ESMVALTOOL_BIN", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error for empty binary")
	}
}
