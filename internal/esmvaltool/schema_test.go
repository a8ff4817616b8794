package esmvaltool

import (
	"bytes"
	"slices"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestOrdered_KeepsInsertionOrder(t *testing.T) {
	var o Ordered[int]
	o.Set("z", 1)
	o.Set("a", 2)
	o.Set("m", 3)
	o.Set("z", 4)

	data, err := yaml.Marshal(o)
	if err != nil {
		t.Fatalf("yaml.Marshal() err=%v", err)
	}
	if got, want := string(data), "z: 4\na: 2\nm: 3\n"; got != want {
		t.Fatalf("yaml.Marshal()=%q, want %q", got, want)
	}

	var back Ordered[int]
	if err := yaml.Unmarshal([]byte("b: 1\nc: 2\na: 3\n"), &back); err != nil {
		t.Fatalf("yaml.Unmarshal() err=%v", err)
	}
	if got := back.Keys(); !slices.Equal(got, []string{"b", "c", "a"}) {
		t.Fatalf("Keys()=%v", got)
	}

	back.Delete("c")
	if got := back.Keys(); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("Keys() after Delete=%v", got)
	}
}

func TestRecipe_RoundTrip(t *testing.T) {
	r, err := NewBuilder().
		Title("PCRGlobWB forcing recipe").
		Dataset("ERA5").
		Start(2000).End(2001).
		Shape("/data/Rhine.shp").
		AddVariable("pr", VariableOptions{Units: "kg m-2 d-1"}).
		AddVariable("tas_climatology", VariableOptions{Stats: &DailyMean, ShortName: "tas"}).
		Script("hydrology/pcrglobwb.py", map[string]any{"basin": "Rhine"}).
		Build()
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	first, err := r.YAML()
	if err != nil {
		t.Fatalf("YAML() err=%v", err)
	}
	parsed, err := ParseRecipe(first)
	if err != nil {
		t.Fatalf("ParseRecipe() err=%v", err)
	}
	second, err := parsed.YAML()
	if err != nil {
		t.Fatalf("YAML() err=%v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("round trip changed recipe:\n%s\n---\n%s", first, second)
	}
}

func TestParseRecipe_ExtraDatasetKeys(t *testing.T) {
	doc := `
documentation:
  title: cmip
  description: cmip
  authors: [unmaintained]
datasets:
  - dataset: EC-Earth3
    project: CMIP6
    exp: [historical]
    ensemble: r6i1p1f1
    grid: gr
    institute: EC-Earth-Consortium
diagnostics:
  diagnostic:
    scripts:
      script:
        script: examples/diagnostic.py
        quickplot:
          plot_type: pcolormesh
`
	r, err := ParseRecipe([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRecipe() err=%v", err)
	}
	ds := r.Datasets[0]
	if ds.Extra["institute"] != "EC-Earth-Consortium" {
		t.Fatalf("Extra=%v", ds.Extra)
	}
	if exp, ok := ds.Exp.([]any); !ok || exp[0] != "historical" {
		t.Fatalf("Exp=%#v", ds.Exp)
	}
	diag, _ := r.Diagnostics.Get("diagnostic")
	script, _ := diag.Scripts.Get("script")
	if _, ok := script.Args["quickplot"]; !ok {
		t.Fatalf("script args=%v", script.Args)
	}
}

func TestParseRecipe_NoDiagnostics(t *testing.T) {
	if _, err := ParseRecipe([]byte("documentation:\n  title: x\n")); err == nil {
		t.Fatalf("ParseRecipe() expected error")
	}
}

func TestClimateStatistics_Validate(t *testing.T) {
	if err := DailyMean.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if err := (ClimateStatistics{Operator: "mean", Period: "week"}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for period week")
	}
}
