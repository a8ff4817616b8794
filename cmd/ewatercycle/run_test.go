package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/bmi/bmitest"
	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
)

type gridPlugin struct{ fake *bmitest.Model }

func (gridPlugin) Name() string                           { return "grid" }
func (gridPlugin) Versions() []string                     { return nil }
func (gridPlugin) Image(string) container.Image           { return "" }
func (gridPlugin) Parameters(model.Env) []model.Parameter { return nil }
func (p gridPlugin) NewBmi() bmi.Bmi                      { return p.fake }

func (gridPlugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	return model.WriteYAMLConfig(env.CfgDir, nil, params)
}

func runningModel(t *testing.T, fake *bmitest.Model) *model.Model {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	m, err := model.New(cfg, gridPlugin{fake: fake}, model.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, _, err := m.Setup(context.Background(), model.SetupRequest{}); err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	return m
}

func TestSample_GridMeanSkipsMissingCells(t *testing.T) {
	fake := bmitest.New()
	fake.Vars["discharge"] = []float64{1, 3, model.MissingValue, math.NaN(), 2, model.MissingValue}
	m := runningModel(t, fake)

	a := &app{}
	got, err := a.sample(context.Background(), m, runFlags{variable: "discharge", lat: math.NaN(), lon: math.NaN()})
	if err != nil {
		t.Fatalf("sample() err=%v", err)
	}
	if got != 2 {
		t.Fatalf("sample()=%v, want 2", got)
	}
}

func TestGridMean(t *testing.T) {
	if got := gridMean([]float64{1, 3, -999}); got != 2 {
		t.Fatalf("gridMean([1 3 -999])=%v, want 2", got)
	}
	if got := gridMean([]float64{-999, math.NaN()}); !math.IsNaN(got) {
		t.Fatalf("gridMean(no data)=%v, want NaN", got)
	}
}
