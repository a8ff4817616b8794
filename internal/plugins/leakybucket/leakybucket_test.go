package leakybucket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/ncutil"
)

func day(d int) time.Time { return time.Date(2000, 1, d, 0, 0, 0, 0, time.UTC) }

// writeForcing writes five days of pr on two cells. The cell means are
// 10, 0, 20, 0 and 5 mm/day.
func writeForcing(t *testing.T) forcing.Forcing {
	t.Helper()
	dir := t.TempDir()
	err := ncutil.Write(filepath.Join(dir, "pr.nc"), []ncutil.Variable{
		{Name: "time", Dimensions: []string{"time"}, Values: []float64{0, 1, 2, 3, 4}, Attributes: map[string]any{"units": "days since 2000-01-01 00:00:00"}},
		{Name: "lat", Dimensions: []string{"lat"}, Values: []float64{51, 53}},
		{Name: "lon", Dimensions: []string{"lon"}, Values: []float64{4.5}},
		{
			Name:       "pr",
			Dimensions: []string{"time", "lat"},
			Shape:      []int{5, 2},
			Values:     []float64{5, 15, 0, 0, 20, 20, 0, 0, 10, 0},
			Attributes: map[string]any{"units": "kg m-2 d-1"},
		},
	})
	if err != nil {
		t.Fatalf("write forcing: %v", err)
	}
	f, err := forcing.New(forcing.KindGenericLumped, forcing.Base{
		StartTime: day(1),
		EndTime:   day(5),
		Directory: dir,
		Filenames: map[string]string{"pr": "pr.nc"},
	})
	if err != nil {
		t.Fatalf("forcing.New() err=%v", err)
	}
	return f
}

func newModel(t *testing.T, f forcing.Forcing) *model.Model {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	m, err := model.New(cfg, New(), model.Options{
		Forcing: f,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("model.New() err=%v", err)
	}
	return m
}

func TestParameters(t *testing.T) {
	got := New().Parameters(model.Env{Forcing: writeForcing(t)})
	want := []model.Parameter{
		{Name: "leakiness", Value: DefaultLeakiness},
		{Name: "start_time", Value: "2000-01-01T00:00:00Z"},
		{Name: "end_time", Value: "2000-01-05T00:00:00Z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parameters()=%v, want %v", got, want)
	}
	if got := New().Parameters(model.Env{}); len(got) != 1 {
		t.Fatalf("Parameters() without forcing=%v, want only leakiness", got)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, writeForcing(t))
	cfgFile, _, err := m.Setup(ctx, model.SetupRequest{Params: map[string]any{"leakiness": 0.5}})
	if err != nil {
		t.Fatalf("Setup() err=%v", err)
	}
	data, err := os.ReadFile(cfgFile)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "leakiness: 0.5\n") || !strings.Contains(string(data), "pr.nc") {
		t.Fatalf("config.yaml=%q", data)
	}
	if err := m.Initialize(ctx, cfgFile); err != nil {
		t.Fatalf("Initialize() err=%v", err)
	}

	// storage after each day: 5, 2.5, 11.25, 5.625, 5.3125
	want := []float64{5, 2.5, 11.25, 5.625, 5.3125}
	for i, q := range want {
		if err := m.Update(ctx); err != nil {
			t.Fatalf("Update() day %d err=%v", i+1, err)
		}
		got, err := m.GetValue(ctx, "discharge")
		if err != nil {
			t.Fatalf("GetValue() err=%v", err)
		}
		if math.Abs(got[0]-q) > 1e-9 {
			t.Fatalf("discharge day %d=%v, want %v", i+1, got[0], q)
		}
	}
	now, err := m.CurrentTime(ctx)
	if err != nil {
		t.Fatalf("CurrentTime() err=%v", err)
	}
	if !now.Equal(day(6)) {
		t.Fatalf("CurrentTime()=%s, want %s", now, day(6))
	}
	if err := m.Update(ctx); !errors.Is(err, ErrPastEnd) {
		t.Fatalf("Update() past end err=%v, want ErrPastEnd", err)
	}
	if err := m.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
}

func TestSetup_OutsideForcing(t *testing.T) {
	m := newModel(t, writeForcing(t))
	_, _, err := m.Setup(context.Background(), model.SetupRequest{Params: map[string]any{"end_time": "2000-02-01T00:00:00Z"}})
	if !errors.Is(err, model.ErrOutsideForcingRange) {
		t.Fatalf("Setup() err=%v, want ErrOutsideForcingRange", err)
	}
}

func TestBucket_SetValue(t *testing.T) {
	ctx := context.Background()
	f := writeForcing(t)
	env := model.Env{Forcing: f, CfgDir: t.TempDir()}
	cfgFile, err := New().MakeCfgFile(ctx, env, map[string]any{"leakiness": 0.1, "start_time": "2000-01-02T00:00:00Z"})
	if err != nil {
		t.Fatalf("MakeCfgFile() err=%v", err)
	}
	b := &Bucket{}
	if _, err := b.GetValue(ctx, "storage"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetValue() before Initialize err=%v, want ErrNotInitialized", err)
	}
	if err := b.Initialize(ctx, cfgFile); err != nil {
		t.Fatalf("Initialize() err=%v", err)
	}
	start, _ := b.GetStartTime(ctx)
	if start != float64(day(2).Unix()) {
		t.Fatalf("GetStartTime()=%v, want %v", start, day(2).Unix())
	}
	if err := b.SetValue(ctx, "storage", []float64{100}); err != nil {
		t.Fatalf("SetValue(storage) err=%v", err)
	}
	if err := b.SetValue(ctx, "precipitation", []float64{50}); err != nil {
		t.Fatalf("SetValue(precipitation) err=%v", err)
	}
	if err := b.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	q, _ := b.GetValue(ctx, "discharge")
	if math.Abs(q[0]-15) > 1e-9 {
		t.Fatalf("discharge=%v, want 15", q[0])
	}
	if err := b.SetValue(ctx, "discharge", []float64{1}); !errors.Is(err, ErrUnknownVar) {
		t.Fatalf("SetValue(discharge) err=%v, want ErrUnknownVar", err)
	}
	if _, err := b.GetValueAtIndices(ctx, "storage", []int{1}); err == nil {
		t.Fatalf("GetValueAtIndices([1]) expected error")
	}
	x, _ := b.GetGridX(ctx, 0)
	y, _ := b.GetGridY(ctx, 0)
	if x[0] != 4.5 || y[0] != 52 {
		t.Fatalf("grid=(%v,%v), want (4.5,52)", x, y)
	}
}
