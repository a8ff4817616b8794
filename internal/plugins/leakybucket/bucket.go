package leakybucket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/ncutil"
)

const (
	TimeUnits  = "seconds since 1970-01-01 00:00:00"
	secondsDay = 86400
)

var (
	ErrNotInitialized = errors.New("leakybucket_not_initialized")
	ErrPastEnd        = errors.New("leakybucket_past_end_time")
	ErrUnknownVar     = errors.New("leakybucket_unknown_variable")
)

var (
	inputVars  = []string{"precipitation", "storage"}
	outputVars = []string{"discharge", "storage", "precipitation"}
	units      = map[string]string{"discharge": "mm day-1", "storage": "mm", "precipitation": "mm day-1"}
)

// Bucket implements bmi.Bmi. Time is in seconds since the Unix epoch, one
// update is one day.
type Bucket struct {
	mu sync.Mutex

	initialized bool
	leakiness   float64
	precip      []float64 // mm/day, one per day from start
	start       float64
	end         float64
	current     float64
	step        int
	lat, lon    float64

	storage   float64
	discharge float64
	// nextPrecip overrides the forcing for the next update.
	nextPrecip *float64
}

func (b *Bucket) Initialize(_ context.Context, configFile string) error {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("read leakybucket config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("decode leakybucket config: %w", err)
	}
	start, err := isotime.Parse(cfg.StartTime)
	if err != nil {
		return fmt.Errorf("leakybucket start_time: %w", err)
	}
	end, err := isotime.Parse(cfg.EndTime)
	if err != nil {
		return fmt.Errorf("leakybucket end_time: %w", err)
	}
	in, err := readPrecipitation(cfg.PrecipitationFile)
	if err != nil {
		return err
	}

	var precip []float64
	for i, t := range in.times {
		if !t.Before(start) && !t.After(end) {
			precip = append(precip, in.series[i])
		}
	}
	if len(precip) == 0 {
		return fmt.Errorf("no precipitation between %s and %s in %s", start, end, cfg.PrecipitationFile)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	*b = Bucket{
		initialized: true,
		leakiness:   cfg.Leakiness,
		precip:      precip,
		start:       float64(start.Unix()),
		end:         float64(end.Unix()),
		current:     float64(start.Unix()),
		lat:         in.lat,
		lon:         in.lon,
	}
	return nil
}

type precipitation struct {
	series   []float64
	times    []time.Time
	lat, lon float64
}

// readPrecipitation returns the pr series averaged over all cells per time
// step in mm/day, and the mean lat/lon of the file.
func readPrecipitation(path string) (precipitation, error) {
	var out precipitation
	f, err := ncutil.Open(path)
	if err != nil {
		return out, err
	}
	defer f.Close()
	pr, err := f.Read("pr")
	if err != nil {
		return out, err
	}
	tv, err := f.Read("time")
	if err != nil {
		return out, err
	}
	if len(tv.Values) == 0 || len(pr.Values)%len(tv.Values) != 0 {
		return out, fmt.Errorf("pr in %s has %d values for %d time steps", path, len(pr.Values), len(tv.Values))
	}
	scale := 1.0
	if pr.Attr("units") == "kg m-2 s-1" {
		scale = secondsDay
	}
	cells := len(pr.Values) / len(tv.Values)
	out.series = make([]float64, len(tv.Values))
	out.times = make([]time.Time, len(tv.Values))
	for i, v := range tv.Values {
		t, err := model.TimeFromUnits(v, tv.Attr("units"))
		if err != nil {
			return out, fmt.Errorf("time in %s: %w", path, err)
		}
		out.times[i] = t
		out.series[i] = mean(pr.Values[i*cells:(i+1)*cells]) * scale
	}
	if v, err := f.Read("lat"); err == nil {
		out.lat = mean(v.Values)
	}
	if v, err := f.Read("lon"); err == nil {
		out.lon = mean(v.Values)
	}
	return out, nil
}

// mean skips NaN values, NaN when nothing is left.
func mean(values []float64) float64 {
	var sum float64
	var n int
	for _, x := range values {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (b *Bucket) ready() error {
	if !b.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (b *Bucket) update() error {
	if b.step >= len(b.precip) || b.current >= b.end+secondsDay {
		return fmt.Errorf("%w: %v", ErrPastEnd, b.current)
	}
	p := b.precip[b.step]
	if b.nextPrecip != nil {
		p, b.nextPrecip = *b.nextPrecip, nil
	}
	if !math.IsNaN(p) {
		b.storage += p
	}
	b.discharge = b.leakiness * b.storage
	b.storage -= b.discharge
	b.step++
	b.current += secondsDay
	return nil
}

func (b *Bucket) Update(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return err
	}
	return b.update()
}

func (b *Bucket) UpdateUntil(_ context.Context, t float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return err
	}
	for b.current < t {
		if err := b.update(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bucket) Finalize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	return nil
}

func (*Bucket) GetComponentName(context.Context) (string, error) { return Name, nil }

func (*Bucket) GetInputVarNames(context.Context) ([]string, error) {
	return slices.Clone(inputVars), nil
}

func (*Bucket) GetOutputVarNames(context.Context) ([]string, error) {
	return slices.Clone(outputVars), nil
}

func checkVar(name string) error {
	if _, ok := units[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	return nil
}

func (*Bucket) GetVarGrid(_ context.Context, name string) (int, error) { return 0, checkVar(name) }
func (*Bucket) GetVarType(_ context.Context, name string) (string, error) {
	return "float64", checkVar(name)
}
func (*Bucket) GetVarUnits(_ context.Context, name string) (string, error) {
	return units[name], checkVar(name)
}
func (*Bucket) GetVarItemsize(_ context.Context, name string) (int, error) { return 8, checkVar(name) }
func (*Bucket) GetVarNbytes(_ context.Context, name string) (int, error)   { return 8, checkVar(name) }
func (*Bucket) GetVarLocation(_ context.Context, name string) (string, error) {
	return "node", checkVar(name)
}

func (b *Bucket) GetCurrentTime(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.ready()
}

func (b *Bucket) GetStartTime(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start, b.ready()
}

func (b *Bucket) GetEndTime(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end, b.ready()
}

func (*Bucket) GetTimeStep(context.Context) (float64, error) { return secondsDay, nil }
func (*Bucket) GetTimeUnits(context.Context) (string, error) { return TimeUnits, nil }

func (b *Bucket) GetValue(_ context.Context, name string) ([]float64, error) {
	if err := checkVar(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return nil, err
	}
	switch name {
	case "discharge":
		return []float64{b.discharge}, nil
	case "storage":
		return []float64{b.storage}, nil
	default:
		if b.nextPrecip != nil {
			return []float64{*b.nextPrecip}, nil
		}
		if b.step < len(b.precip) {
			return []float64{b.precip[b.step]}, nil
		}
		return []float64{math.NaN()}, nil
	}
}

func (b *Bucket) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	for _, i := range indices {
		if i != 0 {
			return nil, fmt.Errorf("index %d out of range for %s", i, name)
		}
	}
	v, err := b.GetValue(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(indices))
	for i := range out {
		out[i] = v[0]
	}
	return out, nil
}

func (b *Bucket) SetValue(_ context.Context, name string, values []float64) error {
	if len(values) != 1 {
		return fmt.Errorf("%s takes 1 value, got %d", name, len(values))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return err
	}
	switch name {
	case "storage":
		b.storage = values[0]
	case "precipitation":
		v := values[0]
		b.nextPrecip = &v
	default:
		return fmt.Errorf("%w: %q is not an input variable", ErrUnknownVar, name)
	}
	return nil
}

func (b *Bucket) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	if len(indices) != 1 || indices[0] != 0 || len(values) != 1 {
		return fmt.Errorf("%s has a single cell", name)
	}
	return b.SetValue(ctx, name, values)
}

func (*Bucket) GetGridType(context.Context, int) (string, error) { return "points", nil }
func (*Bucket) GetGridRank(context.Context, int) (int, error)    { return 1, nil }
func (*Bucket) GetGridSize(context.Context, int) (int, error)    { return 1, nil }
func (*Bucket) GetGridShape(context.Context, int) ([]int, error) { return []int{1, 1}, nil }

func (b *Bucket) GetGridX(context.Context, int) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []float64{b.lon}, nil
}

func (b *Bucket) GetGridY(context.Context, int) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []float64{b.lat}, nil
}
