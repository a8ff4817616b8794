package bmi

import (
	"context"
	"slices"
	"strconv"
	"sync"
)

// Proxy forwards every call to Origin. Embed it to override a subset of calls.
type Proxy struct {
	Origin Bmi
}

func (p *Proxy) Initialize(ctx context.Context, configFile string) error {
	return p.Origin.Initialize(ctx, configFile)
}
func (p *Proxy) Update(ctx context.Context) error { return p.Origin.Update(ctx) }
func (p *Proxy) UpdateUntil(ctx context.Context, t float64) error {
	return p.Origin.UpdateUntil(ctx, t)
}
func (p *Proxy) Finalize(ctx context.Context) error { return p.Origin.Finalize(ctx) }
func (p *Proxy) GetComponentName(ctx context.Context) (string, error) {
	return p.Origin.GetComponentName(ctx)
}
func (p *Proxy) GetInputVarNames(ctx context.Context) ([]string, error) {
	return p.Origin.GetInputVarNames(ctx)
}
func (p *Proxy) GetOutputVarNames(ctx context.Context) ([]string, error) {
	return p.Origin.GetOutputVarNames(ctx)
}
func (p *Proxy) GetVarGrid(ctx context.Context, name string) (int, error) {
	return p.Origin.GetVarGrid(ctx, name)
}
func (p *Proxy) GetVarType(ctx context.Context, name string) (string, error) {
	return p.Origin.GetVarType(ctx, name)
}
func (p *Proxy) GetVarUnits(ctx context.Context, name string) (string, error) {
	return p.Origin.GetVarUnits(ctx, name)
}
func (p *Proxy) GetVarItemsize(ctx context.Context, name string) (int, error) {
	return p.Origin.GetVarItemsize(ctx, name)
}
func (p *Proxy) GetVarNbytes(ctx context.Context, name string) (int, error) {
	return p.Origin.GetVarNbytes(ctx, name)
}
func (p *Proxy) GetVarLocation(ctx context.Context, name string) (string, error) {
	return p.Origin.GetVarLocation(ctx, name)
}
func (p *Proxy) GetCurrentTime(ctx context.Context) (float64, error) {
	return p.Origin.GetCurrentTime(ctx)
}
func (p *Proxy) GetStartTime(ctx context.Context) (float64, error) {
	return p.Origin.GetStartTime(ctx)
}
func (p *Proxy) GetEndTime(ctx context.Context) (float64, error) { return p.Origin.GetEndTime(ctx) }
func (p *Proxy) GetTimeStep(ctx context.Context) (float64, error) {
	return p.Origin.GetTimeStep(ctx)
}
func (p *Proxy) GetTimeUnits(ctx context.Context) (string, error) {
	return p.Origin.GetTimeUnits(ctx)
}
func (p *Proxy) GetValue(ctx context.Context, name string) ([]float64, error) {
	return p.Origin.GetValue(ctx, name)
}
func (p *Proxy) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	return p.Origin.GetValueAtIndices(ctx, name, indices)
}
func (p *Proxy) SetValue(ctx context.Context, name string, values []float64) error {
	return p.Origin.SetValue(ctx, name, values)
}
func (p *Proxy) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	return p.Origin.SetValueAtIndices(ctx, name, indices, values)
}
func (p *Proxy) GetGridType(ctx context.Context, grid int) (string, error) {
	return p.Origin.GetGridType(ctx, grid)
}
func (p *Proxy) GetGridRank(ctx context.Context, grid int) (int, error) {
	return p.Origin.GetGridRank(ctx, grid)
}
func (p *Proxy) GetGridSize(ctx context.Context, grid int) (int, error) {
	return p.Origin.GetGridSize(ctx, grid)
}
func (p *Proxy) GetGridShape(ctx context.Context, grid int) ([]int, error) {
	return p.Origin.GetGridShape(ctx, grid)
}
func (p *Proxy) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	return p.Origin.GetGridX(ctx, grid)
}
func (p *Proxy) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	return p.Origin.GetGridY(ctx, grid)
}

// Wrapper decorates a Bmi.
type Wrapper func(Bmi) Bmi

// Wrap applies wrappers innermost first.
func Wrap(b Bmi, wrappers ...Wrapper) Bmi {
	for _, w := range wrappers {
		b = w(b)
	}
	return b
}

// SwapXY exchanges the x and y grid coordinates of images that report
// latitude as x and longitude as y.
func SwapXY(origin Bmi) Bmi {
	return &swapXY{Proxy{Origin: origin}}
}

type swapXY struct {
	Proxy
}

func (s *swapXY) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	return s.Origin.GetGridY(ctx, grid)
}

func (s *swapXY) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	return s.Origin.GetGridX(ctx, grid)
}

// Memoize caches calls whose answer does not change during a run: names,
// variable and grid metadata, start and end time, time step and units.
func Memoize(origin Bmi) Bmi {
	return &memoized{Proxy: Proxy{Origin: origin}, cache: map[string]any{}}
}

type memoized struct {
	Proxy
	mu    sync.Mutex
	cache map[string]any
}

func remember[T any](m *memoized, key string, fetch func() (T, error)) (T, error) {
	m.mu.Lock()
	if v, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return v.(T), nil
	}
	m.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return v, err
	}
	m.mu.Lock()
	m.cache[key] = v
	m.mu.Unlock()
	return v, nil
}

// Initialize clears the cache since a new config may change the metadata.
func (m *memoized) Initialize(ctx context.Context, configFile string) error {
	m.mu.Lock()
	clear(m.cache)
	m.mu.Unlock()
	return m.Origin.Initialize(ctx, configFile)
}

func (m *memoized) GetComponentName(ctx context.Context) (string, error) {
	return remember(m, "component_name", func() (string, error) { return m.Origin.GetComponentName(ctx) })
}

func (m *memoized) GetInputVarNames(ctx context.Context) ([]string, error) {
	v, err := remember(m, "input_var_names", func() ([]string, error) { return m.Origin.GetInputVarNames(ctx) })
	return slices.Clone(v), err
}

func (m *memoized) GetOutputVarNames(ctx context.Context) ([]string, error) {
	v, err := remember(m, "output_var_names", func() ([]string, error) { return m.Origin.GetOutputVarNames(ctx) })
	return slices.Clone(v), err
}

func (m *memoized) GetVarGrid(ctx context.Context, name string) (int, error) {
	return remember(m, "var_grid/"+name, func() (int, error) { return m.Origin.GetVarGrid(ctx, name) })
}

func (m *memoized) GetVarType(ctx context.Context, name string) (string, error) {
	return remember(m, "var_type/"+name, func() (string, error) { return m.Origin.GetVarType(ctx, name) })
}

func (m *memoized) GetVarUnits(ctx context.Context, name string) (string, error) {
	return remember(m, "var_units/"+name, func() (string, error) { return m.Origin.GetVarUnits(ctx, name) })
}

func (m *memoized) GetVarItemsize(ctx context.Context, name string) (int, error) {
	return remember(m, "var_itemsize/"+name, func() (int, error) { return m.Origin.GetVarItemsize(ctx, name) })
}

func (m *memoized) GetVarNbytes(ctx context.Context, name string) (int, error) {
	return remember(m, "var_nbytes/"+name, func() (int, error) { return m.Origin.GetVarNbytes(ctx, name) })
}

func (m *memoized) GetVarLocation(ctx context.Context, name string) (string, error) {
	return remember(m, "var_location/"+name, func() (string, error) { return m.Origin.GetVarLocation(ctx, name) })
}

func (m *memoized) GetStartTime(ctx context.Context) (float64, error) {
	return remember(m, "start_time", func() (float64, error) { return m.Origin.GetStartTime(ctx) })
}

func (m *memoized) GetEndTime(ctx context.Context) (float64, error) {
	return remember(m, "end_time", func() (float64, error) { return m.Origin.GetEndTime(ctx) })
}

func (m *memoized) GetTimeStep(ctx context.Context) (float64, error) {
	return remember(m, "time_step", func() (float64, error) { return m.Origin.GetTimeStep(ctx) })
}

func (m *memoized) GetTimeUnits(ctx context.Context) (string, error) {
	return remember(m, "time_units", func() (string, error) { return m.Origin.GetTimeUnits(ctx) })
}

func (m *memoized) GetGridType(ctx context.Context, grid int) (string, error) {
	return remember(m, gridKey("grid_type", grid), func() (string, error) { return m.Origin.GetGridType(ctx, grid) })
}

func (m *memoized) GetGridRank(ctx context.Context, grid int) (int, error) {
	return remember(m, gridKey("grid_rank", grid), func() (int, error) { return m.Origin.GetGridRank(ctx, grid) })
}

func (m *memoized) GetGridSize(ctx context.Context, grid int) (int, error) {
	return remember(m, gridKey("grid_size", grid), func() (int, error) { return m.Origin.GetGridSize(ctx, grid) })
}

func (m *memoized) GetGridShape(ctx context.Context, grid int) ([]int, error) {
	v, err := remember(m, gridKey("grid_shape", grid), func() ([]int, error) { return m.Origin.GetGridShape(ctx, grid) })
	return slices.Clone(v), err
}

func (m *memoized) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	v, err := remember(m, gridKey("grid_x", grid), func() ([]float64, error) { return m.Origin.GetGridX(ctx, grid) })
	return slices.Clone(v), err
}

func (m *memoized) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	v, err := remember(m, gridKey("grid_y", grid), func() ([]float64, error) { return m.Origin.GetGridY(ctx, grid) })
	return slices.Clone(v), err
}

func gridKey(prefix string, grid int) string {
	return prefix + "/" + strconv.Itoa(grid)
}
