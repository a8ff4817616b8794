// Package bmitest provides an in-memory Bmi for tests.
package bmitest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Model is a fake BMI with a single 2 x 3 rectilinear grid. Calls counts
// every invocation by method name.
type Model struct {
	mu sync.Mutex

	Name      string
	Vars      map[string][]float64
	Units     map[string]string
	X, Y      []float64
	Start     float64
	End       float64
	Step      float64
	TimeUnits string

	Current    float64
	ConfigFile string
	Finalized  bool

	// Err, when set, is returned by every call.
	Err error

	Calls map[string]int
}

// New returns a model with a discharge and a precipitation variable.
func New() *Model {
	return &Model{
		Name: "fake",
		Vars: map[string][]float64{
			"discharge":     {1, 2, 3, 4, 5, 6},
			"precipitation": {0, 0, 0, 0, 0, 0},
		},
		Units: map[string]string{
			"discharge":     "m3 s-1",
			"precipitation": "mm",
		},
		X:         []float64{4.5, 5.5, 6.5},
		Y:         []float64{51.5, 52.5},
		Start:     0,
		End:       10,
		Step:      1,
		TimeUnits: "days since 2000-01-01 00:00:00",
		Calls:     map[string]int{},
	}
}

func (m *Model) enter(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = map[string]int{}
	}
	m.Calls[call]++
	return m.Err
}

// Count returns how often call was made.
func (m *Model) Count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[call]
}

func (m *Model) variable(name string) ([]float64, error) {
	v, ok := m.Vars[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	return v, nil
}

func (m *Model) Initialize(_ context.Context, configFile string) error {
	if err := m.enter("initialize"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfigFile = configFile
	m.Current = m.Start
	return nil
}

func (m *Model) Update(_ context.Context) error {
	if err := m.enter("update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Current += m.Step
	return nil
}

func (m *Model) UpdateUntil(_ context.Context, t float64) error {
	if err := m.enter("update_until"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Current = t
	return nil
}

func (m *Model) Finalize(_ context.Context) error {
	if err := m.enter("finalize"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finalized = true
	return nil
}

func (m *Model) GetComponentName(_ context.Context) (string, error) {
	return m.Name, m.enter("get_component_name")
}

func (m *Model) GetInputVarNames(_ context.Context) ([]string, error) {
	if err := m.enter("get_input_var_names"); err != nil {
		return nil, err
	}
	return []string{"precipitation"}, nil
}

func (m *Model) GetOutputVarNames(_ context.Context) ([]string, error) {
	if err := m.enter("get_output_var_names"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Vars))
	for k := range m.Vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Model) GetVarGrid(_ context.Context, name string) (int, error) {
	if err := m.enter("get_var_grid"); err != nil {
		return 0, err
	}
	if _, err := m.variable(name); err != nil {
		return 0, err
	}
	return 0, nil
}

func (m *Model) GetVarType(_ context.Context, name string) (string, error) {
	if err := m.enter("get_var_type"); err != nil {
		return "", err
	}
	return "float64", nil
}

func (m *Model) GetVarUnits(_ context.Context, name string) (string, error) {
	if err := m.enter("get_var_units"); err != nil {
		return "", err
	}
	return m.Units[name], nil
}

func (m *Model) GetVarItemsize(_ context.Context, name string) (int, error) {
	if err := m.enter("get_var_itemsize"); err != nil {
		return 0, err
	}
	return 8, nil
}

func (m *Model) GetVarNbytes(_ context.Context, name string) (int, error) {
	if err := m.enter("get_var_nbytes"); err != nil {
		return 0, err
	}
	v, err := m.variable(name)
	return 8 * len(v), err
}

func (m *Model) GetVarLocation(_ context.Context, name string) (string, error) {
	if err := m.enter("get_var_location"); err != nil {
		return "", err
	}
	return "node", nil
}

func (m *Model) GetCurrentTime(_ context.Context) (float64, error) {
	if err := m.enter("get_current_time"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Current, nil
}

func (m *Model) GetStartTime(_ context.Context) (float64, error) {
	return m.Start, m.enter("get_start_time")
}

func (m *Model) GetEndTime(_ context.Context) (float64, error) {
	return m.End, m.enter("get_end_time")
}

func (m *Model) GetTimeStep(_ context.Context) (float64, error) {
	return m.Step, m.enter("get_time_step")
}

func (m *Model) GetTimeUnits(_ context.Context) (string, error) {
	return m.TimeUnits, m.enter("get_time_units")
}

func (m *Model) GetValue(_ context.Context, name string) ([]float64, error) {
	if err := m.enter("get_value"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	return slices.Clone(v), err
}

func (m *Model) GetValueAtIndices(_ context.Context, name string, indices []int) ([]float64, error) {
	if err := m.enter("get_value_at_indices"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(v) {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		out[i] = v[idx]
	}
	return out, nil
}

func (m *Model) SetValue(_ context.Context, name string, values []float64) error {
	if err := m.enter("set_value"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return err
	}
	if len(values) != len(v) {
		return fmt.Errorf("expected %d values, got %d", len(v), len(values))
	}
	m.Vars[name] = slices.Clone(values)
	return nil
}

func (m *Model) SetValueAtIndices(_ context.Context, name string, indices []int, values []float64) error {
	if err := m.enter("set_value_at_indices"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return err
	}
	if len(indices) != len(values) {
		return fmt.Errorf("got %d indices and %d values", len(indices), len(values))
	}
	for i, idx := range indices {
		if idx < 0 || idx >= len(v) {
			return fmt.Errorf("index %d out of range", idx)
		}
		v[idx] = values[i]
	}
	return nil
}

func (m *Model) GetGridType(_ context.Context, grid int) (string, error) {
	return "rectilinear", m.enter("get_grid_type")
}

func (m *Model) GetGridRank(_ context.Context, grid int) (int, error) {
	return 2, m.enter("get_grid_rank")
}

func (m *Model) GetGridSize(_ context.Context, grid int) (int, error) {
	return len(m.X) * len(m.Y), m.enter("get_grid_size")
}

func (m *Model) GetGridShape(_ context.Context, grid int) ([]int, error) {
	return []int{len(m.Y), len(m.X)}, m.enter("get_grid_shape")
}

func (m *Model) GetGridX(_ context.Context, grid int) ([]float64, error) {
	return slices.Clone(m.X), m.enter("get_grid_x")
}

func (m *Model) GetGridY(_ context.Context, grid int) ([]float64, error) {
	return slices.Clone(m.Y), m.enter("get_grid_y")
}
