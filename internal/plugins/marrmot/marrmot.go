// Package marrmot runs lumped MARRMoT models. The model configuration is
// the MATLAB forcing file with the model name, parameters, initial stores
// and solver settings added.
package marrmot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/matfile"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
)

const (
	Version = "2020.11"
	Image   = container.Image("ewatercycle/marrmot-grpc4bmi:" + Version)
)

var ErrWrongForcing = errors.New("marrmot needs a marrmot forcing")

// Solver selects the MARRMoT time stepping scheme.
type Solver struct {
	Name             string  `yaml:"name" json:"name"`
	ResnormTolerance float64 `yaml:"resnorm_tolerance" json:"resnorm_tolerance"`
	ResnormMaxiter   float64 `yaml:"resnorm_maxiter" json:"resnorm_maxiter"`
}

func DefaultSolver() Solver {
	return Solver{Name: "createOdeApprox_IE", ResnormTolerance: 0.1, ResnormMaxiter: 6.0}
}

func (s Solver) array() *matfile.Struct {
	out := matfile.NewStruct()
	out.Set("name", matfile.String(s.Name))
	out.Set("resnorm_tolerance", matfile.Scalar(s.ResnormTolerance))
	out.Set("resnorm_maxiter", matfile.Scalar(s.ResnormMaxiter))
	return out
}

// Variant describes one MARRMoT model structure.
type Variant struct {
	Name       string
	ModelName  string
	ParamNames []string
	Params     []float64
	StoreNames []string
	Stores     []float64
	ConfigFile string
}

var (
	M01 = Variant{
		Name:       "marrmotm01",
		ModelName:  "m_01_collie1_1p_1s",
		ParamNames: []string{"maximum_soil_moisture_storage"},
		Params:     []float64{1000},
		StoreNames: []string{"initial_soil_moisture_storage"},
		Stores:     []float64{900},
		ConfigFile: "marrmot-m01_config.mat",
	}
	M14 = Variant{
		Name:      "marrmotm14",
		ModelName: "m_14_topmodel_7p_2s",
		ParamNames: []string{
			"maximum_soil_moisture_storage",
			"threshold_flow_generation_evap_change",
			"leakage_saturated_zone_flow_coefficient",
			"zero_deficit_base_flow_speed",
			"baseflow_coefficient",
			"gamma_distribution_chi_parameter",
			"gamma_distribution_phi_parameter",
		},
		Params:     []float64{1000, 0.5, 0.5, 100, 0.5, 4.25, 2.5},
		StoreNames: []string{"initial_upper_zone_storage", "initial_saturated_zone_storage"},
		Stores:     []float64{900, 900},
		ConfigFile: "marrmot-m14_config.mat",
	}
)

// Plugin is one MARRMoT model instance. Parameters, stores and solver come
// from the forcing file when it carries them with the right length.
type Plugin struct {
	variant Variant

	loaded  bool
	path    string
	forcing *forcing.Marrmot
	params  []float64
	stores  []float64
	solver  Solver
	start   time.Time
	end     time.Time
}

func NewM01() model.Plugin { return &Plugin{variant: M01} }
func NewM14() model.Plugin { return &Plugin{variant: M14} }

func (p *Plugin) Name() string               { return p.variant.Name }
func (*Plugin) Versions() []string           { return []string{Version} }
func (*Plugin) Image(string) container.Image { return Image }

func (p *Plugin) load(env model.Env) error {
	if p.loaded {
		return nil
	}
	f, ok := env.Forcing.(*forcing.Marrmot)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrWrongForcing, env.Forcing)
	}
	path := f.File(f.ForcingFile)
	data, err := matfile.ReadFile(path)
	if err != nil {
		return err
	}
	p.params = slices.Clone(p.variant.Params)
	p.stores = slices.Clone(p.variant.Stores)
	p.solver = DefaultSolver()
	if v, err := data.Floats("parameters"); err == nil {
		if len(v) == len(p.params) {
			p.params = slices.Clone(v)
		} else {
			p.warn(env, fmt.Sprintf("parameters in forcing %s have length %d, %s needs %d", path, len(v), p.variant.Name, len(p.params)))
		}
	}
	if v, err := data.Floats("store_ini"); err == nil {
		if len(v) == len(p.stores) {
			p.stores = slices.Clone(v)
		} else {
			p.warn(env, fmt.Sprintf("initial stores in forcing %s have length %d, %s needs %d", path, len(v), p.variant.Name, len(p.stores)))
		}
	}
	if a, ok := data.Get("solver"); ok {
		s, err := solverFromArray(a)
		if err != nil {
			return fmt.Errorf("solver in %s: %w", path, err)
		}
		p.solver = s
	}
	p.path = path
	p.forcing = f
	p.start, p.end = f.StartTime, f.EndTime
	p.loaded = true
	return nil
}

func (p *Plugin) warn(env model.Env, msg string) {
	if env.Logger != nil {
		env.Logger.Warn(msg, "model", p.variant.Name)
	}
}

func solverFromArray(a matfile.Array) (Solver, error) {
	st, ok := a.(*matfile.Struct)
	if !ok {
		return Solver{}, fmt.Errorf("solver is a %T, not a struct", a)
	}
	s := DefaultSolver()
	if v, ok := st.Field("name"); ok {
		c, ok := v.(*matfile.Char)
		if !ok {
			return Solver{}, fmt.Errorf("solver name is a %T", v)
		}
		s.Name = c.String()
	}
	for key, dst := range map[string]*float64{
		"resnorm_tolerance": &s.ResnormTolerance,
		"resnorm_maxiter":   &s.ResnormMaxiter,
	} {
		v, ok := st.Field(key)
		if !ok {
			continue
		}
		n, ok := v.(*matfile.Numeric)
		if !ok || len(n.Data) == 0 {
			return Solver{}, fmt.Errorf("solver %s is not a number", key)
		}
		*dst = n.Data[0]
	}
	return s, nil
}

func (p *Plugin) Parameters(env model.Env) []model.Parameter {
	if err := p.load(env); err != nil {
		if env.Logger != nil {
			env.Logger.Warn("marrmot parameters unavailable", "model", p.variant.Name, "err", err)
		}
		return nil
	}
	var out []model.Parameter
	for i, name := range p.variant.ParamNames {
		out = append(out, model.Parameter{Name: name, Value: p.params[i]})
	}
	for i, name := range p.variant.StoreNames {
		out = append(out, model.Parameter{Name: name, Value: p.stores[i]})
	}
	return append(out,
		model.Parameter{Name: "solver", Value: p.solver},
		model.Parameter{Name: "start_time", Value: isotime.String(p.start)},
		model.Parameter{Name: "end_time", Value: isotime.String(p.end)},
	)
}

func paramSolver(params map[string]any, def Solver) (Solver, error) {
	switch v := params["solver"].(type) {
	case nil:
		return def, nil
	case Solver:
		return v, nil
	case *Solver:
		return *v, nil
	case map[string]any:
		raw, err := yaml.Marshal(v)
		if err != nil {
			return Solver{}, fmt.Errorf("parameter solver: %w", err)
		}
		s := def
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return Solver{}, fmt.Errorf("parameter solver: %w", err)
		}
		return s, nil
	default:
		return Solver{}, fmt.Errorf("parameter solver: unsupported value of type %T", v)
	}
}

func (p *Plugin) applyParams(params map[string]any) error {
	for i, name := range p.variant.ParamNames {
		v, err := model.ParamFloat(params, name, p.params[i])
		if err != nil {
			return err
		}
		p.params[i] = v
	}
	for i, name := range p.variant.StoreNames {
		v, err := model.ParamFloat(params, name, p.stores[i])
		if err != nil {
			return err
		}
		p.stores[i] = v
	}
	s, err := paramSolver(params, p.solver)
	if err != nil {
		return err
	}
	p.solver = s
	b := p.forcing.Common()
	for _, key := range []string{"start_time", "end_time"} {
		if _, ok := params[key]; !ok {
			continue
		}
		t, err := model.ParamTime(params, key, time.Time{})
		if err != nil {
			return err
		}
		if !b.Contains(t) {
			return fmt.Errorf("%w: %s %s", model.ErrOutsideForcingRange, key, isotime.String(t))
		}
		if key == "start_time" {
			p.start = t
		} else {
			p.end = t
		}
	}
	return nil
}

// dateRow sets the first six values of a time_start or time_end row.
func dateRow(data *matfile.File, name string, t time.Time) {
	v := []float64{float64(t.Year()), float64(t.Month()), float64(t.Day()),
		float64(t.Hour()), float64(t.Minute()), float64(t.Second())}
	if a, ok := data.Get(name); ok {
		if n, ok := a.(*matfile.Numeric); ok && len(n.Data) >= 6 {
			copy(n.Data, v)
			return
		}
	}
	data.Set(name, matfile.Row(v...))
}

func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if err := p.load(env); err != nil {
		return "", err
	}
	if err := p.applyParams(params); err != nil {
		return "", err
	}
	data, err := matfile.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	if _, ok := params["start_time"]; ok {
		dateRow(data, "time_start", p.start)
	}
	if _, ok := params["end_time"]; ok {
		dateRow(data, "time_end", p.end)
	}
	data.Set("model_name", matfile.String(p.variant.ModelName))
	data.Set("parameters", matfile.Row(p.params...))
	data.Set("solver", p.solver.array())
	data.Set("store_ini", matfile.Row(p.stores...))

	path := filepath.Join(env.CfgDir, p.variant.ConfigFile)
	if err := matfile.WriteFile(path, data, matfile.WriteOptions{}); err != nil {
		return "", err
	}
	return path, nil
}
