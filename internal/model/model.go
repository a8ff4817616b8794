// Package model wraps a hydrological model behind its BMI: it checks the
// parameter set and forcing fit the model, writes the model configuration,
// starts the BMI and forwards calls to it.
//
// A Model moves through unconfigured, configured, running and finalized.
// Setup writes the configuration and starts the BMI, Finalize stops it.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/geo"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
	"github.com/ewatercycle/ewatercycle-go/internal/runlog"
)

var (
	ErrWrongTargetModel    = errors.New("wrong_target_model")
	ErrUnsupportedVersion  = errors.New("unsupported_model_version")
	ErrOutsideForcingRange = errors.New("start_time outside forcing time range")
	ErrNotImplemented      = errors.New("not_implemented")
	ErrNotRunning          = errors.New("model_not_running")
	ErrAlreadySetUp        = errors.New("model_already_set_up")
	ErrUnknownParameter    = errors.New("unknown_model_parameter")
)

// MissingValue marks cells without data in grid values.
const MissingValue = -999

type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	ParameterSet *parameterset.ParameterSet
	Forcing      forcing.Forcing
	// Version defaults to the first version of the plugin.
	Version  string
	Starter  Starter
	Recorder runlog.Recorder
	Logger   *slog.Logger
	// Now stamps config directories, time.Now when nil.
	Now func() time.Time
}

// Model is one run of one hydrological model. It is not safe for concurrent
// use.
type Model struct {
	cfg      config.Config
	plugin   Plugin
	ps       *parameterset.ParameterSet
	forcing  forcing.Forcing
	version  string
	starter  Starter
	recorder runlog.Recorder
	logger   *slog.Logger
	now      func() time.Time

	runID   uuid.UUID
	state   State
	cfgDir  string
	cfgFile string
	inst    Instance
}

// New checks the parameter set and version against the plugin and returns
// an unconfigured model.
func New(cfg config.Config, plugin Plugin, opts Options) (*Model, error) {
	if plugin == nil {
		return nil, errors.New("model plugin is required")
	}
	m := &Model{
		cfg:      cfg,
		plugin:   plugin,
		ps:       opts.ParameterSet,
		forcing:  opts.Forcing,
		version:  opts.Version,
		starter:  opts.Starter,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		now:      opts.Now,
		runID:    uuid.New(),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.recorder == nil {
		m.recorder = runlog.Nop{}
	}
	if m.starter == nil {
		m.starter = LocalStarter{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.logger = m.logger.With("model", plugin.Name(), "run_id", m.runID.String())

	versions := plugin.Versions()
	if m.version == "" && len(versions) > 0 {
		m.version = versions[0]
	}
	if len(versions) > 0 && !slices.Contains(versions, m.version) {
		return nil, fmt.Errorf("%w: supplied version %s is not supported by this model, available versions are %v",
			ErrUnsupportedVersion, m.version, versions)
	}
	if err := m.checkParameterSet(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) checkParameterSet() error {
	if m.ps == nil {
		return nil
	}
	if m.ps.TargetModel != m.plugin.Name() {
		return fmt.Errorf("%w: parameter set has wrong target model, expected %s got %s",
			ErrWrongTargetModel, m.plugin.Name(), m.ps.TargetModel)
	}
	if len(m.ps.SupportedModelVersions) == 0 {
		m.logger.Info("model version is not explicitly listed in the supported model versions of this parameter set, this can lead to compatibility issues",
			"version", m.version, "parameter_set", m.ps.Name)
		return nil
	}
	if !m.ps.SupportsVersion(m.version) {
		return fmt.Errorf("%w: parameter set is not compatible with version %s of model, parameter set only supports %v",
			ErrUnsupportedVersion, m.version, m.ps.SupportedModelVersions)
	}
	return nil
}

func (m *Model) env() Env {
	return Env{
		Config:       m.cfg,
		ParameterSet: m.ps,
		Forcing:      m.forcing,
		Version:      m.version,
		CfgDir:       m.cfgDir,
		Logger:       m.logger,
	}
}

func (m *Model) Name() string                             { return m.plugin.Name() }
func (m *Model) Plugin() Plugin                           { return m.plugin }
func (m *Model) Version() string                          { return m.version }
func (m *Model) ParameterSet() *parameterset.ParameterSet { return m.ps }
func (m *Model) Forcing() forcing.Forcing                 { return m.forcing }
func (m *Model) RunID() uuid.UUID                         { return m.runID }
func (m *Model) State() State                             { return m.state }
func (m *Model) CfgDir() string                           { return m.cfgDir }
func (m *Model) CfgFile() string                          { return m.cfgFile }

// Parameters lists the settings of the model with their current values.
func (m *Model) Parameters() []Parameter {
	return m.plugin.Parameters(m.env())
}

// Bmi returns the running BMI, nil unless the model is running.
func (m *Model) Bmi() bmi.Bmi {
	if m.state != StateRunning {
		return nil
	}
	return m.inst.Bmi
}

type SetupRequest struct {
	// CfgDir is created when missing. Empty creates a time stamped
	// directory in the output directory of the configuration.
	CfgDir string
	Params map[string]any
}

// Setup writes the model configuration and starts the BMI. It returns the
// config file and config directory.
func (m *Model) Setup(ctx context.Context, req SetupRequest) (string, string, error) {
	if m.state != StateUnconfigured {
		return "", "", fmt.Errorf("%w: model is %s", ErrAlreadySetUp, m.state)
	}
	if err := m.checkParams(req.Params); err != nil {
		return "", "", err
	}
	dir, err := m.makeCfgDir(req.CfgDir)
	if err != nil {
		return "", "", err
	}
	m.cfgDir = dir
	env := m.env()

	if p, ok := m.plugin.(CfgDirMaker); ok {
		if err := p.PrepareCfgDir(ctx, env); err != nil {
			return "", "", fmt.Errorf("prepare config directory: %w", err)
		}
	}
	cfgFile, err := m.plugin.MakeCfgFile(ctx, env, req.Params)
	if err != nil {
		return "", "", err
	}
	m.cfgFile = cfgFile
	m.state = StateConfigured
	m.logger.Info("model configured", "cfg_file", cfgFile, "cfg_dir", dir)

	inst, err := m.starter.Start(ctx, StartRequest{
		Plugin:    m.plugin,
		Version:   m.version,
		WorkDir:   dir,
		InputDirs: m.inputDirs(env),
		Wrappers:  m.wrappers(),
	})
	if err != nil {
		// Back to unconfigured so Setup can be retried.
		m.state = StateUnconfigured
		return "", "", fmt.Errorf("start %s: %w", m.plugin.Name(), err)
	}
	m.inst = inst
	m.state = StateRunning
	m.record(ctx, runlog.ActionSetup, map[string]any{"cfg_file": cfgFile})
	return cfgFile, dir, nil
}

func (m *Model) checkParams(params map[string]any) error {
	known := m.plugin.Parameters(m.env())
	if len(known) == 0 {
		return nil
	}
	names := make(map[string]bool, len(known))
	for _, p := range known {
		names[p.Name] = true
	}
	for _, key := range slices.Sorted(maps.Keys(params)) {
		if !names[key] {
			return fmt.Errorf("%w: %s does not accept %s", ErrUnknownParameter, m.plugin.Name(), key)
		}
	}
	return nil
}

func (m *Model) makeCfgDir(dir string) (string, error) {
	var err error
	if dir != "" {
		dir, err = fsutil.Abs(dir, fsutil.PathOptions{})
	} else {
		name := fmt.Sprintf("%s_%s", m.plugin.Name(), m.now().UTC().Format("20060102_150405"))
		dir, err = fsutil.Abs(name, fsutil.PathOptions{Parent: m.cfg.OutputDir})
	}
	if err != nil {
		return "", fmt.Errorf("config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

func (m *Model) inputDirs(env Env) []string {
	var dirs []string
	if m.ps != nil && m.ps.Directory != "" {
		dirs = append(dirs, m.ps.Directory)
	}
	if m.forcing != nil && m.forcing.Common().Directory != "" {
		dirs = append(dirs, m.forcing.Common().Directory)
	}
	if p, ok := m.plugin.(InputDirsProvider); ok {
		dirs = append(dirs, p.InputDirs(env)...)
	}
	var out []string
	for _, d := range dirs {
		if d == env.CfgDir || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (m *Model) wrappers() []bmi.Wrapper {
	out := []bmi.Wrapper{bmi.Memoize}
	if p, ok := m.plugin.(WrapperProvider); ok {
		out = append(out, p.Wrappers()...)
	}
	return out
}

func (m *Model) record(ctx context.Context, action runlog.Action, payload map[string]any) {
	err := m.recorder.Record(ctx, runlog.Event{
		OccurredAt: time.Now().UTC(),
		RunID:      m.runID,
		Model:      m.plugin.Name(),
		Version:    m.version,
		Action:     action,
		CfgDir:     m.cfgDir,
		Payload:    payload,
	})
	if err != nil {
		m.logger.Warn("recording run event failed", "action", string(action), "err", err)
	}
}

func (m *Model) running() (bmi.Bmi, error) {
	if m.state != StateRunning {
		return nil, fmt.Errorf("%w: model is %s", ErrNotRunning, m.state)
	}
	return m.inst.Bmi, nil
}

func (m *Model) Initialize(ctx context.Context, cfgFile string) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	if err := b.Initialize(ctx, cfgFile); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	m.record(ctx, runlog.ActionInitialize, map[string]any{"cfg_file": cfgFile})
	return nil
}

// Update advances the model one time step.
func (m *Model) Update(ctx context.Context) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	return b.Update(ctx)
}

// UpdateUntil advances the model to model time t.
func (m *Model) UpdateUntil(ctx context.Context, t float64) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	return b.UpdateUntil(ctx, t)
}

func (m *Model) GetValue(ctx context.Context, name string) ([]float64, error) {
	b, err := m.running()
	if err != nil {
		return nil, err
	}
	return b.GetValue(ctx, name)
}

func (m *Model) SetValue(ctx context.Context, name string, values []float64) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	return b.SetValue(ctx, name, values)
}

// GetValueAtCoords returns the values of the grid cells closest to each
// lat/lon pair.
func (m *Model) GetValueAtCoords(ctx context.Context, name string, lats, lons []float64) ([]float64, error) {
	b, err := m.running()
	if err != nil {
		return nil, err
	}
	indices, err := m.coordsToIndices(ctx, b, name, lats, lons)
	if err != nil {
		return nil, err
	}
	return b.GetValueAtIndices(ctx, name, indices)
}

// SetValueAtCoords sets the grid cells closest to each lat/lon pair.
func (m *Model) SetValueAtCoords(ctx context.Context, name string, lats, lons, values []float64) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	indices, err := m.coordsToIndices(ctx, b, name, lats, lons)
	if err != nil {
		return err
	}
	return b.SetValueAtIndices(ctx, name, indices, values)
}

func (m *Model) coordsToIndices(ctx context.Context, b bmi.Bmi, name string, lats, lons []float64) ([]int, error) {
	if len(lats) != len(lons) {
		return nil, fmt.Errorf("got %d latitudes and %d longitudes", len(lats), len(lons))
	}
	if p, ok := m.plugin.(CoordIndexer); ok {
		return p.CoordsToIndices(ctx, b, name, lats, lons)
	}
	grid, err := m.latLonGrid(ctx, b, name)
	if err != nil {
		return nil, err
	}
	if len(grid.Shape) != 2 {
		return nil, fmt.Errorf("variable %s has a grid of rank %d, want 2", name, len(grid.Shape))
	}
	indices := make([]int, len(lats))
	for i := range lats {
		idxLon, idxLat, err := geo.FindClosestPoint(grid.Lon, grid.Lat, lons[i], lats[i])
		if err != nil {
			return nil, err
		}
		indices[i] = idxLat*grid.Shape[1] + idxLon
		m.logger.Debug("closest grid point",
			"lon", lons[i], "lat", lats[i],
			"grid_lon", fmt.Sprintf("%.2f", grid.Lon[idxLon]), "grid_lat", fmt.Sprintf("%.2f", grid.Lat[idxLat]))
	}
	return indices, nil
}

// LatLonGrid returns latitudes, longitudes and shape of the grid of a
// variable. By default x is longitude and y latitude.
func (m *Model) LatLonGrid(ctx context.Context, name string) (Grid, error) {
	b, err := m.running()
	if err != nil {
		return Grid{}, err
	}
	return m.latLonGrid(ctx, b, name)
}

func (m *Model) latLonGrid(ctx context.Context, b bmi.Bmi, name string) (Grid, error) {
	if p, ok := m.plugin.(GridProvider); ok {
		return p.LatLonGrid(ctx, b, name)
	}
	return DefaultLatLonGrid(ctx, b, name)
}

// GetValueAsGrid returns the values of a variable on its lat/lon grid at
// the current model time. Cells holding MissingValue become NaN.
func (m *Model) GetValueAsGrid(ctx context.Context, name string) (GridValue, error) {
	b, err := m.running()
	if err != nil {
		return GridValue{}, err
	}
	grid, err := m.latLonGrid(ctx, b, name)
	if err != nil {
		return GridValue{}, err
	}
	if len(grid.Shape) != 2 {
		return GridValue{}, fmt.Errorf("variable %s has a grid of rank %d, want 2", name, len(grid.Shape))
	}
	values, err := b.GetValue(ctx, name)
	if err != nil {
		return GridValue{}, err
	}
	if len(values) != grid.Shape[0]*grid.Shape[1] {
		return GridValue{}, fmt.Errorf("variable %s has %d values, grid shape %v needs %d", name, len(values), grid.Shape, grid.Shape[0]*grid.Shape[1])
	}
	units, err := b.GetVarUnits(ctx, name)
	if err != nil {
		return GridValue{}, err
	}
	now, err := m.CurrentTime(ctx)
	if err != nil {
		return GridValue{}, err
	}
	masked := make([]float64, len(values))
	for i, v := range values {
		if v == MissingValue {
			v = math.NaN()
		}
		masked[i] = v
	}
	return GridValue{Name: name, Units: units, Time: now, Grid: grid, Values: masked}, nil
}

func (m *Model) StartTime(ctx context.Context) (float64, error) {
	b, err := m.running()
	if err != nil {
		return 0, err
	}
	return b.GetStartTime(ctx)
}

func (m *Model) EndTime(ctx context.Context) (float64, error) {
	b, err := m.running()
	if err != nil {
		return 0, err
	}
	return b.GetEndTime(ctx)
}

// Time returns the current model time.
func (m *Model) Time(ctx context.Context) (float64, error) {
	b, err := m.running()
	if err != nil {
		return 0, err
	}
	return b.GetCurrentTime(ctx)
}

func (m *Model) TimeStep(ctx context.Context) (float64, error) {
	b, err := m.running()
	if err != nil {
		return 0, err
	}
	return b.GetTimeStep(ctx)
}

func (m *Model) TimeUnits(ctx context.Context) (string, error) {
	b, err := m.running()
	if err != nil {
		return "", err
	}
	return b.GetTimeUnits(ctx)
}

func (m *Model) OutputVarNames(ctx context.Context) ([]string, error) {
	b, err := m.running()
	if err != nil {
		return nil, err
	}
	return b.GetOutputVarNames(ctx)
}

func (m *Model) asTime(ctx context.Context, get func(context.Context) (float64, error)) (time.Time, error) {
	v, err := get(ctx)
	if err != nil {
		return time.Time{}, err
	}
	units, err := m.TimeUnits(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return TimeFromUnits(v, units)
}

func (m *Model) StartDateTime(ctx context.Context) (time.Time, error) {
	return m.asTime(ctx, m.StartTime)
}

func (m *Model) EndDateTime(ctx context.Context) (time.Time, error) {
	return m.asTime(ctx, m.EndTime)
}

// CurrentTime returns the current model time as a date.
func (m *Model) CurrentTime(ctx context.Context) (time.Time, error) {
	return m.asTime(ctx, m.Time)
}

// TimeISO returns the current model time formatted as ISO 8601 UTC.
func (m *Model) TimeISO(ctx context.Context) (string, error) {
	t, err := m.CurrentTime(ctx)
	if err != nil {
		return "", err
	}
	return isotime.String(t), nil
}

// Finalize tears down the model and stops its BMI. The model cannot be used
// afterwards.
func (m *Model) Finalize(ctx context.Context) error {
	b, err := m.running()
	if err != nil {
		return err
	}
	if p, ok := m.plugin.(FinalizeHook); ok {
		err = p.Finalize(ctx, b)
	} else {
		err = b.Finalize(ctx)
	}
	stopErr := m.inst.stop(context.WithoutCancel(ctx))
	m.inst = Instance{}
	m.state = StateFinalized
	m.record(ctx, runlog.ActionFinalize, nil)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("stop %s: %w", m.plugin.Name(), stopErr)
	}
	return nil
}

// Close stops a running BMI without finalizing it. It is safe to call in
// any state.
func (m *Model) Close(ctx context.Context) error {
	if m.state != StateRunning {
		return nil
	}
	err := m.inst.stop(context.WithoutCancel(ctx))
	m.inst = Instance{}
	m.state = StateFinalized
	m.record(ctx, runlog.ActionClose, nil)
	if err != nil {
		m.logger.Warn("stopping model failed", "err", err)
	}
	return err
}
