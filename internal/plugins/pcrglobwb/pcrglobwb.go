// Package pcrglobwb runs the PCR-GLOBWB global hydrology model. The ini
// file of the parameter set is pointed at the parameter set, forcing and
// output directories.
package pcrglobwb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-ini/ini"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

const (
	Name           = "pcrglobwb"
	ConfigFileName = "pcrglobwb_ewatercycle.ini"
	Image          = container.Image("ewatercycle/pcrg-grpc4bmi:setters")

	dateLayout = "2006-01-02"
)

var (
	ErrNoParameterSet = errors.New("pcrglobwb needs a parameter set")
	ErrWrongForcing   = errors.New("pcrglobwb needs a pcrglobwb forcing")
)

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	AllowBooleanKeys:        true,
	PreserveSurroundedQuote: true,
}

// setting maps a Setup parameter to an ini key.
type setting struct {
	param, section, key string
}

var settings = []setting{
	{"routing_method", "routingOptions", "routingMethod"},
	{"dynamic_flood_plain", "routingOptions", "dynamicFloodPlain"},
	{"max_spinups_in_years", "globalOptions", "maxSpinUpsInYears"},
}

type Plugin struct {
	cfg *ini.File
}

func New() model.Plugin { return &Plugin{} }

func (*Plugin) Name() string                 { return Name }
func (*Plugin) Versions() []string           { return nil }
func (*Plugin) Image(string) container.Image { return Image }

func configPath(ps *parameterset.ParameterSet) string {
	if filepath.IsAbs(ps.Config) {
		return ps.Config
	}
	return filepath.Join(ps.Directory, ps.Config)
}

// load reads the parameter set ini and applies the forcing. The end time
// is the end of the forcing.
func (p *Plugin) load(env model.Env) error {
	if p.cfg != nil {
		return nil
	}
	if env.ParameterSet == nil {
		return ErrNoParameterSet
	}
	cfg, err := ini.LoadSources(loadOptions, configPath(env.ParameterSet))
	if err != nil {
		return fmt.Errorf("read pcrglobwb config: %w", err)
	}
	global := cfg.Section("globalOptions")
	global.Key("inputDir").SetValue(env.ParameterSet.Directory)
	if env.Forcing != nil {
		f, ok := env.Forcing.(*forcing.PCRGlobWB)
		if !ok {
			return fmt.Errorf("%w, got %T", ErrWrongForcing, env.Forcing)
		}
		global.Key("startTime").SetValue(f.StartTime.Format(dateLayout))
		global.Key("endTime").SetValue(f.EndTime.Format(dateLayout))
		meteo := cfg.Section("meteoOptions")
		meteo.Key("temperatureNC").SetValue(f.File(f.TemperatureNC))
		meteo.Key("precipitationNC").SetValue(f.File(f.PrecipitationNC))
	}
	p.cfg = cfg
	return nil
}

func (p *Plugin) value(section, key string) string {
	return p.cfg.Section(section).Key(key).String()
}

func (p *Plugin) Parameters(env model.Env) []model.Parameter {
	if err := p.load(env); err != nil {
		if env.Logger != nil {
			env.Logger.Warn("pcrglobwb parameters unavailable", "err", err)
		}
		return nil
	}
	return []model.Parameter{
		{Name: "start_time", Value: p.value("globalOptions", "startTime") + "T00:00:00Z"},
		{Name: "end_time", Value: p.value("globalOptions", "endTime") + "T00:00:00Z"},
		{Name: "routing_method", Value: p.value("routingOptions", "routingMethod")},
		{Name: "dynamic_flood_plain", Value: p.value("routingOptions", "dynamicFloodPlain")},
		{Name: "max_spinups_in_years", Value: p.value("globalOptions", "maxSpinUpsInYears")},
	}
}

func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if err := p.load(env); err != nil {
		return "", err
	}
	global := p.cfg.Section("globalOptions")
	for param, key := range map[string]string{"start_time": "startTime", "end_time": "endTime"} {
		if _, ok := params[param]; !ok {
			continue
		}
		t, err := model.ParamTime(params, param, time.Time{})
		if err != nil {
			return "", err
		}
		global.Key(key).SetValue(t.Format(dateLayout))
	}
	for _, s := range settings {
		if _, ok := params[s.param]; !ok {
			continue
		}
		v, err := paramText(params, s.param)
		if err != nil {
			return "", err
		}
		p.cfg.Section(s.section).Key(s.key).SetValue(v)
	}
	global.Key("outputDir").SetValue(env.CfgDir)

	path := filepath.Join(env.CfgDir, ConfigFileName)
	if err := p.cfg.SaveTo(path); err != nil {
		return "", fmt.Errorf("write pcrglobwb config: %w", err)
	}
	return path, nil
}

// paramText formats booleans the way PCR-GLOBWB reads them.
func paramText(params map[string]any, key string) (string, error) {
	if b, ok := params[key].(bool); ok {
		if b {
			return "True", nil
		}
		return "False", nil
	}
	return model.ParamString(params, key, "")
}

// LatLonGrid reads the grid with x as latitude and y as longitude.
func (*Plugin) LatLonGrid(ctx context.Context, b bmi.Bmi, name string) (model.Grid, error) {
	grid, err := b.GetVarGrid(ctx, name)
	if err != nil {
		return model.Grid{}, err
	}
	shape, err := b.GetGridShape(ctx, grid)
	if err != nil {
		return model.Grid{}, err
	}
	lat, err := b.GetGridX(ctx, grid)
	if err != nil {
		return model.Grid{}, err
	}
	lon, err := b.GetGridY(ctx, grid)
	if err != nil {
		return model.Grid{}, err
	}
	return model.Grid{Lat: lat, Lon: lon, Shape: shape}, nil
}
