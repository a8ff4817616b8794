// Package wflow runs the wflow_sbm distributed model. The parameter set is
// copied into the config directory next to the forcing file and a patched
// copy of its ini file.
package wflow

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
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

const (
	Name           = "wflow"
	ConfigFileName = "wflow_ewatercycle.ini"
	imageRepo      = "ewatercycle/wflow-grpc4bmi"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	ErrNoParameterSet = errors.New("wflow needs a parameter set")
	ErrWrongForcing   = errors.New("wflow needs a wflow forcing")
)

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	AllowBooleanKeys:        true,
	PreserveSurroundedQuote: true,
}

type Plugin struct {
	cfg     *ini.File
	forcing *forcing.Wflow
}

func New() model.Plugin { return &Plugin{} }

func (*Plugin) Name() string       { return Name }
func (*Plugin) Versions() []string { return []string{"2020.1.3", "2020.1.2", "2020.1.1"} }

func (*Plugin) Image(version string) container.Image {
	return container.Image(imageRepo + ":" + version)
}

func configPath(ps *parameterset.ParameterSet) string {
	if filepath.IsAbs(ps.Config) {
		return ps.Config
	}
	return filepath.Join(ps.Directory, ps.Config)
}

func (p *Plugin) load(env model.Env) error {
	if p.cfg != nil {
		return nil
	}
	if env.ParameterSet == nil {
		return ErrNoParameterSet
	}
	cfg, err := ini.LoadSources(loadOptions, configPath(env.ParameterSet))
	if err != nil {
		return fmt.Errorf("read wflow config: %w", err)
	}
	if env.Forcing != nil {
		f, ok := env.Forcing.(*forcing.Wflow)
		if !ok {
			return fmt.Errorf("%w, got %T", ErrWrongForcing, env.Forcing)
		}
		cfg.Section("framework").Key("netcdfinput").SetValue(filepath.Base(f.NetcdfInput))
		stacks := cfg.Section("inputmapstacks")
		stacks.Key("Precipitation").SetValue(f.Precipitation)
		stacks.Key("EvapoTranspiration").SetValue(f.EvapoTranspiration)
		stacks.Key("Temperature").SetValue(f.Temperature)
		if f.Inflow != "" {
			stacks.Key("Inflow").SetValue(f.Inflow)
		}
		run := cfg.Section("run")
		run.Key("starttime").SetValue(f.StartTime.Format(timeLayout))
		run.Key("endtime").SetValue(f.EndTime.Format(timeLayout))
		p.forcing = f
	}
	if !cfg.HasSection("API") {
		if env.Logger != nil {
			env.Logger.Warn("config file from parameter set is missing API section, adding section")
		}
	}
	api := cfg.Section("API")
	if !api.HasKey("RiverRunoff") {
		if env.Logger != nil {
			env.Logger.Warn("config file from parameter set is missing RiverRunoff option in API section, adding it with value '2, m/s'")
		}
		api.Key("RiverRunoff").SetValue("2, m/s")
	}
	p.cfg = cfg
	return nil
}

func wflowToISO(s string) (string, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return "", fmt.Errorf("wflow time %q: %w", s, err)
	}
	return isotime.String(t), nil
}

func (p *Plugin) Parameters(env model.Env) []model.Parameter {
	if err := p.load(env); err != nil {
		if env.Logger != nil {
			env.Logger.Warn("wflow parameters unavailable", "err", err)
		}
		return nil
	}
	run := p.cfg.Section("run")
	var out []model.Parameter
	for _, key := range []struct{ param, ini string }{{"start_time", "starttime"}, {"end_time", "endtime"}} {
		v, err := wflowToISO(run.Key(key.ini).String())
		if err != nil {
			if env.Logger != nil {
				env.Logger.Warn("wflow parameter unavailable", "parameter", key.param, "err", err)
			}
			continue
		}
		out = append(out, model.Parameter{Name: key.param, Value: v})
	}
	return out
}

// PrepareCfgDir copies the parameter set and the forcing file into the
// config directory.
func (p *Plugin) PrepareCfgDir(_ context.Context, env model.Env) error {
	if err := p.load(env); err != nil {
		return err
	}
	if err := fsutil.CopyDir(env.ParameterSet.Directory, env.CfgDir); err != nil {
		return fmt.Errorf("copy parameter set: %w", err)
	}
	if p.forcing != nil {
		src := p.forcing.File(p.forcing.NetcdfInput)
		if err := fsutil.CopyFile(src, filepath.Join(env.CfgDir, filepath.Base(src))); err != nil {
			return fmt.Errorf("copy forcing: %w", err)
		}
	}
	return nil
}

func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if err := p.load(env); err != nil {
		return "", err
	}
	run := p.cfg.Section("run")
	for _, key := range []struct{ param, ini string }{{"start_time", "starttime"}, {"end_time", "endtime"}} {
		if _, ok := params[key.param]; !ok {
			continue
		}
		t, err := model.ParamTime(params, key.param, time.Time{})
		if err != nil {
			return "", err
		}
		run.Key(key.ini).SetValue(t.Format(timeLayout))
	}
	path := filepath.Join(env.CfgDir, ConfigFileName)
	if err := p.cfg.SaveTo(path); err != nil {
		return "", fmt.Errorf("write wflow config: %w", err)
	}
	return path, nil
}

// InputDirs mounts the parameter set and forcing directories.
func (p *Plugin) InputDirs(env model.Env) []string {
	var dirs []string
	if env.ParameterSet != nil {
		dirs = append(dirs, env.ParameterSet.Directory)
	}
	if env.Forcing != nil && env.Forcing.Common().Directory != "" {
		dirs = append(dirs, env.Forcing.Common().Directory)
	}
	return dirs
}

// Wrappers swaps the grid axes, wflow reports x as latitude.
func (*Plugin) Wrappers() []bmi.Wrapper { return []bmi.Wrapper{bmi.SwapXY} }
