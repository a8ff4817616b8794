// Package lisflood runs the LISFLOOD distributed model. The XML settings
// file of the parameter set is patched with the run period, the paths of
// the parameter set, forcing and output and the forcing map prefixes.
package lisflood

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

const (
	Name           = "lisflood"
	ConfigFileName = "lisflood_setting.xml"
	imageRepo      = "ewatercycle/lisflood-grpc4bmi"
)

var (
	ErrNoParameterSet = errors.New("lisflood needs a parameter set")
	ErrWrongForcing   = errors.New("lisflood needs a lisflood forcing")
)

// mapPrefixes pairs the evaporation map settings with the prefix settings
// they are built from.
var mapPrefixes = []struct {
	maps, prefix string
	file         func(*forcing.Lisflood) string
}{
	{"E0Maps", "PrefixE0", func(f *forcing.Lisflood) string { return f.PrefixE0 }},
	{"ES0Maps", "PrefixES0", func(f *forcing.Lisflood) string { return f.PrefixES0 }},
	{"ET0Maps", "PrefixET0", func(f *forcing.Lisflood) string { return f.PrefixET0 }},
}

// setting is a textvar name fragment and the value for every match.
type setting struct{ key, value string }

type Plugin struct {
	loaded    bool
	settings  *Settings
	forcing   *forcing.Lisflood
	start     time.Time
	end       time.Time
	irrigEff  string
	maskMap   string
	extraDirs []string
}

func New() model.Plugin { return &Plugin{} }

func (*Plugin) Name() string       { return Name }
func (*Plugin) Versions() []string { return []string{"20.10"} }

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
	if p.loaded {
		return nil
	}
	f, ok := env.Forcing.(*forcing.Lisflood)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrWrongForcing, env.Forcing)
	}
	if env.ParameterSet == nil {
		return ErrNoParameterSet
	}
	s, err := LoadSettings(configPath(env.ParameterSet))
	if err != nil {
		return err
	}
	p.settings = s
	p.forcing = f
	p.start, p.end = f.StartTime, f.EndTime
	p.loaded = true
	return nil
}

func (p *Plugin) Parameters(env model.Env) []model.Parameter {
	if err := p.load(env); err != nil {
		if env.Logger != nil {
			env.Logger.Warn("lisflood parameters unavailable", "err", err)
		}
		return nil
	}
	irrig, _ := p.settings.Value("IrrigationEfficiency")
	mask, _ := p.settings.Value("MaskMap")
	return []model.Parameter{
		{Name: "IrrigationEfficiency", Value: irrig},
		{Name: "MaskMap", Value: mask},
		{Name: "start_time", Value: isotime.String(p.start)},
		{Name: "end_time", Value: isotime.String(p.end)},
	}
}

func (p *Plugin) applyParams(env model.Env, params map[string]any) error {
	irrig, err := model.ParamString(params, "IrrigationEfficiency", p.irrigEff)
	if err != nil {
		return err
	}
	p.irrigEff = irrig
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
	mask, err := model.ParamString(params, "MaskMap", "")
	if err != nil {
		return err
	}
	if mask != "" {
		abs, err := fsutil.Abs(mask, fsutil.PathOptions{})
		if err != nil {
			return fmt.Errorf("MaskMap: %w", err)
		}
		p.maskMap = abs
		if !fsutil.Within(env.ParameterSet.Directory, abs) {
			p.extraDirs = append(p.extraDirs, filepath.Dir(abs))
		}
	}
	return nil
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if err := p.load(env); err != nil {
		return "", err
	}
	if err := p.applyParams(env, params); err != nil {
		return "", err
	}
	f := p.forcing
	settings := []setting{
		{"CalendarDayStart", p.start.Format("02/01/2006") + " 00:00"},
		{"StepStart", "1"},
		{"StepEnd", fmt.Sprint(int(p.end.Sub(p.start).Hours() / 24))},
		{"PathRoot", env.ParameterSet.Directory},
		{"PathMeteo", f.Directory},
		{"PathOut", env.CfgDir},
	}
	if p.irrigEff != "" {
		settings = append(settings, setting{"IrrigationEfficiency", p.irrigEff})
	}
	if p.maskMap != "" {
		settings = append(settings, setting{"MaskMap", strings.TrimSuffix(p.maskMap, filepath.Ext(p.maskMap))})
	}
	for _, s := range settings {
		p.settings.SetMatching(s.key, s.value)
	}
	p.settings.SetMatching("PrefixPrecipitation", stem(f.PrefixPrecipitation))
	p.settings.SetMatching("PrefixTavg", stem(f.PrefixTavg))
	for _, m := range mapPrefixes {
		p.settings.SetMatching(m.prefix, stem(m.file(f)))
		p.settings.SetMatching(m.maps, "$(PathMeteo)/$("+m.prefix+")")
	}

	path := filepath.Join(env.CfgDir, ConfigFileName)
	if err := p.settings.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// InputDirs adds the directory of a mask map outside the parameter set.
func (p *Plugin) InputDirs(model.Env) []string { return p.extraDirs }

// Finalize skips the remote call, the LISFLOOD BMI fails on it.
func (*Plugin) Finalize(context.Context, bmi.Bmi) error { return nil }
