// Package hype runs the HYPE semi-distributed model. Its configuration is
// the info.txt file of the parameter set, a code page 437 text file with one
// "code value" setting per line.
package hype

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
)

const (
	Name           = "hype"
	ConfigFileName = "info.txt"
	Image          = container.Image("ewatercycle/hype-grpc4bmi:feb2021")

	timeLayout = "2006-01-02 15:04:05"
)

var ErrNoParameterSet = errors.New("hype needs a parameter set")

var hypeTimeLayouts = []string{timeLayout, "2006-01-02 15:04", "2006-01-02"}

// Plugin holds the info.txt of one model instance. It is read from the
// parameter set on first use and patched with the forcing period.
type Plugin struct {
	loaded bool
	cfg    string
	start  time.Time
	end    time.Time
	crit   time.Time
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

func (p *Plugin) load(env model.Env) error {
	if p.loaded {
		return nil
	}
	if env.ParameterSet == nil {
		return ErrNoParameterSet
	}
	raw, err := os.ReadFile(configPath(env.ParameterSet))
	if err != nil {
		return fmt.Errorf("read hype config: %w", err)
	}
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return fmt.Errorf("decode hype config: %w", err)
	}
	cfg := string(decoded)

	start, ok := parseTime(getCode(cfg, "bdate"))
	if !ok {
		return fmt.Errorf("hype config %s has no valid bdate", env.ParameterSet.Config)
	}
	end, ok := parseTime(getCode(cfg, "edate"))
	if !ok {
		return fmt.Errorf("hype config %s has no valid edate", env.ParameterSet.Config)
	}
	crit, ok := parseTime(getCode(cfg, "cdate"))
	if !ok {
		crit = start
		cfg = setCode(cfg, "cdate", crit.Format(timeLayout))
	}
	if env.Forcing != nil {
		b := env.Forcing.Common()
		start, end, crit = b.StartTime, b.EndTime, b.StartTime
		cfg = setCode(cfg, "bdate", start.Format(timeLayout))
		cfg = setCode(cfg, "edate", end.Format(timeLayout))
		cfg = setCode(cfg, "cdate", crit.Format(timeLayout))
	}
	p.cfg, p.start, p.end, p.crit = cfg, start, end, crit
	p.loaded = true
	return nil
}

func (p *Plugin) Parameters(env model.Env) []model.Parameter {
	if err := p.load(env); err != nil {
		if env.Logger != nil {
			env.Logger.Warn("hype parameters unavailable", "err", err)
		}
		return nil
	}
	return []model.Parameter{
		{Name: "start_time", Value: isotime.String(p.start)},
		{Name: "end_time", Value: isotime.String(p.end)},
		{Name: "crit_time", Value: isotime.String(p.crit)},
	}
}

// PrepareCfgDir copies the parameter set and the forcing files into the
// config directory, the model reads everything relative to info.txt.
func (p *Plugin) PrepareCfgDir(_ context.Context, env model.Env) error {
	if env.ParameterSet == nil {
		return ErrNoParameterSet
	}
	if err := fsutil.CopyDir(env.ParameterSet.Directory, env.CfgDir); err != nil {
		return fmt.Errorf("copy parameter set: %w", err)
	}
	if env.Forcing != nil && env.Forcing.Common().Directory != "" {
		if err := fsutil.CopyDir(env.Forcing.Common().Directory, env.CfgDir); err != nil {
			return fmt.Errorf("copy forcing: %w", err)
		}
	}
	return nil
}

func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if err := p.load(env); err != nil {
		return "", err
	}
	cfg := p.cfg
	_, hasStart := params["start_time"]
	_, hasCrit := params["crit_time"]
	if hasStart {
		t, err := model.ParamTime(params, "start_time", p.start)
		if err != nil {
			return "", err
		}
		p.start = t
		cfg = setCode(cfg, "bdate", t.Format(timeLayout))
	}
	if _, ok := params["end_time"]; ok {
		t, err := model.ParamTime(params, "end_time", p.end)
		if err != nil {
			return "", err
		}
		p.end = t
		cfg = setCode(cfg, "edate", t.Format(timeLayout))
	}
	switch {
	case hasCrit:
		t, err := model.ParamTime(params, "crit_time", p.crit)
		if err != nil {
			return "", err
		}
		p.crit = t
		cfg = setCode(cfg, "cdate", t.Format(timeLayout))
	case hasStart:
		p.crit = p.start
		cfg = setCode(cfg, "cdate", p.crit.Format(timeLayout))
	}
	cfg = setCode(cfg, "resultdir", "./")
	p.cfg = cfg

	enc := encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())
	data, err := enc.Bytes([]byte(cfg))
	if err != nil {
		return "", fmt.Errorf("encode hype config: %w", err)
	}
	path := filepath.Join(env.CfgDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write hype config: %w", err)
	}
	return path, nil
}

// Wrappers reports time as hours since the simulation start. HYPE itself
// counts from zero without a reference date.
func (p *Plugin) Wrappers() []bmi.Wrapper {
	units := "hours since " + isotime.String(p.start)
	return []bmi.Wrapper{func(b bmi.Bmi) bmi.Bmi {
		return &absoluteTime{Proxy: bmi.Proxy{Origin: b}, units: units}
	}}
}

type absoluteTime struct {
	bmi.Proxy
	units string
}

func (a *absoluteTime) GetTimeUnits(context.Context) (string, error) { return a.units, nil }

// CoordsToIndices picks the subbasin closest to each point.
func (*Plugin) CoordsToIndices(ctx context.Context, b bmi.Bmi, name string, lats, lons []float64) ([]int, error) {
	return model.NearestPointIndices(ctx, b, name, lats, lons)
}

func (*Plugin) LatLonGrid(context.Context, bmi.Bmi, string) (model.Grid, error) {
	return model.Grid{}, fmt.Errorf("%w: hype coordinates cannot be mapped to grid", model.ErrNotImplemented)
}

// getCode returns the value of the first line starting with code, "" when
// there is none.
func getCode(cfg, code string) string {
	for _, line := range strings.Split(cfg, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, code) {
			fields := strings.Fields(line)
			return strings.Join(fields[1:], " ")
		}
	}
	return ""
}

// setCode replaces every line starting with code by "code value", appending
// the line when missing. The result ends with a single newline.
func setCode(cfg, code, value string) string {
	lines := strings.Split(strings.TrimRight(cfg, "\r\n"), "\n")
	if cfg == "" {
		lines = nil
	}
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, code) {
			lines[i] = code + " " + value
			found = true
		}
	}
	if !found {
		lines = append(lines, code+" "+value)
	}
	return strings.Join(lines, "\n") + "\n"
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range hypeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
