package lisflood

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
)

const lisvapScript = "/opt/Lisvap/src/lisvap1.py"

// lisvapInputs maps LISVAP input map settings to the recipe variables that
// feed them.
var lisvapInputs = []struct{ setting, variable string }{
	{"TAvgMaps", "tas"},
	{"TMaxMaps", "tasmax"},
	{"TMinMaps", "tasmin"},
	{"EActMaps", "e"},
	{"WindMaps", "sfcWind"},
	{"RgdMaps", "rsds"},
}

// lisvapOutputs maps LISVAP output prefix settings to forcing variables.
var lisvapOutputs = []struct{ setting, variable string }{
	{"PrefixE0", "e0"},
	{"PrefixES0", "es0"},
	{"PrefixET0", "et0"},
}

// Lisvap computes evaporation maps from the recipe output by running
// LISVAP inside the LISFLOOD image.
type Lisvap struct {
	Config config.Config
	// Runner defaults to os/exec.
	Runner container.CommandRunner
	Logger *slog.Logger
}

// LisvapRun is one LISVAP invocation.
type LisvapRun struct {
	Options    LisvapOptions
	ForcingDir string
	Dataset    string
	Basin      string
	StartTime  time.Time
	EndTime    time.Time
	// Files maps recipe variables to files in ForcingDir.
	Files map[string]string
}

// OutputFiles returns the names LISVAP writes e0, es0 and et0 to.
func (r LisvapRun) OutputFiles() map[string]string {
	out := map[string]string{}
	for _, o := range lisvapOutputs {
		out[o.variable] = fmt.Sprintf("lisflood_%s_%s_%s_%d_%d.nc",
			r.Dataset, r.Basin, o.variable, r.StartTime.Year(), r.EndTime.Year())
	}
	return out
}

// WriteConfig patches the LISVAP settings template and writes it to the
// forcing directory. It returns the written path.
func (r LisvapRun) WriteConfig() (string, error) {
	s, err := LoadSettings(r.Options.Config)
	if err != nil {
		return "", err
	}
	const layout = "02/01/2006 15:04"
	settings := []setting{
		{"CalendarDayStart", r.StartTime.Format(layout)},
		{"StepStart", r.StartTime.Format(layout)},
		{"StepEnd", r.EndTime.Format(layout)},
		{"PathOut", r.ForcingDir},
		{"PathBaseMapsIn", r.Options.ParameterSetDir + "/maps_netcdf"},
		{"MaskMap", strings.ReplaceAll(r.Options.MaskMap, ".nc", "")},
		{"PathMeteoIn", r.ForcingDir},
	}
	for _, st := range settings {
		s.SetMatching(st.key, st.value)
	}
	for _, in := range lisvapInputs {
		file, ok := r.Files[in.variable]
		if !ok {
			return "", fmt.Errorf("lisvap input %s has no %s file in the recipe output", in.setting, in.variable)
		}
		s.SetMatching(in.setting, "$(PathMeteoIn)/"+strings.ReplaceAll(file, ".nc", ""))
	}
	outputs := r.OutputFiles()
	for _, o := range lisvapOutputs {
		s.SetMatching(o.setting, strings.ReplaceAll(outputs[o.variable], ".nc", ""))
	}
	path := filepath.Join(r.ForcingDir, fmt.Sprintf("lisvap_%s_setting.xml", r.Dataset))
	if err := s.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// Run writes the LISVAP settings, runs LISVAP and returns the output files
// keyed by e0, es0 and et0.
func (l *Lisvap) Run(ctx context.Context, r LisvapRun) (map[string]string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfgFile, err := r.WriteConfig()
	if err != nil {
		return nil, err
	}
	version := r.Options.Version
	if version == "" {
		version = (&Plugin{}).Versions()[0]
	}
	image := (&Plugin{}).Image(version)
	logger.Info("running lisvap", "image", image.String(), "config", cfgFile)
	out, err := container.Exec(ctx, container.ExecOptions{
		Engine:   l.Config.ContainerEngine,
		Image:    image,
		ImageDir: l.Config.ApptainerDir,
		Mounts:   []string{r.Options.ParameterSetDir, r.Options.MaskMap, r.ForcingDir},
		WorkDir:  r.ForcingDir,
		Command:  []string{"python3", lisvapScript, cfgFile},
		Runner:   l.Runner,
	})
	if err != nil {
		return nil, fmt.Errorf("lisvap: %w", err)
	}
	logger.Debug("lisvap finished", "output", string(out))
	return r.OutputFiles(), nil
}
