package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/observation/grdc"
	"github.com/ewatercycle/ewatercycle-go/internal/parameterset"
	"github.com/ewatercycle/ewatercycle-go/internal/platform/postgres"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins"
	"github.com/ewatercycle/ewatercycle-go/internal/runlog"
)

type runFlags struct {
	parameterSet string
	forcingDir   string
	version      string
	cfgDir       string
	params       []string
	variable     string
	lat, lon     float64
	station      string
}

func (a *app) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <model>",
		Short: "Set up a model, run it to its end time and print a variable as CSV.",
		Long: `The variable is taken at --lat/--lon when both are given, otherwise it is
averaged over the grid. With --grdc the observed discharge of the station is
added as a GRDC column, ready for the metrics command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.lat, f.lon = math.NaN(), math.NaN()
			if cmd.Flags().Changed("lat") {
				f.lat, _ = cmd.Flags().GetFloat64("lat")
			}
			if cmd.Flags().Changed("lon") {
				f.lon, _ = cmd.Flags().GetFloat64("lon")
			}
			return a.run(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.parameterSet, "parameter-set", "", "name of a parameter set in the configuration")
	cmd.Flags().StringVar(&f.forcingDir, "forcing", "", "directory of a saved forcing")
	cmd.Flags().StringVar(&f.version, "version", "", "model version, the first supported one when empty")
	cmd.Flags().StringVar(&f.cfgDir, "cfg-dir", "", "config directory, time stamped in output_dir when empty")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "setup parameter key=value, the value is parsed as YAML")
	cmd.Flags().StringVar(&f.variable, "var", "discharge", "output variable to print")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "latitude of the point to print")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "longitude of the point to print")
	cmd.Flags().StringVar(&f.station, "grdc", "", "GRDC station to add as observed column")
	return cmd
}

func (a *app) run(cmd *cobra.Command, name string, f runFlags) error {
	ctx := cmd.Context()
	cfg := a.store.Get()
	plugin, err := plugins.Registry().Lookup(name)
	if err != nil {
		return err
	}
	opts := model.Options{Version: f.version, Logger: a.logger}
	if f.parameterSet != "" {
		ps, err := parameterset.Get(cfg, f.parameterSet)
		if err != nil {
			return err
		}
		opts.ParameterSet = &ps
	}
	if f.forcingDir != "" {
		if opts.Forcing, err = forcing.Load(f.forcingDir); err != nil {
			return err
		}
	}
	params, err := parseOptions(f.params)
	if err != nil {
		return err
	}
	recorder, closeDB, err := a.recorder(ctx)
	if err != nil {
		return err
	}
	defer closeDB()
	opts.Recorder = recorder
	if opts.Starter, err = a.starter(plugin); err != nil {
		return err
	}

	m, err := model.New(cfg, plugin, opts)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(ctx) }()

	cfgFile, cfgDir, err := m.Setup(ctx, model.SetupRequest{CfgDir: f.cfgDir, Params: params})
	if err != nil {
		return err
	}
	a.logger.Info("model set up", "model", name, "run_id", m.RunID().String(), "cfg_file", cfgFile, "cfg_dir", cfgDir)
	if err := m.Initialize(ctx, cfgFile); err != nil {
		return err
	}
	end, err := m.EndTime(ctx)
	if err != nil {
		return err
	}

	var rows [][]string
	for {
		now, err := m.Time(ctx)
		if err != nil {
			return err
		}
		if now >= end {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Update(ctx); err != nil {
			return err
		}
		value, err := a.sample(ctx, m, f)
		if err != nil {
			return err
		}
		t, err := m.CurrentTime(ctx)
		if err != nil {
			return err
		}
		rows = append(rows, []string{isotime.String(t), formatFloat(value)})
	}
	if err := m.Finalize(ctx); err != nil {
		return err
	}

	header := []string{"time", name}
	if f.station != "" && len(rows) > 0 {
		if rows, err = a.addObserved(rows, f.station); err != nil {
			return err
		}
		header = append(header, "GRDC")
	}
	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// sample reads the variable at the requested point, or its grid mean.
func (a *app) sample(ctx context.Context, m *model.Model, f runFlags) (float64, error) {
	if !math.IsNaN(f.lat) && !math.IsNaN(f.lon) {
		v, err := m.GetValueAtCoords(ctx, f.variable, []float64{f.lat}, []float64{f.lon})
		if err != nil {
			return 0, err
		}
		return v[0], nil
	}
	values, err := m.GetValue(ctx, f.variable)
	if err != nil {
		return 0, err
	}
	return gridMean(values), nil
}

// gridMean averages the cells that hold data, NaN when none do.
func gridMean(values []float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if math.IsNaN(v) || v == model.MissingValue {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (a *app) addObserved(rows [][]string, station string) ([][]string, error) {
	first, err := isotime.Parse(rows[0][0])
	if err != nil {
		return nil, err
	}
	last, err := isotime.Parse(rows[len(rows)-1][0])
	if err != nil {
		return nil, err
	}
	d, err := grdc.GetData(a.store.Get(), station, first, last, grdc.Options{Column: "GRDC", Logger: a.logger})
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]float64, len(d.Times))
	for i, t := range d.Times {
		byDay[t.Format("2006-01-02")] = d.Values[i]
	}
	for i, row := range rows {
		v, ok := byDay[row[0][:10]]
		if !ok {
			v = math.NaN()
		}
		rows[i] = append(row, formatFloat(v))
	}
	return rows, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// starter runs local plugins in process and the others with the configured
// container engine.
func (a *app) starter(p model.Plugin) (model.Starter, error) {
	if _, ok := p.(model.LocalPlugin); ok {
		return model.LocalStarter{}, nil
	}
	c, err := container.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	d, err := container.NewDispatcher(a.store.Get(), c, a.logger)
	if err != nil {
		return nil, err
	}
	return model.AutoStarter{Container: model.ContainerStarter{Dispatcher: d}}, nil
}

// recorder writes the run ledger to Postgres when EWATERCYCLE_DATABASE_URL is
// set.
func (a *app) recorder(ctx context.Context) (runlog.Recorder, func(), error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if !dbCfg.Enabled() {
		return runlog.Nop{}, func() {}, nil
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open run ledger: %w", err)
	}
	if err := runlog.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return runlog.Postgres{DB: db}, func() { _ = db.Close() }, nil
}
