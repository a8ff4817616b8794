package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/ncutil"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/lisflood"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/marrmot"
)

// requestFlags are the flags shared by forcing generate and recipe build.
type requestFlags struct {
	kind      string
	dataset   string
	start     string
	end       string
	shape     string
	directory string
	variables []string
	options   []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", string(forcing.KindGenericLumped), "forcing kind: "+kindList())
	cmd.Flags().StringVar(&f.dataset, "dataset", "ERA5", "predefined dataset")
	cmd.Flags().StringVar(&f.start, "start", "", "start time, e.g. 2000-01-01T00:00:00Z")
	cmd.Flags().StringVar(&f.end, "end", "", "end time, e.g. 2001-12-31T00:00:00Z")
	cmd.Flags().StringVar(&f.shape, "shape", "", "shapefile of the catchment")
	cmd.Flags().StringVar(&f.directory, "dir", "", "ESMValTool output directory")
	cmd.Flags().StringSliceVar(&f.variables, "var", nil, "variables for the user kinds")
	cmd.Flags().StringArrayVar(&f.options, "option", nil, "model option key=value, the value is parsed as YAML")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("shape")
}

func kindList() string {
	kinds := make([]string, 0, len(forcing.Kinds()))
	for _, k := range forcing.Kinds() {
		kinds = append(kinds, string(k))
	}
	return strings.Join(kinds, ", ")
}

func (f *requestFlags) request() (forcing.Kind, forcing.Request, error) {
	kind, err := forcing.ParseKind(f.kind)
	if err != nil {
		return "", forcing.Request{}, err
	}
	start, err := isotime.Parse(f.start)
	if err != nil {
		return "", forcing.Request{}, fmt.Errorf("parse --start: %w", err)
	}
	end, err := isotime.Parse(f.end)
	if err != nil {
		return "", forcing.Request{}, fmt.Errorf("parse --end: %w", err)
	}
	options, err := parseOptions(f.options)
	if err != nil {
		return "", forcing.Request{}, err
	}
	return kind, forcing.Request{
		DatasetName: f.dataset,
		StartTime:   start,
		EndTime:     end,
		Shape:       f.shape,
		Directory:   f.directory,
		Variables:   f.variables,
		Options:     options,
	}, nil
}

// parseOptions turns key=value pairs into a map. Values are YAML so that
// numbers, booleans and mappings keep their type.
func parseOptions(pairs []string) (map[string]any, error) {
	out := map[string]any{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("option %q is not key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (a *app) forcingSpec(kind forcing.Kind) (forcing.Spec, error) {
	lv := &lisflood.Lisvap{Config: a.store.Get(), Logger: a.logger}
	return plugins.ForcingSpec(kind, lv, a.logger)
}

func (a *app) forcingCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "forcing", Short: "Generate and inspect forcing data."}

	var flags requestFlags
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Run ESMValTool to generate forcing for a model.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, req, err := flags.request()
			if err != nil {
				return err
			}
			spec, err := a.forcingSpec(kind)
			if err != nil {
				return err
			}
			esmCfg, err := esmvaltool.ConfigFromEnv()
			if err != nil {
				return err
			}
			f, err := forcing.Generate(cmd.Context(), esmvaltool.NewRunner(esmCfg, a.logger), req, spec, a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("forcing generated", "kind", f.Kind(), "directory", f.Common().Directory)
			fmt.Fprintln(cmd.OutOrStdout(), f.Common().Directory)
			return nil
		},
	}
	flags.register(generate)

	var export string
	show := &cobra.Command{
		Use:   "show <directory>",
		Short: "Describe the forcing saved in a directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := forcing.Load(args[0])
			if err != nil {
				return err
			}
			b := f.Common()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "kind\t%s\n", f.Kind())
			fmt.Fprintf(tw, "directory\t%s\n", b.Directory)
			fmt.Fprintf(tw, "start_time\t%s\n", isotime.String(b.StartTime))
			fmt.Fprintf(tw, "end_time\t%s\n", isotime.String(b.EndTime))
			if b.Shape != "" {
				fmt.Fprintf(tw, "shape\t%s\n", b.Shape)
			}
			for _, v := range b.Variables() {
				fmt.Fprintf(tw, "%s\t%s\n", v, b.Filenames[v])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if export == "" {
				return nil
			}
			m, ok := f.(*forcing.Marrmot)
			if !ok {
				return errors.New("--export is only supported for marrmot forcing")
			}
			return exportMarrmot(m, export)
		},
	}
	show.Flags().StringVar(&export, "export", "", "write the MARRMoT series to this NetCDF file")

	cmd.AddCommand(generate, show)
	return cmd
}

// exportMarrmot converts the lumped series of a .mat forcing to NetCDF.
func exportMarrmot(f *forcing.Marrmot, path string) error {
	s, err := marrmot.ReadForcing(f)
	if err != nil {
		return err
	}
	path, err = fsutil.Abs(path, fsutil.PathOptions{})
	if err != nil {
		return err
	}
	days := make([]float64, len(s.Times()))
	for i := range days {
		days[i] = float64(i)
	}
	if len(days) != len(s.Precipitation) {
		return fmt.Errorf("marrmot forcing has %d days but %d precipitation values", len(days), len(s.Precipitation))
	}
	series := func(name, units string, values []float64) ncutil.Variable {
		return ncutil.Variable{Name: name, Dimensions: []string{"time"}, Values: values, Attributes: map[string]any{"units": units}}
	}
	return ncutil.Write(path, []ncutil.Variable{
		series("time", "days since "+s.Start.Format("2006-01-02 15:04:05"), days),
		series("pr", "mm day-1", s.Precipitation),
		series("tas", "degC", s.Temperature),
		series("pet", "mm day-1", s.PET),
		{Name: "lat", Dimensions: []string{"station"}, Values: []float64{s.Lat}, Attributes: map[string]any{"units": "degrees_north"}},
		{Name: "lon", Dimensions: []string{"station"}, Values: []float64{s.Lon}, Attributes: map[string]any{"units": "degrees_east"}},
	})
}

func (a *app) recipeCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "recipe", Short: "Work with ESMValTool recipes."}

	var flags requestFlags
	build := &cobra.Command{
		Use:   "build",
		Short: "Print the forcing recipe without running it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, req, err := flags.request()
			if err != nil {
				return err
			}
			req.Shape, err = fsutil.Abs(req.Shape, fsutil.PathOptions{MustExist: true})
			if err != nil {
				return fmt.Errorf("shape: %w", err)
			}
			spec, err := a.forcingSpec(kind)
			if err != nil {
				return err
			}
			if len(spec.Variables) > 0 {
				req.Variables = spec.Variables
			}
			recipe, err := spec.Recipe(req)
			if err != nil {
				return err
			}
			out, err := recipe.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	flags.register(build)

	cmd.AddCommand(build)
	return cmd
}
