package main

import (
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/observation/grdc"
)

func (a *app) grdcCommand() *cobra.Command {
	var (
		start, end string
		dataHome   string
		column     string
	)
	cmd := &cobra.Command{
		Use:   "grdc <station id>",
		Short: "Print the daily discharge of a GRDC station as CSV.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := isotime.Parse(start)
			if err != nil {
				return fmt.Errorf("parse --start: %w", err)
			}
			to, err := isotime.Parse(end)
			if err != nil {
				return fmt.Errorf("parse --end: %w", err)
			}
			d, err := grdc.GetData(a.store.Get(), args[0], from, to, grdc.Options{DataHome: dataHome, Column: column, Logger: a.logger})
			if err != nil {
				return err
			}
			a.logger.Info("grdc data read", "station", d.Station.ID, "river", d.Station.River, "name", d.Station.Name, "source", d.Source, "rows", len(d.Values))
			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.Write([]string{"time", d.Column}); err != nil {
				return err
			}
			for i, t := range d.Times {
				if err := w.Write([]string{isotime.String(t), strconv.FormatFloat(d.Values[i], 'g', -1, 64)}); err != nil {
					return err
				}
			}
			w.Flush()
			return w.Error()
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, e.g. 2000-01-01T00:00:00Z")
	cmd.Flags().StringVar(&end, "end", "", "last day, included")
	cmd.Flags().StringVar(&dataHome, "data-home", "", "directory with GRDC files, grdc_location when empty")
	cmd.Flags().StringVar(&column, "column", grdc.DefaultColumn, "name of the discharge column")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
