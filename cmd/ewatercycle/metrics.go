package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/analysis"
)

func (a *app) metricsCommand() *cobra.Command {
	var reference string
	cmd := &cobra.Command{
		Use:   "metrics <csv file>",
		Short: "Compare each discharge column of a CSV with the reference column.",
		Long: `The first column of the file is time. Every other column except the
reference is scored with nse, kge_2009, spectral angle and mean error.
Empty cells and NaN are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			columns, err := readColumns(args[0])
			if err != nil {
				return err
			}
			ref, ok := columns[reference]
			if !ok {
				return fmt.Errorf("reference column %q not found in %s", reference, args[0])
			}
			delete(columns, reference)
			metrics, err := analysis.Compare(ref, columns)
			if err != nil {
				return err
			}
			return analysis.WriteTable(cmd.OutOrStdout(), metrics)
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "GRDC", "column holding the observations")
	return cmd
}

// readColumns returns the numeric columns of a CSV file, skipping the first
// (time) column.
func readColumns(path string) (map[string][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("%s needs a header and at least one row with two columns", path)
	}
	header := records[0]
	if i := slices.IndexFunc(header[1:], func(s string) bool { return strings.TrimSpace(s) == "" }); i >= 0 {
		return nil, fmt.Errorf("%s: column %d has no name", path, i+2)
	}
	columns := make(map[string][]float64, len(header)-1)
	for _, row := range records[1:] {
		for j, name := range header[1:] {
			v := math.NaN()
			if cell := strings.TrimSpace(row[j+1]); cell != "" {
				if v, err = strconv.ParseFloat(cell, 64); err != nil {
					return nil, fmt.Errorf("%s: column %s: %w", path, name, err)
				}
			}
			columns[name] = append(columns[name], v)
		}
	}
	return columns, nil
}
