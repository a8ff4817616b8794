package model

import (
	"context"
	"fmt"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/geo"
)

// Grid is a rectilinear lat/lon grid. Shape is rows (latitude) by columns
// (longitude).
type Grid struct {
	Lat   []float64
	Lon   []float64
	Shape []int
}

// GridValue is a variable on its grid at one model time. Values are row
// major with NaN for missing cells.
type GridValue struct {
	Name   string
	Units  string
	Time   time.Time
	Grid   Grid
	Values []float64
}

// At returns the value at row i (latitude) and column j (longitude).
func (g GridValue) At(i, j int) float64 {
	return g.Values[i*g.Grid.Shape[1]+j]
}

// DefaultLatLonGrid reads the grid of a variable taking x as longitude and
// y as latitude.
func DefaultLatLonGrid(ctx context.Context, b bmi.Bmi, name string) (Grid, error) {
	grid, err := b.GetVarGrid(ctx, name)
	if err != nil {
		return Grid{}, err
	}
	shape, err := b.GetGridShape(ctx, grid)
	if err != nil {
		return Grid{}, err
	}
	lon, err := b.GetGridX(ctx, grid)
	if err != nil {
		return Grid{}, err
	}
	lat, err := b.GetGridY(ctx, grid)
	if err != nil {
		return Grid{}, err
	}
	return Grid{Lat: lat, Lon: lon, Shape: shape}, nil
}

// NearestPointIndices maps each lat/lon pair to the index of the closest
// point in the x (longitude) and y (latitude) lists of an unstructured
// grid.
func NearestPointIndices(ctx context.Context, b bmi.Bmi, name string, lats, lons []float64) ([]int, error) {
	grid, err := b.GetVarGrid(ctx, name)
	if err != nil {
		return nil, err
	}
	x, err := b.GetGridX(ctx, grid)
	if err != nil {
		return nil, err
	}
	y, err := b.GetGridY(ctx, grid)
	if err != nil {
		return nil, err
	}
	if len(x) != len(y) || len(x) == 0 {
		return nil, fmt.Errorf("variable %s has %d x and %d y coordinates", name, len(x), len(y))
	}
	out := make([]int, len(lats))
	for i := range lats {
		best := 0
		bestDist := geo.Distance(lons[i], lats[i], x[0], y[0])
		for j := 1; j < len(x); j++ {
			if d := geo.Distance(lons[i], lats[i], x[j], y[j]); d < bestDist {
				best, bestDist = j, d
			}
		}
		out[i] = best
	}
	return out, nil
}
