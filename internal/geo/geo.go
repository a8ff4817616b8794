// Package geo holds the coordinate helpers shared by models and recipes:
// nearest grid cell lookup and shapefile extents.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

const earthRadiusKm = 6373.0

var ErrOutsideGrid = errors.New("point outside model grid")

// Distance is the spherical earth projected to a plane distance in km.
func Distance(lon1, lat1, lon2, lat2 float64) float64 {
	dlon := radians(lon2 - lon1)
	dlat := radians(lat2 - lat1)
	latm := radians((lat2 + lat1) / 2)
	return earthRadiusKm * math.Sqrt(dlat*dlat+math.Pow(math.Cos(latm)*dlon, 2))
}

// FindClosestPoint returns the index into gridLons and into gridLats of the
// grid cell nearest to (lon, lat).
func FindClosestPoint(gridLons, gridLats []float64, lon, lat float64) (int, int, error) {
	if len(gridLons) == 0 || len(gridLats) == 0 {
		return 0, 0, errors.New("grid coordinates are required")
	}
	best := math.Inf(1)
	idxLon, idxLat := 0, 0
	for j, glat := range gridLats {
		for i, glon := range gridLons {
			d := Distance(lon, lat, glon, glat)
			if d < best {
				best, idxLon, idxLat = d, i, j
			}
		}
	}
	dx := maxStep(gridLons) * 111
	dy := maxStep(gridLats) * 111
	if best > math.Max(dx, dy)*2 {
		return 0, 0, fmt.Errorf("%w: point (%g, %g)", ErrOutsideGrid, lon, lat)
	}
	return idxLon, idxLat, nil
}

func maxStep(values []float64) float64 {
	step := 0.0
	for i := 1; i < len(values); i++ {
		step = math.Max(step, math.Abs(values[i]-values[i-1]))
	}
	return step
}

// ArgClosest returns the index of the value nearest to v.
func ArgClosest(values []float64, v float64) int {
	idx := 0
	best := math.Inf(1)
	for i, x := range values {
		if d := math.Abs(x - v); d < best {
			best, idx = d, i
		}
	}
	return idx
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

type Extents struct {
	StartLongitude float64 `yaml:"start_longitude" json:"start_longitude"`
	EndLongitude   float64 `yaml:"end_longitude" json:"end_longitude"`
	StartLatitude  float64 `yaml:"start_latitude" json:"start_latitude"`
	EndLatitude    float64 `yaml:"end_latitude" json:"end_latitude"`
}

// ShapeExtents reads the bounds of the first record in a shapefile, pads them
// and rounds each edge to one decimal.
func ShapeExtents(path string, pad float64) (Extents, error) {
	b, err := firstRecordBounds(path)
	if err != nil {
		return Extents{}, err
	}
	return Extents{
		StartLongitude: Round(b.Min.X-pad, 1),
		StartLatitude:  Round(b.Min.Y-pad, 1),
		EndLongitude:   Round(b.Max.X+pad, 1),
		EndLatitude:    Round(b.Max.Y+pad, 1),
	}, nil
}

func firstRecordBounds(path string) (*geom.Bounds, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer dec.Close()
	g, _, more := dec.DecodeRowFields()
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	if !more || g == nil {
		return nil, fmt.Errorf("shapefile %s has no records", path)
	}
	return g.Bounds(), nil
}

// FitExtentsToGrid snaps each edge to the nearest multiple of step and pads
// outward by offset.
func FitExtentsToGrid(e Extents, step, offset float64, ndigits int) Extents {
	fit := func(v, off float64) float64 {
		return Round(roundHalfEven(v/step)*step+off, ndigits)
	}
	return Extents{
		StartLongitude: fit(e.StartLongitude, -offset),
		StartLatitude:  fit(e.StartLatitude, -offset),
		EndLongitude:   fit(e.EndLongitude, offset),
		EndLatitude:    fit(e.EndLatitude, offset),
	}
}

// Round rounds half to even at ndigits decimals.
func Round(v float64, ndigits int) float64 {
	p := math.Pow(10, float64(ndigits))
	return roundHalfEven(v*p) / p
}

func roundHalfEven(v float64) float64 {
	return math.RoundToEven(v)
}
