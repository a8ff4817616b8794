package geo

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/ewatercycle/ewatercycle-go/internal/geo/geotest"
)

func TestFindClosestPoint(t *testing.T) {
	lons := []float64{-99.83, -99.32, -98.81, -98.30}
	lats := []float64{42.25, 42.21, 42.17, 42.13, 42.09}

	idxLon, idxLat, err := FindClosestPoint(lons, lats, -99.3, 42.2)
	if err != nil {
		t.Fatalf("FindClosestPoint() err=%v", err)
	}
	if idxLon != 1 || idxLat != 1 {
		t.Fatalf("FindClosestPoint()=(%d,%d), want (1,1)", idxLon, idxLat)
	}
}

func TestFindClosestPoint_IsMinimal(t *testing.T) {
	lons := []float64{0, 1, 2, 3, 4}
	lats := []float64{50, 51, 52}
	lon, lat := 2.6, 51.2

	idxLon, idxLat, err := FindClosestPoint(lons, lats, lon, lat)
	if err != nil {
		t.Fatalf("FindClosestPoint() err=%v", err)
	}
	got := Distance(lon, lat, lons[idxLon], lats[idxLat])
	for _, glat := range lats {
		for _, glon := range lons {
			if d := Distance(lon, lat, glon, glat); d < got {
				t.Fatalf("found distance %g but (%g,%g) is closer at %g", got, glon, glat, d)
			}
		}
	}
}

func TestFindClosestPoint_OutsideGrid(t *testing.T) {
	lons := []float64{-99.83, -99.32, -98.81}
	lats := []float64{42.25, 42.21, 42.17}
	_, _, err := FindClosestPoint(lons, lats, 10, 10)
	if !errors.Is(err, ErrOutsideGrid) {
		t.Fatalf("FindClosestPoint() err=%v, want ErrOutsideGrid", err)
	}
}

func TestFitExtentsToGrid(t *testing.T) {
	in := Extents{StartLongitude: 4.12, EndLongitude: 7.38, StartLatitude: 50.01, EndLatitude: 52.96}
	got := FitExtentsToGrid(in, 0.1, 0.05, 2)
	want := Extents{StartLongitude: 4.05, EndLongitude: 7.45, StartLatitude: 49.95, EndLatitude: 53.05}
	if got != want {
		t.Fatalf("FitExtentsToGrid()=%+v, want %+v", got, want)
	}
}

func TestShapeExtents(t *testing.T) {
	path := geotest.WriteSquareShape(t, t.TempDir(), "basin", 4.123, 50.04, 7.36, 52.97)

	got, err := ShapeExtents(path, 0)
	if err != nil {
		t.Fatalf("ShapeExtents() err=%v", err)
	}
	want := Extents{StartLongitude: 4.1, EndLongitude: 7.4, StartLatitude: 50.0, EndLatitude: 53.0}
	if math.Abs(got.StartLongitude-want.StartLongitude) > 1e-9 ||
		math.Abs(got.EndLongitude-want.EndLongitude) > 1e-9 ||
		math.Abs(got.StartLatitude-want.StartLatitude) > 1e-9 ||
		math.Abs(got.EndLatitude-want.EndLatitude) > 1e-9 {
		t.Fatalf("ShapeExtents()=%+v, want %+v", got, want)
	}

	padded, err := ShapeExtents(path, 3)
	if err != nil {
		t.Fatalf("ShapeExtents() err=%v", err)
	}
	if math.Abs(padded.StartLongitude-1.1) > 1e-9 || math.Abs(padded.EndLatitude-56.0) > 1e-9 {
		t.Fatalf("ShapeExtents(pad=3)=%+v", padded)
	}
}

func TestShapeExtents_Missing(t *testing.T) {
	if _, err := ShapeExtents(filepath.Join(t.TempDir(), "nope.shp"), 0); err == nil {
		t.Fatalf("ShapeExtents() expected error")
	}
}
