// Package geotest writes small shapefiles for tests.
package geotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// WGS84 is the projection written next to generated shapefiles.
const WGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type basin struct {
	geom.Polygon
	Name string
}

// WriteSquareShape writes dir/name.shp with one rectangular polygon plus its
// .shx, .dbf and .prj companions, and returns the .shp path.
func WriteSquareShape(t testing.TB, dir, name string, x0, y0, x1, y1 float64) string {
	t.Helper()
	path := filepath.Join(dir, name+".shp")
	enc, err := shp.NewEncoder(path, basin{})
	if err != nil {
		t.Fatalf("NewEncoder() err=%v", err)
	}
	poly := geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}}
	if err := enc.Encode(basin{Polygon: poly, Name: name}); err != nil {
		t.Fatalf("Encode() err=%v", err)
	}
	enc.Close()
	if err := os.WriteFile(filepath.Join(dir, name+".prj"), []byte(WGS84), 0o644); err != nil {
		t.Fatalf("write prj: %v", err)
	}
	return path
}
