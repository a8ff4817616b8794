package grdc

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/ncutil"
)

const stationText = `# Title:                 GRDC STATION DATA FILE
#                        --------------
# Format:                DOS-ASCII
# Field delimiter:       ;
# missing values are indicated by -999.000
#
# file generation date:  2019-03-27
#
# GRDC-No.:              6335020
# River:                 RHINE RIVER
# Station:               REES
# Country:               DE
# Latitude (DD):       51.756918
# Longitude (DD):      6.395395
# Catchment area (km²):    159300.0
# Altitude (m ASL):        8.0
# Next downstream station:      6335030
# Remarks:
# Owner of original data: Germany - Federal Institute of Hydrology (BfG)
#************************************************************
# Data Set Content:      MEAN DAILY DISCHARGE (Q)
#                        --------------------
# Unit of measure:                  m³/s
# Time series:           1814-11 - 2016-12
#************************************************************
# DATA
YYYY-MM-DD;hh:mm; Value
2000-01-01;--:--;   2034.000
2000-01-02;--:--;   2067.000
2000-01-03;--:--;   -999.000
2000-01-04;--:--;   2112.500
2000-01-05;--:--;   2200.000
`

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeText(t *testing.T, dir, name, content string) {
	t.Helper()
	data, err := charmap.Windows1252.NewEncoder().Bytes([]byte(strings.ReplaceAll(content, "\n", "\r\n")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func date(d int) time.Time { return time.Date(2000, 1, d, 0, 0, 0, 0, time.UTC) }

func TestGetData_Text(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "6335020_Q_Day.Cmd.txt", stationText)

	d, err := GetData(config.Config{}, "6335020", date(2).Add(6*time.Hour), date(4), Options{DataHome: dir, Logger: quiet()})
	if err != nil {
		t.Fatalf("GetData() err=%v", err)
	}
	if d.Column != DefaultColumn {
		t.Fatalf("Column=%s", d.Column)
	}
	if want := []time.Time{date(2), date(3), date(4)}; !reflect.DeepEqual(d.Times, want) {
		t.Fatalf("Times=%v, want %v", d.Times, want)
	}
	if len(d.Values) != 3 || d.Values[0] != 2067 || !math.IsNaN(d.Values[1]) || d.Values[2] != 2112.5 {
		t.Fatalf("Values=%v", d.Values)
	}
	s := d.Station
	if s.ID != 6335020 || s.River != "RHINE RIVER" || s.Name != "REES" || s.Country != "DE" {
		t.Fatalf("Station=%+v", s)
	}
	if s.Latitude != 51.756918 || s.Longitude != 6.395395 || s.Area != 159300 || s.Altitude != 8 {
		t.Fatalf("Station coordinates=%+v", s)
	}
	if s.Units != "m³/s" || s.Content != "MEAN DAILY DISCHARGE (Q)" || s.FileGenerationDate != "2019-03-27" {
		t.Fatalf("Station text=%+v", s)
	}
	if s.Owner != "Germany - Federal Institute of Hydrology (BfG)" {
		t.Fatalf("Owner=%q", s.Owner)
	}
}

const shortStationText = `# Title:                 GRDC STATION DATA FILE
#                        --------------
# Format:                DOS-ASCII
# Field delimiter:       ;
# missing values are indicated by -999.000
#
# file generation date:  2000-02-02
#
# GRDC-No.:              42424242
# River:                 SOME RIVER
# Station:               SOME
# Country:               NA
# Latitude (DD):       52.356154
# Longitude (DD):      4.955153
# Catchment area (km²):      4242.0
# Altitude (m ASL):        8.0
# Next downstream station:      42424243
# Remarks:
#************************************************************
#
# Data Set Content:      MEAN DAILY DISCHARGE (Q)
#                        --------------------
# Unit of measure:                   m³/s
# Time series:           2000-01 - 2000-01
# No. of years:          1
# Last update:           2000-02-01
#
# Table Header:
#     YYYY-MM-DD - Date
#     hh:mm      - Time
#     Value   - original (provided) data
#************************************************************
#
# Data lines: 3
# DATA
YYYY-MM-DD;hh:mm; Value
2000-01-01;--:--;    123.000
2000-01-02;--:--;    456.000
2000-01-03;--:--;    -999.000`

func TestGetData_ThreeDays(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "42424242_Q_Day.Cmd.txt", shortStationText)

	d, err := GetData(config.Config{}, "42424242", date(1), time.Date(2000, 2, 1, 0, 0, 0, 0, time.UTC), Options{DataHome: dir, Logger: quiet()})
	if err != nil {
		t.Fatalf("GetData() err=%v", err)
	}
	if want := []time.Time{date(1), date(2), date(3)}; !reflect.DeepEqual(d.Times, want) {
		t.Fatalf("Times=%v, want %v", d.Times, want)
	}
	if len(d.Values) != 3 || d.Values[0] != 123 || d.Values[1] != 456 || !math.IsNaN(d.Values[2]) {
		t.Fatalf("Values=%v, want [123 456 NaN]", d.Values)
	}
	if d.Station.River != "SOME RIVER" || d.Station.Area != 4242 || d.Station.FileGenerationDate != "2000-02-02" {
		t.Fatalf("Station=%+v", d.Station)
	}
}

func TestGetData_ConfigLocationAndColumn(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "6335020_Q_Day.Cmd.txt", stationText)
	d, err := GetData(config.Config{GRDCLocation: dir}, "6335020", date(1), date(1), Options{Column: "GRDC", Logger: quiet()})
	if err != nil {
		t.Fatalf("GetData() err=%v", err)
	}
	if d.Column != "GRDC" || len(d.Values) != 1 || d.Values[0] != 2034 {
		t.Fatalf("GetData()=%+v", d)
	}
}

func TestGetData_IDMismatch(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "42_Q_Day.Cmd.txt", stationText)
	d, err := GetData(config.Config{}, "42", date(1), date(5), Options{DataHome: dir, Logger: quiet()})
	if err != nil {
		t.Fatalf("GetData() err=%v", err)
	}
	if d.Station.River != "NA" || !math.IsNaN(d.Station.Area) || len(d.Values) != 5 {
		t.Fatalf("GetData()=%+v, want NA metadata with data", d)
	}
}

func TestGetData_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := GetData(config.Config{}, "1", date(1), date(2), Options{}); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("GetData() without location err=%v, want ErrNoLocation", err)
	}
	if _, err := GetData(config.Config{}, "1", date(1), date(2), Options{DataHome: filepath.Join(dir, "missing")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetData() missing dir err=%v, want ErrNotFound", err)
	}
	_, err := GetData(config.Config{}, "1", date(1), date(2), Options{DataHome: dir})
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "1_Q_Day.Cmd.txt does not exist") {
		t.Fatalf("GetData() missing file err=%v", err)
	}
	writeNetCDF(t, dir)
	_, err = GetData(config.Config{}, "1", date(1), date(2), Options{DataHome: dir})
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "is not in the") {
		t.Fatalf("GetData() station not in nc err=%v", err)
	}
	writeText(t, dir, "7_Q_Day.Cmd.txt", "# DATA\nYYYY-MM-DD;hh:mm;Value\n")
	if _, err := GetData(config.Config{}, "7", date(1), date(2), Options{DataHome: dir, Logger: quiet()}); !errors.Is(err, ErrFormat) {
		t.Fatalf("GetData() bad header err=%v, want ErrFormat", err)
	}
}

func writeNetCDF(t *testing.T, dir string) {
	t.Helper()
	err := ncutil.Write(filepath.Join(dir, NetCDFFile), []ncutil.Variable{
		{Name: "time", Dimensions: []string{"time"}, Values: []float64{0, 1, 2}, Attributes: map[string]any{"units": "days since 2000-01-01 00:00:00"}},
		{Name: "id", Dimensions: []string{"id"}, Values: []float64{6335020, 6435060}},
		{
			Name:       "runoff_mean",
			Dimensions: []string{"time", "id"},
			Shape:      []int{3, 2},
			Values:     []float64{10, 20, 11, -999, 12, 22},
			Attributes: map[string]any{"units": "m3/s", "long_name": "Mean daily discharge (Q)"},
		},
		{Name: "station_name", Dimensions: []string{"id"}, Strings: []string{"REES", "LOBITH"}},
		{Name: "river_name", Dimensions: []string{"id"}, Strings: []string{"RHINE", "RHINE RIVER"}},
		{Name: "geo_x", Dimensions: []string{"id"}, Values: []float64{6.39, 6.11}},
		{Name: "geo_y", Dimensions: []string{"id"}, Values: []float64{51.75, 51.84}},
		{Name: "area", Dimensions: []string{"id"}, Values: []float64{159300, 160800}},
	})
	if err != nil {
		t.Fatalf("write nc: %v", err)
	}
}

func TestGetData_NetCDF(t *testing.T) {
	dir := t.TempDir()
	writeNetCDF(t, dir)
	writeText(t, dir, "6435060_Q_Day.Cmd.txt", stationText)

	d, err := GetData(config.Config{}, "6435060", date(1), date(2), Options{DataHome: dir, Column: "obs"})
	if err != nil {
		t.Fatalf("GetData() err=%v", err)
	}
	if d.Source != filepath.Join(dir, NetCDFFile) {
		t.Fatalf("Source=%s, want the NetCDF file", d.Source)
	}
	if len(d.Values) != 2 || d.Values[0] != 20 || !math.IsNaN(d.Values[1]) {
		t.Fatalf("Values=%v", d.Values)
	}
	s := d.Station
	if s.Name != "LOBITH" || s.River != "RHINE RIVER" || s.Longitude != 6.11 || s.Latitude != 51.84 || s.Area != 160800 {
		t.Fatalf("Station=%+v", s)
	}
	if s.Country != "NA" || !math.IsNaN(s.Altitude) || s.Units != "m3/s" {
		t.Fatalf("missing metadata=%+v", s)
	}
}
