// Package grdc reads daily river discharge of Global Runoff Data Centre
// stations. The GRDC-Daily.nc bulk file is tried first, then the per station
// export <id>_Q_Day.Cmd.txt.
package grdc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/ncutil"
)

const (
	NetCDFFile    = "GRDC-Daily.nc"
	DefaultColumn = "streamflow"
	MissingValue  = -999.0
)

var (
	ErrNoLocation = errors.New("grdc_location_not_set")
	ErrNotFound   = errors.New("grdc_data_not_found")
	ErrFormat     = errors.New("invalid_grdc_file")
)

// Station is the metadata of one station. Numbers that are not available
// are NaN, text is "NA".
type Station struct {
	ID                 int
	FileName           string
	FileGenerationDate string
	River              string
	Name               string
	Country            string
	Latitude           float64
	Longitude          float64
	// Area is the catchment area in km2.
	Area float64
	// Altitude is meters above sea level.
	Altitude float64
	Owner    string
	Content  string
	Units    string
}

// Data is the discharge series of one station.
type Data struct {
	Column  string
	Station Station
	Times   []time.Time
	// Values are m3/s, NaN where missing.
	Values []float64
	// Source is the file the data was read from.
	Source string
}

type Options struct {
	// DataHome overrides the grdc_location of the configuration.
	DataHome string
	// Column names the discharge series, DefaultColumn when empty.
	Column string
	Logger *slog.Logger
}

// GetData returns the daily discharge of station between the dates of start
// and end, both included.
func GetData(cfg config.Config, station string, start, end time.Time, opts Options) (Data, error) {
	if opts.Column == "" {
		opts.Column = DefaultColumn
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id, err := strconv.Atoi(strings.TrimSpace(station))
	if err != nil {
		return Data{}, fmt.Errorf("%w: station id %q is not a number", ErrNotFound, station)
	}
	home := opts.DataHome
	if home == "" {
		home = cfg.GRDCLocation
	}
	if home == "" {
		return Data{}, fmt.Errorf("%w: pass a data home or set grdc_location in the configuration", ErrNoLocation)
	}
	dir, err := fsutil.Abs(home, fsutil.PathOptions{})
	if err != nil {
		return Data{}, err
	}
	if !fsutil.IsDir(dir) {
		return Data{}, fmt.Errorf("%w: the grdc directory %s does not exist", ErrNotFound, dir)
	}
	from, to := day(start), day(end)

	ncPath := filepath.Join(dir, NetCDFFile)
	ncExists := fsutil.Exists(ncPath)
	if ncExists {
		d, found, err := readNetCDF(ncPath, id, from, to)
		if err != nil {
			return Data{}, err
		}
		if found {
			d.Column = opts.Column
			return d, nil
		}
	}

	txtPath := filepath.Join(dir, fmt.Sprintf("%d_Q_Day.Cmd.txt", id))
	if !fsutil.Exists(txtPath) {
		if ncExists {
			return Data{}, fmt.Errorf("%w: the grdc station %d is not in the %s file and %s does not exist", ErrNotFound, id, ncPath, txtPath)
		}
		return Data{}, fmt.Errorf("%w: the grdc file %s does not exist", ErrNotFound, txtPath)
	}
	d, err := readText(txtPath, from, to, opts.Logger)
	if err != nil {
		return Data{}, err
	}
	d.Column = opts.Column
	return d, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func within(t, from, to time.Time) bool {
	t = day(t)
	return !t.Before(from) && !t.After(to)
}

// readNetCDF selects the station from the bulk file. found is false when the
// file has no such station.
func readNetCDF(path string, id int, from, to time.Time) (Data, bool, error) {
	f, err := ncutil.Open(path)
	if err != nil {
		return Data{}, false, err
	}
	defer f.Close()
	ids, err := f.Read("id")
	if err != nil {
		return Data{}, false, err
	}
	col := slices.Index(ids.Values, float64(id))
	if col < 0 {
		return Data{}, false, nil
	}
	tv, err := f.Read("time")
	if err != nil {
		return Data{}, false, err
	}
	runoff, err := f.Read("runoff_mean")
	if err != nil {
		return Data{}, false, err
	}
	if len(runoff.Values) != len(tv.Values)*len(ids.Values) {
		return Data{}, false, fmt.Errorf("%w: runoff_mean in %s has %d values for %d times and %d stations",
			ErrFormat, path, len(runoff.Values), len(tv.Values), len(ids.Values))
	}
	d := Data{Source: path, Station: naStation(id)}
	d.Station.FileName = path
	d.Station.Content = orNA(runoff.Attr("long_name"))
	d.Station.Units = orNA(runoff.Attr("units"))
	for i, v := range tv.Values {
		t, err := model.TimeFromUnits(v, tv.Attr("units"))
		if err != nil {
			return Data{}, false, fmt.Errorf("%w: time in %s: %v", ErrFormat, path, err)
		}
		if !within(t, from, to) {
			continue
		}
		d.Times = append(d.Times, t)
		d.Values = append(d.Values, missing(runoff.Values[i*len(ids.Values)+col]))
	}

	text := func(name string) string {
		v, err := f.Read(name)
		if err != nil || col >= len(v.Strings) {
			return "NA"
		}
		return orNA(strings.TrimSpace(v.Strings[col]))
	}
	number := func(name string) float64 {
		v, err := f.Read(name)
		if err != nil || col >= len(v.Values) {
			return math.NaN()
		}
		return missing(v.Values[col])
	}
	d.Station.Name = text("station_name")
	d.Station.River = text("river_name")
	d.Station.Country = text("country")
	d.Station.Owner = text("owneroforiginaldata")
	d.Station.Longitude = number("geo_x")
	d.Station.Latitude = number("geo_y")
	d.Station.Altitude = number("geo_z")
	d.Station.Area = number("area")
	return d, true, nil
}

func missing(v float64) float64 {
	if v == MissingValue {
		return math.NaN()
	}
	return v
}

func orNA(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}

func naStation(id int) Station {
	nan := math.NaN()
	return Station{
		ID: id, FileGenerationDate: "NA", River: "NA", Name: "NA", Country: "NA",
		Latitude: nan, Longitude: nan, Area: nan, Altitude: nan,
		Owner: "Unknown", Content: "NA", Units: "NA",
	}
}

// readText parses a GRDC export file. It is code page 1252 text with a
// fixed header of "# key: value" lines followed by ";" separated data
// after the "# DATA" line.
func readText(path string, from, to time.Time, logger *slog.Logger) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("read grdc file: %w", err)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return Data{}, fmt.Errorf("decode grdc file: %w", err)
	}
	lines := strings.Split(strings.ReplaceAll(string(decoded), "\r", ""), "\n")

	station, err := parseHeader(path, lines, logger)
	if err != nil {
		return Data{}, err
	}
	d := Data{Source: path, Station: station}

	start := slices.IndexFunc(lines, func(l string) bool { return strings.HasPrefix(l, "# DATA") })
	if start < 0 || start+1 >= len(lines) {
		return Data{}, fmt.Errorf("%w: %s has no # DATA section", ErrFormat, path)
	}
	header := strings.Split(lines[start+1], ";")
	dateCol := slices.Index(header, "YYYY-MM-DD")
	valueCol := slices.Index(header, " Value")
	if dateCol < 0 || valueCol < 0 {
		return Data{}, fmt.Errorf("%w: %s data header %q lacks YYYY-MM-DD or Value", ErrFormat, path, lines[start+1])
	}
	for n, line := range lines[start+2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) <= max(dateCol, valueCol) {
			return Data{}, fmt.Errorf("%w: %s line %d has %d fields", ErrFormat, path, start+3+n, len(fields))
		}
		t, err := time.Parse("2006-01-02", strings.TrimSpace(fields[dateCol]))
		if err != nil {
			return Data{}, fmt.Errorf("%w: %s line %d: %v", ErrFormat, path, start+3+n, err)
		}
		if !within(t, from, to) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[valueCol]), 64)
		if err != nil {
			return Data{}, fmt.Errorf("%w: %s line %d: %v", ErrFormat, path, start+3+n, err)
		}
		d.Times = append(d.Times, t)
		d.Values = append(d.Values, missing(v))
	}
	return d, nil
}

// parseHeader reads the metadata lines by position. A GRDC number that
// differs from the file name leaves the metadata unavailable.
func parseHeader(path string, lines []string, logger *slog.Logger) (Station, error) {
	base := filepath.Base(path)
	stem, _, _ := strings.Cut(base, ".")
	stem, _, _ = strings.Cut(stem, "_")
	fileID, err := strconv.Atoi(stem)
	if err != nil {
		return Station{}, fmt.Errorf("%w: file name %s does not start with a station id", ErrFormat, base)
	}
	s := naStation(fileID)
	value := func(i int) (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		parts := strings.Split(lines[i], ":")
		if len(parts) < 2 {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	text := func(i int, def string) string {
		if v, ok := value(i); ok {
			return v
		}
		return def
	}
	number := func(i int) float64 {
		v, ok := value(i)
		if !ok {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}

	if v, ok := value(8); !ok || v != strconv.Itoa(fileID) {
		logger.Warn("grdc station id does not match the file name, metadata is not used", "station", fileID, "file", path)
		return s, nil
	}
	s.FileName = path
	s.FileGenerationDate = text(6, "NA")
	s.River = text(9, "NA")
	s.Name = text(10, "NA")
	s.Country = text(11, "NA")
	s.Latitude = number(12)
	s.Longitude = number(13)
	if s.Area = number(14); s.Area <= 0 {
		s.Area = math.NaN()
	}
	s.Altitude = number(15)
	s.Owner = text(18, "Unknown")
	s.Content = text(20, "NA")
	s.Units = text(22, "NA")
	return s, nil
}
