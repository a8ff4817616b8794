package marrmot

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/matfile"
)

const DiagnosticScript = "hydrology/marrmot.py"

// ForcingSpec lumps the ESMValTool variables into a MARRMoT forcing file.
func ForcingSpec() forcing.Spec {
	return forcing.Spec{
		Kind:      forcing.KindMarrmot,
		Recipe:    Recipe,
		Construct: construct,
	}
}

func Recipe(r forcing.Request) (esmvaltool.Recipe, error) {
	const title = "Generate forcing for the MARRMoT hydrological model"
	b := esmvaltool.NewBuilder().Title(title).Description(title)
	r.ApplyDataset(b)
	stem := strings.TrimSuffix(filepath.Base(r.Shape), filepath.Ext(r.Shape))
	return b.Start(r.StartTime.Year()).
		End(r.EndTime.Year()).
		Shape(r.Shape).
		AddVariables("tas", "pr", "psl", "rsds").
		AddVariable("rsdt", esmvaltool.VariableOptions{Mip: "CFday"}).
		Script(DiagnosticScript, map[string]any{"basin": stem}).
		Build()
}

// construct picks the MATLAB file the diagnostic wrote, named after the
// dataset, basin and years.
func construct(_ context.Context, base forcing.Base, out esmvaltool.Output, _ forcing.Request) (forcing.Forcing, error) {
	for _, key := range slices.Sorted(maps.Keys(out.Files)) {
		if name := out.Files[key]; strings.EqualFold(filepath.Ext(name), ".mat") {
			f := forcing.NewMarrmot(base)
			f.ForcingFile = name
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: recipe output has no MATLAB forcing file", forcing.ErrUnknownVariable)
}

// Series is the lumped forcing of a MARRMoT forcing file, one value per
// day from Start to End.
type Series struct {
	Start         time.Time
	End           time.Time
	Lat           float64
	Lon           float64
	Precipitation []float64 // mm/day
	Temperature   []float64 // C
	PET           []float64 // mm/day
}

// Times returns the day of each value.
func (s Series) Times() []time.Time {
	var out []time.Time
	for t := s.Start; !t.After(s.End); t = t.AddDate(0, 0, 1) {
		out = append(out, t)
	}
	return out
}

// ReadForcing loads the series of a MARRMoT forcing. Row and column
// vectors are both accepted.
func ReadForcing(f *forcing.Marrmot) (Series, error) {
	path := f.File(f.ForcingFile)
	data, err := matfile.ReadFile(path)
	if err != nil {
		return Series{}, err
	}
	a, ok := data.Get("forcing")
	if !ok {
		return Series{}, fmt.Errorf("%s has no forcing struct", path)
	}
	st, ok := a.(*matfile.Struct)
	if !ok {
		return Series{}, fmt.Errorf("%s: forcing is a %T, not a struct", path, a)
	}
	field := func(name string) ([]float64, error) {
		v, ok := st.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s: forcing has no %s", path, name)
		}
		n, ok := v.(*matfile.Numeric)
		if !ok {
			return nil, fmt.Errorf("%s: forcing.%s is not numeric", path, name)
		}
		return n.Data, nil
	}
	var s Series
	if s.Precipitation, err = field("precip"); err != nil {
		return Series{}, err
	}
	if s.Temperature, err = field("temp"); err != nil {
		return Series{}, err
	}
	if s.PET, err = field("pet"); err != nil {
		return Series{}, err
	}
	if s.Start, err = dateFrom(data, "time_start"); err != nil {
		return Series{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.End, err = dateFrom(data, "time_end"); err != nil {
		return Series{}, fmt.Errorf("%s: %w", path, err)
	}
	origin, err := data.Floats("data_origin")
	if err != nil || len(origin) < 2 {
		return Series{}, fmt.Errorf("%s: data_origin must hold lat and lon", path)
	}
	s.Lat, s.Lon = origin[0], origin[1]
	return s, nil
}

// dateFrom reads the year, month and day of a time row. The hour is
// dropped, the series is daily.
func dateFrom(data *matfile.File, name string) (time.Time, error) {
	v, err := data.Floats(name)
	if err != nil {
		return time.Time{}, err
	}
	if len(v) < 3 {
		return time.Time{}, fmt.Errorf("%s has %d values, want at least 3", name, len(v))
	}
	return time.Date(int(v[0]), time.Month(int(v[1])), int(v[2]), 0, 0, 0, 0, time.UTC), nil
}
