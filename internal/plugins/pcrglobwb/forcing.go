package pcrglobwb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
)

const (
	DiagnosticScript = "hydrology/pcrglobwb.py"

	OptionStartClimatology = "start_time_climatology"
	OptionEndClimatology   = "end_time_climatology"
	OptionExtractRegion    = "extract_region"
)

// ForcingSpec extracts daily precipitation and temperature plus their daily
// climatology over a box around the shape.
func ForcingSpec() forcing.Spec {
	return forcing.Spec{
		Kind:      forcing.KindPCRGlobWB,
		Recipe:    Recipe,
		Construct: construct,
	}
}

func optionTime(r forcing.Request, key string) (time.Time, error) {
	switch v := r.Options[key].(type) {
	case time.Time:
		return v, nil
	case string:
		return isotime.Parse(v)
	case nil:
		return time.Time{}, fmt.Errorf("%w: option %s is required", forcing.ErrInvalid, key)
	default:
		return time.Time{}, fmt.Errorf("%w: option %s has type %T", forcing.ErrInvalid, key, v)
	}
}

func Recipe(r forcing.Request) (esmvaltool.Recipe, error) {
	startClim, err := optionTime(r, OptionStartClimatology)
	if err != nil {
		return esmvaltool.Recipe{}, err
	}
	endClim, err := optionTime(r, OptionEndClimatology)
	if err != nil {
		return esmvaltool.Recipe{}, err
	}
	region, err := r.ExtentsOption(OptionExtractRegion)
	if err != nil {
		return esmvaltool.Recipe{}, err
	}

	const title = "PCR-GLOBWB forcing recipe"
	b := esmvaltool.NewBuilder().Title(title).Description(title)
	r.ApplyDataset(b)
	b.Start(r.StartTime.Year()).End(r.EndTime.Year())
	if region == nil {
		b.RegionByShape(r.Shape, 0)
	} else {
		b.Region(*region)
	}
	stats := esmvaltool.DailyMean
	stem := strings.TrimSuffix(filepath.Base(r.Shape), filepath.Ext(r.Shape))
	return b.AddVariable("pr", esmvaltool.VariableOptions{Units: "kg m-2 d-1"}).
		AddVariable("tas", esmvaltool.VariableOptions{}).
		AddVariable("pr_climatology", esmvaltool.VariableOptions{
			Units:     "kg m-2 d-1",
			Stats:     &stats,
			ShortName: "pr",
			StartYear: startClim.Year(),
			EndYear:   endClim.Year(),
		}).
		AddVariable("tas_climatology", esmvaltool.VariableOptions{
			Stats:     &stats,
			ShortName: "tas",
			StartYear: startClim.Year(),
			EndYear:   endClim.Year(),
		}).
		Script(DiagnosticScript, map[string]any{"basin": stem}).
		Build()
}

func construct(_ context.Context, base forcing.Base, out esmvaltool.Output, _ forcing.Request) (forcing.Forcing, error) {
	pr, ok := out.Files["pr"]
	if !ok {
		return nil, fmt.Errorf("%w: recipe output has no pr file", forcing.ErrUnknownVariable)
	}
	tas, ok := out.Files["tas"]
	if !ok {
		return nil, fmt.Errorf("%w: recipe output has no tas file", forcing.ErrUnknownVariable)
	}
	f := forcing.NewPCRGlobWB(base)
	f.PrecipitationNC = pr
	f.TemperatureNC = tas
	return f, nil
}
