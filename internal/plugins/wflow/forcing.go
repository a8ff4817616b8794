package wflow

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
)

const (
	DiagnosticScript = "hydrology/wflow.py"

	OptionDEMFile       = "dem_file"
	OptionExtractRegion = "extract_region"

	// shapePad widens the box around the shape the diagnostic regrids from.
	shapePad = 3
)

// ForcingSpec regrids the ESMValTool variables onto the DEM of the
// parameter set and derives potential evaporation in the diagnostic.
func ForcingSpec() forcing.Spec {
	return forcing.Spec{
		Kind:      forcing.KindWflow,
		Recipe:    Recipe,
		Construct: construct,
	}
}

func Recipe(r forcing.Request) (esmvaltool.Recipe, error) {
	dem := r.Option(OptionDEMFile)
	if dem == "" {
		return esmvaltool.Recipe{}, fmt.Errorf("%w: option %s is required", forcing.ErrInvalid, OptionDEMFile)
	}
	region, err := r.ExtentsOption(OptionExtractRegion)
	if err != nil {
		return esmvaltool.Recipe{}, err
	}
	b := esmvaltool.NewBuilder().Title("Generate forcing for the WFlow hydrological model")
	r.ApplyDataset(b)
	b.Start(r.StartTime.Year()).End(r.EndTime.Year())
	if region == nil {
		b.RegionByShape(r.Shape, shapePad)
	} else {
		b.Region(*region)
	}
	stem := strings.TrimSuffix(filepath.Base(r.Shape), filepath.Ext(r.Shape))
	return b.AddVariables("tas", "pr", "psl", "rsds").
		AddVariable("orog", esmvaltool.VariableOptions{Mip: "fix"}).
		AddVariable("rsdt", esmvaltool.VariableOptions{Mip: "CFday"}).
		Script(DiagnosticScript, map[string]any{
			"basin":    stem,
			"dem_file": dem,
			"regrid":   "area_weighted",
		}).
		Build()
}

// construct takes the single NetCDF file the diagnostic writes as input
// map stack.
func construct(_ context.Context, base forcing.Base, out esmvaltool.Output, _ forcing.Request) (forcing.Forcing, error) {
	for _, key := range slices.Sorted(maps.Keys(out.Files)) {
		if name := out.Files[key]; filepath.Ext(name) == ".nc" {
			f := forcing.NewWflow(base)
			f.NetcdfInput = name
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: recipe output has no NetCDF file", forcing.ErrUnknownVariable)
}
