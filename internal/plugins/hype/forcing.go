package hype

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
)

const DiagnosticScript = "hydrology/hype.py"

// obsFiles are the recipe outputs, keyed by file stem.
var obsFiles = []string{"Pobs", "TMAXobs", "TMINobs", "Tobs"}

// ForcingSpec lumps temperature and precipitation per subbasin of the shape
// into the HYPE observation files.
func ForcingSpec() forcing.Spec {
	return forcing.Spec{
		Kind:        forcing.KindHype,
		Recipe:      Recipe,
		Postprocess: fixSubbasinIDs,
		Construct:   construct,
	}
}

func Recipe(r forcing.Request) (esmvaltool.Recipe, error) {
	b := esmvaltool.NewBuilder().Title("Hype forcing data")
	r.ApplyDataset(b)
	celsius := esmvaltool.VariableOptions{Units: "degC"}
	return b.Start(r.StartTime.Year()).
		End(r.EndTime.Year()).
		ShapeWith(r.Shape, true, true).
		Lump().
		AddVariable("tas", celsius).
		AddVariable("tasmin", celsius).
		AddVariable("tasmax", celsius).
		AddVariable("pr", esmvaltool.VariableOptions{Units: "kg m-2 d-1"}).
		Script(DiagnosticScript, nil).
		Build()
}

func construct(_ context.Context, base forcing.Base, out esmvaltool.Output, _ forcing.Request) (forcing.Forcing, error) {
	f := forcing.NewHype(base)
	for _, stem := range obsFiles {
		if _, ok := out.Files[stem]; !ok {
			return nil, fmt.Errorf("%w: recipe output has no %s file", forcing.ErrUnknownVariable, stem)
		}
	}
	f.Pobs = out.Files["Pobs"]
	f.TMAXobs = out.Files["TMAXobs"]
	f.TMINobs = out.Files["TMINobs"]
	f.Tobs = out.Files["Tobs"]
	return f, nil
}

// fixSubbasinIDs rewrites header ids like 1234.0 to 1234 in the observation
// files. The diagnostic writes them as floats.
func fixSubbasinIDs(_ context.Context, out esmvaltool.Output) (map[string]string, error) {
	for _, stem := range obsFiles {
		name, ok := out.Files[stem]
		if !ok {
			continue
		}
		if err := fixHeader(filepath.Join(out.Directory, name)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func fixHeader(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	header, rest, _ := bytes.Cut(data, []byte("\n"))
	cols := strings.Fields(string(header))
	for i, c := range cols {
		cols[i] = strings.TrimSuffix(c, ".0")
	}
	fixed := append([]byte(strings.Join(cols, " ")+"\n"), rest...)
	if err := os.WriteFile(path, fixed, 0o644); err != nil {
		return fmt.Errorf("rewrite %s: %w", filepath.Base(path), err)
	}
	return nil
}
