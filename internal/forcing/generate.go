package forcing

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/esmvaltool"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/geo"
)

// Request is what the caller asks a forcing generator for.
type Request struct {
	// DatasetName picks a predefined dataset, ERA5 when empty and Dataset is unset.
	DatasetName string
	Dataset     esmvaltool.Dataset
	StartTime   time.Time
	EndTime     time.Time
	Shape       string
	// Directory is where ESMValTool writes its run. Empty uses the runner default.
	Directory string
	// Variables to extract for the user and generic variants.
	Variables []string
	// Postprocessor derives extra files from the recipe output.
	Postprocessor Postprocessor
	// Options carries model specific settings.
	Options map[string]any
}

// GenericRequest converts r to a generic recipe request.
func (r Request) GenericRequest(variables []string) esmvaltool.GenericRequest {
	return esmvaltool.GenericRequest{
		StartYear:   r.StartTime.Year(),
		EndYear:     r.EndTime.Year(),
		Shape:       r.Shape,
		DatasetName: r.DatasetName,
		Dataset:     r.Dataset,
		Variables:   variables,
	}
}

// ApplyDataset sets the dataset of b from the request.
func (r Request) ApplyDataset(b *esmvaltool.Builder) *esmvaltool.Builder {
	switch {
	case r.Dataset.Dataset != "":
		return b.DatasetValue(r.Dataset)
	case r.DatasetName != "":
		return b.Dataset(r.DatasetName)
	default:
		return b.Dataset("ERA5")
	}
}

// Option returns a string model option, empty when absent.
func (r Request) Option(key string) string {
	s, _ := r.Options[key].(string)
	return s
}

// ExtentsOption returns a lon/lat box option, nil when absent. Maps are
// decoded by their yaml keys.
func (r Request) ExtentsOption(key string) (*geo.Extents, error) {
	switch v := r.Options[key].(type) {
	case nil:
		return nil, nil
	case geo.Extents:
		return &v, nil
	case *geo.Extents:
		return v, nil
	case map[string]any:
		raw, err := yaml.Marshal(v)
		if err != nil {
			return nil, err
		}
		var e geo.Extents
		if err := yaml.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: option %s: %v", ErrInvalid, key, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("%w: option %s has type %T", ErrInvalid, key, v)
	}
}

// Postprocessor derives variables from recipe output and returns their
// names mapped to file names inside the output directory.
type Postprocessor func(ctx context.Context, out esmvaltool.Output) (map[string]string, error)

// Spec tells Generate how to produce one kind of forcing.
type Spec struct {
	Kind Kind
	// Variables overrides Request.Variables, used by variants with a fixed set.
	Variables []string
	Recipe    func(Request) (esmvaltool.Recipe, error)
	// Postprocess runs after the model neutral postprocessor of the request.
	Postprocess Postprocessor
	// Construct builds the variant from the common fields and the recipe
	// output. Nil builds New(Kind, base).
	Construct func(ctx context.Context, base Base, out esmvaltool.Output, req Request) (Forcing, error)
}

// Generate builds the recipe, runs it, runs the postprocessors, constructs
// the forcing and saves its sidecar.
func Generate(ctx context.Context, runner esmvaltool.RecipeRunner, req Request, spec Spec, logger *slog.Logger) (Forcing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := Base{StartTime: req.StartTime, EndTime: req.EndTime}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	shape, err := fsutil.Abs(req.Shape, fsutil.PathOptions{MustExist: true})
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	req.Shape = shape
	if len(spec.Variables) > 0 {
		req.Variables = spec.Variables
	}

	recipe, err := spec.Recipe(req)
	if err != nil {
		return nil, fmt.Errorf("build %s recipe: %w", spec.Kind, err)
	}
	logger.Info("generating forcing", "kind", spec.Kind, "shape", shape, "start_time", req.StartTime, "end_time", req.EndTime)
	out, err := runner.Run(ctx, recipe, req.Directory)
	if err != nil {
		return nil, fmt.Errorf("run %s recipe: %w", spec.Kind, err)
	}
	out.Files = maps.Clone(out.Files)

	var derived []string
	for _, post := range []Postprocessor{req.Postprocessor, spec.Postprocess} {
		if post == nil {
			continue
		}
		files, err := post(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("postprocess %s forcing: %w", spec.Kind, err)
		}
		for name, file := range files {
			out.Files[name] = file
			derived = append(derived, name)
		}
	}

	base.Directory = out.Directory
	base.Shape = shape
	base.Filenames = map[string]string{}
	for _, name := range slices.Concat(req.Variables, derived) {
		file, ok := out.Files[name]
		if !ok {
			return nil, fmt.Errorf("%w: recipe output has no file for %s", ErrUnknownVariable, name)
		}
		base.Filenames[name] = file
	}

	var f Forcing
	if spec.Construct != nil {
		f, err = spec.Construct(ctx, base, out, req)
	} else {
		f, err = New(spec.Kind, base)
	}
	if err != nil {
		return nil, fmt.Errorf("construct %s forcing: %w", spec.Kind, err)
	}
	if _, err := Save(f); err != nil {
		return nil, err
	}
	return f, nil
}

// DistributedUserSpec extracts the requested variables on the dataset grid.
func DistributedUserSpec() Spec {
	return Spec{
		Kind: KindDistributedUser,
		Recipe: func(r Request) (esmvaltool.Recipe, error) {
			if len(r.Variables) == 0 {
				return esmvaltool.Recipe{}, errNoVariables
			}
			return esmvaltool.GenericDistributedRecipe(r.GenericRequest(r.Variables))
		},
	}
}

// LumpedUserSpec extracts the requested variables averaged over the shape.
func LumpedUserSpec() Spec {
	return Spec{
		Kind: KindLumpedUser,
		Recipe: func(r Request) (esmvaltool.Recipe, error) {
			if len(r.Variables) == 0 {
				return esmvaltool.Recipe{}, errNoVariables
			}
			return esmvaltool.GenericLumpedRecipe(r.GenericRequest(r.Variables))
		},
	}
}

var errNoVariables = fmt.Errorf("%w: variables are required", ErrInvalid)

var genericVariables = []string{"pr", "tas"}

// GenericDistributedSpec extracts pr and tas on the dataset grid.
func GenericDistributedSpec() Spec {
	s := DistributedUserSpec()
	s.Kind = KindGenericDistributed
	s.Variables = genericVariables
	return s
}

// GenericLumpedSpec extracts pr and tas averaged over the shape.
func GenericLumpedSpec() Spec {
	s := LumpedUserSpec()
	s.Kind = KindGenericLumped
	s.Variables = genericVariables
	return s
}
