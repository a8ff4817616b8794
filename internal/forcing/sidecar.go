package forcing

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
)

// FileName is the sidecar written next to the forcing files.
const FileName = "ewatercycle_forcing.yaml"

var ErrNotFound = errors.New("forcing_not_found")

type baseDoc struct {
	Model     Kind              `yaml:"model,omitempty"`
	StartTime string            `yaml:"start_time"`
	EndTime   string            `yaml:"end_time"`
	Shape     string            `yaml:"shape,omitempty"`
	Filenames map[string]string `yaml:"filenames,omitempty"`
}

type hypeDoc struct {
	baseDoc `yaml:",inline"`
	Pobs    string `yaml:"Pobs"`
	TMAXobs string `yaml:"TMAXobs"`
	TMINobs string `yaml:"TMINobs"`
	Tobs    string `yaml:"Tobs"`
}

type lisfloodDoc struct {
	baseDoc             `yaml:",inline"`
	PrefixPrecipitation string `yaml:"PrefixPrecipitation"`
	PrefixTavg          string `yaml:"PrefixTavg"`
	PrefixE0            string `yaml:"PrefixE0"`
	PrefixES0           string `yaml:"PrefixES0"`
	PrefixET0           string `yaml:"PrefixET0"`
}

type marrmotDoc struct {
	baseDoc     `yaml:",inline"`
	ForcingFile string `yaml:"forcing_file"`
}

type pcrglobwbDoc struct {
	baseDoc         `yaml:",inline"`
	PrecipitationNC string `yaml:"precipitationNC"`
	TemperatureNC   string `yaml:"temperatureNC"`
}

type wflowDoc struct {
	baseDoc            `yaml:",inline"`
	NetcdfInput        string `yaml:"netcdfinput"`
	Precipitation      string `yaml:"Precipitation"`
	EvapoTranspiration string `yaml:"EvapoTranspiration"`
	Temperature        string `yaml:"Temperature"`
	Inflow             string `yaml:"Inflow,omitempty"`
}

func encodeBase(kind Kind, b Base) baseDoc {
	d := baseDoc{
		StartTime: isotime.String(b.StartTime),
		EndTime:   isotime.String(b.EndTime),
		Shape:     b.Shape,
		Filenames: b.Filenames,
	}
	if kind != KindDefault {
		d.Model = kind
	}
	return d
}

// encode returns the sidecar document of f. b is f's Base with the shape
// already made relative.
func encode(f Forcing, b Base) (any, error) {
	bd := encodeBase(f.Kind(), b)
	switch v := f.(type) {
	case *Default, *DistributedUser, *LumpedUser, *GenericDistributed, *GenericLumped:
		return bd, nil
	case *Hype:
		return hypeDoc{baseDoc: bd, Pobs: v.Pobs, TMAXobs: v.TMAXobs, TMINobs: v.TMINobs, Tobs: v.Tobs}, nil
	case *Lisflood:
		return lisfloodDoc{
			baseDoc:             bd,
			PrefixPrecipitation: v.PrefixPrecipitation,
			PrefixTavg:          v.PrefixTavg,
			PrefixE0:            v.PrefixE0,
			PrefixES0:           v.PrefixES0,
			PrefixET0:           v.PrefixET0,
		}, nil
	case *Marrmot:
		return marrmotDoc{baseDoc: bd, ForcingFile: v.ForcingFile}, nil
	case *PCRGlobWB:
		return pcrglobwbDoc{baseDoc: bd, PrecipitationNC: v.PrecipitationNC, TemperatureNC: v.TemperatureNC}, nil
	case *Wflow:
		return wflowDoc{
			baseDoc:            bd,
			NetcdfInput:        v.NetcdfInput,
			Precipitation:      v.Precipitation,
			EvapoTranspiration: v.EvapoTranspiration,
			Temperature:        v.Temperature,
			Inflow:             v.Inflow,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, f)
	}
}

func decodeBase(d baseDoc) (Base, error) {
	start, err := isotime.Parse(d.StartTime)
	if err != nil {
		return Base{}, fmt.Errorf("start_time %q: %w", d.StartTime, err)
	}
	end, err := isotime.Parse(d.EndTime)
	if err != nil {
		return Base{}, fmt.Errorf("end_time %q: %w", d.EndTime, err)
	}
	return Base{StartTime: start, EndTime: end, Shape: d.Shape, Filenames: d.Filenames}, nil
}

// decode reads a sidecar document as kind. Fields missing from the document
// keep the defaults of the variant.
func decode(kind Kind, data []byte) (Forcing, error) {
	f, err := New(kind, Base{})
	if err != nil {
		return nil, err
	}
	var bd baseDoc
	switch v := f.(type) {
	case *Default, *DistributedUser, *LumpedUser, *GenericDistributed, *GenericLumped:
		err = yaml.Unmarshal(data, &bd)
	case *Hype:
		d := hypeDoc{Pobs: v.Pobs, TMAXobs: v.TMAXobs, TMINobs: v.TMINobs, Tobs: v.Tobs}
		err = yaml.Unmarshal(data, &d)
		bd = d.baseDoc
		v.Pobs, v.TMAXobs, v.TMINobs, v.Tobs = d.Pobs, d.TMAXobs, d.TMINobs, d.Tobs
	case *Lisflood:
		d := lisfloodDoc{
			PrefixPrecipitation: v.PrefixPrecipitation,
			PrefixTavg:          v.PrefixTavg,
			PrefixE0:            v.PrefixE0,
			PrefixES0:           v.PrefixES0,
			PrefixET0:           v.PrefixET0,
		}
		err = yaml.Unmarshal(data, &d)
		bd = d.baseDoc
		v.PrefixPrecipitation, v.PrefixTavg = d.PrefixPrecipitation, d.PrefixTavg
		v.PrefixE0, v.PrefixES0, v.PrefixET0 = d.PrefixE0, d.PrefixES0, d.PrefixET0
	case *Marrmot:
		d := marrmotDoc{ForcingFile: v.ForcingFile}
		err = yaml.Unmarshal(data, &d)
		bd = d.baseDoc
		v.ForcingFile = d.ForcingFile
	case *PCRGlobWB:
		d := pcrglobwbDoc{PrecipitationNC: v.PrecipitationNC, TemperatureNC: v.TemperatureNC}
		err = yaml.Unmarshal(data, &d)
		bd = d.baseDoc
		v.PrecipitationNC, v.TemperatureNC = d.PrecipitationNC, d.TemperatureNC
	case *Wflow:
		d := wflowDoc{
			NetcdfInput:        v.NetcdfInput,
			Precipitation:      v.Precipitation,
			EvapoTranspiration: v.EvapoTranspiration,
			Temperature:        v.Temperature,
		}
		err = yaml.Unmarshal(data, &d)
		bd = d.baseDoc
		v.NetcdfInput, v.Precipitation, v.EvapoTranspiration = d.NetcdfInput, d.Precipitation, d.EvapoTranspiration
		v.Temperature, v.Inflow = d.Temperature, d.Inflow
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s forcing: %w", kind, err)
	}
	b, err := decodeBase(bd)
	if err != nil {
		return nil, fmt.Errorf("decode %s forcing: %w", kind, err)
	}
	*f.Common() = b
	return f, nil
}

// Save writes the sidecar into the forcing directory and returns its path.
// A shapefile outside the directory is copied in together with its .dbf,
// .shx and .prj files, so the directory can be moved as a whole. f itself
// is not changed.
func Save(f Forcing) (string, error) {
	b := f.Common().clone()
	if b.Directory == "" {
		return "", fmt.Errorf("%w: cannot save forcing without directory", ErrInvalid)
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	dir, err := fsutil.Abs(b.Directory, fsutil.PathOptions{MustExist: true})
	if err != nil {
		return "", fmt.Errorf("forcing directory: %w", err)
	}
	if b.Shape != "" {
		rel, err := placeShape(dir, b.Shape)
		if err != nil {
			return "", err
		}
		b.Shape = rel
	}
	doc, err := encode(f, b)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode forcing: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode forcing: %w", err)
	}
	target := filepath.Join(dir, FileName)
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write forcing: %w", err)
	}
	return target, nil
}

var shapeCompanions = []string{".dbf", ".shx", ".prj"}

// placeShape returns the shape path relative to dir, copying it into dir
// first when it lives elsewhere.
func placeShape(dir, shape string) (string, error) {
	shape, err := fsutil.Abs(shape, fsutil.PathOptions{Parent: dir})
	if err != nil {
		return "", fmt.Errorf("shape: %w", err)
	}
	if fsutil.Within(dir, shape) {
		return filepath.Rel(dir, shape)
	}
	stem := strings.TrimSuffix(shape, filepath.Ext(shape))
	if !fsutil.Exists(stem + ".prj") {
		return "", fmt.Errorf("%w: your shape file %s is missing the .prj projection file, "+
			"which is required because the projection of the shapefile cannot be guessed", fs.ErrNotExist, shape)
	}
	name := filepath.Base(shape)
	if err := fsutil.CopyFile(shape, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("copy shape: %w", err)
	}
	for _, ext := range shapeCompanions {
		src := stem + ext
		if err := fsutil.CopyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return "", fmt.Errorf("copy shape: %w", err)
		}
	}
	return name, nil
}

// legacyTag matches class tags like !HypeForcing in older sidecars.
var legacyTag = regexp.MustCompile(`!(\w+)Forcing\b`)

var legacyKinds = map[string]Kind{
	"Default":   KindDefault,
	"Hype":      KindHype,
	"Lisflood":  KindLisflood,
	"Marrmot":   KindMarrmot,
	"PCRGlobWB": KindPCRGlobWB,
	"Wflow":     KindWflow,
}

func readSidecar(dir string) (string, []byte, Kind, error) {
	dir, err := fsutil.Abs(dir, fsutil.PathOptions{})
	if err != nil {
		return "", nil, "", err
	}
	meta := filepath.Join(dir, FileName)
	data, err := os.ReadFile(meta)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, "", fmt.Errorf("%w: Forcing file %s not found", ErrNotFound, meta)
	}
	if err != nil {
		return "", nil, "", fmt.Errorf("read forcing: %w", err)
	}

	var legacy Kind
	if m := legacyTag.FindSubmatch(data); m != nil {
		legacy = legacyKinds[string(m[1])]
		data = legacyTag.ReplaceAll(data, nil)
	}
	var head struct {
		Model string `yaml:"model"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return "", nil, "", fmt.Errorf("decode forcing %s: %w", meta, err)
	}
	kind := legacy
	if head.Model != "" {
		kind, err = ParseKind(head.Model)
		if err != nil {
			return "", nil, "", err
		}
	}
	return dir, data, kind, nil
}

func finish(f Forcing, dir string) (Forcing, error) {
	b := f.Common()
	b.Directory = dir
	if b.Shape != "" {
		shape, err := fsutil.Abs(b.Shape, fsutil.PathOptions{Parent: dir})
		if err != nil {
			return nil, fmt.Errorf("shape: %w", err)
		}
		b.Shape = shape
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads the forcing in dir. The model key of the sidecar picks the
// variant, a sidecar without one is a Default forcing.
func Load(dir string) (Forcing, error) {
	abs, data, kind, err := readSidecar(dir)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = KindDefault
	}
	f, err := decode(kind, data)
	if err != nil {
		return nil, err
	}
	return finish(f, abs)
}

// LoadAs reads the forcing in dir as kind. A sidecar naming another kind is
// an error.
func LoadAs(dir string, kind Kind) (Forcing, error) {
	abs, data, found, err := readSidecar(dir)
	if err != nil {
		return nil, err
	}
	if found != "" && found != kind {
		return nil, fmt.Errorf("%w: forcing in %s is %s, not %s", ErrUnknownKind, abs, found, kind)
	}
	f, err := decode(kind, data)
	if err != nil {
		return nil, err
	}
	return finish(f, abs)
}

// LoadTyped is LoadAs for a variant type, for example LoadTyped[*Hype](dir).
func LoadTyped[T Forcing](dir string) (T, error) {
	var zero T
	f, err := LoadAs(dir, zero.Kind())
	if err != nil {
		return zero, err
	}
	t, ok := f.(T)
	if !ok {
		return zero, fmt.Errorf("%w: forcing in %s is %T", ErrUnknownKind, dir, f)
	}
	return t, nil
}
