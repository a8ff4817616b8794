// Package forcing describes the time varying input data of a model run: the
// files on disk, the period they cover and the area they were cut to.
//
// Each model family has its own variant. The variants are a closed set, the
// sidecar file names the variant with its model key.
package forcing

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"
)

var (
	ErrUnknownVariable = errors.New("unknown_forcing_variable")
	ErrUnknownKind     = errors.New("unknown_forcing_kind")
	ErrInvalid         = errors.New("invalid_forcing")
)

type Kind string

const (
	KindDefault            Kind = "default"
	KindDistributedUser    Kind = "distributed_user"
	KindLumpedUser         Kind = "lumped_user"
	KindGenericDistributed Kind = "generic_distributed"
	KindGenericLumped      Kind = "generic_lumped"
	KindHype               Kind = "hype"
	KindLisflood           Kind = "lisflood"
	KindMarrmot            Kind = "marrmot"
	KindPCRGlobWB          Kind = "pcrglobwb"
	KindWflow              Kind = "wflow"
)

// Kinds lists every variant.
func Kinds() []Kind {
	return []Kind{
		KindDefault, KindDistributedUser, KindLumpedUser, KindGenericDistributed, KindGenericLumped,
		KindHype, KindLisflood, KindMarrmot, KindPCRGlobWB, KindWflow,
	}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if slices.Contains(Kinds(), k) {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Forcing is implemented by the variants in this package only.
type Forcing interface {
	Kind() Kind
	Common() *Base
}

// Base holds what every forcing has.
type Base struct {
	StartTime time.Time
	EndTime   time.Time
	// Directory is absolute. It is not written to the sidecar, it is the
	// directory the sidecar was loaded from.
	Directory string
	// Shape is an absolute shapefile path, or empty.
	Shape string
	// Filenames maps variable names to files in Directory.
	Filenames map[string]string
}

func (b *Base) Common() *Base { return b }

func (b *Base) Validate() error {
	if b.StartTime.IsZero() || b.EndTime.IsZero() {
		return fmt.Errorf("%w: start and end time are required", ErrInvalid)
	}
	if b.StartTime.Location() != time.UTC || b.EndTime.Location() != time.UTC {
		return fmt.Errorf("%w: start and end time must be in UTC", ErrInvalid)
	}
	if b.StartTime.After(b.EndTime) {
		return fmt.Errorf("%w: start time %s is after end time %s", ErrInvalid, b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies within the forcing period, bounds included.
func (b *Base) Contains(t time.Time) bool {
	return !t.Before(b.StartTime) && !t.After(b.EndTime)
}

// Path returns the absolute path of the file holding variable.
func (b *Base) Path(variable string) (string, error) {
	name, ok := b.Filenames[variable]
	if !ok {
		return "", fmt.Errorf("%w: '%s' is not a valid variable for this forcing object", ErrUnknownVariable, variable)
	}
	return b.File(name), nil
}

// File joins name to Directory unless it is absolute.
func (b *Base) File(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(b.Directory, name)
}

// Variables returns the variable names sorted.
func (b *Base) Variables() []string {
	return slices.Sorted(maps.Keys(b.Filenames))
}

func (b *Base) clone() Base {
	out := *b
	out.Filenames = maps.Clone(b.Filenames)
	return out
}

// Default is a forcing without model specific fields.
type Default struct{ Base }

func (*Default) Kind() Kind { return KindDefault }

// DistributedUser holds user chosen variables on a grid.
type DistributedUser struct{ Base }

func (*DistributedUser) Kind() Kind { return KindDistributedUser }

// LumpedUser holds user chosen variables averaged over the shape.
type LumpedUser struct{ Base }

func (*LumpedUser) Kind() Kind { return KindLumpedUser }

// GenericDistributed holds pr and tas on a grid.
type GenericDistributed struct{ Base }

func (*GenericDistributed) Kind() Kind { return KindGenericDistributed }

// GenericLumped holds pr and tas averaged over the shape.
type GenericLumped struct{ Base }

func (*GenericLumped) Kind() Kind { return KindGenericLumped }

// Hype holds the observation text files HYPE reads.
type Hype struct {
	Base
	Pobs    string
	TMAXobs string
	TMINobs string
	Tobs    string
}

func (*Hype) Kind() Kind { return KindHype }

func NewHype(b Base) *Hype {
	return &Hype{Base: b, Pobs: "Pobs.txt", TMAXobs: "TMAXobs.txt", TMINobs: "TMINobs.txt", Tobs: "Tobs.txt"}
}

// Lisflood holds the meteo and evaporation maps LISFLOOD reads.
type Lisflood struct {
	Base
	PrefixPrecipitation string
	PrefixTavg          string
	PrefixE0            string
	PrefixES0           string
	PrefixET0           string
}

func (*Lisflood) Kind() Kind { return KindLisflood }

func NewLisflood(b Base) *Lisflood {
	return &Lisflood{
		Base:                b,
		PrefixPrecipitation: "pr.nc",
		PrefixTavg:          "tas.nc",
		PrefixE0:            "e0.nc",
		PrefixES0:           "es0.nc",
		PrefixET0:           "et0.nc",
	}
}

// Marrmot holds the MATLAB file with lumped forcing MARRMoT reads.
type Marrmot struct {
	Base
	ForcingFile string
}

func (*Marrmot) Kind() Kind { return KindMarrmot }

func NewMarrmot(b Base) *Marrmot {
	return &Marrmot{Base: b, ForcingFile: "marrmot.mat"}
}

// PCRGlobWB holds the precipitation and temperature files PCR-GLOBWB reads.
type PCRGlobWB struct {
	Base
	PrecipitationNC string
	TemperatureNC   string
}

func (*PCRGlobWB) Kind() Kind { return KindPCRGlobWB }

func NewPCRGlobWB(b Base) *PCRGlobWB {
	return &PCRGlobWB{Base: b, PrecipitationNC: "precipitation.nc", TemperatureNC: "temperature.nc"}
}

// Wflow holds the input map stack file and the variable paths inside it.
type Wflow struct {
	Base
	NetcdfInput        string
	Precipitation      string
	EvapoTranspiration string
	Temperature        string
	// Inflow is optional.
	Inflow string
}

func (*Wflow) Kind() Kind { return KindWflow }

func NewWflow(b Base) *Wflow {
	return &Wflow{
		Base:               b,
		NetcdfInput:        "inmaps.nc",
		Precipitation:      "/pr",
		EvapoTranspiration: "/pet",
		Temperature:        "/tas",
	}
}

// New returns an empty variant of kind with its default file names.
func New(kind Kind, b Base) (Forcing, error) {
	switch kind {
	case KindDefault:
		return &Default{Base: b}, nil
	case KindDistributedUser:
		return &DistributedUser{Base: b}, nil
	case KindLumpedUser:
		return &LumpedUser{Base: b}, nil
	case KindGenericDistributed:
		return &GenericDistributed{Base: b}, nil
	case KindGenericLumped:
		return &GenericLumped{Base: b}, nil
	case KindHype:
		return NewHype(b), nil
	case KindLisflood:
		return NewLisflood(b), nil
	case KindMarrmot:
		return NewMarrmot(b), nil
	case KindPCRGlobWB:
		return NewPCRGlobWB(b), nil
	case KindWflow:
		return NewWflow(b), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
