// Package plugins wires the bundled models and their forcing generators.
package plugins

import (
	"fmt"
	"log/slog"

	"github.com/ewatercycle/ewatercycle-go/internal/forcing"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/hype"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/leakybucket"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/lisflood"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/marrmot"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/pcrglobwb"
	"github.com/ewatercycle/ewatercycle-go/internal/plugins/wflow"
)

var factories = []struct {
	name string
	f    model.Factory
}{
	{hype.Name, hype.New},
	{leakybucket.Name, leakybucket.New},
	{lisflood.Name, lisflood.New},
	{marrmot.M01.Name, marrmot.NewM01},
	{marrmot.M14.Name, marrmot.NewM14},
	{pcrglobwb.Name, pcrglobwb.New},
	{wflow.Name, wflow.New},
}

// Register adds every bundled model to r.
func Register(r *model.Registry) error {
	for _, e := range factories {
		if err := r.Register(e.name, e.f); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns a registry holding the bundled models.
func Registry() *model.Registry {
	r := model.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// ForcingSpec returns the generator of kind. lv runs LISVAP for LISFLOOD
// forcing and may be nil.
func ForcingSpec(kind forcing.Kind, lv *lisflood.Lisvap, logger *slog.Logger) (forcing.Spec, error) {
	switch kind {
	case forcing.KindDistributedUser:
		return forcing.DistributedUserSpec(), nil
	case forcing.KindLumpedUser:
		return forcing.LumpedUserSpec(), nil
	case forcing.KindGenericDistributed:
		return forcing.GenericDistributedSpec(), nil
	case forcing.KindGenericLumped:
		return forcing.GenericLumpedSpec(), nil
	case forcing.KindHype:
		return hype.ForcingSpec(), nil
	case forcing.KindLisflood:
		return lisflood.ForcingSpec(lv, logger), nil
	case forcing.KindMarrmot:
		return marrmot.ForcingSpec(), nil
	case forcing.KindPCRGlobWB:
		return pcrglobwb.ForcingSpec(), nil
	case forcing.KindWflow:
		return wflow.ForcingSpec(), nil
	default:
		return forcing.Spec{}, fmt.Errorf("%w: %q cannot be generated", forcing.ErrUnknownKind, kind)
	}
}
