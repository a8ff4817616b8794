// Package leakybucket is a lumped single bucket model that runs in process.
// Each day the precipitation fills the bucket and a fixed fraction of the
// storage leaks out as discharge.
package leakybucket

import (
	"context"
	"errors"
	"fmt"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
	"github.com/ewatercycle/ewatercycle-go/internal/isotime"
	"github.com/ewatercycle/ewatercycle-go/internal/model"
)

const (
	Name             = "leakybucket"
	Image            = container.Image("ghcr.io/ewatercycle/leakybucket-grpc4bmi:latest")
	DefaultLeakiness = 0.05
)

var ErrNoPrecipitation = errors.New("leakybucket needs a forcing with pr")

type Plugin struct{}

func New() model.Plugin { return &Plugin{} }

func (*Plugin) Name() string                 { return Name }
func (*Plugin) Versions() []string           { return nil }
func (*Plugin) Image(string) container.Image { return Image }
func (*Plugin) NewBmi() bmi.Bmi              { return &Bucket{} }

func (*Plugin) Parameters(env model.Env) []model.Parameter {
	params := []model.Parameter{{Name: "leakiness", Value: DefaultLeakiness}}
	if env.Forcing != nil {
		b := env.Forcing.Common()
		params = append(params,
			model.Parameter{Name: "start_time", Value: isotime.String(b.StartTime)},
			model.Parameter{Name: "end_time", Value: isotime.String(b.EndTime)},
		)
	}
	return params
}

// MakeCfgFile writes config.yaml with the leakiness, the period and the
// absolute path of the precipitation file.
func (p *Plugin) MakeCfgFile(_ context.Context, env model.Env, params map[string]any) (string, error) {
	if env.Forcing == nil {
		return "", ErrNoPrecipitation
	}
	pr, err := env.Forcing.Common().Path("pr")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPrecipitation, err)
	}
	b := env.Forcing.Common()
	start, err := model.ParamTime(params, "start_time", b.StartTime)
	if err != nil {
		return "", err
	}
	end, err := model.ParamTime(params, "end_time", b.EndTime)
	if err != nil {
		return "", err
	}
	if err := model.CheckPeriod(env.Forcing, start, end); err != nil {
		return "", err
	}
	leakiness, err := model.ParamFloat(params, "leakiness", DefaultLeakiness)
	if err != nil {
		return "", err
	}
	if leakiness < 0 || leakiness > 1 {
		return "", fmt.Errorf("leakiness %v must be between 0 and 1", leakiness)
	}
	cfg := []model.Parameter{
		{Name: "precipitation_file", Value: pr},
		{Name: "leakiness", Value: leakiness},
		{Name: "start_time", Value: isotime.String(start)},
		{Name: "end_time", Value: isotime.String(end)},
	}
	return model.WriteYAMLConfig(env.CfgDir, cfg, nil)
}

// Config is the config.yaml the bucket reads on Initialize.
type Config struct {
	PrecipitationFile string  `yaml:"precipitation_file"`
	Leakiness         float64 `yaml:"leakiness"`
	StartTime         string  `yaml:"start_time"`
	EndTime           string  `yaml:"end_time"`
}
