package model

import (
	"context"
	"fmt"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/container"
)

// StartRequest describes the BMI a model needs.
type StartRequest struct {
	Plugin    Plugin
	Version   string
	WorkDir   string
	InputDirs []string
	// Wrappers decorate the BMI, innermost first.
	Wrappers []bmi.Wrapper
}

// Instance is a started BMI. Stop releases whatever runs it and may be nil.
type Instance struct {
	Bmi  bmi.Bmi
	Stop func(ctx context.Context) error
}

func (i Instance) stop(ctx context.Context) error {
	if i.Stop == nil {
		return nil
	}
	return i.Stop(ctx)
}

// Starter brings up the BMI of a model.
type Starter interface {
	Start(ctx context.Context, req StartRequest) (Instance, error)
}

// ContainerStarter runs the plugin image through the container dispatcher.
type ContainerStarter struct {
	Dispatcher *container.Dispatcher
	// Timeout overrides the dispatcher start timeout when positive.
	Timeout time.Duration
}

func (s ContainerStarter) Start(ctx context.Context, req StartRequest) (Instance, error) {
	if s.Dispatcher == nil {
		return Instance{}, fmt.Errorf("container dispatcher is required")
	}
	image := req.Plugin.Image(req.Version)
	if image == "" {
		return Instance{}, fmt.Errorf("model %s has no container image", req.Plugin.Name())
	}
	wrappers := req.Wrappers
	if wrappers == nil {
		wrappers = []bmi.Wrapper{}
	}
	session, err := s.Dispatcher.Start(ctx, container.StartOptions{
		Image:     image,
		WorkDir:   req.WorkDir,
		InputDirs: req.InputDirs,
		Timeout:   s.Timeout,
		Wrappers:  wrappers,
	})
	if err != nil {
		return Instance{}, err
	}
	return Instance{Bmi: session.Bmi, Stop: session.Close}, nil
}

// LocalStarter runs plugins implementing LocalPlugin in process.
type LocalStarter struct{}

func (LocalStarter) Start(_ context.Context, req StartRequest) (Instance, error) {
	p, ok := req.Plugin.(LocalPlugin)
	if !ok {
		return Instance{}, fmt.Errorf("model %s cannot run in process", req.Plugin.Name())
	}
	return Instance{Bmi: bmi.Wrap(p.NewBmi(), req.Wrappers...)}, nil
}

// AutoStarter runs local plugins in process and everything else in a
// container.
type AutoStarter struct {
	Container Starter
}

func (s AutoStarter) Start(ctx context.Context, req StartRequest) (Instance, error) {
	if _, ok := req.Plugin.(LocalPlugin); ok {
		return LocalStarter{}.Start(ctx, req)
	}
	if s.Container == nil {
		return Instance{}, fmt.Errorf("model %s needs a container engine", req.Plugin.Name())
	}
	return s.Container.Start(ctx, req)
}
