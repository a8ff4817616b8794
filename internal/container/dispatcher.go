package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/platform/env"
)

var ErrStartTimeout = errors.New("container_start_timeout")

// TimeoutError is returned when the BMI server inside a container did not
// answer within the start timeout.
type TimeoutError struct {
	Engine      config.Engine
	Image       string
	DockerImage string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	secs := int(e.Timeout.Seconds())
	msg := fmt.Sprintf("Couldn't spawn container within allocated time limit (%d seconds).", secs)
	switch e.Engine {
	case config.EngineApptainer:
		return msg + fmt.Sprintf(" You may try building the apptainer image with `apptainer build %s docker://%s` and then try again.", e.Image, e.DockerImage)
	default:
		return msg + fmt.Sprintf(" You may try pulling the docker image with `docker pull %s` and then try again.", e.Image)
	}
}

func (e *TimeoutError) Unwrap() error {
	return ErrStartTimeout
}

type Config struct {
	StartTimeout time.Duration
	DockerBin    string
	ApptainerBin string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("EWATERCYCLE_START_TIMEOUT", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		StartTimeout: timeout,
		DockerBin:    strings.TrimSpace(env.String("EWATERCYCLE_DOCKER_BIN", "docker")),
		ApptainerBin: strings.TrimSpace(env.String("EWATERCYCLE_APPTAINER_BIN", "apptainer")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.StartTimeout <= 0 {
		return errors.New("EWATERCYCLE_START_TIMEOUT must be positive")
	}
	return nil
}

// StartOptions select the image and mounts of one model container.
type StartOptions struct {
	Image     Image
	WorkDir   string
	InputDirs []string
	// Port inside the container, DefaultPort when zero.
	Port int
	// Timeout overrides the dispatcher start timeout when positive.
	Timeout time.Duration
	// Delay waits before the first readiness check.
	Delay time.Duration
	// Wrappers decorate the client, innermost first. Nil selects
	// bmi.Memoize, an empty slice selects none.
	Wrappers []bmi.Wrapper
}

// Session is a running container together with the BMI that talks to it.
type Session struct {
	Bmi       bmi.Bmi
	Container *Container

	client *bmi.Client
}

// Close drops the connection and stops the container.
func (s *Session) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var connErr error
	if s.client != nil {
		connErr = s.client.Close()
	}
	return errors.Join(s.Container.Stop(ctx), connErr)
}

// Dispatcher starts containers with the engine from the configuration.
type Dispatcher struct {
	Engine    config.Engine
	Launchers map[config.Engine]Launcher
	Timeout   time.Duration
	Logger    *slog.Logger

	pollInterval time.Duration
}

// NewDispatcher builds a launcher for the engine selected in cfg.
func NewDispatcher(cfg config.Config, c Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		Engine:    cfg.ContainerEngine,
		Launchers: map[config.Engine]Launcher{},
		Timeout:   c.StartTimeout,
		Logger:    logger,
	}
	switch cfg.ContainerEngine {
	case config.EngineDocker:
		l, err := NewDockerLauncher(c.DockerBin)
		if err != nil {
			return nil, err
		}
		d.Launchers[config.EngineDocker] = l
	case config.EngineApptainer:
		l, err := NewApptainerLauncher(c.ApptainerBin, cfg.ApptainerDir)
		if err != nil {
			return nil, err
		}
		d.Launchers[config.EngineApptainer] = l
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngine, cfg.ContainerEngine)
	}
	return d, nil
}

// Start launches the image and waits once, up to the timeout, for its
// grpc4bmi server to answer getComponentName.
func (d *Dispatcher) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher, ok := d.Launchers[d.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngine, d.Engine)
	}

	dockerURL, err := opts.Image.DockerURL()
	if err != nil {
		return nil, err
	}
	ref := dockerURL
	if d.Engine == config.EngineApptainer {
		if ref, err = opts.Image.ApptainerFilename(); err != nil {
			return nil, err
		}
	}

	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.Timeout
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	c, err := launcher.Start(ctx, Spec{
		Image:     ref,
		WorkDir:   opts.WorkDir,
		InputDirs: opts.InputDirs,
		Port:      port,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("container started", "engine", string(d.Engine), "image", c.Image, "name", c.Name, "endpoint", c.Endpoint)

	client, err := bmi.Dial(c.Endpoint)
	if err != nil {
		_ = c.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	if err := d.waitReady(ctx, client, c, opts.Delay, timeout); err != nil {
		_ = client.Close()
		_ = c.Stop(context.WithoutCancel(ctx))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Engine: d.Engine, Image: c.Image, DockerImage: dockerURL, Timeout: timeout}
		}
		return nil, err
	}

	wrappers := opts.Wrappers
	if wrappers == nil {
		wrappers = []bmi.Wrapper{bmi.Memoize}
	}
	return &Session{Bmi: bmi.Wrap(client, wrappers...), Container: c, client: client}, nil
}

func (d *Dispatcher) waitReady(ctx context.Context, client *bmi.Client, c *Container, delay, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := d.pollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	wait := delay
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.Done():
			timer.Stop()
			return fmt.Errorf("container %s exited before its BMI server was ready", c.Name)
		case <-timer.C:
		}
		if err := client.Ping(ctx); err == nil {
			return nil
		}
		wait = interval
	}
}
