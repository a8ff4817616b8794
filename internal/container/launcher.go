// Package container starts model images under Docker or Apptainer and
// connects to the BMI server running inside them.
package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

// DefaultPort is the port the BMI server listens on inside the container.
const DefaultPort = 55555

// Spec describes one container to start.
type Spec struct {
	// Image is the engine specific reference: a Docker url or a .sif filename.
	Image     string
	WorkDir   string
	InputDirs []string
	Port      int
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return errors.New("image is required")
	}
	if strings.TrimSpace(s.WorkDir) == "" {
		return errors.New("work dir is required")
	}
	if s.Port <= 0 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	return nil
}

// mounts returns the work dir followed by the input dirs without duplicates.
func (s Spec) mounts() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range append([]string{s.WorkDir}, s.InputDirs...) {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// Launcher starts containers for one engine.
type Launcher interface {
	Kind() config.Engine
	Start(ctx context.Context, spec Spec) (*Container, error)
}

// Container is a started model container.
type Container struct {
	Name   string
	Engine config.Engine
	Image  string
	// Endpoint is the host:port of the grpc4bmi server.
	Endpoint string

	stopOnce sync.Once
	stopErr  error
	stop     func(ctx context.Context) error
	done     <-chan struct{}
}

// Done is closed when the container process exits. It is nil when the
// engine gives no such signal.
func (c *Container) Done() <-chan struct{} {
	return c.done
}

// Stop tears the container down. Calling it again is a no-op.
func (c *Container) Stop(ctx context.Context) error {
	if c == nil || c.stop == nil {
		return nil
	}
	c.stopOnce.Do(func() {
		c.stopErr = c.stop(ctx)
	})
	return c.stopErr
}

// CommandRunner runs a command to completion and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
