package container

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

// ExecOptions describes a command run to completion inside an image.
type ExecOptions struct {
	Engine config.Engine
	Image  Image
	// ImageDir holds the .sif files for apptainer.
	ImageDir string
	// Mounts are bound at the same path inside the container.
	Mounts  []string
	WorkDir string
	Command []string
	// Runner defaults to os/exec.
	Runner CommandRunner
}

// Exec runs a command in a throwaway container and returns its combined
// output. A failing command returns the tail of its output in the error.
func Exec(ctx context.Context, opts ExecOptions) ([]byte, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}
	run := opts.Runner
	if run == nil {
		run = execRunner
	}
	spec := Spec{WorkDir: opts.WorkDir, InputDirs: opts.Mounts}
	mounts := spec.mounts()

	var bin string
	var args []string
	switch opts.Engine {
	case config.EngineDocker:
		url, err := opts.Image.DockerURL()
		if err != nil {
			return nil, err
		}
		bin = "docker"
		args = []string{"run", "--rm"}
		for _, m := range mounts {
			args = append(args, "-v", m+":"+m)
		}
		if opts.WorkDir != "" {
			args = append(args, "-w", opts.WorkDir)
		}
		args = append(args, url)
	case config.EngineApptainer:
		file, err := opts.Image.ApptainerFilename()
		if err != nil {
			return nil, err
		}
		if opts.ImageDir != "" {
			file = filepath.Join(opts.ImageDir, file)
		}
		bin = "apptainer"
		args = []string{"exec"}
		if len(mounts) > 0 {
			binds := make([]string, len(mounts))
			for i, m := range mounts {
				binds[i] = m + ":" + m
			}
			args = append(args, "--bind", strings.Join(binds, ","))
		}
		if opts.WorkDir != "" {
			args = append(args, "--pwd", opts.WorkDir)
		}
		args = append(args, file)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngine, opts.Engine)
	}
	args = append(args, opts.Command...)

	out, err := run(ctx, bin, args...)
	if err != nil {
		return out, fmt.Errorf("%s %s failed: %w: %s", bin, args[0], err, tail(out, 20))
	}
	return out, nil
}

func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
