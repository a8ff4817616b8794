package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

// DockerLauncher runs images with the docker CLI.
type DockerLauncher struct {
	dockerBin string
	run       CommandRunner
	uid, gid  int
}

func NewDockerLauncher(dockerBin string) (*DockerLauncher, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &DockerLauncher{dockerBin: dockerBin, run: execRunner, uid: os.Getuid(), gid: os.Getgid()}, nil
}

func (l *DockerLauncher) Kind() config.Engine {
	return config.EngineDocker
}

func (l *DockerLauncher) Start(ctx context.Context, spec Spec) (*Container, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	name := "ewc-" + uuid.NewString()
	port := strconv.Itoa(spec.Port)

	args := []string{
		"run",
		"--detach",
		"--rm",
		"--name", name,
		"-p", "127.0.0.1::" + port,
		"--env", "BMI_PORT=" + port,
	}
	if l.uid >= 0 {
		args = append(args, "--user", strconv.Itoa(l.uid)+":"+strconv.Itoa(l.gid))
	}
	for _, dir := range spec.mounts() {
		args = append(args, "-v", dir+":"+dir)
	}
	args = append(args, "-w", spec.WorkDir, spec.Image)

	out, err := l.run(ctx, l.dockerBin, args...)
	if err != nil {
		return nil, fmt.Errorf("docker run failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	c := &Container{
		Name:   name,
		Engine: config.EngineDocker,
		Image:  spec.Image,
		stop: func(ctx context.Context) error {
			out, err := l.run(ctx, l.dockerBin, "rm", "--force", name)
			if err != nil {
				return fmt.Errorf("docker rm failed: %w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}

	hostPort, err := l.publishedPort(ctx, name, port)
	if err != nil {
		_ = c.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	c.Endpoint = hostPort
	return c, nil
}

// publishedPort asks docker which host address the container port is bound to.
func (l *DockerLauncher) publishedPort(ctx context.Context, name, port string) (string, error) {
	out, err := l.run(ctx, l.dockerBin, "port", name, port+"/tcp")
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("docker port failed: %w: %s", err, text)
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		host, p, err := net.SplitHostPort(line)
		if err != nil || p == "" {
			continue
		}
		if host == "0.0.0.0" || host == "" || host == "::" {
			host = "127.0.0.1"
		}
		return net.JoinHostPort(host, p), nil
	}
	return "", errors.New("docker port: no published port for " + name)
}
