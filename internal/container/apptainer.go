package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
)

const apptainerStopGrace = 10 * time.Second

// ApptainerLauncher runs .sif images as child processes of this one.
type ApptainerLauncher struct {
	apptainerBin string
	imageDir     string
	freePort     func() (int, error)
}

func NewApptainerLauncher(apptainerBin, imageDir string) (*ApptainerLauncher, error) {
	apptainerBin = strings.TrimSpace(apptainerBin)
	if apptainerBin == "" {
		apptainerBin = "apptainer"
	}
	if _, err := exec.LookPath(apptainerBin); err != nil {
		return nil, fmt.Errorf("apptainer binary not found: %w", err)
	}
	return &ApptainerLauncher{apptainerBin: apptainerBin, imageDir: imageDir, freePort: freeLocalPort}, nil
}

func (l *ApptainerLauncher) Kind() config.Engine {
	return config.EngineApptainer
}

// ResolveImage returns the path of the image inside the image dir when it
// exists there, otherwise the image unchanged.
func (l *ApptainerLauncher) ResolveImage(image string) string {
	if l.imageDir == "" || filepath.IsAbs(image) {
		return image
	}
	candidate := filepath.Join(l.imageDir, image)
	if fsutil.Exists(candidate) {
		return candidate
	}
	return image
}

// Start ignores spec.Port: apptainer shares the host network, so the server
// is told to listen on a free host port instead.
func (l *ApptainerLauncher) Start(ctx context.Context, spec Spec) (*Container, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := l.freePort()
	if err != nil {
		return nil, fmt.Errorf("pick free port: %w", err)
	}
	image := l.ResolveImage(spec.Image)

	args := []string{
		"run",
		"--contain",
		"--env", "BMI_PORT=" + strconv.Itoa(port),
	}
	for _, dir := range spec.mounts() {
		args = append(args, "--bind", dir+":"+dir)
	}
	args = append(args, "--pwd", spec.WorkDir, image)

	cmd := exec.Command(l.apptainerBin, args...)
	cmd.Dir = spec.WorkDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("apptainer run failed: %w", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	return &Container{
		Name:     "ewc-" + uuid.NewString(),
		Engine:   config.EngineApptainer,
		Image:    image,
		Endpoint: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		done:     done,
		stop: func(ctx context.Context) error {
			return terminate(ctx, cmd, done)
		},
	}, nil
}

func terminate(ctx context.Context, cmd *exec.Cmd, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate apptainer: %w", err)
	}
	timer := time.NewTimer(apptainerStopGrace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill apptainer: %w", err)
	}
	<-done
	return nil
}

func freeLocalPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
