package container

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

type recordedCall struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []recordedCall
	outputs map[string]string
	fail    map[string]bool
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, recordedCall{name: name, args: args})
	sub := args[0]
	if f.fail[sub] {
		return []byte(sub + " exploded"), errors.New("exit status 1")
	}
	return []byte(f.outputs[sub]), nil
}

func TestDockerLauncher_Start(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"run":  "abc123\n",
		"port": "0.0.0.0:49153\n[::]:49153\n",
	}}
	l := &DockerLauncher{dockerBin: "docker", run: r.run, uid: 1000, gid: 100}

	c, err := l.Start(context.Background(), Spec{
		Image:     "ewatercycle/wflow-grpc4bmi:2020.1.3",
		WorkDir:   "/work",
		InputDirs: []string{"/data/ps", "/work", "/data/forcing"},
		Port:      55555,
	})
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if c.Endpoint != "127.0.0.1:49153" {
		t.Fatalf("Endpoint=%q, want 127.0.0.1:49153", c.Endpoint)
	}
	if !strings.HasPrefix(c.Name, "ewc-") || c.Engine != config.EngineDocker {
		t.Fatalf("Container=%+v", c)
	}

	want := []string{
		"run", "--detach", "--rm", "--name", c.Name,
		"-p", "127.0.0.1::55555",
		"--env", "BMI_PORT=55555",
		"--user", "1000:100",
		"-v", "/work:/work",
		"-v", "/data/ps:/data/ps",
		"-v", "/data/forcing:/data/forcing",
		"-w", "/work",
		"ewatercycle/wflow-grpc4bmi:2020.1.3",
	}
	if !reflect.DeepEqual(r.calls[0].args, want) {
		t.Fatalf("docker args=%q\nwant %q", r.calls[0].args, want)
	}
	if got := r.calls[1].args; !reflect.DeepEqual(got, []string{"port", c.Name, "55555/tcp"}) {
		t.Fatalf("docker port args=%q", got)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() err=%v", err)
	}
	_ = c.Stop(context.Background())
	if len(r.calls) != 3 {
		t.Fatalf("calls=%d, want a single rm", len(r.calls))
	}
	if got := r.calls[2].args; !reflect.DeepEqual(got, []string{"rm", "--force", c.Name}) {
		t.Fatalf("docker rm args=%q", got)
	}
}

func TestDockerLauncher_RunFailure(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"run": true}}
	l := &DockerLauncher{dockerBin: "docker", run: r.run, uid: -1}

	_, err := l.Start(context.Background(), Spec{Image: "x/y:z", WorkDir: "/w", Port: 55555})
	if err == nil || !strings.Contains(err.Error(), "docker run failed") || !strings.Contains(err.Error(), "run exploded") {
		t.Fatalf("Start() err=%v", err)
	}
	for _, a := range r.calls[0].args {
		if a == "--user" {
			t.Fatalf("--user passed without a uid")
		}
	}
}

func TestDockerLauncher_PortFailureStopsContainer(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"port": true}}
	l := &DockerLauncher{dockerBin: "docker", run: r.run, uid: -1}

	if _, err := l.Start(context.Background(), Spec{Image: "x/y:z", WorkDir: "/w", Port: 55555}); err == nil {
		t.Fatalf("Start() err=nil, want port error")
	}
	last := r.calls[len(r.calls)-1]
	if last.args[0] != "rm" {
		t.Fatalf("last call=%q, want rm", last.args)
	}
}

func TestSpec_Validate(t *testing.T) {
	cases := []Spec{
		{WorkDir: "/w", Port: 1},
		{Image: "x", Port: 1},
		{Image: "x", WorkDir: "/w"},
	}
	for _, s := range cases {
		if err := s.validate(); err == nil {
			t.Fatalf("validate(%+v) err=nil", s)
		}
	}
}
