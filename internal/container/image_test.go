package container

import (
	"errors"
	"testing"
)

func TestImage_DockerToApptainer(t *testing.T) {
	cases := []struct {
		docker string
		sif    string
	}{
		{"ewatercycle/wflow-grpc4bmi:2020.1.1", "ewatercycle-wflow-grpc4bmi_2020.1.1.sif"},
		{"ghcr.io/ewatercycle/leakybucket-grpc4bmi:v0.0.1", "ewatercycle-leakybucket-grpc4bmi_v0.0.1.sif"},
		{"ewatercycle/wflow-grpc4bmi", "ewatercycle-wflow-grpc4bmi.sif"},
		{"ewatercycle/marrmot-grpc4bmi:2020.11", "ewatercycle-marrmot-grpc4bmi_2020.11.sif"},
		{"ubuntu:22.04", "ubuntu_22.04.sif"},
	}
	for _, tc := range cases {
		got, err := Image(tc.docker).ApptainerFilename()
		if err != nil {
			t.Fatalf("ApptainerFilename(%q) err=%v", tc.docker, err)
		}
		if got != tc.sif {
			t.Fatalf("ApptainerFilename(%q)=%q, want %q", tc.docker, got, tc.sif)
		}
	}
}

func TestImage_ApptainerToDocker(t *testing.T) {
	cases := []struct {
		sif    string
		docker string
	}{
		{"ewatercycle-wflow-grpc4bmi_2020.1.1.sif", "ewatercycle/wflow-grpc4bmi:2020.1.1"},
		{"ewatercycle-leakybucket-grpc4bmi_v0.0.1.sif", "ewatercycle/leakybucket-grpc4bmi:v0.0.1"},
		{"ewatercycle-wflow-grpc4bmi.sif", "ewatercycle/wflow-grpc4bmi"},
		{"ubuntu_22.04.sif", "ubuntu:22.04"},
	}
	for _, tc := range cases {
		got, err := Image(tc.sif).DockerURL()
		if err != nil {
			t.Fatalf("DockerURL(%q) err=%v", tc.sif, err)
		}
		if got != tc.docker {
			t.Fatalf("DockerURL(%q)=%q, want %q", tc.sif, got, tc.docker)
		}
	}
}

func TestImage_OwnFormIsIdentity(t *testing.T) {
	docker := Image("ghcr.io/ewatercycle/wflow-grpc4bmi:2020.1.3")
	if got, _ := docker.DockerURL(); got != string(docker) {
		t.Fatalf("DockerURL()=%q, want registry kept", got)
	}
	sif := Image("ewatercycle-wflow-grpc4bmi_2020.1.3.sif")
	if got, _ := sif.ApptainerFilename(); got != string(sif) {
		t.Fatalf("ApptainerFilename()=%q, want %q", got, sif)
	}
}

func TestImage_RoundTrip(t *testing.T) {
	for _, ref := range []string{
		"ewatercycle/hype-grpc4bmi:feb2021",
		"ewatercycle/lisflood-grpc4bmi:20.10",
		"ewatercycle/pcrg-grpc4bmi:setters",
	} {
		sif, err := Image(ref).ApptainerFilename()
		if err != nil {
			t.Fatalf("ApptainerFilename(%q) err=%v", ref, err)
		}
		back, err := Image(sif).DockerURL()
		if err != nil || back != ref {
			t.Fatalf("DockerURL(%q)=%q,%v, want %q", sif, back, err, ref)
		}
	}
}

func TestImage_Invalid(t *testing.T) {
	bad := Image("not:url///nor::sif")
	if _, err := bad.DockerURL(); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("DockerURL() err=%v, want ErrInvalidImage", err)
	}
	if _, err := bad.ApptainerFilename(); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("ApptainerFilename() err=%v, want ErrInvalidImage", err)
	}
	if _, err := Image("Bad/Name.sif").DockerURL(); err == nil {
		t.Fatalf("DockerURL() err=nil for a path")
	}
}

func TestImage_Version(t *testing.T) {
	cases := map[Image]string{
		"ewatercycle/wflow-grpc4bmi:2020.1.1":     "2020.1.1",
		"ewatercycle-wflow-grpc4bmi_2020.1.1.sif": "2020.1.1",
		"ewatercycle/wflow-grpc4bmi":              "unknown",
		"ewatercycle-wflow-grpc4bmi.sif":          "unknown",
	}
	for img, want := range cases {
		if got := img.Version(); got != want {
			t.Fatalf("Version(%q)=%q, want %q", img, got, want)
		}
	}
}

func TestImage_Digest(t *testing.T) {
	img := Image("ghcr.io/acme/train@SHA256:0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF")
	d, ok := img.Digest()
	if !ok {
		t.Fatalf("Digest() ok=false")
	}
	if d.String() != "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" {
		t.Fatalf("Digest()=%q", d)
	}
	if _, ok := Image("ghcr.io/acme/train:latest").Digest(); ok {
		t.Fatalf("Digest() ok=true for an unpinned ref")
	}
	if _, err := Image("ghcr.io/acme/train@sha256:abc").DockerURL(); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("DockerURL() err=%v, want ErrInvalidImage for a short digest", err)
	}
}
