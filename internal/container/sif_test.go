package container

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
)

const sifMediaType = "application/vnd.sylabs.sif.layer.v1.sif"

func newSIFStore(t *testing.T, payload []byte) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	layer := content.NewDescriptorFromBytes(sifMediaType, payload)
	if err := store.Push(ctx, layer, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Push(layer) err=%v", err)
	}
	manifest, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, "application/vnd.sylabs.sif.config.v1+json", oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{layer},
	})
	if err != nil {
		t.Fatalf("PackManifest() err=%v", err)
	}
	if err := store.Tag(ctx, manifest, "2020.1.3"); err != nil {
		t.Fatalf("Tag() err=%v", err)
	}
	return store
}

func TestSIFPuller_Pull(t *testing.T) {
	payload := []byte("SIF image bytes")
	store := newSIFStore(t, payload)
	dir := t.TempDir()

	var opened string
	p := &SIFPuller{
		Dir: dir,
		repository: func(ref string) (oras.ReadOnlyTarget, content.Fetcher, error) {
			opened = ref
			return store, store, nil
		},
	}
	path, err := p.Pull(context.Background(), "oras://ghcr.io/ewatercycle/wflow-grpc4bmi:2020.1.3", false)
	if err != nil {
		t.Fatalf("Pull() err=%v", err)
	}
	if opened != "ghcr.io/ewatercycle/wflow-grpc4bmi" {
		t.Fatalf("repository=%q", opened)
	}
	if want := filepath.Join(dir, "ewatercycle-wflow-grpc4bmi_2020.1.3.sif"); path != want {
		t.Fatalf("Pull()=%q, want %q", path, want)
	}
	got, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("ReadFile()=%q,%v", got, err)
	}
}

func TestSIFPuller_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "ewatercycle-wflow-grpc4bmi_2020.1.3.sif")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	p := &SIFPuller{
		Dir: dir,
		repository: func(string) (oras.ReadOnlyTarget, content.Fetcher, error) {
			t.Fatalf("repository opened for an existing image")
			return nil, nil, nil
		},
	}
	path, err := p.Pull(context.Background(), "ghcr.io/ewatercycle/wflow-grpc4bmi:2020.1.3", false)
	if err != nil || path != existing {
		t.Fatalf("Pull()=%q,%v, want %q", path, err, existing)
	}
}

func TestSIFPuller_RequiresTag(t *testing.T) {
	p := &SIFPuller{Dir: t.TempDir()}
	if _, err := p.Pull(context.Background(), "ghcr.io/ewatercycle/wflow-grpc4bmi", false); err == nil {
		t.Fatalf("Pull() err=nil, want missing tag error")
	}
}

func TestSplitReference(t *testing.T) {
	cases := []struct{ in, repo, ref string }{
		{"localhost:5000/myrepo:latest", "localhost:5000/myrepo", "latest"},
		{"ghcr.io/org/name@sha256:abcd", "ghcr.io/org/name", "sha256:abcd"},
		{"ghcr.io/org/name", "ghcr.io/org/name", ""},
	}
	for _, tc := range cases {
		repo, ref := splitReference(tc.in)
		if repo != tc.repo || ref != tc.ref {
			t.Fatalf("splitReference(%q)=%q,%q, want %q,%q", tc.in, repo, ref, tc.repo, tc.ref)
		}
	}
}
