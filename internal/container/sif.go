package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// SIFPuller downloads .sif images published as OCI artifacts, for example
// with `apptainer push image.sif oras://ghcr.io/org/image:tag`.
type SIFPuller struct {
	Dir       string
	PlainHTTP bool
	Logger    *slog.Logger

	repository func(ref string) (oras.ReadOnlyTarget, content.Fetcher, error)
}

// Pull fetches ref into Dir under its apptainer filename and returns the
// path. An existing file is kept unless force is set.
func (p *SIFPuller) Pull(ctx context.Context, ref string, force bool) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "oras://")
	filename, err := Image(ref).ApptainerFilename()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(p.Dir, filename)
	if !force {
		if _, err := os.Stat(dest); err == nil {
			logger.Info("apptainer image already present", "path", dest)
			return dest, nil
		}
	}

	repoPath, tag := splitReference(ref)
	if tag == "" {
		return "", fmt.Errorf("%w: %q must include a tag or digest", ErrInvalidImage, ref)
	}
	open := p.repository
	if open == nil {
		open = p.remoteRepository
	}
	target, blobs, err := open(repoPath)
	if err != nil {
		return "", err
	}

	desc, rc, err := oras.Fetch(ctx, target, tag, oras.DefaultFetchOptions)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	layer := desc
	if desc.MediaType == ocispec.MediaTypeImageManifest {
		manifest, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read manifest: %w", err)
		}
		var m ocispec.Manifest
		if err := json.Unmarshal(manifest, &m); err != nil {
			return "", fmt.Errorf("parse manifest: %w", err)
		}
		if len(m.Layers) == 0 {
			return "", fmt.Errorf("no layers in %s", ref)
		}
		layer = m.Layers[0]
		if rc, err = blobs.Fetch(ctx, layer); err != nil {
			return "", fmt.Errorf("fetch layer: %w", err)
		}
	}
	defer rc.Close()

	if err := writeVerified(dest, rc, layer); err != nil {
		return "", err
	}
	logger.Info("apptainer image pulled", "ref", ref, "path", dest, "digest", layer.Digest.String(), "size", layer.Size)
	return dest, nil
}

func (p *SIFPuller) remoteRepository(repoPath string) (oras.ReadOnlyTarget, content.Fetcher, error) {
	repo, err := remote.NewRepository(repoPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}
	repo.PlainHTTP = p.PlainHTTP
	repo.Client = auth.DefaultClient
	return repo, repo.Blobs(), nil
}

// writeVerified streams r into dest through a temp file and checks the digest.
func writeVerified(dest string, r io.Reader, desc ocispec.Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".pull-*.sif")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var verifier digest.Verifier
	w := io.Writer(tmp)
	if desc.Digest != "" {
		verifier = desc.Digest.Verifier()
		w = io.MultiWriter(tmp, verifier)
	}
	n, err := io.Copy(w, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if desc.Size > 0 && n != desc.Size {
		return fmt.Errorf("size mismatch for %s: got %d, want %d", dest, n, desc.Size)
	}
	if verifier != nil && !verifier.Verified() {
		return errors.New("digest mismatch for " + dest)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// splitReference splits registry/org/name:tag into repository and tag or digest.
func splitReference(full string) (repoPath, ref string) {
	lastSlash := strings.LastIndex(full, "/")
	head, tail := "", full
	if lastSlash >= 0 {
		head, tail = full[:lastSlash+1], full[lastSlash+1:]
	}
	if at := strings.LastIndex(tail, "@"); at >= 0 {
		return head + tail[:at], tail[at+1:]
	}
	if colon := strings.LastIndex(tail, ":"); colon >= 0 {
		return head + tail[:colon], tail[colon+1:]
	}
	return full, ""
}
