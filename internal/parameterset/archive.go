package parameterset

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
)

var (
	ErrUnsafePath         = errors.New("archive_entry_outside_target")
	ErrUnsupportedArchive = errors.New("unsupported_archive")
)

// ArchiveDownloader downloads a zip, tar, tar.gz or tar.zst file and
// unpacks it.
type ArchiveDownloader struct {
	URL        string
	HTTPClient *http.Client
}

func (d ArchiveDownloader) Download(ctx context.Context, dir string) error {
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return downloadAndExtract(ctx, client, d.URL, dir)
}

func downloadAndExtract(ctx context.Context, client *http.Client, url, dir string) error {
	tmp, err := os.CreateTemp("", "ewc-archive-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = fetch(ctx, client, url, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return Extract(tmp.Name(), dir)
}

func fetch(ctx context.Context, client *http.Client, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("get %s: status=%d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	return nil
}

// Extract unpacks the archive at path into dir. The format is detected from
// the content. Entries that would land outside dir are rejected.
func Extract(path, dir string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect archive type: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return err
	}

	switch {
	case isA(mt, "application/zip"):
		return extractZip(path, dir)
	case isA(mt, "application/gzip"):
		return withFile(path, func(r io.Reader) error {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			defer zr.Close()
			return extractTar(zr, dir)
		})
	case isA(mt, "application/zstd"):
		return withFile(path, func(r io.Reader) error {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return fmt.Errorf("zstd: %w", err)
			}
			defer zr.Close()
			return extractTar(zr, dir)
		})
	case isA(mt, "application/x-tar"):
		return withFile(path, func(r io.Reader) error { return extractTar(r, dir) })
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, mt.String())
	}
}

func isA(mt *mimetype.MIME, want string) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func entryPath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if filepath.IsAbs(filepath.FromSlash(name)) || !fsutil.Within(dir, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		target, err := entryPath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !fsutil.Within(dir, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
				return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(path, dir string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		target, err := entryPath(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("zip %s: %w", f.Name, err)
		}
		err = writeEntry(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
