package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type PathOptions struct {
	Parent         string
	MustExist      bool
	MustBeInParent bool
}

// Abs resolves input against opts.Parent (when set) and expands a leading ~.
func Abs(input string, opts PathOptions) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", errors.New("path is required")
	}
	p, err := expandUser(input)
	if err != nil {
		return "", err
	}
	if opts.Parent != "" {
		parent, err := expandUser(opts.Parent)
		if err != nil {
			return "", err
		}
		parent = filepath.Clean(parent)
		if !filepath.IsAbs(p) {
			p = filepath.Join(parent, p)
		}
		p = filepath.Clean(p)
		if opts.MustBeInParent && !Within(parent, p) {
			return "", fmt.Errorf("input path %s is not a subpath of parent %s", input, parent)
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("absolute path %s: %w", input, err)
	}
	if opts.MustExist {
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("path %s: %w", abs, err)
		}
	}
	return abs, nil
}

// Within reports whether target is parent or lies below it.
func Within(parent, target string) bool {
	rel, err := filepath.Rel(parent, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func expandUser(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func IsDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// CopyDir copies the tree at src into dst, creating dst when needed.
func CopyDir(src, dst string) error {
	src = filepath.Clean(src)
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return CopyFile(p, target)
	})
}
