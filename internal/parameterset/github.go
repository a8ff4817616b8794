package parameterset

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/ewatercycle/ewatercycle-go/internal/fsutil"
)

// GitHubDownloader copies a folder of a GitHub repository.
type GitHubDownloader struct {
	Org       string
	Repo      string
	Branch    string
	Subfolder string

	// BaseURL defaults to https://github.com.
	BaseURL string
	clone   func(ctx context.Context, dir string, opts *git.CloneOptions) error
}

// ParseGitHubURL reads https://github.com/<org>/<repo>/tree/<branch>/<path>.
func ParseGitHubURL(raw string) (GitHubDownloader, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return GitHubDownloader{}, fmt.Errorf("parse github url: %w", err)
	}
	if u.Host != "github.com" {
		return GitHubDownloader{}, fmt.Errorf("not a github url: %s", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return GitHubDownloader{}, fmt.Errorf("github url %s has no org and repo", raw)
	}
	d := GitHubDownloader{Org: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
	if len(parts) >= 4 && parts[2] == "tree" {
		d.Branch = parts[3]
		d.Subfolder = strings.Join(parts[4:], "/")
	}
	return d, nil
}

func (d GitHubDownloader) repoURL() string {
	base := strings.TrimRight(d.BaseURL, "/")
	if base == "" {
		base = "https://github.com"
	}
	return base + "/" + d.Org + "/" + d.Repo + ".git"
}

// Download clones the branch shallowly and copies Subfolder into dir.
func (d GitHubDownloader) Download(ctx context.Context, dir string) error {
	tmp, err := os.MkdirTemp("", "ewc-github-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	opts := &git.CloneOptions{
		URL:          d.repoURL(),
		SingleBranch: true,
		Depth:        1,
	}
	if d.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(d.Branch)
	}
	clone := d.clone
	if clone == nil {
		clone = plainClone
	}
	if err := clone(ctx, tmp, opts); err != nil {
		return fmt.Errorf("clone %s: %w", opts.URL, err)
	}

	src := tmp
	if d.Subfolder != "" {
		src, err = fsutil.Abs(filepath.FromSlash(d.Subfolder), fsutil.PathOptions{Parent: tmp, MustExist: true, MustBeInParent: true})
		if err != nil {
			return fmt.Errorf("subfolder %s: %w", d.Subfolder, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(src, ".git")); err != nil {
		return err
	}
	return fsutil.CopyDir(src, dir)
}

func plainClone(ctx context.Context, dir string, opts *git.CloneOptions) error {
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}
