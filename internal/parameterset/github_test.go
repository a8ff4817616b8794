package parameterset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
)

func TestParseGitHubURL(t *testing.T) {
	d, err := ParseGitHubURL("https://github.com/ec-jrc/lisflood-usecases/tree/master/LF_lat_lon_UseCase")
	if err != nil {
		t.Fatalf("ParseGitHubURL() err=%v", err)
	}
	if d.Org != "ec-jrc" || d.Repo != "lisflood-usecases" || d.Branch != "master" || d.Subfolder != "LF_lat_lon_UseCase" {
		t.Fatalf("ParseGitHubURL()=%+v", d)
	}

	d, err = ParseGitHubURL("https://github.com/openstreams/wflow.git")
	if err != nil || d.Org != "openstreams" || d.Repo != "wflow" || d.Branch != "" {
		t.Fatalf("ParseGitHubURL()=%+v,%v", d, err)
	}

	for _, bad := range []string{"https://gitlab.com/a/b", "https://github.com/onlyorg"} {
		if _, err := ParseGitHubURL(bad); err == nil {
			t.Fatalf("ParseGitHubURL(%q) err=nil", bad)
		}
	}
}

func TestGitHubDownloader_CopiesSubfolder(t *testing.T) {
	var got *git.CloneOptions
	d := GitHubDownloader{
		Org: "openstreams", Repo: "wflow", Branch: "master", Subfolder: "examples/wflow_rhine_sbm_nc",
		clone: func(_ context.Context, dir string, opts *git.CloneOptions) error {
			got = opts
			sub := filepath.Join(dir, "examples", "wflow_rhine_sbm_nc")
			if err := os.MkdirAll(filepath.Join(sub, "staticmaps"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(sub, "wflow_sbm_NC.ini"), []byte("[run]\n"), 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(sub, "staticmaps", "wflow_dem.map"), []byte("dem"), 0o644); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(dir, "README.md"), []byte("readme"), 0o644)
		},
	}
	dest := t.TempDir()
	if err := d.Download(context.Background(), dest); err != nil {
		t.Fatalf("Download() err=%v", err)
	}

	if got.URL != "https://github.com/openstreams/wflow.git" || got.Depth != 1 || !got.SingleBranch {
		t.Fatalf("clone options=%+v", got)
	}
	if got.ReferenceName.String() != "refs/heads/master" {
		t.Fatalf("ReferenceName=%q", got.ReferenceName)
	}
	if _, err := os.Stat(filepath.Join(dest, "wflow_sbm_NC.ini")); err != nil {
		t.Fatalf("config not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "staticmaps", "wflow_dem.map")); err != nil {
		t.Fatalf("nested file not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "README.md")); !os.IsNotExist(err) {
		t.Fatalf("file outside subfolder copied: %v", err)
	}
}

func TestGitHubDownloader_MissingSubfolder(t *testing.T) {
	d := GitHubDownloader{
		Org: "o", Repo: "r", Subfolder: "nope",
		clone: func(context.Context, string, *git.CloneOptions) error { return nil },
	}
	if err := d.Download(context.Background(), t.TempDir()); err == nil {
		t.Fatalf("Download() err=nil, want missing subfolder error")
	}
}
