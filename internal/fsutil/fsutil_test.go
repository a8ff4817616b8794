package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAbs_RelativeToParent(t *testing.T) {
	parent := t.TempDir()
	got, err := Abs("wflow/config.ini", PathOptions{Parent: parent, MustBeInParent: true})
	if err != nil {
		t.Fatalf("Abs() err=%v", err)
	}
	want := filepath.Join(parent, "wflow", "config.ini")
	if got != want {
		t.Fatalf("Abs()=%q, want %q", got, want)
	}
}

func TestAbs_EscapesParent(t *testing.T) {
	parent := t.TempDir()
	if _, err := Abs("../elsewhere", PathOptions{Parent: parent, MustBeInParent: true}); err == nil {
		t.Fatalf("Abs() expected error for path outside parent")
	}
	if _, err := Abs("../elsewhere", PathOptions{Parent: parent}); err != nil {
		t.Fatalf("Abs() err=%v without MustBeInParent", err)
	}
}

func TestAbs_AbsoluteInputOutsideParent(t *testing.T) {
	parent := t.TempDir()
	other := t.TempDir()
	if _, err := Abs(other, PathOptions{Parent: parent, MustBeInParent: true}); err == nil {
		t.Fatalf("Abs() expected error for absolute path outside parent")
	}
}

func TestAbs_MustExist(t *testing.T) {
	dir := t.TempDir()
	if _, err := Abs(filepath.Join(dir, "missing"), PathOptions{MustExist: true}); err == nil {
		t.Fatalf("Abs() expected error for missing path")
	}
}

func TestAbs_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := Abs("~/data", PathOptions{})
	if err != nil {
		t.Fatalf("Abs() err=%v", err)
	}
	if got != filepath.Join(home, "data") {
		t.Fatalf("Abs()=%q, want %q", got, filepath.Join(home, "data"))
	}
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "maps"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "maps", "dem.map"), []byte("dem"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh"), 0o755); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir() err=%v", err)
	}
	b, err := os.ReadFile(filepath.Join(dst, "maps", "dem.map"))
	if err != nil || string(b) != "dem" {
		t.Fatalf("copied file=%q err=%v", b, err)
	}
	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	if err != nil {
		t.Fatalf("stat err=%v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("mode=%v, want executable bit preserved", info.Mode())
	}
}
