package config

import (
	"path/filepath"
	"testing"
)

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(Default(), nil)
	cfg := s.Get()
	cfg.ParameterSets["mutated"] = ParameterSetEntry{Directory: "x", Config: "y"}
	if _, ok := s.Get().ParameterSets["mutated"]; ok {
		t.Fatalf("Get() returned shared state")
	}
}

func TestStore_ReloadWithoutSourceResets(t *testing.T) {
	cfg := Default()
	cfg.ContainerEngine = EngineApptainer
	s := NewStore(cfg, nil)
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() err=%v", err)
	}
	if got := s.Get().ContainerEngine; got != EngineDocker {
		t.Fatalf("ContainerEngine=%q, want docker after reset", got)
	}
}

func TestStore_LoadFromFileAndReload(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	writeFile(t, path, "container_engine: apptainer\n")

	s := NewStore(Default(), nil)
	if err := s.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() err=%v", err)
	}
	if got := s.Get().ContainerEngine; got != EngineApptainer {
		t.Fatalf("ContainerEngine=%q, want apptainer", got)
	}

	writeFile(t, path, "container_engine: docker\n")
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() err=%v", err)
	}
	if got := s.Get().ContainerEngine; got != EngineDocker {
		t.Fatalf("ContainerEngine=%q, want docker", got)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewStore(Default(), nil)
	err := s.Update(func(c *Config) { c.ContainerEngine = "podman" })
	if err == nil {
		t.Fatalf("Update() expected error")
	}
	if got := s.Get().ContainerEngine; got != EngineDocker {
		t.Fatalf("ContainerEngine=%q, want unchanged docker", got)
	}
}
