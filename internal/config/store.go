package config

import (
	"fmt"
	"log/slog"
	"sync"
)

// Store owns the process configuration. Readers get copies; every change
// goes through Overwrite, Reset, Reload, LoadFromFile or Update.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
}

func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg.Clone(), logger: logger}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

func (s *Store) Overwrite(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
}

func (s *Store) Reset() {
	s.Overwrite(Default())
}

func (s *Store) LoadFromFile(path string) error {
	cfg, err := Load(path, s.logger)
	if err != nil {
		return err
	}
	s.Overwrite(cfg)
	return nil
}

// Reload re-reads the file the current config came from, or resets when it
// was built in memory.
func (s *Store) Reload() error {
	source := s.Get().Source
	if source == "" {
		s.Reset()
		return nil
	}
	return s.LoadFromFile(source)
}

// Update applies fn to a copy and stores the result when it validates.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg.Clone()
	fn(&next)
	if err := next.Normalize(s.logger); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	s.cfg = next
	return nil
}

func (s *Store) Save(path string) (string, error) {
	cfg := s.Get()
	written, err := cfg.Save(path)
	if err != nil {
		return "", err
	}
	s.logger.Info("config written", "path", written)
	return written, nil
}
