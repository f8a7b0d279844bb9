package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// parameterFile is the on-disk layout of a parameter store file.
type parameterFile struct {
	// Environments maps environment name to its parameter values.
	Environments map[string]map[string]string `yaml:"environments"`
}

// FileParameterStore is a YAML-backed per-environment parameter store.
// The file holds values that do not belong in a manifest under version
// control next to the template, such as connection strings handed over
// by another team. It satisfies the engine's ParameterStore interface.
type FileParameterStore struct {
	path string

	mu   sync.RWMutex
	envs map[string]map[string]string
}

// NewFileParameterStore loads the parameter file at path.
func NewFileParameterStore(path string) (*FileParameterStore, error) {
	store := &FileParameterStore{path: path}
	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Reload re-reads the parameter file. Used by `lander dev` when the
// file changes on disk.
func (s *FileParameterStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read parameter file: %w", err)
	}

	var file parameterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse parameter file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.envs = file.Environments
	s.mu.Unlock()
	return nil
}

// GetParameter returns the value for key in the given environment. The
// second return is false when the environment or key is absent.
func (s *FileParameterStore) GetParameter(ctx context.Context, environment, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envs[environment]
	if !ok {
		return "", false, nil
	}
	value, ok := env[key]
	return value, ok, nil
}

// Environments returns the environment names present in the file, for
// diagnostics.
func (s *FileParameterStore) Environments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.envs))
	for name := range s.envs {
		names = append(names, name)
	}
	return names
}

// StaticParameterStore serves parameters from an in-memory map. Used in
// tests and by callers that assemble parameters programmatically.
type StaticParameterStore struct {
	envs map[string]map[string]string
}

// NewStaticParameterStore wraps the given environment-to-parameters map.
func NewStaticParameterStore(envs map[string]map[string]string) *StaticParameterStore {
	return &StaticParameterStore{envs: envs}
}

// GetParameter returns the value for key in the given environment.
func (s *StaticParameterStore) GetParameter(ctx context.Context, environment, key string) (string, bool, error) {
	env, ok := s.envs[environment]
	if !ok {
		return "", false, nil
	}
	value, ok := env[key]
	return value, ok, nil
}
