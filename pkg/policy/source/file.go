package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"castellan-hq/portcullis/pkg/policy"
)

// FileSource loads policies from YAML files on disk.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// policyDocument is the on-disk layout of a policy file.
type policyDocument struct {
	Policies []*policy.Policy `yaml:"policies"`
}

// NewFileSource creates a new file-based policy source.
// The path can be either a single file or a directory.
// If it's a directory, all .yaml and .yml files will be loaded.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "policy.source.file"),
	}
}

// Load loads all policies from the configured path.
func (s *FileSource) Load(ctx context.Context) ([]*policy.Policy, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	var policies []*policy.Policy

	if info.IsDir() {
		policies, err = s.loadDirectory(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		policies, err = s.loadFile(s.path)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("loaded policies from source",
		"path", s.path,
		"policy_count", len(policies),
	)

	return policies, nil
}

// Sync loads policies from disk and replaces the store's contents with
// them, then invalidates the active set so the next evaluation sees the
// fresh policies.
func (s *FileSource) Sync(ctx context.Context, store policy.Store, set *ActiveSet) error {
	policies, err := s.Load(ctx)
	if err != nil {
		return err
	}

	for _, p := range policies {
		if err := store.Update(ctx, p); err == nil {
			continue
		} else if !errors.Is(err, policy.ErrNotFound) {
			return err
		}
		if err := store.Create(ctx, p); err != nil {
			return err
		}
	}

	if set != nil {
		set.Invalidate()
	}
	return nil
}

// loadDirectory loads all policy files from a directory. Files that
// fail to parse are skipped with a warning.
func (s *FileSource) loadDirectory(ctx context.Context) ([]*policy.Policy, error) {
	var policies []*policy.Policy

	err := filepath.Walk(s.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		loaded, err := s.loadFile(path)
		if err != nil {
			s.logger.Warn("failed to load policy file, skipping",
				"path", path,
				"error", err,
			)
			return nil
		}

		policies = append(policies, loaded...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}

	return policies, nil
}

// loadFile loads a single policy file.
func (s *FileSource) loadFile(path string) ([]*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}

	for _, p := range doc.Policies {
		if p.ID == "" {
			return nil, fmt.Errorf("policy file %q: policy %q has no id", path, p.Name)
		}
		if p.Scope == "" {
			p.Scope = policy.ScopeGlobal
		}
		if err := p.Condition.Validate(); err != nil {
			return nil, fmt.Errorf("policy file %q: policy %q: %w", path, p.ID, err)
		}
	}

	s.logger.Debug("loaded policy file",
		"path", path,
		"policy_count", len(doc.Policies),
	)

	return doc.Policies, nil
}
