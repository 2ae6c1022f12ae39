// Package artifacts keeps generated files (tables, reports, charts) under one
// root directory and optionally mirrors them to an object storage bucket.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// Artifact kinds, each stored in its own subdirectory
const (
	KindData           = "data"
	KindAnalysis       = "analysis"
	KindVisualizations = "visualizations"
)

// Kinds lists the valid artifact kinds
func Kinds() []string {
	return []string{KindData, KindAnalysis, KindVisualizations}
}

// Mirror receives a copy of every published artifact
type Mirror interface {
	Upload(ctx context.Context, objectName, path string) error
}

// Store is a local directory of artifacts
type Store struct {
	root    string
	mirror  Mirror
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStore creates the kind subdirectories under root. mirror may be nil.
func NewStore(root string, mirror Mirror, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*Store, error) {
	for _, kind := range Kinds() {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &Store{
		root:    root,
		mirror:  mirror,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

// Dir returns the directory artifacts of kind are written to
func (s *Store) Dir(kind string) (string, error) {
	if !validKind(kind) {
		return "", models.NewInputError("artifacts", "unknown artifact type %q", kind)
	}
	return filepath.Join(s.root, kind), nil
}

// Resolve returns the path of an existing artifact. Names must be plain file
// names.
func (s *Store) Resolve(kind, name string) (string, error) {
	dir, err := s.Dir(kind)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", models.NewInputError("artifacts", "invalid file name %q", name)
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return "", &models.NotFoundError{Resource: "file", ID: kind + "/" + name}
	}
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return path, nil
}

// Publish mirrors the given files of kind. Files outside the kind directory
// are rejected. Without a mirror Publish only checks the paths.
func (s *Store) Publish(ctx context.Context, kind string, paths ...string) error {
	dir, err := s.Dir(kind)
	if err != nil {
		return err
	}
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			return models.NewInputError("artifacts", "%s is outside the %s directory", p, kind)
		}
		if s.mirror == nil {
			continue
		}
		object := kind + "/" + filepath.ToSlash(rel)
		if err := s.mirror.Upload(ctx, object, p); err != nil {
			s.metrics.RecordAPIError("artifact_mirror", kind)
			s.logger.Error(ctx, "[ARTIFACT_MIRROR_FAILED] Upload failed", logging.Fields{
				"object": object,
			}, err)
			return fmt.Errorf("mirror %s: %w", object, err)
		}
		s.logger.Debug(ctx, "[ARTIFACT_MIRRORED] Artifact uploaded", logging.Fields{
			"object": object,
		})
	}
	return nil
}

// List returns the file names stored under kind
func (s *Store) List(kind string) ([]string, error) {
	dir, err := s.Dir(kind)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func validKind(kind string) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
