// Package snapshot stores chart screenshots as an image plus a JSON sidecar
// describing what the chart showed.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

var (
	ErrNotFound  = errors.New("snapshot not found")
	ErrInvalidID = errors.New("invalid snapshot id")
)

// Meta describes a stored snapshot.
type Meta struct {
	ID          string              `json:"id"`
	Market      string              `json:"market"`
	Granularity chart.Granularity   `json:"granularity"`
	Variant     chart.Variant       `json:"variant"`
	Format      string              `json:"format"`
	Width       float64             `json:"width"`
	Height      float64             `json:"height"`
	SizeBytes   int                 `json:"size_bytes"`
	Bars        int                 `json:"bars"`
	Range       *chart.VisibleRange `json:"range,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	Notes       string              `json:"notes,omitempty"`
}

// Store manages snapshot files in one directory.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// NewID returns a fresh snapshot id.
func NewID() string {
	return uuid.NewString()
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes the image and then its sidecar.
func (s *Store) Save(meta Meta, image []byte) error {
	if err := validateID(meta.ID); err != nil {
		return err
	}
	if meta.Format != "png" && meta.Format != "jpeg" {
		return fmt.Errorf("snapshot store: unsupported format %q", meta.Format)
	}
	meta.SizeBytes = len(image)

	s.mu.Lock()
	defer s.mu.Unlock()

	imgPath := s.imagePath(meta.ID, meta.Format)
	if err := os.WriteFile(imgPath, image, 0o644); err != nil {
		return fmt.Errorf("snapshot store: write image: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("snapshot store: marshal meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), data, 0o644); err != nil {
		_ = os.Remove(imgPath)
		return fmt.Errorf("snapshot store: write meta: %w", err)
	}
	slog.Debug("snapshot saved", "id", meta.ID, "format", meta.Format, "bytes", meta.SizeBytes)
	return nil
}

func (s *Store) Get(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all snapshots, newest first. Unreadable sidecars are skipped.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}
	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("snapshot sidecar skipped", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadImage returns the image bytes and their format.
func (s *Store) ReadImage(id string) ([]byte, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(s.imagePath(id, meta.Format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: image for %s", ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("snapshot store: read image: %w", err)
	}
	return data, meta.Format, nil
}

// Delete removes the sidecar and the image. A missing image is logged and
// otherwise ignored.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.imagePath(id, meta.Format)); err != nil {
		slog.Debug("snapshot image cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot store: remove meta: %w", err)
	}
	return nil
}

// Prune keeps the newest keep snapshots and deletes the rest. It returns the
// number deleted.
func (s *Store) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	metas, err := s.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, m := range metas[min(keep, len(metas)):] {
		if err := s.Delete(m.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) imagePath(id, format string) string {
	return filepath.Join(s.dir, id+"."+format)
}
