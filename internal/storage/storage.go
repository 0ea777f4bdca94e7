package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/adrenalset/internal/models"
)

const (
	batchSize = 10 // Number of entries to batch write

	ManifestFile = "manifest.json"
)

// Storage defines the interface for the dataset catalog
type Storage interface {
	// AddEntry adds a single catalog entry
	AddEntry(ctx context.Context, entry models.CatalogEntry) error

	// Flush ensures all pending entries are saved
	Flush() error
}

// ManifestStorage keeps the catalog as a JSON manifest on disk
type ManifestStorage struct {
	entries   []models.CatalogEntry
	mu        sync.Mutex
	outputDir string
}

// NewManifestStorage creates a catalog writing to outputDir/manifest.json
func NewManifestStorage(outputDir string) *ManifestStorage {
	return &ManifestStorage{
		entries:   []models.CatalogEntry{},
		outputDir: outputDir,
	}
}

// Path is the manifest location.
func (s *ManifestStorage) Path() string {
	return filepath.Join(s.outputDir, ManifestFile)
}

// AddEntry adds an entry to the batch and flushes if the batch is full
func (s *ManifestStorage) AddEntry(ctx context.Context, entry models.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)

	// Write to disk when batch is full
	if len(s.entries) >= batchSize {
		return s.flush()
	}
	return nil
}

// Flush writes all pending entries to disk
func (s *ManifestStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *ManifestStorage) flush() error {
	if len(s.entries) == 0 {
		return nil
	}

	existing, err := ReadManifest(s.Path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// entries for the same video replace older ones
	index := make(map[string]int, len(existing))
	for i, e := range existing {
		index[e.Path] = i
	}
	for _, e := range s.entries {
		if i, ok := index[e.Path]; ok {
			existing[i] = e
			continue
		}
		index[e.Path] = len(existing)
		existing = append(existing, e)
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for manifest: %w", err)
	}

	tmp := s.Path() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(existing); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	s.entries = nil // Clear the batch
	return nil
}

// Reset removes the manifest so a rebuild starts from scratch.
func (s *ManifestStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadManifest loads the entries of a manifest file.
func ReadManifest(path string) ([]models.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []models.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest '%s': %w", path, err)
	}
	return entries, nil
}

// Multi fans entries out to several catalogs.
type Multi []Storage

func (m Multi) AddEntry(ctx context.Context, entry models.CatalogEntry) error {
	for _, s := range m {
		if err := s.AddEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Flush() error {
	for _, s := range m {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}
