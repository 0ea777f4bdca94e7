package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/adrenalset/internal/labels"
)

// DefaultExtensions are the video file extensions picked up by Scan.
var DefaultExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// Item is a video found in the data tree.
type Item struct {
	// Path is the path on disk, Rel the path relative to the data root.
	Path  string
	Rel   string
	Label labels.Label
}

// Scan lists the videos under dataDir in dataset order: sides, then
// classes in binary order, then file names. Directories outside the
// taxonomy are reported and ignored.
func Scan(logger *slog.Logger, dataDir string, extensions []string) ([]Item, error) {
	info, err := os.Stat(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory '%s': %w", dataDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path '%s' is not a directory", dataDir)
	}

	warnUnknown(logger, dataDir, func(name string) error {
		_, err := labels.ParseSide(name)
		return err
	})

	var items []Item
	for _, side := range labels.Sides {
		sideDir := filepath.Join(dataDir, side.Dir())
		if _, err := os.Stat(sideDir); os.IsNotExist(err) {
			logger.Warn("side directory missing", "dir", sideDir)
			continue
		}

		warnUnknown(logger, sideDir, func(name string) error {
			_, err := labels.ParseClass(name)
			return err
		})

		for _, class := range labels.Classes() {
			label := labels.Label{Side: side, Class: class}
			classDir := filepath.Join(sideDir, class.Dir())

			files, err := os.ReadDir(classDir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read class directory '%s': %w", classDir, err)
			}

			// os.ReadDir returns entries sorted by name
			for _, file := range files {
				if file.IsDir() || !IsVideo(file.Name(), extensions) {
					continue
				}
				items = append(items, Item{
					Path:  filepath.Join(classDir, file.Name()),
					Rel:   filepath.ToSlash(filepath.Join(label.Path(), file.Name())),
					Label: label,
				})
			}
		}
	}
	return items, nil
}

// IsVideo reports whether name has one of the extensions, ignoring case.
func IsVideo(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func warnUnknown(logger *slog.Logger, dir string, parse func(string) error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := parse(e.Name()); err != nil {
			logger.Warn("ignoring directory", "dir", filepath.Join(dir, e.Name()), "error", err)
		}
	}
}
