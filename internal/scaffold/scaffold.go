package scaffold

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bdougie/adrenalset/internal/labels"
)

// CreateFolderStructure creates the hierarchy that holds the labeled videos:
//
//	base/
//	  └── data/
//	      ├── left_adrenal/
//	      │   ├── class_0_0_0/
//	      │   ...
//	      │   └── class_1_1_1/
//	      └── right_adrenal/
//	          ├── class_0_0_0/
//	          ...
//	          └── class_1_1_1/
//
// Existing directories are kept. The leaf directories are returned in
// traversal order.
func CreateFolderStructure(logger *slog.Logger, base string) ([]string, error) {
	root := filepath.Join(base, "data")

	var created []string
	for _, l := range labels.All() {
		folderPath := filepath.Join(root, l.Side.Dir(), l.Class.Dir())
		if err := os.MkdirAll(folderPath, 0755); err != nil {
			return created, fmt.Errorf("failed to create folder '%s': %w", folderPath, err)
		}
		created = append(created, folderPath)
	}

	logger.Info("folder structure created", "root", root, "folders", len(created))
	return created, nil
}
