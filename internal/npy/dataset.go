package npy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bdougie/adrenalset/internal/labels"
	"github.com/bdougie/adrenalset/internal/loader"
)

// File names the training code loads.
const (
	VideosFile     = "videos.npy"
	LabelsFile     = "labels.npy"
	LabelNamesFile = "labels_names.npy"
)

// Save writes the dataset arrays into dir, creating it if needed.
func Save(dir string, ds *loader.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", dir, err)
	}

	if err := writeTensor(filepath.Join(dir, VideosFile), ds.Shape(), ds.Videos); err != nil {
		return err
	}
	if err := writeTensor(filepath.Join(dir, LabelsFile), ds.LabelShape(), ds.Labels); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, LabelNamesFile), func(w *bufio.Writer) error {
		return WriteStrings(w, ds.Names)
	})
}

// Load reads the arrays written by Save. Source paths are not part of the
// npy files and are left empty.
func Load(dir string) (*loader.Dataset, error) {
	videoShape, videos, err := readTensor(filepath.Join(dir, VideosFile))
	if err != nil {
		return nil, err
	}
	labelShape, lbls, err := readTensor(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, err
	}
	names, err := readFile(filepath.Join(dir, LabelNamesFile))
	if err != nil {
		return nil, err
	}

	if len(videoShape) != 5 || videoShape[4] != 1 {
		return nil, fmt.Errorf("%w: video shape %v is not (N, F, H, W, 1)", ErrShapeMismatch, videoShape)
	}
	if len(labelShape) != 2 || labelShape[1] != labels.VectorLen {
		return nil, fmt.Errorf("%w: label shape %v is not (N, %d)", ErrShapeMismatch, labelShape, labels.VectorLen)
	}

	ds := loader.NewDataset(videoShape[1], videoShape[2], videoShape[3])
	ds.Videos = videos
	ds.Labels = lbls
	if ds.Names, err = names.Strings(); err != nil {
		return nil, err
	}

	n := videoShape[0]
	if labelShape[0] != n || len(ds.Names) != n {
		return nil, fmt.Errorf("%w: %d videos, %d labels, %d names", ErrShapeMismatch, n, labelShape[0], len(ds.Names))
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func writeFile(path string, write func(w *bufio.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := write(w); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	return file.Close()
}

// bufferedFile flushes before closing the file underneath.
type bufferedFile struct {
	*bufio.Writer
	file *os.File
}

func (b bufferedFile) Close() error {
	if err := b.Flush(); err != nil {
		b.file.Close()
		return err
	}
	return b.file.Close()
}

func writeTensor(path string, shape []int, data []uint8) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	if err := WriteUint8(bufferedFile{Writer: bufio.NewWriter(file), file: file}, shape, data); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	return nil
}

func readTensor(path string) ([]int, []uint8, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer file.Close()

	shape, data, err := ReadUint8(bufio.NewReader(file))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read '%s': %w", path, err)
	}
	return shape, data, nil
}

func readFile(path string) (*Array, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer file.Close()

	arr, err := Read(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", path, err)
	}
	return arr, nil
}
