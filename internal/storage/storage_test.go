package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/adrenalset/internal/models"
)

func entry(i int) models.CatalogEntry {
	return models.CatalogEntry{
		Path:      fmt.Sprintf("left_adrenal/class_0_0_0/scan_%02d.mp4", i),
		LabelName: "left_adrenal_class_0_0_0",
		Label:     []int{0, 0, 0, 0},
		Frames:    40 + i,
	}
}

func TestManifestBatchesWrites(t *testing.T) {
	dir := t.TempDir()
	s := NewManifestStorage(dir)
	ctx := context.Background()

	for i := 0; i < batchSize-1; i++ {
		require.NoError(t, s.AddEntry(ctx, entry(i)))
	}
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "nothing written before the batch fills")

	require.NoError(t, s.AddEntry(ctx, entry(batchSize-1)))
	entries, err := ReadManifest(s.Path())
	require.NoError(t, err)
	assert.Len(t, entries, batchSize)

	require.NoError(t, s.AddEntry(ctx, entry(100)))
	require.NoError(t, s.Flush())
	entries, err = ReadManifest(s.Path())
	require.NoError(t, err)
	assert.Len(t, entries, batchSize+1)
	assert.Equal(t, entry(100), entries[batchSize])
}

func TestManifestReplacesSamePath(t *testing.T) {
	dir := t.TempDir()
	s := NewManifestStorage(dir)
	ctx := context.Background()

	require.NoError(t, s.AddEntry(ctx, entry(1)))
	require.NoError(t, s.Flush())

	updated := entry(1)
	updated.Frames = 7
	updated.Fingerprint = []float32{0.5, -0.5}
	require.NoError(t, s.AddEntry(ctx, updated))
	require.NoError(t, s.Flush())

	entries, err := ReadManifest(s.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, updated, entries[0])
}

func TestManifestReset(t *testing.T) {
	s := NewManifestStorage(t.TempDir())
	require.NoError(t, s.AddEntry(context.Background(), entry(1)))
	require.NoError(t, s.Flush())

	require.NoError(t, s.Reset())
	assert.NoFileExists(t, s.Path())
	require.NoError(t, s.Reset())
}

func TestManifestCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{"), 0644))

	s := NewManifestStorage(dir)
	require.NoError(t, s.AddEntry(context.Background(), entry(1)))
	assert.Error(t, s.Flush())
}

type failingStorage struct{ err error }

func (f failingStorage) AddEntry(context.Context, models.CatalogEntry) error { return f.err }
func (f failingStorage) Flush() error                                       { return f.err }

func TestMulti(t *testing.T) {
	dir := t.TempDir()
	m := Multi{NewManifestStorage(dir)}
	require.NoError(t, m.AddEntry(context.Background(), entry(3)))
	require.NoError(t, m.Flush())

	entries, err := ReadManifest(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	boom := errors.New("boom")
	m = Multi{NewManifestStorage(t.TempDir()), failingStorage{err: boom}}
	assert.ErrorIs(t, m.AddEntry(context.Background(), entry(4)), boom)
	assert.ErrorIs(t, m.Flush(), boom)
}
