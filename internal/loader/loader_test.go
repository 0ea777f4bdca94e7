package loader

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/adrenalset/internal/extractor"
	"github.com/bdougie/adrenalset/internal/labels"
)

// fakeDecoder serves solid frames whose shade is the frame index plus a
// per-file offset.
type fakeDecoder struct {
	mu      sync.Mutex
	frames  map[string]int
	offsets map[string]uint8
	fail    map[string]error
	calls   []string
}

func (f *fakeDecoder) Decode(ctx context.Context, path string, fn extractor.FrameFunc) (int, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err, ok := f.fail[name]; ok {
		return 0, err
	}
	n := f.frames[name]
	for i := 0; i < n; i++ {
		shade := f.offsets[name] + uint8(i)
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		for p := range img.Pix {
			img.Pix[p] = shade
		}
		if err := fn(i, img); err != nil {
			return i, err
		}
	}
	return n, nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
}

func newTestTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	touch(t, filepath.Join(root, "right_adrenal", "class_1_1_0", "c.avi"))
	touch(t, filepath.Join(root, "left_adrenal", "class_0_0_1", "b.MP4"))
	touch(t, filepath.Join(root, "left_adrenal", "class_0_0_1", "a.mp4"))
	touch(t, filepath.Join(root, "left_adrenal", "class_0_0_1", "notes.txt"))
	touch(t, filepath.Join(root, "left_adrenal", "class_0_0_0", "z.mp4"))
	touch(t, filepath.Join(root, "right_adrenal", "misc", "ignored.mp4"))
	touch(t, filepath.Join(root, "archive", "ignored.mp4"))
	return root
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanOrder(t *testing.T) {
	root := newTestTree(t)

	items, err := Scan(discardLogger(), root, DefaultExtensions)
	require.NoError(t, err)

	var rels []string
	for _, it := range items {
		rels = append(rels, it.Rel)
	}
	assert.Equal(t, []string{
		"left_adrenal/class_0_0_0/z.mp4",
		"left_adrenal/class_0_0_1/a.mp4",
		"left_adrenal/class_0_0_1/b.MP4",
		"right_adrenal/class_1_1_0/c.avi",
	}, rels)
	assert.Equal(t, labels.Label{Side: labels.Right, Class: labels.Class{1, 1, 0}}, items[3].Label)
}

func TestScanMissingDir(t *testing.T) {
	_, err := Scan(discardLogger(), filepath.Join(t.TempDir(), "nope"), DefaultExtensions)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	root := newTestTree(t)
	dec := &fakeDecoder{
		frames:  map[string]int{"z.mp4": 10, "a.mp4": 4, "b.MP4": 2, "c.avi": 7},
		offsets: map[string]uint8{"z.mp4": 100, "a.mp4": 0, "b.MP4": 50, "c.avi": 200},
	}

	l := New(dec, Options{Frames: 4, Width: 2, Height: 3, Workers: 3}, discardLogger())
	ds, err := l.Load(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	assert.Equal(t, []int{4, 4, 3, 2, 1}, ds.Shape())
	assert.Equal(t, []int{4, 4}, ds.LabelShape())
	assert.Len(t, ds.Videos, 4*4*3*2)
	assert.Equal(t, []string{
		"left_adrenal_class_0_0_0",
		"left_adrenal_class_0_0_1",
		"left_adrenal_class_0_0_1",
		"right_adrenal_class_1_1_0",
	}, ds.Names)
	assert.Equal(t, []uint8{0, 0, 0, 1}, ds.Label(1))
	assert.Equal(t, []uint8{1, 1, 1, 0}, ds.Label(3))
	assert.Equal(t, []int{10, 4, 2, 7}, ds.SourceFrames)
	assert.Empty(t, ds.Skipped)

	// z.mp4: 10 frames sampled at 0, 3, 6, 9
	for f, want := range []uint8{100, 103, 106, 109} {
		for _, px := range ds.Frame(0, f) {
			assert.Equal(t, want, px)
		}
	}
	// b.MP4: 2 frames upsampled to 4
	for f, want := range []uint8{50, 50, 50, 51} {
		assert.Equal(t, want, ds.Frame(2, f)[0])
	}
}

func TestLoadIsDeterministicAcrossWorkers(t *testing.T) {
	root := newTestTree(t)
	frames := map[string]int{"z.mp4": 9, "a.mp4": 5, "b.MP4": 3, "c.avi": 6}
	offsets := map[string]uint8{"z.mp4": 1, "a.mp4": 2, "b.MP4": 3, "c.avi": 4}

	var results []*Dataset
	for _, workers := range []int{1, 2, 8} {
		dec := &fakeDecoder{frames: frames, offsets: offsets}
		ds, err := New(dec, Options{Frames: 3, Width: 4, Height: 4, Workers: workers}, discardLogger()).Load(context.Background(), root)
		require.NoError(t, err)
		results = append(results, ds)
	}
	for _, ds := range results[1:] {
		assert.Equal(t, results[0].Videos, ds.Videos)
		assert.Equal(t, results[0].Labels, ds.Labels)
		assert.Equal(t, results[0].Sources, ds.Sources)
	}
}

func TestLoadSkipsBadVideos(t *testing.T) {
	root := newTestTree(t)
	dec := &fakeDecoder{
		frames: map[string]int{"z.mp4": 3, "a.mp4": 0, "c.avi": 3},
		fail:   map[string]error{"b.MP4": errors.New("moov atom not found")},
	}

	ds, err := New(dec, Options{Frames: 2, Width: 2, Height: 2}, discardLogger()).Load(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"left_adrenal/class_0_0_0/z.mp4", "right_adrenal/class_1_1_0/c.avi"}, ds.Sources)
	require.Len(t, ds.Skipped, 2)
	assert.Equal(t, "left_adrenal/class_0_0_1/a.mp4", ds.Skipped[0].Path)
	assert.Equal(t, "left_adrenal/class_0_0_1/b.MP4", ds.Skipped[1].Path)
	assert.True(t, strings.Contains(ds.Skipped[1].Error(), "moov atom"))
}

func TestLoadCropOutsideFrameSkips(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "left_adrenal", "class_0_0_0", "a.mp4"))
	dec := &fakeDecoder{frames: map[string]int{"a.mp4": 3}}

	_, err := New(dec, Options{Frames: 2, Width: 2, Height: 2, Crop: image.Rect(100, 100, 120, 120)}, discardLogger()).
		Load(context.Background(), root)
	assert.ErrorIs(t, err, ErrNoVideos)
}

func TestLoadEmptyTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "left_adrenal", "class_0_0_0"), 0755))

	_, err := New(&fakeDecoder{}, Options{Frames: 2, Width: 2, Height: 2}, discardLogger()).Load(context.Background(), root)
	assert.ErrorIs(t, err, ErrNoVideos)
}

func TestLoadCancelled(t *testing.T) {
	root := newTestTree(t)
	dec := &fakeDecoder{frames: map[string]int{"z.mp4": 3, "a.mp4": 3, "b.MP4": 3, "c.avi": 3}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(dec, Options{Frames: 2, Width: 2, Height: 2}, discardLogger()).Load(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRejectsBadOptions(t *testing.T) {
	_, err := New(&fakeDecoder{}, Options{Frames: 0, Width: 2, Height: 2}, discardLogger()).Load(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestDatasetAppendShapeMismatch(t *testing.T) {
	ds := NewDataset(2, 2, 2)
	err := ds.Append(Video{Path: "x.mp4", Pixels: make([]uint8, 7)})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 0, ds.Len())
}

func TestBalance(t *testing.T) {
	b := CountNames([]string{
		"left_adrenal_class_0_0_0",
		"left_adrenal_class_0_0_0",
		"right_adrenal_class_1_0_0",
	})
	assert.Equal(t, 2, b.Left)
	assert.Equal(t, 1, b.Right)
	assert.Equal(t, 2, b.Counts["left_adrenal_class_0_0_0"])
	assert.Equal(t, []string{"left_adrenal_class_0_0_0", "right_adrenal_class_1_0_0"}, b.Names())
}

func TestDatasetEntry(t *testing.T) {
	ds := NewDataset(1, 1, 1)
	require.NoError(t, ds.Append(Video{
		Path:         "right_adrenal/class_0_0_1/x.mp4",
		Label:        labels.Label{Side: labels.Right, Class: labels.Class{0, 0, 1}},
		SourceFrames: 12,
		Pixels:       []uint8{7},
	}))

	e := ds.Entry(0)
	assert.Equal(t, "right_adrenal/class_0_0_1/x.mp4", e.Path)
	assert.Equal(t, "right_adrenal_class_0_0_1", e.LabelName)
	assert.Equal(t, []int{1, 0, 0, 1}, e.Label)
	assert.Equal(t, 12, e.Frames)
}

// countingDecoder reports a frame count before decoding, which may be
// wrong the way container metadata sometimes is.
type countingDecoder struct {
	*fakeDecoder
	counts map[string]int
	err    error
}

func (c *countingDecoder) CountFrames(ctx context.Context, path string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.counts[filepath.Base(path)], nil
}

func TestLoadVideoWithKnownFrameCount(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.mp4")
	touch(t, path)
	opts := Options{Frames: 4, Width: 2, Height: 2}

	plain := &fakeDecoder{frames: map[string]int{"a.mp4": 10}, offsets: map[string]uint8{"a.mp4": 20}}
	want, wantTotal, err := New(plain, opts, discardLogger()).LoadVideo(context.Background(), path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		counts map[string]int
		err    error
		calls  int
	}{
		{name: "accurate count", counts: map[string]int{"a.mp4": 10}, calls: 1},
		{name: "count too high", counts: map[string]int{"a.mp4": 25}, calls: 2},
		{name: "count too low", counts: map[string]int{"a.mp4": 3}, calls: 2},
		{name: "count unknown", err: extractor.ErrUnknownFrameCount, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDecoder{frames: map[string]int{"a.mp4": 10}, offsets: map[string]uint8{"a.mp4": 20}}
			dec := &countingDecoder{fakeDecoder: fake, counts: tt.counts, err: tt.err}

			got, total, err := New(dec, opts, discardLogger()).LoadVideo(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, wantTotal, total)
			assert.Len(t, fake.calls, tt.calls)
		})
	}
}

func TestLoadVideoKnownCountRepeatsShortVideos(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "b.mp4")
	touch(t, path)

	fake := &fakeDecoder{frames: map[string]int{"b.mp4": 2}, offsets: map[string]uint8{"b.mp4": 50}}
	dec := &countingDecoder{fakeDecoder: fake, counts: map[string]int{"b.mp4": 2}}

	px, total, err := New(dec, Options{Frames: 4, Width: 1, Height: 1}, discardLogger()).LoadVideo(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []uint8{50, 50, 50, 51}, px)
}
