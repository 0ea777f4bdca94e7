package loader

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bdougie/adrenalset/internal/labels"
	"github.com/bdougie/adrenalset/internal/models"
)

var ErrShapeMismatch = errors.New("video does not match dataset shape")

// Video is one processed video ready to be appended to a Dataset.
type Video struct {
	Path         string
	Label        labels.Label
	SourceFrames int
	Pixels       []uint8
}

// SkipError records a video left out of the dataset.
type SkipError struct {
	Path string
	Err  error
}

func (e SkipError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e SkipError) Unwrap() error { return e.Err }

// Dataset is an in-memory (N, Frames, Height, Width, 1) uint8 video array
// with an (N, 4) label array and N label names.
type Dataset struct {
	Frames int
	Height int
	Width  int

	Videos  []uint8
	Labels  []uint8
	Names   []string
	Sources []string
	// SourceFrames is the decoded frame count of each source video.
	SourceFrames []int

	Skipped []SkipError
}

func NewDataset(frames, height, width int) *Dataset {
	return &Dataset{Frames: frames, Height: height, Width: width}
}

// Len is the number of videos.
func (d *Dataset) Len() int { return len(d.Names) }

// VideoSize is the number of bytes of a single video.
func (d *Dataset) VideoSize() int { return d.Frames * d.Height * d.Width }

// Shape is the numpy shape of the video array.
func (d *Dataset) Shape() []int {
	return []int{d.Len(), d.Frames, d.Height, d.Width, 1}
}

// LabelShape is the numpy shape of the label array.
func (d *Dataset) LabelShape() []int {
	return []int{d.Len(), labels.VectorLen}
}

// Append adds a processed video.
func (d *Dataset) Append(v Video) error {
	if len(v.Pixels) != d.VideoSize() {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrShapeMismatch, v.Path, len(v.Pixels), d.VideoSize())
	}
	vec := v.Label.Vector()
	d.Videos = append(d.Videos, v.Pixels...)
	d.Labels = append(d.Labels, vec[:]...)
	d.Names = append(d.Names, v.Label.Name())
	d.Sources = append(d.Sources, v.Path)
	d.SourceFrames = append(d.SourceFrames, v.SourceFrames)
	return nil
}

// Video returns the pixels of video i.
func (d *Dataset) Video(i int) []uint8 {
	n := d.VideoSize()
	return d.Videos[i*n : (i+1)*n]
}

// Frame returns frame f of video i.
func (d *Dataset) Frame(i, f int) []uint8 {
	n := d.Height * d.Width
	v := d.Video(i)
	return v[f*n : (f+1)*n]
}

// Label returns the label vector of video i.
func (d *Dataset) Label(i int) []uint8 {
	return d.Labels[i*labels.VectorLen : (i+1)*labels.VectorLen]
}

// Entry builds the catalog record of video i. Datasets read back from npy
// files carry no source information, so Path and Frames may be empty.
func (d *Dataset) Entry(i int) models.CatalogEntry {
	vec := d.Label(i)
	label := make([]int, len(vec))
	for j, b := range vec {
		label[j] = int(b)
	}
	entry := models.CatalogEntry{LabelName: d.Names[i], Label: label}
	if i < len(d.Sources) {
		entry.Path = d.Sources[i]
	}
	if i < len(d.SourceFrames) {
		entry.Frames = d.SourceFrames[i]
	}
	return entry
}

// Validate checks that all arrays agree with each other.
func (d *Dataset) Validate() error {
	n := d.Len()
	if len(d.Videos) != n*d.VideoSize() {
		return fmt.Errorf("%w: video array has %d bytes for %d videos", ErrShapeMismatch, len(d.Videos), n)
	}
	if len(d.Labels) != n*labels.VectorLen {
		return fmt.Errorf("%w: label array has %d entries for %d videos", ErrShapeMismatch, len(d.Labels), n)
	}
	for i := 0; i < n; i++ {
		l, err := labels.FromVector(d.Label(i))
		if err != nil {
			return fmt.Errorf("video %d: %w", i, err)
		}
		if l.Name() != d.Names[i] {
			return fmt.Errorf("video %d: label vector %v does not match name %q", i, d.Label(i), d.Names[i])
		}
	}
	return nil
}

// Balance counts videos per label name and per side.
type Balance struct {
	Counts map[string]int
	Left   int
	Right  int
}

// Balance returns the class balance of the dataset.
func (d *Dataset) Balance() Balance {
	return CountNames(d.Names)
}

// CountNames builds a Balance from label names.
func CountNames(names []string) Balance {
	b := Balance{Counts: map[string]int{}}
	for _, name := range names {
		b.Counts[name]++
		switch {
		case strings.Contains(name, "left"):
			b.Left++
		case strings.Contains(name, "right"):
			b.Right++
		}
	}
	return b
}

// Names returns the label names present, sorted.
func (b Balance) Names() []string {
	names := make([]string, 0, len(b.Counts))
	for name := range b.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
