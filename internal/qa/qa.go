// Package qa produces artifacts for checking a dataset by eye: contact
// sheets of the sampled frames of every video, the class balance and a
// list of likely duplicate videos.
package qa

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	"github.com/bdougie/adrenalset/internal/embeddings"
	"github.com/bdougie/adrenalset/internal/loader"
	"github.com/bdougie/adrenalset/internal/models"
)

const border = 2

// ContactSheet tiles count frames of h x w pixels row-major into a grid
// with the given number of columns.
func ContactSheet(pixels []uint8, count, h, w, columns int) (*image.Gray, error) {
	if count <= 0 || h <= 0 || w <= 0 || len(pixels) != count*h*w {
		return nil, fmt.Errorf("invalid frames: %d bytes for %d frames of %dx%d", len(pixels), count, h, w)
	}
	if columns <= 0 {
		return nil, fmt.Errorf("invalid column count %d", columns)
	}
	if columns > count {
		columns = count
	}
	rows := (count + columns - 1) / columns

	sheet := image.NewGray(image.Rect(0, 0, columns*(w+border)+border, rows*(h+border)+border))
	for i := 0; i < count; i++ {
		frame := &image.Gray{
			Pix:    pixels[i*h*w : (i+1)*h*w],
			Stride: w,
			Rect:   image.Rect(0, 0, w, h),
		}
		x := border + (i%columns)*(w+border)
		y := border + (i/columns)*(h+border)
		draw.Draw(sheet, image.Rect(x, y, x+w, y+h), frame, image.Point{}, draw.Src)
	}
	return sheet, nil
}

// WriteContactSheets writes one PNG per video to
// outDir/<label name>/<video file>.png and returns the written paths. The
// video's extension is kept so a.mp4 and a.avi get separate sheets.
func WriteContactSheets(outDir string, ds *loader.Dataset, columns int) ([]string, error) {
	var written []string
	for i := 0; i < ds.Len(); i++ {
		sheet, err := ContactSheet(ds.Video(i), ds.Frames, ds.Height, ds.Width, columns)
		if err != nil {
			return written, err
		}

		name := fmt.Sprintf("video_%04d", i)
		if i < len(ds.Sources) && ds.Sources[i] != "" {
			name = path.Base(ds.Sources[i])
		}
		sheetPath := filepath.Join(outDir, ds.Names[i], name+".png")
		if err := writePNG(sheetPath, sheet); err != nil {
			return written, err
		}
		written = append(written, sheetPath)
	}
	return written, nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode '%s': %w", path, err)
	}
	return file.Close()
}

// Pair is two videos with similar fingerprints.
type Pair struct {
	A, B       string
	LabelA     string
	LabelB     string
	Similarity float64
}

// Conflicting reports whether the two videos carry different labels.
func (p Pair) Conflicting() bool { return p.LabelA != p.LabelB }

// Duplicates returns entry pairs whose fingerprint cosine similarity is at
// least threshold, most similar first.
func Duplicates(entries []models.CatalogEntry, threshold float64) []Pair {
	var pairs []Pair
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if len(a.Fingerprint) == 0 || len(b.Fingerprint) == 0 {
				continue
			}
			sim := embeddings.Cosine(a.Fingerprint, b.Fingerprint)
			if sim >= threshold {
				pairs = append(pairs, Pair{A: a.Path, B: b.Path, LabelA: a.LabelName, LabelB: b.LabelName, Similarity: sim})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Similarity > pairs[j].Similarity
	})
	return pairs
}

// Report summarises a dataset for review.
type Report struct {
	Balance    loader.Balance
	Duplicates []Pair
	Skipped    []loader.SkipError
}

// WriteTo renders the report as plain text.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	total := r.Balance.Left + r.Balance.Right
	fmt.Fprintf(&sb, "Videos: %d (left %d, right %d)\n", total, r.Balance.Left, r.Balance.Right)
	fmt.Fprintln(&sb, "Examples per class:")
	for _, name := range r.Balance.Names() {
		n := r.Balance.Counts[name]
		fmt.Fprintf(&sb, "  %-28s %4d %s\n", name, n, strings.Repeat("#", n))
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(&sb, "Skipped videos: %d\n", len(r.Skipped))
		for _, s := range r.Skipped {
			fmt.Fprintf(&sb, "  %s\n", s.Error())
		}
	}

	if len(r.Duplicates) > 0 {
		fmt.Fprintf(&sb, "Possible duplicates: %d\n", len(r.Duplicates))
		for _, p := range r.Duplicates {
			flag := ""
			if p.Conflicting() {
				flag = " LABEL CONFLICT"
			}
			fmt.Fprintf(&sb, "  %.4f %s <-> %s%s\n", p.Similarity, p.A, p.B, flag)
		}
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}
