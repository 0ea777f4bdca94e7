package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/adrenalset/internal/extractor"
	"github.com/bdougie/adrenalset/internal/models"
	"github.com/bdougie/adrenalset/internal/transform"
)

const defaultWorkers = 4

var ErrNoVideos = errors.New("no usable videos found")

// Options controls how videos are turned into arrays.
type Options struct {
	Frames     int
	Width      int
	Height     int
	Crop       image.Rectangle
	Extensions []string
	Workers    int
}

func (o Options) transform() transform.Options {
	return transform.Options{Crop: o.Crop, Width: o.Width, Height: o.Height}
}

// Loader builds datasets out of a labeled directory tree.
type Loader struct {
	decoder extractor.Decoder
	opts    Options
	logger  *slog.Logger
}

func New(decoder extractor.Decoder, opts Options, logger *slog.Logger) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	return &Loader{
		decoder: decoder,
		opts:    opts,
		logger:  logger,
	}
}

// Load walks dataDir/<side>/<class>/, decodes every video and packs the
// processed frames into a Dataset. Videos that cannot be used are logged
// and listed in Dataset.Skipped. The dataset order follows the directory
// order, independent of the number of workers.
func (l *Loader) Load(ctx context.Context, dataDir string) (*Dataset, error) {
	if l.opts.Frames <= 0 || l.opts.Width <= 0 || l.opts.Height <= 0 {
		return nil, fmt.Errorf("invalid loader options: %d frames of %dx%d", l.opts.Frames, l.opts.Width, l.opts.Height)
	}

	items, err := Scan(l.logger, dataDir, l.opts.Extensions)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w in '%s'", ErrNoVideos, dataDir)
	}

	l.logger.Info("loading videos", "dir", dataDir, "videos", len(items), "workers", l.opts.Workers)

	videos, skipped, err := l.processItems(ctx, items)
	if err != nil {
		return nil, err
	}

	ds := NewDataset(l.opts.Frames, l.opts.Height, l.opts.Width)
	for _, v := range videos {
		if v == nil {
			continue
		}
		if err := ds.Append(*v); err != nil {
			return nil, err
		}
	}
	ds.Skipped = skipped

	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w in '%s': %d videos skipped", ErrNoVideos, dataDir, len(skipped))
	}

	l.logger.Info("dataset loaded", "videos", ds.Len(), "skipped", len(skipped), "shape", ds.Shape())
	return ds, nil
}

func (l *Loader) processItems(ctx context.Context, items []Item) ([]*Video, []SkipError, error) {
	results := make([]*Video, len(items))
	failures := make([]error, len(items))

	remaining := atomic.Int64{}
	remaining.Store(int64(len(items)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	for i, item := range items {
		i, item := i, item
		work := models.WorkItem{VideoPath: item.Path, Index: i + 1, Total: len(items)}
		g.Go(func() error {
			pixels, sourceFrames, err := l.LoadVideo(ctx, work.VideoPath)
			left := remaining.Add(-1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Warn("skipping video", "video", item.Rel, "n", work.Index, "total", work.Total, "error", err)
				failures[i] = err
				return nil
			}

			results[i] = &Video{
				Path:         item.Rel,
				Label:        item.Label,
				SourceFrames: sourceFrames,
				Pixels:       pixels,
			}
			l.logger.Debug("processed video", "video", item.Rel, "remaining", left, "total", work.Total)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var skipped []SkipError
	for i, err := range failures {
		if err != nil {
			skipped = append(skipped, SkipError{Path: items[i].Rel, Err: err})
		}
	}
	return results, skipped, nil
}

var errFrameCountChanged = errors.New("decoded frame count differs from container metadata")

// LoadVideo decodes one video and returns Frames*Height*Width grayscale
// bytes along with the number of frames the source had. When the decoder
// knows the frame count up front only the sampled frames are kept in
// memory.
func (l *Loader) LoadVideo(ctx context.Context, videoPath string) ([]uint8, int, error) {
	if counter, ok := l.decoder.(extractor.FrameCounter); ok {
		total, err := counter.CountFrames(ctx, videoPath)
		if err == nil && total > 0 {
			out, decoded, err := l.loadSampled(ctx, videoPath, total)
			if !errors.Is(err, errFrameCountChanged) {
				return out, decoded, err
			}
			l.logger.Debug("frame count differs from metadata, decoding again",
				"video", videoPath, "expected", total, "decoded", decoded)
		} else if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
	}
	return l.loadAll(ctx, videoPath)
}

// loadSampled transforms only the frames picked by SampleIndices(total).
func (l *Loader) loadSampled(ctx context.Context, videoPath string, total int) ([]uint8, int, error) {
	topts := l.opts.transform()
	size := topts.FrameSize()
	indices := transform.SampleIndices(total, l.opts.Frames)

	out := make([]uint8, len(indices)*size)
	next := 0
	decoded, err := l.decoder.Decode(ctx, videoPath, func(index int, img image.Image) error {
		if next >= len(indices) || indices[next] != index {
			return nil
		}
		px, err := transform.Apply(img, topts)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		// short videos repeat frames
		for next < len(indices) && indices[next] == index {
			copy(out[next*size:], px)
			next++
		}
		return nil
	})
	if err != nil {
		return nil, decoded, err
	}
	if decoded != total {
		return nil, decoded, errFrameCountChanged
	}
	return out, decoded, nil
}

// loadAll keeps every transformed frame and samples once the count is
// known.
func (l *Loader) loadAll(ctx context.Context, videoPath string) ([]uint8, int, error) {
	topts := l.opts.transform()

	var frames [][]uint8
	total, err := l.decoder.Decode(ctx, videoPath, func(index int, img image.Image) error {
		px, err := transform.Apply(img, topts)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		frames = append(frames, px)
		return nil
	})
	if err != nil {
		return nil, total, err
	}

	indices := transform.SampleIndices(len(frames), l.opts.Frames)
	if indices == nil {
		return nil, total, errors.New("video has no frames")
	}

	out := make([]uint8, 0, l.opts.Frames*topts.FrameSize())
	for _, idx := range indices {
		out = append(out, frames[idx]...)
	}
	return out, len(frames), nil
}
