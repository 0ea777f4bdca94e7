package embeddings

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrQueueFull is returned when the service cannot take more work.
var ErrQueueFull = errors.New("fingerprint queue is full, try again later")

// Frames is a processed video: Count frames of Height*Width luma bytes.
type Frames struct {
	Pixels []uint8
	Count  int
	Height int
	Width  int
}

// Result represents the result of fingerprint generation
type Result struct {
	Key       string
	Embedding []float32
	Error     error
}

// Work represents a unit of fingerprint work
type Work struct {
	Key    string
	Frames Frames
	Result chan<- Result
}

// Service computes video fingerprints on a pool of workers and caches
// them by key.
type Service struct {
	dim        int
	numWorkers int
	workQueue  chan Work
	cache      sync.Map // key -> []float32
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new fingerprint service with the specified number
// of workers. Fingerprints have dim*dim components.
func NewService(numWorkers, dim int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4 // Default to 4 workers if not specified
	}
	if dim <= 0 {
		dim = 8
	}

	service := &Service{
		dim:        dim,
		numWorkers: numWorkers,
		workQueue:  make(chan Work, 100),
	}
	service.startWorkers()
	return service
}

func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				if cached, ok := s.cache.Load(work.Key); ok {
					work.Result <- Result{Key: work.Key, Embedding: cached.([]float32)}
					continue
				}

				embedding, err := FromFrames(work.Frames, s.dim)
				if err == nil {
					s.cache.Store(work.Key, embedding)
				}
				work.Result <- Result{Key: work.Key, Embedding: embedding, Error: err}
			}
		}()
	}
}

// Get requests a fingerprint asynchronously. The returned channel
// receives exactly one Result.
func (s *Service) Get(key string, frames Frames) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- Work{Key: key, Frames: frames, Result: resultChan}:
	default:
		resultChan <- Result{Key: key, Error: ErrQueueFull}
	}
	return resultChan
}

// GetAll fingerprints a batch of videos, keeping the queue below its
// capacity. Results are returned in input order.
func (s *Service) GetAll(keys []string, frames []Frames) ([][]float32, error) {
	if len(keys) != len(frames) {
		return nil, fmt.Errorf("got %d keys for %d videos", len(keys), len(frames))
	}

	out := make([][]float32, len(keys))
	chunk := cap(s.workQueue)
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))

		pending := make([]<-chan Result, 0, end-start)
		for i := start; i < end; i++ {
			pending = append(pending, s.Get(keys[i], frames[i]))
		}
		for i, ch := range pending {
			res := <-ch
			if res.Error != nil {
				return nil, fmt.Errorf("fingerprint of '%s': %w", res.Key, res.Error)
			}
			out[start+i] = res.Embedding
		}
	}
	return out, nil
}

// Close shuts down the service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.workQueue) })
	s.wg.Wait()
}

// FromFrames summarises a video as its mean frame, averaged down to a
// dim x dim grid, mean-centred and L2 normalised. A flat video yields the
// zero vector.
func FromFrames(f Frames, dim int) ([]float32, error) {
	frameSize := f.Height * f.Width
	if f.Count <= 0 || frameSize <= 0 || len(f.Pixels) != f.Count*frameSize {
		return nil, fmt.Errorf("invalid frames: %d bytes for %d frames of %dx%d", len(f.Pixels), f.Count, f.Height, f.Width)
	}
	if dim <= 0 || dim > f.Height || dim > f.Width {
		return nil, fmt.Errorf("fingerprint size %d does not fit %dx%d frames", dim, f.Height, f.Width)
	}

	mean := make([]float64, frameSize)
	for i, px := range f.Pixels {
		mean[i%frameSize] += float64(px)
	}

	sums := make([]float64, dim*dim)
	counts := make([]int, dim*dim)
	for y := 0; y < f.Height; y++ {
		cy := y * dim / f.Height
		for x := 0; x < f.Width; x++ {
			cx := x * dim / f.Width
			sums[cy*dim+cx] += mean[y*f.Width+x]
			counts[cy*dim+cx]++
		}
	}

	var avg float64
	for i := range sums {
		sums[i] /= float64(counts[i]) * float64(f.Count)
		avg += sums[i]
	}
	avg /= float64(len(sums))

	var norm float64
	for i := range sums {
		sums[i] -= avg
		norm += sums[i] * sums[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(sums))
	if norm < 1e-9 {
		return out, nil
	}
	for i, v := range sums {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// the zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
