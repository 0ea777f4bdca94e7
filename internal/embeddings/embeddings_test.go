package embeddings

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient builds count frames of a horizontal ramp, optionally flipped.
func gradient(count, h, w int, flip bool) Frames {
	px := make([]uint8, 0, count*h*w)
	for f := 0; f < count; f++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := x * 255 / (w - 1)
				if flip {
					v = 255 - v
				}
				px = append(px, uint8(v))
			}
		}
	}
	return Frames{Pixels: px, Count: count, Height: h, Width: w}
}

func TestFromFrames(t *testing.T) {
	v, err := FromFrames(gradient(3, 16, 16, false), 4)
	require.NoError(t, err)
	require.Len(t, v, 16)

	var norm float64
	for _, c := range v {
		norm += float64(c) * float64(c)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	// left columns darker than right columns
	assert.Less(t, v[0], v[3])
}

func TestFromFramesFlatVideo(t *testing.T) {
	f := Frames{Pixels: make([]uint8, 2*8*8), Count: 2, Height: 8, Width: 8}
	for i := range f.Pixels {
		f.Pixels[i] = 90
	}
	v, err := FromFrames(f, 4)
	require.NoError(t, err)
	for _, c := range v {
		assert.Zero(t, c)
	}
}

func TestFromFramesInvalid(t *testing.T) {
	_, err := FromFrames(Frames{Pixels: make([]uint8, 10), Count: 1, Height: 4, Width: 4}, 2)
	assert.Error(t, err)

	_, err = FromFrames(gradient(1, 4, 4, false), 8)
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	a, err := FromFrames(gradient(2, 16, 16, false), 4)
	require.NoError(t, err)
	b, err := FromFrames(gradient(5, 16, 16, false), 4)
	require.NoError(t, err)
	c, err := FromFrames(gradient(2, 16, 16, true), 4)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
	assert.InDelta(t, -1.0, Cosine(a, c), 1e-6)
	assert.Zero(t, Cosine(a, a[:3]))
	assert.Zero(t, Cosine(a, make([]float32, len(a))))
}

func TestServiceCachesByKey(t *testing.T) {
	s := NewService(2, 4)
	defer s.Close()

	first := <-s.Get("left/a.mp4", gradient(2, 8, 8, false))
	require.NoError(t, first.Error)
	assert.Equal(t, "left/a.mp4", first.Key)

	// same key, different frames: the cached value wins
	second := <-s.Get("left/a.mp4", gradient(2, 8, 8, true))
	require.NoError(t, second.Error)
	assert.Equal(t, first.Embedding, second.Embedding)

	bad := <-s.Get("broken.mp4", Frames{})
	assert.Error(t, bad.Error)
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	s := NewService(1, 2)
	s.Close()
	s.Close()
}

func TestServiceGetAll(t *testing.T) {
	s := NewService(3, 2)
	defer s.Close()

	var keys []string
	var frames []Frames
	for i := 0; i < 250; i++ {
		keys = append(keys, fmt.Sprintf("video_%03d", i))
		frames = append(frames, gradient(1, 4, 4, i%2 == 1))
	}

	got, err := s.GetAll(keys, frames)
	require.NoError(t, err)
	require.Len(t, got, 250)
	assert.InDelta(t, -1.0, Cosine(got[0], got[1]), 1e-6)
	assert.Equal(t, got[0], got[248])

	_, err = s.GetAll(keys[:2], frames[:1])
	assert.Error(t, err)
}
