package extractor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrames(t *testing.T, shades ...uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, s := range shades {
		img := image.NewRGBA(image.Rect(0, 0, 6, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 6; x++ {
				img.Set(x, y, color.RGBA{s, s, s, 255})
			}
		}
		require.NoError(t, png.Encode(&buf, img))
	}
	return buf.Bytes()
}

func TestReadPNGStream(t *testing.T) {
	stream := encodeFrames(t, 10, 20, 30)

	var shades []uint8
	n, err := readPNGStream(bytes.NewReader(stream), func(index int, img image.Image) error {
		assert.Equal(t, len(shades), index)
		r, _, _, _ := img.At(0, 0).RGBA()
		shades = append(shades, uint8(r>>8))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint8{10, 20, 30}, shades)
}

func TestReadPNGStreamEmpty(t *testing.T) {
	n, err := readPNGStream(bytes.NewReader(nil), func(int, image.Image) error {
		t.Fatal("no frames expected")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadPNGStreamTruncated(t *testing.T) {
	stream := encodeFrames(t, 10, 20)
	_, err := readPNGStream(bytes.NewReader(stream[:len(stream)-10]), func(int, image.Image) error { return nil })
	assert.Error(t, err)
}

func TestReadPNGStreamCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n, err := readPNGStream(bytes.NewReader(encodeFrames(t, 1, 2, 3)), func(index int, _ image.Image) error {
		if index == 1 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestParseStreamInfo(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_name": "h264", "width": 512, "height": 512, "nb_frames": "120"}],
		"format": {"duration": "4.800000"}
	}`)
	info, err := parseStreamInfo(data)
	require.NoError(t, err)
	assert.Equal(t, &VideoInfo{Width: 512, Height: 512, Frames: 120, Duration: 4.8, Codec: "h264"}, info)

	_, err = parseStreamInfo([]byte(`{"streams": []}`))
	assert.Error(t, err)

	_, err = parseStreamInfo([]byte(`not json`))
	assert.Error(t, err)
}

func TestMissingVideo(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.mp4")
	ff := &FFmpeg{}

	_, err := ff.Decode(context.Background(), missing, func(int, image.Image) error { return nil })
	assert.ErrorIs(t, err, ErrVideoNotFound)

	_, err = ff.StreamInfo(context.Background(), missing)
	assert.ErrorIs(t, err, ErrVideoNotFound)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err = ExtractFrames(context.Background(), logger, missing, t.TempDir(), 1)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestExtractFramesSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "scan_01.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not decoded"), 0644))

	out := filepath.Join(dir, "frames")
	frameDir := filepath.Join(out, "scan_01")
	require.NoError(t, os.MkdirAll(frameDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(frameDir, "frame_0001.jpg"), []byte("x"), 0644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	got, err := ExtractFrames(context.Background(), logger, video, out, 5)
	require.NoError(t, err)
	assert.Equal(t, frameDir, got)
}

func TestVideoName(t *testing.T) {
	assert.Equal(t, "scan_01", VideoName("/data/left_adrenal/class_0_0_0/scan_01.mp4"))
	assert.Equal(t, "scan", VideoName("scan"))
}

// makeTestVideo renders a short synthetic clip with ffmpeg's lavfi source.
func makeTestVideo(t *testing.T, frames int) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	path := filepath.Join(t.TempDir(), "clip.avi")
	cmd := exec.Command("ffmpeg", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=10",
		"-frames:v", strconv.Itoa(frames),
		"-vcodec", "mjpeg",
		path,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func TestFFmpegDecode(t *testing.T) {
	path := makeTestVideo(t, 12)
	ff := &FFmpeg{}

	var sizes []image.Point
	n, err := ff.Decode(context.Background(), path, func(_ int, img image.Image) error {
		sizes = append(sizes, img.Bounds().Size())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	for _, s := range sizes {
		assert.Equal(t, image.Pt(64, 48), s)
	}
}

func TestFFmpegStreamInfo(t *testing.T) {
	path := makeTestVideo(t, 12)
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	info, err := (&FFmpeg{}).StreamInfo(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
}
