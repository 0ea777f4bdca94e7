package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// FrameFunc receives each decoded frame in order.
type FrameFunc func(index int, img image.Image) error

// Decoder streams the frames of a video file.
type Decoder interface {
	Decode(ctx context.Context, videoPath string, fn FrameFunc) (int, error)
}

// FrameCounter is implemented by decoders that can tell the number of
// frames of a video without decoding it.
type FrameCounter interface {
	CountFrames(ctx context.Context, videoPath string) (int, error)
}

// ErrUnknownFrameCount is returned when the container does not record a
// frame count.
var ErrUnknownFrameCount = errors.New("frame count not recorded in container")

// FFmpeg decodes videos by piping PNG frames out of an ffmpeg process.
type FFmpeg struct {
	// Binary defaults to "ffmpeg".
	Binary string
	// InfoBinary defaults to "ffprobe".
	InfoBinary string
}

func (f *FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

func (f *FFmpeg) infoBinary() string {
	if f.InfoBinary == "" {
		return "ffprobe"
	}
	return f.InfoBinary
}

// Decode runs ffmpeg on videoPath and calls fn for every frame. It returns
// the number of frames delivered. An error from fn stops decoding.
func (f *FFmpeg) Decode(ctx context.Context, videoPath string, fn FrameFunc) (int, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: '%s'", ErrVideoNotFound, videoPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		f.binary(),
		"-v", "error",
		"-i", videoPath,
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames, readErr := readPNGStream(stdout, fn)
	if readErr != nil {
		// stop ffmpeg before waiting on it, it may block writing to the pipe
		cancel()
		_ = cmd.Wait()
		return frames, readErr
	}

	if err := cmd.Wait(); err != nil {
		return frames, fmt.Errorf("ffmpeg failed on '%s': %w\nOutput: %s", videoPath, err, stderr.String())
	}
	return frames, nil
}

// readPNGStream decodes back-to-back PNG images until EOF. The PNG decoder
// stops right after the IEND chunk, so a buffered reader can be shared
// between consecutive images.
func readPNGStream(r io.Reader, fn FrameFunc) (int, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	index := 0
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return index, nil
			}
			return index, err
		}

		img, err := png.Decode(br)
		if err != nil {
			return index, fmt.Errorf("failed to decode frame %d: %w", index, err)
		}
		if err := fn(index, img); err != nil {
			return index, err
		}
		index++
	}
}

// VideoInfo is the subset of ffprobe output the loader cares about.
type VideoInfo struct {
	Width    int
	Height   int
	Frames   int
	Duration float64
	Codec    string
}

type streamInfoOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
		NbRead    string `json:"nb_read_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// StreamInfo inspects the first video stream of a file with ffprobe.
func (f *FFmpeg) StreamInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: '%s'", ErrVideoNotFound, videoPath)
	}

	cmd := exec.CommandContext(ctx,
		f.infoBinary(),
		"-v", "error",
		"-select_streams", "v:0",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed on '%s': %w\nOutput: %s", videoPath, err, stderr.String())
	}
	return parseStreamInfo(out)
}

// CountFrames returns the frame count ffprobe reports for videoPath.
func (f *FFmpeg) CountFrames(ctx context.Context, videoPath string) (int, error) {
	info, err := f.StreamInfo(ctx, videoPath)
	if err != nil {
		return 0, err
	}
	if info.Frames <= 0 {
		return 0, fmt.Errorf("%w: '%s'", ErrUnknownFrameCount, videoPath)
	}
	return info.Frames, nil
}

func parseStreamInfo(data []byte) (*VideoInfo, error) {
	var p streamInfoOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return nil, errors.New("no video stream found")
	}

	s := p.Streams[0]
	info := &VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
	}
	// nb_frames is missing for some containers
	for _, v := range []string{s.NbFrames, s.NbRead} {
		if n, err := strconv.Atoi(v); err == nil {
			info.Frames = n
			break
		}
	}
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	return info, nil
}
