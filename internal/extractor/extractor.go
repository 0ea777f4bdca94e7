package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrVideoNotFound = errors.New("video file does not exist")

// ExtractFrames dumps JPEG frames of a video at the given interval (in
// seconds) into outputDir/<videoName>/frame_%04d.jpg so they can be
// looked at by hand. Extraction is skipped when frames already exist.
func ExtractFrames(ctx context.Context, logger *slog.Logger, videoPath, outputDir string, interval int) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("invalid extraction interval %d", interval)
	}

	// Check if video file exists
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: '%s'", ErrVideoNotFound, videoPath)
	}

	frameDirPath := filepath.Join(outputDir, VideoName(videoPath))

	// Check if frames already exist in the subfolder
	if n := countFrames(frameDirPath); n > 0 {
		logger.Info("frames already exist, skipping extraction", "dir", frameDirPath, "frames", n)
		return frameDirPath, nil
	}

	if err := os.MkdirAll(frameDirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create frame directory '%s': %w", frameDirPath, err)
	}

	logger.Info("extracting frames", "video", videoPath, "dir", frameDirPath, "interval", interval)

	ffmpegCommand := exec.CommandContext(ctx,
		"ffmpeg",
		"-v", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", interval),
		filepath.Join(frameDirPath, "frame_%04d.jpg"),
	)

	// Capture output for better error reporting
	output, err := ffmpegCommand.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	logger.Info("extracted frames", "dir", frameDirPath, "frames", countFrames(frameDirPath))
	return frameDirPath, nil
}

// VideoName is the file name of a video without its extension.
func VideoName(videoPath string) string {
	return strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
}

func countFrames(dir string) int {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	frameCount := 0
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			frameCount++
		}
	}
	return frameCount
}
