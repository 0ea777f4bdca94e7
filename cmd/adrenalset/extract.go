package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/extractor"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		videoPath string
		outputDir string
		interval  int
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Dump still frames of one video as JPEG files",
		Long: `Write one JPEG every --interval seconds of a video to
<output>/<video name>/ for a quick look at its content. Frames that were
already extracted are reused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if interval <= 0 {
				interval = a.cfg.QA.ExtractIntervalSecs
			}

			if ff, ok := a.decoder.(*extractor.FFmpeg); ok {
				info, err := ff.StreamInfo(ctx, videoPath)
				if err != nil {
					a.logger.Warn("failed to read video info", "video", videoPath, "error", err)
				} else {
					a.logger.Info("video info", "video", videoPath,
						"size", fmt.Sprintf("%dx%d", info.Width, info.Height),
						"frames", info.Frames, "duration", info.Duration, "codec", info.Codec)
				}
			}

			dir, err := extractor.ExtractFrames(ctx, a.logger, videoPath, outputDir, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Frames written to %s\n", dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoPath, "video", "", "video file to extract frames from")
	cmd.Flags().StringVar(&outputDir, "output", "output_frames", "directory for extracted frames")
	cmd.Flags().IntVar(&interval, "interval", 0, "seconds between frames (default from qa.extract_interval)")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}
