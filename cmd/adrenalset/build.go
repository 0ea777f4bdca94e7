package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/loader"
	"github.com/bdougie/adrenalset/internal/npy"
	"github.com/bdougie/adrenalset/internal/qa"
)

// qaDir is where contact sheets go, relative to the output directory.
const qaDir = "qa"

func newBuildCmd(a *app) *cobra.Command {
	var withQA bool

	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Build the dataset arrays from the data tree",
		Long: `Decode every video under the data directory, crop, resize and grayscale
its frames, sample a fixed number of them and write videos.npy,
labels.npy, labels_names.npy and manifest.json to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			l := loader.New(a.decoder, a.loaderOptions(), a.logger)
			ds, err := l.Load(ctx, a.cfg.Data.Dir)
			if err != nil {
				return err
			}
			if err := npy.Save(a.cfg.Output.Dir, ds); err != nil {
				return err
			}
			a.logger.Info("dataset saved", "dir", a.cfg.Output.Dir, "shape", ds.Shape())

			cat, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := a.writeCatalog(ctx, cat, ds)
			if err != nil {
				return err
			}

			report := qa.Report{Balance: ds.Balance(), Skipped: ds.Skipped}
			if withQA {
				sheets, err := qa.WriteContactSheets(filepath.Join(a.cfg.Output.Dir, qaDir), ds, a.cfg.QA.Columns)
				if err != nil {
					return err
				}
				a.logger.Info("contact sheets written", "count", len(sheets))
				report.Duplicates = qa.Duplicates(entries, a.cfg.QA.DuplicateThreshold)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s %v to %s\n", npy.VideosFile, ds.Shape(), a.cfg.Output.Dir)
			_, err = report.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.String("data", "", "data directory holding <side>/<class>/ folders")
	f.String("out", "", "output directory for the npy files")
	f.Int("frames", 0, "frames per video")
	f.Int("width", 0, "frame width after resizing")
	f.Int("height", 0, "frame height after resizing")
	f.Int("workers", 0, "videos decoded in parallel")
	f.BoolVar(&withQA, "qa", false, "also write contact sheets and report duplicates")
	bindFlag(f, "data", "data.dir")
	bindFlag(f, "out", "output.dir")
	bindFlag(f, "frames", "loader.frames")
	bindFlag(f, "width", "loader.width")
	bindFlag(f, "height", "loader.height")
	bindFlag(f, "workers", "loader.workers")
	return cmd
}
