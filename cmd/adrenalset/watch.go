package main

import (
	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/loader"
	"github.com/bdougie/adrenalset/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Catalog videos as they are added to the data tree",
		Long: `Watch the data directory and add every new or modified video to the
manifest (and postgres, when enabled) once its writes settle. Run build
to regenerate the arrays.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cat, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer cat.Close()

			opts := a.loaderOptions()
			w := watcher.New(loader.New(a.decoder, opts, a.logger), cat.store, watcher.Options{
				Frames:          opts.Frames,
				Height:          opts.Height,
				Width:           opts.Width,
				Extensions:      opts.Extensions,
				FingerprintSize: a.cfg.QA.FingerprintSize,
			}, a.logger)
			return w.Run(ctx, a.cfg.Data.Dir)
		},
	}

	cmd.Flags().String("data", "", "data directory to watch")
	cmd.Flags().String("out", "", "output directory holding the manifest")
	bindFlag(cmd.Flags(), "data", "data.dir")
	bindFlag(cmd.Flags(), "out", "output.dir")
	return cmd
}
