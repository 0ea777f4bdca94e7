package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/npy"
	"github.com/bdougie/adrenalset/internal/qa"
)

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print shapes and class balance of a built dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := npy.Load(a.cfg.Output.Dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-18s %v uint8\n", npy.VideosFile, ds.Shape())
			fmt.Fprintf(out, "%-18s %v uint8\n", npy.LabelsFile, ds.LabelShape())
			fmt.Fprintf(out, "%-18s [%d] str\n", npy.LabelNamesFile, ds.Len())

			_, err = qa.Report{Balance: ds.Balance()}.WriteTo(out)
			return err
		},
	}

	cmd.Flags().String("out", "", "dataset directory to read")
	bindFlag(cmd.Flags(), "out", "output.dir")
	return cmd
}
