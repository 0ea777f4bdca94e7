package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/config"
	"github.com/bdougie/adrenalset/internal/scaffold"
)

func newScaffoldCmd(a *app) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "scaffold",
		Short: "Create the labeled data folder tree",
		Long: `Create <base>/data/<side>_adrenal/class_<a>_<b>_<c>/ for both sides and
all eight classes, plus a default adrenalset.yaml in <base> when none exists.
Existing folders and files are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := scaffold.CreateFolderStructure(a.logger, base)
			if err != nil {
				return err
			}

			cfgPath := filepath.Join(base, config.FileName+".yaml")
			written, err := config.WriteDefault(cfgPath)
			if err != nil {
				return err
			}
			if written {
				a.logger.Info("wrote default config", "path", cfgPath)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %d label folders under %s\n", len(dirs), filepath.Join(base, "data"))
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", ".", "directory to create the data tree in")
	return cmd
}
