package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bdougie/adrenalset/internal/models"
	"github.com/bdougie/adrenalset/internal/npy"
	"github.com/bdougie/adrenalset/internal/qa"
	"github.com/bdougie/adrenalset/internal/storage"
)

// similarLimit bounds the neighbours fetched per video from postgres.
const similarLimit = 5

func newQACmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Write contact sheets and look for duplicate videos",
		Long: `Read a built dataset, write one contact sheet per video to <out>/qa/
for visual inspection and report class balance and videos whose
fingerprints are nearly identical.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outDir := a.cfg.Output.Dir

			ds, err := npy.Load(outDir)
			if err != nil {
				return err
			}

			entries, err := storage.ReadManifest(filepath.Join(outDir, storage.ManifestFile))
			switch {
			case os.IsNotExist(err):
				a.logger.Warn("no manifest found, skipping duplicate search", "dir", outDir)
			case err != nil:
				return err
			case len(entries) == ds.Len():
				ds.Sources = make([]string, len(entries))
				for i, e := range entries {
					ds.Sources[i] = e.Path
				}
			default:
				a.logger.Warn("manifest does not match arrays, contact sheets use indices",
					"entries", len(entries), "videos", ds.Len())
			}

			sheets, err := qa.WriteContactSheets(filepath.Join(outDir, qaDir), ds, a.cfg.QA.Columns)
			if err != nil {
				return err
			}
			a.logger.Info("contact sheets written", "count", len(sheets), "dir", filepath.Join(outDir, qaDir))

			report := qa.Report{Balance: ds.Balance()}
			if a.cfg.Catalog.Postgres.Enabled {
				report.Duplicates, err = a.searchDuplicates(ctx, entries)
				if err != nil {
					return err
				}
			} else {
				report.Duplicates = qa.Duplicates(entries, a.cfg.QA.DuplicateThreshold)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Contact sheets: %d\n", len(sheets))
			_, err = report.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().String("out", "", "dataset directory to check")
	bindFlag(cmd.Flags(), "out", "output.dir")
	return cmd
}

// searchDuplicates asks the postgres index for the nearest neighbours of
// every catalogued video.
func (a *app) searchDuplicates(ctx context.Context, entries []models.CatalogEntry) ([]qa.Pair, error) {
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return nil, err
	}
	defer cat.Close()

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Path] = true
	}

	var pairs []qa.Pair
	for _, e := range entries {
		if len(e.Fingerprint) == 0 {
			continue
		}
		hits, err := cat.pg.SearchSimilar(ctx, e.Fingerprint, similarLimit)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, neighbourPairs(e, hits, known, a.cfg.QA.DuplicateThreshold)...)
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Similarity > pairs[j].Similarity
	})
	return pairs, nil
}


// neighbourPairs turns the search hits of one entry into duplicate pairs.
// Hits outside the manifest are ignored, and each pair is reported once,
// from its smaller path.
func neighbourPairs(e models.CatalogEntry, hits []models.SimilarVideo, known map[string]bool, threshold float64) []qa.Pair {
	var pairs []qa.Pair
	for _, h := range hits {
		if !known[h.Path] || h.Path <= e.Path || h.Similarity < threshold {
			continue
		}
		pairs = append(pairs, qa.Pair{A: e.Path, B: h.Path, LabelA: e.LabelName, LabelB: h.LabelName, Similarity: h.Similarity})
	}
	return pairs
}
