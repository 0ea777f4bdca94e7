package main

import (
	"context"
	"fmt"

	"github.com/bdougie/adrenalset/internal/embeddings"
	"github.com/bdougie/adrenalset/internal/loader"
	"github.com/bdougie/adrenalset/internal/models"
	"github.com/bdougie/adrenalset/internal/storage"
)

// catalog is the manifest next to the arrays plus, when enabled, the
// postgres fingerprint index.
type catalog struct {
	manifest *storage.ManifestStorage
	pg       *storage.PostgresStorage
	store    storage.Multi
}

func (a *app) openCatalog(ctx context.Context) (*catalog, error) {
	c := &catalog{manifest: storage.NewManifestStorage(a.cfg.Output.Dir)}
	c.store = storage.Multi{c.manifest}

	pgCfg := a.cfg.Catalog.Postgres
	if !pgCfg.Enabled {
		return c, nil
	}

	size := a.cfg.QA.FingerprintSize
	pg, err := storage.NewPostgresStorage(ctx, pgCfg.ConnString(), size*size)
	if err != nil {
		return nil, err
	}
	if err := pg.InitSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	a.logger.Info("connected to catalog database", "host", pgCfg.Host, "db", pgCfg.DBName)

	c.pg = pg
	c.store = append(c.store, pg)
	return c, nil
}

func (c *catalog) Close() {
	if c.pg != nil {
		c.pg.Close()
	}
}

// writeCatalog fingerprints every video of ds and records it in the
// catalog, replacing any previous manifest.
func (a *app) writeCatalog(ctx context.Context, c *catalog, ds *loader.Dataset) ([]models.CatalogEntry, error) {
	if err := c.manifest.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset manifest: %w", err)
	}

	svc := embeddings.NewService(a.cfg.Loader.Workers, a.cfg.QA.FingerprintSize)
	defer svc.Close()

	frames := make([]embeddings.Frames, ds.Len())
	for i := range frames {
		frames[i] = embeddings.Frames{Pixels: ds.Video(i), Count: ds.Frames, Height: ds.Height, Width: ds.Width}
	}
	fingerprints, err := svc.GetAll(ds.Sources, frames)
	if err != nil {
		return nil, err
	}

	entries := make([]models.CatalogEntry, ds.Len())
	for i := range entries {
		entries[i] = ds.Entry(i)
		entries[i].Fingerprint = fingerprints[i]
		if err := c.store.AddEntry(ctx, entries[i]); err != nil {
			return nil, err
		}
	}
	if err := c.store.Flush(); err != nil {
		return nil, err
	}
	if c.pg != nil {
		removed, err := c.pg.Prune(ctx, ds.Sources)
		if err != nil {
			return nil, err
		}
		if removed > 0 {
			a.logger.Info("removed stale catalog rows", "videos", removed)
		}
	}

	a.logger.Info("catalog written", "manifest", c.manifest.Path(), "videos", len(entries))
	return entries, nil
}
