package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/adrenalset/internal/models"
)

// PostgresStorage keeps the catalog in PostgreSQL with fingerprints in a
// pgvector column
type PostgresStorage struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresStorage connects to connString. dim is the fingerprint length.
func NewPostgresStorage(ctx context.Context, connString string, dim int) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool, dim: dim}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the catalog tables if they don't exist
func (s *PostgresStorage) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            path TEXT NOT NULL UNIQUE,
            label_name VARCHAR(64) NOT NULL,
            label SMALLINT[] NOT NULL,
            source_frames INTEGER NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS fingerprints (
            video_id INTEGER PRIMARY KEY REFERENCES videos(id) ON DELETE CASCADE,
            embedding vector(%d) NOT NULL
        );

        CREATE INDEX IF NOT EXISTS idx_videos_label_name ON videos(label_name);
    `, s.dim))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	return nil
}

// AddEntry upserts a video and its fingerprint
func (s *PostgresStorage) AddEntry(ctx context.Context, entry models.CatalogEntry) error {
	label := make([]int16, len(entry.Label))
	for i, b := range entry.Label {
		label[i] = int16(b)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var videoID int
	err = tx.QueryRow(ctx,
		`INSERT INTO videos (path, label_name, label, source_frames, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (path) DO UPDATE SET
            label_name = EXCLUDED.label_name,
            label = EXCLUDED.label,
            source_frames = EXCLUDED.source_frames,
            updated_at = EXCLUDED.updated_at
        RETURNING id`,
		entry.Path, entry.LabelName, label, entry.Frames, time.Now()).Scan(&videoID)
	if err != nil {
		return fmt.Errorf("failed to store video '%s': %w", entry.Path, err)
	}

	if len(entry.Fingerprint) > 0 {
		if len(entry.Fingerprint) != s.dim {
			return fmt.Errorf("fingerprint of '%s' has %d components, want %d", entry.Path, len(entry.Fingerprint), s.dim)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO fingerprints (video_id, embedding) VALUES ($1, $2)
            ON CONFLICT (video_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
			videoID, pgvector.NewVector(entry.Fingerprint))
		if err != nil {
			return fmt.Errorf("failed to store fingerprint of '%s': %w", entry.Path, err)
		}
	}

	return tx.Commit(ctx)
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

// SearchSimilar finds the catalog videos closest to a fingerprint by
// cosine distance
func (s *PostgresStorage) SearchSimilar(ctx context.Context, fingerprint []float32, limit int) ([]models.SimilarVideo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.path, v.label_name, 1 - (f.embedding <=> $1) AS similarity
        FROM fingerprints f
        JOIN videos v ON v.id = f.video_id
        ORDER BY f.embedding <=> $1
        LIMIT $2`,
		pgvector.NewVector(fingerprint), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar videos: %w", err)
	}
	defer rows.Close()

	var results []models.SimilarVideo
	for rows.Next() {
		var r models.SimilarVideo
		if err := rows.Scan(&r.Path, &r.LabelName, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Prune deletes every video whose path is not in keep, together with its
// fingerprint. It returns the number of videos removed.
func (s *PostgresStorage) Prune(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE NOT (path = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune catalog: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Entry fetches a single catalog entry by path.
func (s *PostgresStorage) Entry(ctx context.Context, path string) (*models.CatalogEntry, error) {
	var (
		entry models.CatalogEntry
		label []int16
		emb   *pgvector.Vector
	)
	err := s.pool.QueryRow(ctx,
		`SELECT v.path, v.label_name, v.label, v.source_frames, f.embedding
        FROM videos v
        LEFT JOIN fingerprints f ON f.video_id = v.id
        WHERE v.path = $1`,
		path).Scan(&entry.Path, &entry.LabelName, &label, &entry.Frames, &emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video '%s' not in catalog: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read video '%s': %w", path, err)
	}

	for _, b := range label {
		entry.Label = append(entry.Label, int(b))
	}
	if emb != nil {
		entry.Fingerprint = emb.Slice()
	}
	return &entry, nil
}
