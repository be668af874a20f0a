package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"phishdetect/internal/domain"
	"phishdetect/internal/netident"
)

// PostgresStore persists session state and the search-engine output cache.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.setup(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) setup(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session (
			uuid TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			url TEXT NOT NULL,
			tld TEXT NOT NULL,
			result TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (uuid, url)
		)`,
		`CREATE TABLE IF NOT EXISTS search_result_text (
			filepath TEXT NOT NULL,
			result TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS search_result_image (
			filepath TEXT NOT NULL,
			result TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_result_text_filepath ON search_result_text (filepath)`,
		`CREATE INDEX IF NOT EXISTS idx_search_result_image_filepath ON search_result_image (filepath)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("schema setup: %w", err)
		}
	}
	return nil
}

// GetState returns the record for (sessionID, url). The second return value
// is false when no row exists yet ("new").
func (s *PostgresStore) GetState(ctx context.Context, sessionID, url string) (domain.RequestRecord, bool, error) {
	var rec domain.RequestRecord
	err := s.db.QueryRow(ctx,
		`SELECT uuid, url, tld, result, stage, timestamp FROM session WHERE uuid = $1 AND url = $2`,
		sessionID, url,
	).Scan(&rec.SessionID, &rec.URL, &rec.RegisteredDomain, &rec.Result, &rec.Stage, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.RequestRecord{}, false, nil
	}
	if err != nil {
		return domain.RequestRecord{}, false, err
	}
	return rec, true, nil
}

// StoreState upserts the row for (sessionID, url). The registered domain is
// derived once on insert and never updated afterwards; same-key races are
// last-write-wins on result/stage, which the pipeline's duplicate suppression
// makes rare in practice.
func (s *PostgresStore) StoreState(ctx context.Context, sessionID, url string, result domain.Result, stage domain.Stage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session (uuid, timestamp, url, tld, result, stage)
		 VALUES ($1, NOW(), $2, $3, $4, $5)
		 ON CONFLICT (uuid, url) DO UPDATE SET
		   result = EXCLUDED.result, stage = EXCLUDED.stage, timestamp = NOW()`,
		sessionID, url, netident.RegisteredDomain(url), string(result), string(stage),
	)
	return err
}

// PurgeProcessing removes rows left in the processing state. A processing row
// at startup can only mean a prior run crashed mid-pipeline; deleting it lets
// the client resubmit instead of being blocked forever.
func (s *PostgresStore) PurgeProcessing(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM session WHERE result = $1`, string(domain.ResultProcessing))
	if err != nil {
		return 0, fmt.Errorf("purge processing rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SearchResults reads back the distinct candidate URLs a search run recorded
// for the given request hash, in insertion order.
func (s *PostgresStore) SearchResults(ctx context.Context, stage domain.Stage, urlHash string) ([]string, error) {
	table, err := searchTable(stage)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT result FROM `+table+` WHERE filepath = $1`, urlHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// StoreSearchResults batch-inserts candidate URLs produced by a search run.
func (s *PostgresStore) StoreSearchResults(ctx context.Context, stage domain.Stage, urlHash string, urls []string) error {
	table, err := searchTable(stage)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, u := range urls {
		batch.Queue(`INSERT INTO `+table+` (filepath, result) VALUES ($1, $2)`, urlHash, u)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func searchTable(stage domain.Stage) (string, error) {
	switch stage {
	case domain.StageTextSearch:
		return "search_result_text", nil
	case domain.StageImageSearch:
		return "search_result_image", nil
	}
	return "", fmt.Errorf("no search result table for stage %q", stage)
}
