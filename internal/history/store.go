package history

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/screen-tutor/internal/config"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id            BIGSERIAL PRIMARY KEY,
	text_hash     TEXT NOT NULL,
	redacted_text TEXT NOT NULL,
	answer        TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_text_hash ON analyses (text_hash);`

// Store persists analysis history in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and applies the schema
func NewStore(cfg config.HistoryConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("History store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

// Migrate creates the analyses table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return nil
}

// Insert stores an analysis and fills in its ID and creation time
func (s *Store) Insert(ctx context.Context, a *Analysis) error {
	query := `
		INSERT INTO analyses (text_hash, redacted_text, answer, model)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query, a.TextHash, a.RedactedText, a.Answer, a.Model).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert analysis", zap.Error(err))
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	s.logger.Debug("Analysis stored", zap.Int64("id", a.ID), zap.String("text_hash", a.TextHash))
	return nil
}

// Recent returns the latest analyses, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}

	var analyses []Analysis
	query := `
		SELECT id, text_hash, redacted_text, answer, model, created_at
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	if err := s.db.SelectContext(ctx, &analyses, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return analyses, nil
}

// Stats returns aggregate history statistics
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(DISTINCT text_hash) AS distinct_texts,
			MAX(created_at) AS last_analysis
		FROM analyses`

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get history stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid database url>"
	}
	return u.Redacted()
}
