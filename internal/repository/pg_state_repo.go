package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStateRepository keeps documents in the relay_state table.
type PostgresStateRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStateRepository(db *pgxpool.Pool, logger *zap.Logger) *PostgresStateRepository {
	return &PostgresStateRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the relay_state table if needed.
func (r *PostgresStateRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS relay_state (
            name       TEXT PRIMARY KEY,
            doc        JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )
    `
	if _, err := r.db.Exec(ctx, query); err != nil {
		r.logger.Error("Failed to create relay_state table", zap.Error(err))
		return fmt.Errorf("failed to create relay_state table: %w", err)
	}
	return nil
}

func (r *PostgresStateRepository) Load(ctx context.Context, doc string) ([]byte, error) {
	query := `SELECT doc FROM relay_state WHERE name = $1`

	var data []byte
	err := r.db.QueryRow(ctx, query, doc).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", doc, err)
	}
	return data, nil
}

func (r *PostgresStateRepository) Save(ctx context.Context, doc string, data []byte) error {
	query := `
        INSERT INTO relay_state (name, doc, updated_at)
        VALUES ($1, $2::jsonb, now())
        ON CONFLICT (name) DO UPDATE
        SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
    `
	if _, err := r.db.Exec(ctx, query, doc, string(data)); err != nil {
		r.logger.Error("Failed to save state document",
			zap.String("doc", doc),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save %s: %w", doc, err)
	}

	r.logger.Debug("State document saved", zap.String("doc", doc))
	return nil
}
