package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QueryRepo implements repository.QueryRepository
type QueryRepo struct {
	db *DB
}

// NewQueryRepo creates a new query repository
func NewQueryRepo(db *DB) *QueryRepo {
	return &QueryRepo{db: db}
}

// Save persists a query, deduplicating identical questions submitted within
// dedupWindow. On a dedup hit the stored query is returned unchanged.
func (r *QueryRepo) Save(ctx context.Context, q *repository.Query, dedupWindow time.Duration) (*repository.Query, bool, error) {
	since := time.Now().Add(-dedupWindow)

	existing, err := r.scanQuery(ctx, `
		SELECT id, question, embedding, language, created_at
		FROM queries
		WHERE question = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, q.Question, since)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	embeddingJSON, err := marshalEmbedding(q.Embedding)
	if err != nil {
		return nil, false, err
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO queries (id, question, embedding, language, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, q.ID, q.Question, embeddingJSON, q.Language, q.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert query: %w", err)
	}
	return q, false, nil
}

// GetByID retrieves a query by ID
func (r *QueryRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Query, error) {
	return r.scanQuery(ctx, `
		SELECT id, question, embedding, language, created_at
		FROM queries
		WHERE id = $1
	`, id)
}

func (r *QueryRepo) scanQuery(ctx context.Context, query string, args ...any) (*repository.Query, error) {
	var q repository.Query
	var embeddingJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&q.ID, &q.Question, &embeddingJSON, &q.Language, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	q.Embedding, err = unmarshalEmbedding(embeddingJSON)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Recent returns the most recent queries, newest first. Embeddings are not
// loaded; they are large and irrelevant for listings.
func (r *QueryRepo) Recent(ctx context.Context, limit int) ([]*repository.Query, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, question, language, created_at
		FROM queries
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var queries []*repository.Query
	for rows.Next() {
		var q repository.Query
		if err := rows.Scan(&q.ID, &q.Question, &q.Language, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		queries = append(queries, &q)
	}
	return queries, rows.Err()
}

// Ensure QueryRepo implements the interface
var _ repository.QueryRepository = (*QueryRepo)(nil)
