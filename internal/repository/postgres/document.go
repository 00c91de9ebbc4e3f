package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Insert creates a new document. Embeddings are stored as JSONB so documents
// without one carry SQL NULL and are excluded from index rebuilds.
func (r *DocumentRepo) Insert(ctx context.Context, doc *repository.Document) error {
	embeddingJSON, err := marshalEmbedding(doc.Embedding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (id, title, text, url, source, language, popularity, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Title, doc.Text, doc.URL, doc.Source, doc.Language,
		doc.Popularity, embeddingJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, title, text, url, source, language, popularity, embedding, created_at
		FROM documents
		WHERE id = $1
	`
	return r.scanDocument(ctx, query, id)
}

// FindExisting retrieves a document by (url, source), used for ingestion dedup
func (r *DocumentRepo) FindExisting(ctx context.Context, url, source string) (*repository.Document, error) {
	query := `
		SELECT id, title, text, url, source, language, popularity, embedding, created_at
		FROM documents
		WHERE url = $1 AND source = $2
	`
	return r.scanDocument(ctx, query, url, source)
}

func (r *DocumentRepo) scanDocument(ctx context.Context, query string, args ...any) (*repository.Document, error) {
	var doc repository.Document
	var embeddingJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Title, &doc.Text, &doc.URL, &doc.Source, &doc.Language,
		&doc.Popularity, &embeddingJSON, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Embedding, err = unmarshalEmbedding(embeddingJSON)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDs retrieves the documents for the given ids. Missing ids are
// silently skipped; the result order follows the database, not the input.
func (r *DocumentRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*repository.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, title, text, url, source, language, popularity, embedding, created_at
		FROM documents
		WHERE id = ANY($1)
	`
	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		var embeddingJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Text, &doc.URL, &doc.Source,
			&doc.Language, &doc.Popularity, &embeddingJSON, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Embedding, err = unmarshalEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// ListWithEmbeddings returns id+vector for every document with an embedding
func (r *DocumentRepo) ListWithEmbeddings(ctx context.Context) ([]repository.IDVector, error) {
	query := `
		SELECT id, embedding
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()
	return scanIDVectors(rows)
}

// GetEmbeddingsByIDs returns id+vector for the given ids, skipping
// documents without embeddings
func (r *DocumentRepo) GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.IDVector, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, embedding
		FROM documents
		WHERE id = ANY($1) AND embedding IS NOT NULL
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	defer rows.Close()
	return scanIDVectors(rows)
}

func scanIDVectors(rows pgx.Rows) ([]repository.IDVector, error) {
	var out []repository.IDVector
	for rows.Next() {
		var iv repository.IDVector
		var embeddingJSON []byte
		if err := rows.Scan(&iv.ID, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := unmarshalEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		iv.Vector = vec
		out = append(out, iv)
	}
	return out, rows.Err()
}

// UpdateEmbedding backfills the embedding for a document
func (r *DocumentRepo) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	embeddingJSON, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}

	result, err := r.db.Pool.Exec(ctx,
		`UPDATE documents SET embedding = $2 WHERE id = $1`, id, embeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Count returns the total number of documents
func (r *DocumentRepo) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return total, nil
}

func marshalEmbedding(embedding []float32) ([]byte, error) {
	if embedding == nil {
		return nil, nil
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return b, nil
}

func unmarshalEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return vec, nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
