package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InferenceRepo implements repository.InferenceRepository
type InferenceRepo struct {
	db *DB
}

// NewInferenceRepo creates a new inference repository
func NewInferenceRepo(db *DB) *InferenceRepo {
	return &InferenceRepo{db: db}
}

// Create appends one inference record
func (r *InferenceRepo) Create(ctx context.Context, inf *repository.Inference) error {
	query := `
		INSERT INTO inferences (id, query_id, document_id, dense_score, rerank_score, final_score, rank, feedback, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		inf.ID, inf.QueryID, inf.DocumentID, inf.DenseScore, inf.RerankScore,
		inf.FinalScore, inf.Rank, inf.Feedback, inf.SessionID, inf.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create inference: %w", err)
	}
	return nil
}

// GetByID retrieves an inference by ID
func (r *InferenceRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Inference, error) {
	query := `
		SELECT id, query_id, document_id, dense_score, rerank_score, final_score, rank, feedback, session_id, created_at, feedback_at
		FROM inferences
		WHERE id = $1
	`
	var inf repository.Inference
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&inf.ID, &inf.QueryID, &inf.DocumentID, &inf.DenseScore, &inf.RerankScore,
		&inf.FinalScore, &inf.Rank, &inf.Feedback, &inf.SessionID, &inf.CreatedAt,
		&inf.FeedbackAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get inference: %w", err)
	}
	return &inf, nil
}

// UpdateFeedback sets the feedback label on an inference. Repeated calls
// overwrite the previous label.
func (r *InferenceRepo) UpdateFeedback(ctx context.Context, id uuid.UUID, fb repository.Feedback) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE inferences
		SET feedback = $2, feedback_at = NOW()
		WHERE id = $1
	`, id, fb)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByQuery returns all inferences for a query ordered by rank
func (r *InferenceRepo) ListByQuery(ctx context.Context, queryID uuid.UUID) ([]*repository.Inference, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, query_id, document_id, dense_score, rerank_score, final_score, rank, feedback, session_id, created_at, feedback_at
		FROM inferences
		WHERE query_id = $1
		ORDER BY rank
	`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list inferences: %w", err)
	}
	defer rows.Close()

	var infs []*repository.Inference
	for rows.Next() {
		var inf repository.Inference
		if err := rows.Scan(&inf.ID, &inf.QueryID, &inf.DocumentID, &inf.DenseScore,
			&inf.RerankScore, &inf.FinalScore, &inf.Rank, &inf.Feedback,
			&inf.SessionID, &inf.CreatedAt, &inf.FeedbackAt); err != nil {
			return nil, fmt.Errorf("failed to scan inference: %w", err)
		}
		infs = append(infs, &inf)
	}
	return infs, rows.Err()
}

// Stats aggregates feedback counts over all inferences
func (r *InferenceRepo) Stats(ctx context.Context) (*repository.FeedbackStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE feedback IS NOT NULL),
			COUNT(*) FILTER (WHERE feedback = 'like'),
			COUNT(*) FILTER (WHERE feedback = 'dislike')
		FROM inferences
	`
	var stats repository.FeedbackStats
	if err := r.db.Pool.QueryRow(ctx, query).Scan(&stats.Total, &stats.Likes, &stats.Dislikes); err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback stats: %w", err)
	}
	stats.TrainingPairs = stats.Likes + stats.Dislikes
	return &stats, nil
}

// TrainingPairs joins liked/disliked inferences with their query and document
// text to produce labeled refinement examples.
func (r *InferenceRepo) TrainingPairs(ctx context.Context) ([]repository.TrainingPair, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT q.question, d.title, d.text, i.feedback
		FROM inferences i
		JOIN queries q ON q.id = i.query_id
		JOIN documents d ON d.id = i.document_id
		WHERE i.feedback IN ('like', 'dislike')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query training pairs: %w", err)
	}
	defer rows.Close()

	var pairs []repository.TrainingPair
	for rows.Next() {
		var question, title, text string
		var fb repository.Feedback
		if err := rows.Scan(&question, &title, &text, &fb); err != nil {
			return nil, fmt.Errorf("failed to scan training pair: %w", err)
		}
		pairs = append(pairs, repository.TrainingPair{
			QueryText:    question,
			DocumentText: title + ". " + text,
			Label:        fb.Label(),
		})
	}
	return pairs, rows.Err()
}

// Ensure InferenceRepo implements the interface
var _ repository.InferenceRepository = (*InferenceRepo)(nil)
