// Package repository defines domain models and data access interfaces for
// educational resources, user queries, and recommendation inferences.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document represents an ingested educational resource
type Document struct {
	ID         uuid.UUID
	Title      string
	Text       string
	URL        string
	Source     string
	Language   string
	Popularity float64
	Embedding  []float32 // nil until backfilled
	CreatedAt  time.Time
}

// Query represents a captured user question
type Query struct {
	ID        uuid.UUID
	Question  string
	Embedding []float32
	Language  string
	CreatedAt time.Time
}

// Feedback is a user reaction to a recommendation.
type Feedback string

const (
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
	FeedbackClick   Feedback = "click"
	FeedbackView    Feedback = "view"
)

// Valid reports whether f is one of the known feedback labels.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackLike, FeedbackDislike, FeedbackClick, FeedbackView:
		return true
	}
	return false
}

// Labeled reports whether f carries a training label.
// Only like/dislike do; click/view are engagement signal only.
func (f Feedback) Labeled() bool {
	return f == FeedbackLike || f == FeedbackDislike
}

// Label returns the relevance label for a labeled feedback (1.0 or 0.0).
func (f Feedback) Label() float64 {
	if f == FeedbackLike {
		return 1.0
	}
	return 0.0
}

// Inference represents one persisted (query, recommended document) record.
// Feedback is the only field that may change after creation.
type Inference struct {
	ID          uuid.UUID
	QueryID     uuid.UUID
	DocumentID  uuid.UUID
	DenseScore  float64
	RerankScore *float64
	FinalScore  float64
	Rank        int
	Feedback    *Feedback
	SessionID   string
	CreatedAt   time.Time
	FeedbackAt  *time.Time
}

// FeedbackStats aggregates feedback over all inferences.
type FeedbackStats struct {
	Total         int `json:"total"`
	Likes         int `json:"likes"`
	Dislikes      int `json:"dislikes"`
	TrainingPairs int `json:"training_pairs"`
}

// TrainingPair is one labeled (query, document) example for cross-encoder
// refinement.
type TrainingPair struct {
	QueryText    string
	DocumentText string
	Label        float64
}

// IDVector pairs a document id with its stored embedding.
type IDVector struct {
	ID     uuid.UUID
	Vector []float32
}

// DocumentRepository defines operations for resource persistence
type DocumentRepository interface {
	Insert(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Document, error)
	FindExisting(ctx context.Context, url, source string) (*Document, error)

	// ListWithEmbeddings returns id+vector for every document with a
	// non-null embedding. Used for full index rebuilds.
	ListWithEmbeddings(ctx context.Context) ([]IDVector, error)

	// GetEmbeddingsByIDs returns id+vector for the given ids only,
	// skipping documents without embeddings. Used for incremental adds.
	GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) ([]IDVector, error)

	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	Count(ctx context.Context) (int, error)
}

// QueryRepository defines operations for user query persistence
type QueryRepository interface {
	// Save persists q unless an identical question was already saved
	// within dedupWindow, in which case the existing query is returned
	// and the bool reports a dedup hit.
	Save(ctx context.Context, q *Query, dedupWindow time.Duration) (*Query, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Query, error)
	Recent(ctx context.Context, limit int) ([]*Query, error)
}

// InferenceRepository defines operations for inference persistence
type InferenceRepository interface {
	Create(ctx context.Context, inf *Inference) error
	GetByID(ctx context.Context, id uuid.UUID) (*Inference, error)

	// UpdateFeedback sets the feedback label on an inference.
	// Returns ErrNotFound for an unknown id. Repeated calls overwrite.
	UpdateFeedback(ctx context.Context, id uuid.UUID, fb Feedback) error

	ListByQuery(ctx context.Context, queryID uuid.UUID) ([]*Inference, error)
	Stats(ctx context.Context) (*FeedbackStats, error)
	TrainingPairs(ctx context.Context) ([]TrainingPair, error)
}
