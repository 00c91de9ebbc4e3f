// Package ledger records recommendation inferences and user feedback, and
// gates cross-encoder refinement on the volume of labeled feedback.
//
// The ledger is bookkeeping only: refinement itself is a long-running
// external operation. Like/dislike feedback produces labeled training
// pairs; click/view is engagement signal and never counts toward
// refinement eligibility.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
)

// ErrInvalidFeedback is returned for an unknown feedback label.
var ErrInvalidFeedback = errors.New("invalid feedback type")

// DefaultMinTrainingPairs is the default refinement eligibility threshold.
const DefaultMinTrainingPairs = 10

// InferenceRecord holds the fields of one recommendation to record.
type InferenceRecord struct {
	QueryID     uuid.UUID
	DocumentID  uuid.UUID
	DenseScore  float64
	RerankScore *float64
	FinalScore  float64
	Rank        int
	SessionID   string
}

// Ledger owns inference writes and feedback aggregation.
type Ledger struct {
	inferences repository.InferenceRepository
}

// New creates a feedback ledger backed by the given repository.
func New(inferences repository.InferenceRepository) *Ledger {
	return &Ledger{inferences: inferences}
}

// RecordInference appends one immutable inference record and returns its id.
// Each record stands alone: callers recording a batch must not abort the
// batch when a single write fails.
func (l *Ledger) RecordInference(ctx context.Context, rec InferenceRecord) (uuid.UUID, error) {
	inf := &repository.Inference{
		ID:          uuid.New(),
		QueryID:     rec.QueryID,
		DocumentID:  rec.DocumentID,
		DenseScore:  rec.DenseScore,
		RerankScore: rec.RerankScore,
		FinalScore:  rec.FinalScore,
		Rank:        rec.Rank,
		SessionID:   rec.SessionID,
		CreatedAt:   time.Now(),
	}
	if err := l.inferences.Create(ctx, inf); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record inference: %w", err)
	}
	return inf.ID, nil
}

// RecordFeedback sets the feedback label on an inference. Unknown inference
// ids yield repository.ErrNotFound. Repeated submissions overwrite the
// previous label (last-write-wins).
func (l *Ledger) RecordFeedback(ctx context.Context, inferenceID uuid.UUID, fb repository.Feedback) error {
	if !fb.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, fb)
	}
	return l.inferences.UpdateFeedback(ctx, inferenceID, fb)
}

// Stats returns aggregate feedback counts. TrainingPairs counts only
// like/dislike labels.
func (l *Ledger) Stats(ctx context.Context) (*repository.FeedbackStats, error) {
	return l.inferences.Stats(ctx)
}

// RefinementEligible reports whether enough labeled feedback has
// accumulated to justify refining the cross-encoder. minPairs <= 0 uses
// DefaultMinTrainingPairs.
func (l *Ledger) RefinementEligible(ctx context.Context, minPairs int) (bool, error) {
	if minPairs <= 0 {
		minPairs = DefaultMinTrainingPairs
	}
	stats, err := l.inferences.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.TrainingPairs >= minPairs, nil
}

// TrainingPairs returns the labeled (query, document) pairs for the
// external refinement collaborator.
func (l *Ledger) TrainingPairs(ctx context.Context) ([]repository.TrainingPair, error) {
	return l.inferences.TrainingPairs(ctx)
}

// InferencesForQuery returns the recorded inferences of a query in rank
// order, for auditing recommendations and their feedback.
func (l *Ledger) InferencesForQuery(ctx context.Context, queryID uuid.UUID) ([]*repository.Inference, error) {
	return l.inferences.ListByQuery(ctx, queryID)
}
