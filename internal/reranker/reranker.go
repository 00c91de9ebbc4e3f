// Package reranker fuses dense retrieval scores with cross-encoder
// relevance scores into a final ranking.
//
// Re-ranking evaluates query-document pairs together rather than
// independently, which improves precision when the top dense candidates
// have similar scores. The cross-encoder is an external collaborator; when
// it is unavailable the reranker passes the dense ranking through unchanged
// and marks the ranking as not reranked, so a scorer outage never fails a
// request.
package reranker

import (
	"context"

	"github.com/eduranker/eduranker/internal/repository"
)

// Candidate is a hydrated document with its dense similarity score, in
// descending dense order as produced by the vector index.
type Candidate struct {
	Document   *repository.Document
	DenseScore float64
}

// Result is one ranked recommendation. RerankScore is nil when the
// cross-encoder did not score this candidate.
type Result struct {
	Document    *repository.Document
	DenseScore  float64
	RerankScore *float64
	FinalScore  float64
	Rank        int
}

// Ranking is the output of a rerank pass. Applied reports whether
// cross-encoder scores contributed to the final order.
type Ranking struct {
	Results []Result
	Applied bool
}

// Reranker defines the interface for re-ranking retrieval candidates.
type Reranker interface {
	// Rerank scores candidates against the query and returns the topK of
	// them ordered by descending final score with 1-based contiguous
	// ranks. It must not fail when the cross-encoder is unavailable.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (*Ranking, error)
}
