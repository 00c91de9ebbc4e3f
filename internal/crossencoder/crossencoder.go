// Package crossencoder provides access to a cross-encoder relevance scorer.
//
// A cross-encoder sees the query and document together and produces an
// unbounded relevance score, which the reranker maps through a sigmoid
// before fusing with the dense similarity score. The scorer runs as an
// external model server; when it cannot be reached the engine degrades to
// dense-only ranking rather than failing requests.
package crossencoder

import "context"

// Gateway defines the interface to the cross-encoder scorer.
type Gateway interface {
	// Score returns the relevance score for a (query, document) pair.
	// The score is unbounded; higher means more relevant.
	Score(ctx context.Context, query, document string) (float64, error)

	// Available reports whether the scorer can currently be used.
	// When false, callers must fall back to dense-only ranking.
	Available() bool
}
