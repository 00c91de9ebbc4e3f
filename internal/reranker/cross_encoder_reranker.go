package reranker

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/eduranker/eduranker/internal/crossencoder"
)

const (
	// DefaultAlpha weights the dense score in the fused final score.
	DefaultAlpha = 0.3

	// DefaultConcurrency is the number of concurrent scoring requests.
	DefaultConcurrency = 4

	// maxDocumentChars caps the representative text sent to the
	// cross-encoder, roughly 512 tokens at ~4 characters per token.
	maxDocumentChars = 1500
)

// CrossEncoderReranker scores each candidate with the cross-encoder gateway
// and fuses the result with the dense score:
//
//	final = alpha*dense + (1-alpha)*sigmoid(cross)
//
// The sigmoid maps the cross-encoder's unbounded score onto [0,1] so the
// two are commensurable. Sorting is stable, so equal final scores keep
// their dense order and results stay deterministic.
type CrossEncoderReranker struct {
	gateway     crossencoder.Gateway
	alpha       float64
	concurrency int
}

// Option is a functional option for configuring CrossEncoderReranker.
type Option func(*CrossEncoderReranker)

// WithAlpha sets the dense-score weight of the fusion (0..1).
func WithAlpha(alpha float64) Option {
	return func(r *CrossEncoderReranker) {
		r.alpha = alpha
	}
}

// WithConcurrency sets the number of concurrent scoring requests.
func WithConcurrency(n int) Option {
	return func(r *CrossEncoderReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a cross-encoder reranker.
func New(gateway crossencoder.Gateway, opts ...Option) *CrossEncoderReranker {
	r := &CrossEncoderReranker{
		gateway:     gateway,
		alpha:       DefaultAlpha,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores the candidates and returns the topK in fused order.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (*Ranking, error) {
	if len(candidates) == 0 {
		return &Ranking{}, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	if !r.gateway.Available() {
		return r.passthrough(candidates, topK), nil
	}

	results := make([]Result, len(candidates))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.concurrency)

	for i, cand := range candidates {
		wg.Add(1)
		go func(idx int, c Candidate) {
			defer wg.Done()

			results[idx] = Result{
				Document:   c.Document,
				DenseScore: c.DenseScore,
				FinalScore: c.DenseScore,
			}

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				return
			}

			score, err := r.gateway.Score(ctx, query, candidateText(c))
			if err != nil {
				// A failed score degrades this candidate to dense-only.
				slog.Warn("cross-encoder scoring failed",
					"document_id", c.Document.ID, "error", err)
				return
			}
			results[idx].RerankScore = &score
			results[idx].FinalScore = r.fuse(c.DenseScore, score)
		}(i, cand)
	}
	wg.Wait()

	// Stable sort keeps the dense order for equal final scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})

	results = results[:topK]
	for i := range results {
		results[i].Rank = i + 1
	}
	return &Ranking{Results: results, Applied: true}, nil
}

// passthrough returns the topK dense candidates unchanged for degraded mode.
func (r *CrossEncoderReranker) passthrough(candidates []Candidate, topK int) *Ranking {
	results := make([]Result, topK)
	for i, c := range candidates[:topK] {
		results[i] = Result{
			Document:   c.Document,
			DenseScore: c.DenseScore,
			FinalScore: c.DenseScore,
			Rank:       i + 1,
		}
	}
	return &Ranking{Results: results, Applied: false}
}

func (r *CrossEncoderReranker) fuse(dense, cross float64) float64 {
	return r.alpha*dense + (1-r.alpha)*sigmoid(cross)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// candidateText builds the representative text for a candidate: title plus
// body truncated to maxDocumentChars at a word boundary.
func candidateText(c Candidate) string {
	title := strings.TrimSpace(c.Document.Title)
	text := truncateWords(strings.TrimSpace(c.Document.Text), maxDocumentChars)

	switch {
	case title != "" && text != "":
		return title + ". " + text
	case title != "":
		return title
	default:
		return text
	}
}

// truncateWords cuts s to at most max characters without splitting a word,
// appending "..." when anything was removed. Counts runes, not bytes, so a
// cut never splits a multi-byte character.
func truncateWords(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "..."
}

// Ensure CrossEncoderReranker implements Reranker interface.
var _ Reranker = (*CrossEncoderReranker)(nil)
