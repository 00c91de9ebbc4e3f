// Package service implements the query capture service and the workflow
// orchestrator that sequences a recommendation request end to end.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eduranker/eduranker/internal/embedder"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
)

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("invalid input")

// DefaultDedupWindow is how long an identical question maps to the same
// stored query instead of creating a new one.
const DefaultDedupWindow = 24 * time.Hour

// QueryService captures user questions: validation, language detection,
// embedding, and deduplicated persistence.
type QueryService struct {
	queries     repository.QueryRepository
	embed       embedder.Embedder
	dedupWindow time.Duration
}

// NewQueryService creates a query service. dedupWindow <= 0 uses
// DefaultDedupWindow.
func NewQueryService(queries repository.QueryRepository, embed embedder.Embedder, dedupWindow time.Duration) *QueryService {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &QueryService{queries: queries, embed: embed, dedupWindow: dedupWindow}
}

// Capture validates, embeds, and stores a question. A question already seen
// within the dedup window returns the existing query and dedup=true. An
// empty question returns ErrInvalidInput.
func (s *QueryService) Capture(ctx context.Context, question string) (*repository.Query, bool, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, false, fmt.Errorf("%w: question must not be empty", ErrInvalidInput)
	}

	vector, err := s.embed.Embed(ctx, question)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed question: %w", err)
	}

	q := &repository.Query{
		ID:        uuid.New(),
		Question:  question,
		Embedding: vector,
		Language:  DetectLanguage(question),
		CreatedAt: time.Now(),
	}
	saved, dedup, err := s.queries.Save(ctx, q, s.dedupWindow)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save query: %w", err)
	}
	return saved, dedup, nil
}

// Get returns a stored query by id.
func (s *QueryService) Get(ctx context.Context, id uuid.UUID) (*repository.Query, error) {
	return s.queries.GetByID(ctx, id)
}

var frenchStopwords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {},
	"est": {}, "que": {}, "qui": {}, "quoi": {}, "comment": {},
	"pourquoi": {}, "pour": {}, "dans": {}, "avec": {}, "sur": {},
	"je": {}, "tu": {}, "il": {}, "nous": {}, "vous": {}, "et": {},
	"ou": {}, "où": {}, "quel": {}, "quelle": {}, "faire": {},
}

var englishStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "what": {},
	"how": {}, "why": {}, "which": {}, "who": {}, "for": {}, "in": {},
	"with": {}, "on": {}, "to": {}, "of": {}, "and": {}, "or": {},
	"i": {}, "you": {}, "we": {}, "do": {}, "does": {}, "can": {},
}

// DetectLanguage guesses "fr" or "en" by counting stopword hits. Ties and
// texts with no hits default to English.
func DetectLanguage(text string) string {
	fr, en := 0, 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?'\"()")
		if _, ok := frenchStopwords[word]; ok {
			fr++
		}
		if _, ok := englishStopwords[word]; ok {
			en++
		}
	}
	if fr > en {
		return "fr"
	}
	return "en"
}
