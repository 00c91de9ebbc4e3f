// Package ingest collects educational resources from external sources and
// stores them with their embeddings.
//
// Each source is a thin HTTP fetcher behind the Fetcher interface. The
// Ingestor fans out to the requested sources concurrently, deduplicates by
// (url, source), embeds new resources, and reports per-source outcomes so
// one failing source never aborts the others.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eduranker/eduranker/internal/embedder"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Resource is a fetched educational resource before persistence.
type Resource struct {
	Title      string
	Text       string
	URL        string
	Source     string
	Language   string
	Popularity float64
}

// Fetcher retrieves resources for a query from one external source.
type Fetcher interface {
	// Source returns the source tag this fetcher produces.
	Source() string

	// Fetch returns up to limit resources relevant to the query.
	Fetch(ctx context.Context, query string, limit int) ([]Resource, error)
}

// SourceReport describes the outcome of one source during a run.
type SourceReport struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes an ingestion run.
type Report struct {
	InsertedIDs []uuid.UUID
	Sources     []SourceReport
	Errors      []string
}

// Inserted returns the total number of newly stored resources.
func (r *Report) Inserted() int {
	return len(r.InsertedIDs)
}

// Ingestor coordinates fetching, dedup, embedding, and storage.
type Ingestor struct {
	fetchers map[string]Fetcher
	docs     repository.DocumentRepository
	embed    embedder.Embedder
}

// NewIngestor creates an ingestor over the given fetchers.
func NewIngestor(docs repository.DocumentRepository, embed embedder.Embedder, fetchers ...Fetcher) *Ingestor {
	m := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		m[f.Source()] = f
	}
	return &Ingestor{fetchers: m, docs: docs, embed: embed}
}

// Sources returns the configured source tags.
func (in *Ingestor) Sources() []string {
	out := make([]string, 0, len(in.fetchers))
	for s := range in.fetchers {
		out = append(out, s)
	}
	return out
}

// Run fetches from the requested sources concurrently. Unknown sources and
// per-source failures are recorded in the report, never returned as an
// error: ingestion is best-effort by design.
func (in *Ingestor) Run(ctx context.Context, query string, maxPerSource int, sources []string) *Report {
	if len(sources) == 0 {
		sources = in.Sources()
	}
	if maxPerSource <= 0 {
		maxPerSource = 10
	}

	report := &Report{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		fetcher, ok := in.fetchers[source]
		if !ok {
			mu.Lock()
			report.Errors = append(report.Errors, fmt.Sprintf("unknown source %q", source))
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			sr := in.runSource(gctx, fetcher, query, maxPerSource)
			mu.Lock()
			report.Sources = append(report.Sources, sr.report)
			report.InsertedIDs = append(report.InsertedIDs, sr.insertedIDs...)
			if sr.report.Error != "" {
				report.Errors = append(report.Errors, fmt.Sprintf("source %s: %s", sr.report.Source, sr.report.Error))
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	slog.Info("ingestion finished",
		"query", query, "sources", len(sources), "inserted", report.Inserted())
	return report
}

type sourceResult struct {
	report      SourceReport
	insertedIDs []uuid.UUID
}

func (in *Ingestor) runSource(ctx context.Context, fetcher Fetcher, query string, limit int) sourceResult {
	sr := sourceResult{report: SourceReport{Source: fetcher.Source()}}

	resources, err := fetcher.Fetch(ctx, query, limit)
	if err != nil {
		sr.report.Error = err.Error()
		return sr
	}
	sr.report.Fetched = len(resources)

	for _, res := range resources {
		id, inserted, err := in.store(ctx, res)
		if err != nil {
			slog.Warn("failed to store resource", "url", res.URL, "error", err)
			continue
		}
		if inserted {
			sr.report.Inserted++
			sr.insertedIDs = append(sr.insertedIDs, id)
		}
	}
	return sr
}

// store persists one resource unless it already exists. The embedding is
// computed up front; when embedding fails the document is stored without
// one and picked up by a later backfill rather than dropped.
func (in *Ingestor) store(ctx context.Context, res Resource) (uuid.UUID, bool, error) {
	existing, err := in.docs.FindExisting(ctx, res.URL, res.Source)
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, false, err
	}

	vector, err := in.embed.Embed(ctx, res.Title+". "+res.Text)
	if err != nil {
		slog.Warn("embedding failed, storing resource without vector",
			"url", res.URL, "error", err)
		vector = nil
	}

	doc := &repository.Document{
		ID:         uuid.New(),
		Title:      res.Title,
		Text:       res.Text,
		URL:        res.URL,
		Source:     res.Source,
		Language:   res.Language,
		Popularity: res.Popularity,
		Embedding:  vector,
		CreatedAt:  time.Now(),
	}
	if err := in.docs.Insert(ctx, doc); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to insert document: %w", err)
	}
	return doc.ID, true, nil
}

// BackfillEmbeddings embeds stored documents that have no vector yet.
// Returns the ids that gained an embedding.
func (in *Ingestor) BackfillEmbeddings(ctx context.Context, docs []*repository.Document) ([]uuid.UUID, error) {
	var updated []uuid.UUID
	for _, doc := range docs {
		if doc.Embedding != nil {
			continue
		}
		vector, err := in.embed.Embed(ctx, doc.Title+". "+doc.Text)
		if err != nil || vector == nil {
			continue
		}
		if err := in.docs.UpdateEmbedding(ctx, doc.ID, vector); err != nil {
			return updated, fmt.Errorf("failed to backfill embedding: %w", err)
		}
		updated = append(updated, doc.ID)
	}
	return updated, nil
}
