package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eduranker/eduranker/internal/index"
	"github.com/eduranker/eduranker/internal/ingest"
	"github.com/eduranker/eduranker/internal/ledger"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/eduranker/eduranker/internal/reranker"
	"github.com/google/uuid"
)

// Workflow stage names, in execution order.
const (
	StageCaptureQuery = "capture_query"
	StageIngest       = "ingest"
	StageRefreshIndex = "refresh_index"
	StageRetrieve     = "retrieve"
	StageRerank       = "rerank"
	StagePersist      = "persist"
)

// Stage statuses.
const (
	StatusOk       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// StageReport is the outcome of one workflow stage.
type StageReport struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

// Recommendation is one ranked result in a workflow response.
type Recommendation struct {
	InferenceID uuid.UUID `json:"inference_id,omitempty"`
	DocumentID  uuid.UUID `json:"document_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Language    string    `json:"language"`
	DenseScore  float64   `json:"dense_score"`
	RerankScore *float64  `json:"rerank_score,omitempty"`
	FinalScore  float64   `json:"final_score"`
	Rank        int       `json:"rank"`
}

// Response is the full result of a workflow run.
type Response struct {
	Question      string           `json:"question"`
	QueryID       uuid.UUID        `json:"query_id"`
	Language      string           `json:"language"`
	DedupHit      bool             `json:"dedup_hit"`
	Stages        []StageReport    `json:"stages"`
	Ingested      int              `json:"ingested"`
	Candidates    int              `json:"candidates"`
	Results       []Recommendation `json:"results"`
	RerankApplied bool             `json:"rerank_applied"`
	TotalDuration time.Duration    `json:"total_duration"`
	Errors        []string         `json:"errors"`
}

// Request carries the parameters of one workflow run.
type Request struct {
	Question     string
	TopKDense    int
	TopKFinal    int
	Sources      []string
	SessionID    string
	MaxPerSource int
}

// Defaults for unset request parameters.
const (
	DefaultTopKDense = 50
	DefaultTopKFinal = 10
)

// VectorIndex is the slice of the index the workflow drives.
type VectorIndex interface {
	Search(vector []float32, k int) ([]index.Result, error)
	Add(ctx context.Context, ids []uuid.UUID) (int, error)
	RebuildFromStore(ctx context.Context) (int, error)
	Size() int
}

// Ingestor is the slice of the ingestor the workflow drives.
type Ingestor interface {
	Run(ctx context.Context, query string, maxPerSource int, sources []string) *ingest.Report
}

// Workflow runs the recommendation pipeline: capture the query, ingest
// fresh resources, refresh the index, retrieve dense candidates, rerank,
// and persist inferences.
//
// Only query capture can fail the run. Every later stage degrades instead
// of aborting: its failure lands in the error list and the remaining
// stages run on whatever inputs exist.
type Workflow struct {
	queries  *QueryService
	ingestor Ingestor
	idx      VectorIndex
	rerank   reranker.Reranker
	ledger   *ledger.Ledger
	docs     repository.DocumentRepository
}

// NewWorkflow assembles the orchestrator from its collaborators.
func NewWorkflow(
	queries *QueryService,
	ingestor Ingestor,
	idx VectorIndex,
	rr reranker.Reranker,
	lg *ledger.Ledger,
	docs repository.DocumentRepository,
) *Workflow {
	return &Workflow{
		queries:  queries,
		ingestor: ingestor,
		idx:      idx,
		rerank:   rr,
		ledger:   lg,
		docs:     docs,
	}
}

// Run executes the six workflow stages for one request.
func (w *Workflow) Run(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	if req.TopKDense <= 0 {
		req.TopKDense = DefaultTopKDense
	}
	if req.TopKFinal <= 0 {
		req.TopKFinal = DefaultTopKFinal
	}

	resp := &Response{
		Question: req.Question,
		Errors:   []string{},
	}

	// Stage 1: capture. The only stage whose failure aborts the run.
	query, dedup, err := w.captureStage(ctx, req.Question, resp)
	if err != nil {
		return nil, err
	}
	resp.QueryID = query.ID
	resp.Language = query.Language
	resp.DedupHit = dedup

	// Stage 2: ingest.
	newIDs := w.ingestStage(ctx, query.Question, req, resp)

	// Stage 3: refresh index.
	w.refreshStage(ctx, newIDs, resp)

	// Stage 4: retrieve.
	candidates := w.retrieveStage(ctx, query, req.TopKDense, resp)

	// Stage 5: rerank.
	ranking := w.rerankStage(ctx, query.Question, candidates, req.TopKFinal, resp)

	// Stage 6: persist inferences and assemble results.
	w.persistStage(ctx, query.ID, req.SessionID, ranking, resp)

	resp.TotalDuration = time.Since(started)
	slog.Info("workflow finished",
		"query_id", query.ID,
		"results", len(resp.Results),
		"rerank_applied", resp.RerankApplied,
		"errors", len(resp.Errors),
		"duration", resp.TotalDuration)
	return resp, nil
}

func (w *Workflow) captureStage(ctx context.Context, question string, resp *Response) (*repository.Query, bool, error) {
	t := time.Now()
	query, dedup, err := w.queries.Capture(ctx, question)
	if err != nil {
		resp.Stages = append(resp.Stages, StageReport{
			Name: StageCaptureQuery, Status: StatusFailed,
			Reason: err.Error(), Duration: time.Since(t),
		})
		return nil, false, err
	}
	resp.Stages = append(resp.Stages, StageReport{
		Name: StageCaptureQuery, Status: StatusOk, Count: 1, Duration: time.Since(t),
	})
	return query, dedup, nil
}

func (w *Workflow) ingestStage(ctx context.Context, question string, req Request, resp *Response) []uuid.UUID {
	t := time.Now()
	report := w.ingestor.Run(ctx, question, req.MaxPerSource, req.Sources)
	resp.Ingested = report.Inserted()

	status := StatusOk
	reason := ""
	if len(report.Errors) > 0 {
		status = StatusDegraded
		reason = fmt.Sprintf("%d source error(s)", len(report.Errors))
		resp.Errors = append(resp.Errors, report.Errors...)
	}
	resp.Stages = append(resp.Stages, StageReport{
		Name: StageIngest, Status: status, Reason: reason,
		Count: report.Inserted(), Duration: time.Since(t),
	})
	return report.InsertedIDs
}

func (w *Workflow) refreshStage(ctx context.Context, newIDs []uuid.UUID, resp *Response) {
	t := time.Now()
	var (
		added int
		err   error
	)
	if len(newIDs) > 0 && w.idx.Size() > 0 {
		added, err = w.idx.Add(ctx, newIDs)
	} else if len(newIDs) > 0 || w.idx.Size() == 0 {
		added, err = w.idx.RebuildFromStore(ctx)
	}

	report := StageReport{Name: StageRefreshIndex, Status: StatusOk, Count: added, Duration: time.Since(t)}
	if err != nil {
		// Retrieval still works against the previous snapshot.
		report.Status = StatusDegraded
		report.Reason = err.Error()
		resp.Errors = append(resp.Errors, fmt.Sprintf("refresh_index: %s", err))
		slog.Warn("index refresh failed", "error", err)
	}
	resp.Stages = append(resp.Stages, report)
}

func (w *Workflow) retrieveStage(ctx context.Context, query *repository.Query, topK int, resp *Response) []reranker.Candidate {
	t := time.Now()

	fail := func(err error) []reranker.Candidate {
		resp.Stages = append(resp.Stages, StageReport{
			Name: StageRetrieve, Status: StatusFailed,
			Reason: err.Error(), Duration: time.Since(t),
		})
		resp.Errors = append(resp.Errors, fmt.Sprintf("retrieve: %s", err))
		slog.Warn("retrieval failed", "query_id", query.ID, "error", err)
		return nil
	}

	if query.Embedding == nil {
		return fail(fmt.Errorf("query has no embedding"))
	}

	hits, err := w.idx.Search(query.Embedding, topK)
	if err != nil {
		return fail(err)
	}
	if len(hits) == 0 {
		// Empty index or no match is degraded, not failed.
		resp.Stages = append(resp.Stages, StageReport{
			Name: StageRetrieve, Status: StatusDegraded,
			Reason: "no candidates", Duration: time.Since(t),
		})
		return nil
	}

	ids := make([]uuid.UUID, len(hits))
	scores := make(map[uuid.UUID]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}
	docs, err := w.docs.FindByIDs(ctx, ids)
	if err != nil {
		return fail(fmt.Errorf("failed to hydrate candidates: %w", err))
	}

	byID := make(map[uuid.UUID]*repository.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	// Preserve the descending dense order of the hits.
	candidates := make([]reranker.Candidate, 0, len(hits))
	for _, h := range hits {
		doc, ok := byID[h.ID]
		if !ok {
			slog.Warn("indexed document missing from store", "document_id", h.ID)
			continue
		}
		candidates = append(candidates, reranker.Candidate{Document: doc, DenseScore: scores[h.ID]})
	}

	resp.Candidates = len(candidates)
	resp.Stages = append(resp.Stages, StageReport{
		Name: StageRetrieve, Status: StatusOk,
		Count: len(candidates), Duration: time.Since(t),
	})
	return candidates
}

func (w *Workflow) rerankStage(ctx context.Context, question string, candidates []reranker.Candidate, topK int, resp *Response) *reranker.Ranking {
	t := time.Now()
	ranking, err := w.rerank.Rerank(ctx, question, candidates, topK)
	if err != nil {
		// Fall back to the dense order rather than dropping results.
		resp.Errors = append(resp.Errors, fmt.Sprintf("rerank: %s", err))
		resp.Stages = append(resp.Stages, StageReport{
			Name: StageRerank, Status: StatusFailed,
			Reason: err.Error(), Duration: time.Since(t),
		})
		ranking = densePassthrough(candidates, topK)
	} else {
		status := StatusOk
		reason := ""
		if !ranking.Applied && len(ranking.Results) > 0 {
			status = StatusDegraded
			reason = "cross-encoder unavailable"
		}
		resp.Stages = append(resp.Stages, StageReport{
			Name: StageRerank, Status: status, Reason: reason,
			Count: len(ranking.Results), Duration: time.Since(t),
		})
	}
	resp.RerankApplied = ranking.Applied
	return ranking
}

func densePassthrough(candidates []reranker.Candidate, topK int) *reranker.Ranking {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]reranker.Result, topK)
	for i, c := range candidates[:topK] {
		results[i] = reranker.Result{
			Document:   c.Document,
			DenseScore: c.DenseScore,
			FinalScore: c.DenseScore,
			Rank:       i + 1,
		}
	}
	return &reranker.Ranking{Results: results}
}

func (w *Workflow) persistStage(ctx context.Context, queryID uuid.UUID, sessionID string, ranking *reranker.Ranking, resp *Response) {
	t := time.Now()
	persisted := 0
	degraded := 0

	for _, res := range ranking.Results {
		rec := Recommendation{
			DocumentID:  res.Document.ID,
			Title:       res.Document.Title,
			URL:         res.Document.URL,
			Source:      res.Document.Source,
			Language:    res.Document.Language,
			DenseScore:  res.DenseScore,
			RerankScore: res.RerankScore,
			FinalScore:  res.FinalScore,
			Rank:        res.Rank,
		}

		infID, err := w.ledger.RecordInference(ctx, ledger.InferenceRecord{
			QueryID:     queryID,
			DocumentID:  res.Document.ID,
			DenseScore:  res.DenseScore,
			RerankScore: res.RerankScore,
			FinalScore:  res.FinalScore,
			Rank:        res.Rank,
			SessionID:   sessionID,
		})
		if err != nil {
			// The recommendation still ships, just without a feedback handle.
			degraded++
			resp.Errors = append(resp.Errors, fmt.Sprintf("persist rank %d: %s", res.Rank, err))
			slog.Warn("failed to record inference",
				"query_id", queryID, "document_id", res.Document.ID, "error", err)
		} else {
			rec.InferenceID = infID
			persisted++
		}
		resp.Results = append(resp.Results, rec)
	}

	report := StageReport{Name: StagePersist, Status: StatusOk, Count: persisted, Duration: time.Since(t)}
	if degraded > 0 {
		report.Status = StatusDegraded
		report.Reason = fmt.Sprintf("%d inference write(s) failed", degraded)
	}
	resp.Stages = append(resp.Stages, report)
}
