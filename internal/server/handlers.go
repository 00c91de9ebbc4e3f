package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/eduranker/eduranker/internal/index"
	"github.com/eduranker/eduranker/internal/ledger"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/eduranker/eduranker/internal/service"
)

// IndexAdmin is the administrative slice of the vector index.
type IndexAdmin interface {
	Stats() index.Stats
	RebuildFromStore(ctx context.Context) (int, error)
}

// Handler holds the HTTP handlers for the recommendation API
type Handler struct {
	workflow *service.Workflow
	ledger   *ledger.Ledger
	idx      IndexAdmin
	minPairs int
	validate *validator.Validate
}

// NewHandler creates the API handler set.
func NewHandler(workflow *service.Workflow, lg *ledger.Ledger, idx IndexAdmin, minPairs int) *Handler {
	return &Handler{
		workflow: workflow,
		ledger:   lg,
		idx:      idx,
		minPairs: minPairs,
		validate: validator.New(),
	}
}

type recommendRequest struct {
	Question     string   `json:"question" validate:"required"`
	TopKDense    int      `json:"top_k_dense" validate:"omitempty,min=1,max=200"`
	TopKFinal    int      `json:"top_k_final" validate:"omitempty,min=1,max=50"`
	Sources      []string `json:"sources"`
	SessionID    string   `json:"session_id"`
	MaxPerSource int      `json:"max_per_source" validate:"omitempty,min=1,max=50"`
}

// Recommend runs the recommendation workflow for a question.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.workflow.Run(r.Context(), service.Request{
		Question:     req.Question,
		TopKDense:    req.TopKDense,
		TopKFinal:    req.TopKFinal,
		Sources:      req.Sources,
		SessionID:    req.SessionID,
		MaxPerSource: req.MaxPerSource,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("workflow run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "recommendation failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	InferenceID string `json:"inference_id" validate:"required,uuid"`
	Feedback    string `json:"feedback" validate:"required"`
}

// SubmitFeedback records user feedback on an inference.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := uuid.Parse(req.InferenceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inference_id")
		return
	}

	err = h.ledger.RecordFeedback(r.Context(), id, repository.Feedback(req.Feedback))
	switch {
	case errors.Is(err, ledger.ErrInvalidFeedback):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "inference not found")
	case err != nil:
		slog.Error("failed to record feedback", "inference_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// FeedbackStats returns aggregate feedback counts and refinement eligibility.
func (h *Handler) FeedbackStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		slog.Error("failed to load feedback stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	eligible, err := h.ledger.RefinementEligible(r.Context(), h.minPairs)
	if err != nil {
		slog.Error("failed to check refinement eligibility", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":               stats,
		"refinement_eligible": eligible,
		"min_training_pairs":  h.minPairs,
	})
}

// QueryInferences returns the recorded inferences of a query in rank order.
func (h *Handler) QueryInferences(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	inferences, err := h.ledger.InferencesForQuery(r.Context(), id)
	if err != nil {
		slog.Error("failed to list inferences", "query_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list inferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":   id,
		"inferences": inferences,
	})
}

// IndexStats returns the live vector index statistics.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.idx.Stats())
}

// RebuildIndex rebuilds the vector index from the document store.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	count, err := h.idx.RebuildFromStore(r.Context())
	if err != nil {
		slog.Error("index rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, "index rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vectors": count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
