package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eduranker/eduranker/internal/index"
	"github.com/eduranker/eduranker/internal/ledger"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
)

// fakeInferences is an in-memory InferenceRepository.
type fakeInferences struct {
	records map[uuid.UUID]*repository.Inference
}

func newFakeInferences() *fakeInferences {
	return &fakeInferences{records: make(map[uuid.UUID]*repository.Inference)}
}

func (f *fakeInferences) Create(ctx context.Context, inf *repository.Inference) error {
	f.records[inf.ID] = inf
	return nil
}

func (f *fakeInferences) GetByID(ctx context.Context, id uuid.UUID) (*repository.Inference, error) {
	inf, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return inf, nil
}

func (f *fakeInferences) UpdateFeedback(ctx context.Context, id uuid.UUID, fb repository.Feedback) error {
	inf, ok := f.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	inf.Feedback = &fb
	return nil
}

func (f *fakeInferences) ListByQuery(ctx context.Context, queryID uuid.UUID) ([]*repository.Inference, error) {
	return nil, nil
}

func (f *fakeInferences) Stats(ctx context.Context) (*repository.FeedbackStats, error) {
	stats := &repository.FeedbackStats{}
	for _, inf := range f.records {
		if inf.Feedback == nil {
			continue
		}
		stats.Total++
		switch *inf.Feedback {
		case repository.FeedbackLike:
			stats.Likes++
		case repository.FeedbackDislike:
			stats.Dislikes++
		}
	}
	stats.TrainingPairs = stats.Likes + stats.Dislikes
	return stats, nil
}

func (f *fakeInferences) TrainingPairs(ctx context.Context) ([]repository.TrainingPair, error) {
	return nil, nil
}

// fakeIndexAdmin reports canned stats.
type fakeIndexAdmin struct {
	stats index.Stats
}

func (f *fakeIndexAdmin) Stats() index.Stats {
	return f.stats
}

func (f *fakeIndexAdmin) RebuildFromStore(ctx context.Context) (int, error) {
	return f.stats.Size, nil
}

func newTestServer(repo *fakeInferences) *httptest.Server {
	h := NewHandler(nil, ledger.New(repo), &fakeIndexAdmin{stats: index.Stats{Initialized: true, Size: 7, Dimension: 3}}, 10)
	srv := NewHTTPServer(HTTPServerConfig{Port: 0}, h)
	return httptest.NewServer(srv.GetRouter())
}

func TestSubmitFeedback(t *testing.T) {
	repo := newFakeInferences()
	inf := &repository.Inference{ID: uuid.New(), QueryID: uuid.New()}
	repo.records[inf.ID] = inf

	srv := newTestServer(repo)
	defer srv.Close()

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+"/api/v1/feedback", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}

	t.Run("records valid feedback", func(t *testing.T) {
		resp := post(`{"inference_id":"` + inf.ID.String() + `","feedback":"like"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status %d, want 200", resp.StatusCode)
		}
		if inf.Feedback == nil || *inf.Feedback != repository.FeedbackLike {
			t.Error("feedback not stored")
		}
	})

	t.Run("unknown inference", func(t *testing.T) {
		resp := post(`{"inference_id":"` + uuid.NewString() + `","feedback":"like"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("bad label", func(t *testing.T) {
		resp := post(`{"inference_id":"` + inf.ID.String() + `","feedback":"meh"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400", resp.StatusCode)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := post(`{}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400", resp.StatusCode)
		}
	})
}

func TestFeedbackStats(t *testing.T) {
	repo := newFakeInferences()
	like := repository.FeedbackLike
	for i := 0; i < 12; i++ {
		inf := &repository.Inference{ID: uuid.New(), Feedback: &like}
		repo.records[inf.ID] = inf
	}

	srv := newTestServer(repo)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/feedback/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	var body struct {
		Stats              repository.FeedbackStats `json:"stats"`
		RefinementEligible bool                     `json:"refinement_eligible"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Stats.TrainingPairs != 12 {
		t.Errorf("training pairs = %d, want 12", body.Stats.TrainingPairs)
	}
	if !body.RefinementEligible {
		t.Error("expected eligibility at 12 pairs")
	}
}

func TestIndexStats(t *testing.T) {
	srv := newTestServer(newFakeInferences())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/index/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var stats index.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !stats.Initialized || stats.Size != 7 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(newFakeInferences())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}
}
