package crossencoder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newScorer(t *testing.T, score float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/score":
			var req scoreRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad score request: %v", err)
			}
			if req.Query == "" || req.Text == "" {
				t.Error("score request missing query or text")
			}
			json.NewEncoder(w).Encode(scoreResponse{Score: score})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestScore(t *testing.T) {
	srv := newScorer(t, 3.5)
	defer srv.Close()

	g := NewHTTPGateway(context.Background(), HTTPConfig{BaseURL: srv.URL})
	if !g.Available() {
		t.Fatal("expected gateway available")
	}

	score, err := g.Score(context.Background(), "what is calculus", "Calculus. A branch of mathematics.")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if math.Abs(score-3.5) > 1e-9 {
		t.Errorf("score = %v, want 3.5", score)
	}
}

func TestAvailability_UnreachableScorer(t *testing.T) {
	srv := newScorer(t, 0)
	srv.Close() // nothing listening

	g := NewHTTPGateway(context.Background(), HTTPConfig{
		BaseURL:       srv.URL,
		ProbeInterval: time.Hour,
	})
	if g.Available() {
		t.Error("expected gateway unavailable")
	}
}

func TestAvailability_ReprobesAfterInterval(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" && healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGateway(context.Background(), HTTPConfig{
		BaseURL:       srv.URL,
		ProbeInterval: time.Nanosecond,
	})
	if g.Available() {
		t.Fatal("expected gateway unavailable while scorer is down")
	}

	healthy.Store(true)
	time.Sleep(time.Millisecond)
	if !g.Available() {
		t.Error("expected gateway to recover after re-probe")
	}
}

func TestScore_TransportErrorMarksUnavailable(t *testing.T) {
	srv := newScorer(t, 1.0)
	g := NewHTTPGateway(context.Background(), HTTPConfig{
		BaseURL:       srv.URL,
		ProbeInterval: time.Hour,
	})
	if !g.Available() {
		t.Fatal("expected gateway available")
	}

	srv.Close()
	if _, err := g.Score(context.Background(), "q", "d"); err == nil {
		t.Fatal("expected transport error")
	}
	if g.Available() {
		t.Error("expected gateway unavailable after transport error")
	}
}

func TestScore_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewHTTPGateway(context.Background(), HTTPConfig{BaseURL: srv.URL})
	if _, err := g.Score(context.Background(), "q", "d"); err == nil {
		t.Error("expected error on scorer failure status")
	}
	// A scorer that answers with an error is still reachable.
	if !g.Available() {
		t.Error("expected gateway to stay available on application errors")
	}
}
