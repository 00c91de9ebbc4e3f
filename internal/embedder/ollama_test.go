package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}

	zero := Normalize([]float32{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Errorf("zero vector changed: %v", zero)
		}
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{})
	for _, text := range []string{"", "   "} {
		v, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Errorf("Embed(%q): unexpected error %v", text, err)
		}
		if v != nil {
			t.Errorf("Embed(%q): expected nil vector, got %v", text, v)
		}
	}
}

func TestEmbed_NormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Prompt != "hello" {
			t.Errorf("prompt = %q, want hello", req.Prompt)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("embedding not unit length, squared norm %v", norm)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error on server failure")
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Encode the prompt length into the vector so order is checkable.
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{float64(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, BatchConcurrency: 2})
	texts := []string{"a", "bb", "cccc"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("batch embed failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		want := float64(len(text)) / math.Sqrt(float64(len(text)*len(text))+1)
		if math.Abs(float64(vectors[i][0])-want) > 1e-6 {
			t.Errorf("vector %d out of order: got %v, want first component %v", i, vectors[i], want)
		}
	}
}
