package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english question", "what is the best way to learn calculus", "en"},
		{"french question", "comment apprendre le calcul dans une semaine", "fr"},
		{"french with punctuation", "pourquoi est-ce que la terre est ronde ?", "fr"},
		{"no stopwords defaults to english", "linear algebra eigenvalues", "en"},
		{"empty defaults to english", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestCapture_EmptyQuestion(t *testing.T) {
	svc := NewQueryService(&fakeQueryRepo{}, &fakeEmbedder{vector: []float32{1}}, time.Hour)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, _, err := svc.Capture(context.Background(), q)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Capture(%q): expected ErrInvalidInput, got %v", q, err)
		}
	}
}

func TestCapture_EmbedsAndDetects(t *testing.T) {
	repo := &fakeQueryRepo{}
	svc := NewQueryService(repo, &fakeEmbedder{vector: []float32{0.1, 0.2}}, time.Hour)

	q, dedup, err := svc.Capture(context.Background(), "  what is a matrix  ")
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if dedup {
		t.Error("expected no dedup hit on first capture")
	}
	if q.Question != "what is a matrix" {
		t.Errorf("question not trimmed: %q", q.Question)
	}
	if q.Language != "en" {
		t.Errorf("language = %s, want en", q.Language)
	}
	if len(q.Embedding) != 2 {
		t.Errorf("embedding not attached, len %d", len(q.Embedding))
	}
	if len(repo.saved) != 1 {
		t.Errorf("expected 1 saved query, got %d", len(repo.saved))
	}
}

func TestCapture_EmbedFailure(t *testing.T) {
	svc := NewQueryService(&fakeQueryRepo{}, &fakeEmbedder{err: errors.New("ollama down")}, time.Hour)

	_, _, err := svc.Capture(context.Background(), "what is a tensor")
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("embed failure must not look like invalid input")
	}
}
