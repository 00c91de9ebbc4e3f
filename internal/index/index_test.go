package index

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
)

// fakeDocs serves canned (id, vector) pairs for rebuilds and adds.
type fakeDocs struct {
	repository.DocumentRepository
	vectors []repository.IDVector
}

func (f *fakeDocs) ListWithEmbeddings(ctx context.Context) ([]repository.IDVector, error) {
	return f.vectors, nil
}

func (f *fakeDocs) GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.IDVector, error) {
	var out []repository.IDVector
	for _, iv := range f.vectors {
		for _, id := range ids {
			if iv.ID == id {
				out = append(out, iv)
			}
		}
	}
	return out, nil
}

func newTestIndex(t *testing.T, dim int, vectors []repository.IDVector) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index")
	return New(dim, path, &fakeDocs{vectors: vectors})
}

func TestSearch_OrderingAndClamping(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	ix := newTestIndex(t, 2, []repository.IDVector{
		{ID: ids[0], Vector: []float32{1, 0}},
		{ID: ids[1], Vector: []float32{0, 1}},
		{ID: ids[2], Vector: []float32{1, 1}},
	})
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	results, err := ix.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected k clamped to 3 results, got %d", len(results))
	}
	if results[0].ID != ids[0] {
		t.Errorf("expected best match %s first, got %s", ids[0], results[0].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not in descending score order at %d", i)
		}
	}

	// k smaller than the index returns exactly k.
	results, err = ix.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestSearch_SelfMatchScore(t *testing.T) {
	id := uuid.New()
	vec := []float32{0.3, 0.4, 0.5, 0.1}
	ix := newTestIndex(t, 4, []repository.IDVector{{ID: id, Vector: vec}})
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	results, err := ix.Search(vec, 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("self-match score = %v, want ~1.0", results[0].Score)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := newTestIndex(t, 2, nil)

	// No snapshot at all.
	results, err := ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results on uninitialized index, got %v", results)
	}

	// Valid but empty snapshot.
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	results, err = ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results on empty index, got %d", len(results))
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	ix := newTestIndex(t, 3, []repository.IDVector{
		{ID: uuid.New(), Vector: []float32{1, 0, 0}},
	})
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	if _, err := ix.Search([]float32{1, 0}, 1); err == nil {
		t.Error("expected error for wrong query dimension")
	}
}

func TestAdd_EmptyIsNoOp(t *testing.T) {
	ix := newTestIndex(t, 2, nil)
	added, err := ix.Add(context.Background(), nil)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if added != 0 {
		t.Errorf("expected 0 added, got %d", added)
	}
	if ix.Size() != 0 {
		t.Errorf("expected size 0, got %d", ix.Size())
	}
}

func TestAdd_ExtendsExistingSnapshot(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	docs := &fakeDocs{vectors: []repository.IDVector{
		{ID: first, Vector: []float32{1, 0}},
	}}
	ix := New(2, filepath.Join(t.TempDir(), "index"), docs)
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	docs.vectors = append(docs.vectors, repository.IDVector{ID: second, Vector: []float32{0, 1}})
	added, err := ix.Add(context.Background(), []uuid.UUID{second})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if added != 1 {
		t.Errorf("expected 1 added, got %d", added)
	}
	if ix.Size() != 2 {
		t.Errorf("expected size 2, got %d", ix.Size())
	}

	results, err := ix.Search([]float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != second {
		t.Errorf("expected added vector to be searchable, got %v", results)
	}
}

func TestRebuild_SkipsWrongDimension(t *testing.T) {
	good := uuid.New()
	ix := newTestIndex(t, 2, []repository.IDVector{
		{ID: good, Vector: []float32{1, 0}},
		{ID: uuid.New(), Vector: []float32{1, 0, 0}}, // wrong dimension
	})

	count, err := ix.RebuildFromStore(context.Background())
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 vector indexed, got %d", count)
	}
	if ix.Size() != 1 {
		t.Errorf("expected size 1, got %d", ix.Size())
	}
}

func TestPersistLoad_ScoreParity(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	vectors := []repository.IDVector{
		{ID: ids[0], Vector: []float32{0.9, 0.1, 0.2}},
		{ID: ids[1], Vector: []float32{0.1, 0.8, 0.3}},
		{ID: ids[2], Vector: []float32{0.4, 0.4, 0.4}},
	}
	path := filepath.Join(t.TempDir(), "nested", "index")
	ix := New(3, path, &fakeDocs{vectors: vectors})
	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	query := []float32{0.5, 0.2, 0.7}
	before, err := ix.Search(query, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if err := ix.Persist(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	// A fresh index with an empty store must come back from disk alone.
	reloaded := New(3, path, &fakeDocs{})
	if !reloaded.Load() {
		t.Fatal("expected load to succeed")
	}
	after, err := reloaded.Search(query, 3)
	if err != nil {
		t.Fatalf("search after load failed: %v", err)
	}

	if len(after) != len(before) {
		t.Fatalf("result count changed after reload: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Errorf("result %d: id changed after reload", i)
		}
		if math.Abs(before[i].Score-after[i].Score) > 1e-6 {
			t.Errorf("result %d: score %v vs %v after reload", i, before[i].Score, after[i].Score)
		}
	}
}

func TestLoad_FailsClosed(t *testing.T) {
	t.Run("missing files", func(t *testing.T) {
		ix := New(2, filepath.Join(t.TempDir(), "absent"), &fakeDocs{})
		if ix.Load() {
			t.Error("expected load to fail for missing files")
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index")
		ix := New(2, path, &fakeDocs{vectors: []repository.IDVector{
			{ID: uuid.New(), Vector: []float32{1, 0}},
		}})
		if _, err := ix.RebuildFromStore(context.Background()); err != nil {
			t.Fatalf("rebuild failed: %v", err)
		}
		if err := ix.Persist(); err != nil {
			t.Fatalf("persist failed: %v", err)
		}

		other := New(3, path, &fakeDocs{})
		if other.Load() {
			t.Error("expected load to fail for mismatched dimension")
		}
		if other.Size() != 0 {
			t.Errorf("failed load must not install a snapshot, size %d", other.Size())
		}
	})
}

func TestStats(t *testing.T) {
	ix := newTestIndex(t, 2, []repository.IDVector{
		{ID: uuid.New(), Vector: []float32{1, 0}},
	})

	stats := ix.Stats()
	if stats.Initialized {
		t.Error("expected uninitialized stats before rebuild")
	}
	if stats.Dimension != 2 {
		t.Errorf("expected dimension 2, got %d", stats.Dimension)
	}

	if _, err := ix.RebuildFromStore(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	stats = ix.Stats()
	if !stats.Initialized || stats.Size != 1 {
		t.Errorf("unexpected stats after rebuild: %+v", stats)
	}
}
