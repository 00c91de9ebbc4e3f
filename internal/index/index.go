// Package index maintains the in-memory nearest-neighbor index over
// document embeddings.
//
// The index is a flat inner-product structure over L2-normalized vectors,
// so scores are cosine similarities. A snapshot holds the vectors and a
// parallel document-id list; searches read the live snapshot through an
// atomic pointer while rebuilds construct a replacement off to the side and
// publish it with a single swap. In-flight searches therefore never observe
// a partially populated index.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/eduranker/eduranker/internal/embedder"
	"github.com/eduranker/eduranker/internal/repository"
	"github.com/google/uuid"
)

// ErrCardinalityMismatch reports a breach of the index/id-list invariant.
// Operations that would break it abort without touching the live snapshot.
var ErrCardinalityMismatch = errors.New("index cardinality does not match id list")

// Result is one search hit.
type Result struct {
	ID    uuid.UUID
	Score float64
}

// Stats describes the current state of the index.
type Stats struct {
	Initialized bool `json:"initialized"`
	Size        int  `json:"size"`
	Dimension   int  `json:"dimension"`
}

// snapshot is an immutable (ids, vectors) pair. vectors is row-major with
// len(vectors) == len(ids)*dim.
type snapshot struct {
	ids     []uuid.UUID
	vectors []float32
}

// Index is the vector index. The document store remains the source of
// truth; the index can be rebuilt from it at any time.
type Index struct {
	dim  int
	path string
	docs repository.DocumentRepository

	writeMu sync.Mutex // serializes rebuild/add/load among themselves
	snap    atomic.Pointer[snapshot]
}

// New creates an index of the given dimension. path is the base path for
// the persisted artifacts (<path>.vec and <path>.ids); no snapshot is
// loaded or built yet.
func New(dim int, path string, docs repository.DocumentRepository) *Index {
	return &Index{dim: dim, path: path, docs: docs}
}

// RebuildFromStore replaces the entire index with the embeddings currently
// in the document store. Returns the number of vectors indexed. Zero
// eligible documents produce a valid empty index.
func (ix *Index) RebuildFromStore(ctx context.Context) (int, error) {
	vectors, err := ix.docs.ListWithEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list embeddings: %w", err)
	}

	snap, err := ix.buildSnapshot(nil, vectors)
	if err != nil {
		return 0, err
	}

	ix.writeMu.Lock()
	ix.snap.Store(snap)
	ix.writeMu.Unlock()

	slog.Info("vector index rebuilt", "vectors", len(snap.ids), "dimension", ix.dim)
	return len(snap.ids), nil
}

// Add appends the embeddings of the given documents to the existing index.
// An empty id list is a no-op. Without a prior snapshot this is a rebuild
// restricted to the given ids. Returns the number of vectors added.
func (ix *Index) Add(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	vectors, err := ix.docs.GetEmbeddingsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch embeddings: %w", err)
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	snap, err := ix.buildSnapshot(ix.snap.Load(), vectors)
	if err != nil {
		return 0, err
	}
	added := len(snap.ids)
	if base := ix.snap.Load(); base != nil {
		added -= len(base.ids)
	}
	ix.snap.Store(snap)

	slog.Info("vector index extended", "added", added, "total", len(snap.ids))
	return added, nil
}

// buildSnapshot constructs a new snapshot from an optional base plus new
// (id, vector) pairs. Vectors with the wrong dimension are skipped and
// logged; they must not block indexing of valid documents. The base
// snapshot is never mutated.
func (ix *Index) buildSnapshot(base *snapshot, vectors []repository.IDVector) (*snapshot, error) {
	var baseIDs []uuid.UUID
	var baseVecs []float32
	if base != nil {
		baseIDs = base.ids
		baseVecs = base.vectors
	}

	ids := make([]uuid.UUID, len(baseIDs), len(baseIDs)+len(vectors))
	copy(ids, baseIDs)
	vecs := make([]float32, len(baseVecs), len(baseVecs)+len(vectors)*ix.dim)
	copy(vecs, baseVecs)

	for _, iv := range vectors {
		if len(iv.Vector) != ix.dim {
			slog.Warn("skipping embedding with wrong dimension",
				"document_id", iv.ID, "got", len(iv.Vector), "want", ix.dim)
			continue
		}
		row := make([]float32, len(iv.Vector))
		copy(row, iv.Vector)
		ids = append(ids, iv.ID)
		vecs = append(vecs, embedder.Normalize(row)...)
	}

	if len(vecs) != len(ids)*ix.dim {
		return nil, ErrCardinalityMismatch
	}
	return &snapshot{ids: ids, vectors: vecs}, nil
}

// Search returns up to k (id, score) hits ordered by descending cosine
// similarity. k clamps to the index size. An empty or uninitialized index
// yields an empty result, not an error: callers treat it as "no candidates".
func (ix *Index) Search(vector []float32, k int) ([]Result, error) {
	snap := ix.snap.Load()
	if snap == nil || len(snap.ids) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("query vector has dimension %d, index has %d", len(vector), ix.dim)
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	embedder.Normalize(query)

	results := make([]Result, len(snap.ids))
	for i := range snap.ids {
		row := snap.vectors[i*ix.dim : (i+1)*ix.dim]
		var dot float64
		for j, q := range query {
			dot += float64(q) * float64(row[j])
		}
		results[i] = Result{ID: snap.ids[i], Score: dot}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Stats returns the current index statistics.
func (ix *Index) Stats() Stats {
	snap := ix.snap.Load()
	if snap == nil {
		return Stats{Dimension: ix.dim}
	}
	return Stats{Initialized: true, Size: len(snap.ids), Dimension: ix.dim}
}

// Size returns the number of indexed vectors.
func (ix *Index) Size() int {
	snap := ix.snap.Load()
	if snap == nil {
		return 0
	}
	return len(snap.ids)
}
