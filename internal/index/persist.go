package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Persisted layout: two co-located artifacts written and read as a unit.
// <path>.vec holds a fixed header followed by row-major float32
// little-endian vector data; <path>.ids holds the parallel document id
// list as a JSON array. Loading one without the other means "no index".

const (
	vecMagic   uint32 = 0x45445649 // "EDVI"
	vecVersion uint32 = 1
)

type vecHeader struct {
	Magic     uint32
	Version   uint32
	Dimension uint32
	Count     uint32
}

// Persist writes the live snapshot to disk. Both artifacts are written to
// temporary files and renamed into place, so a crash mid-write never
// leaves a truncated index behind. Without a snapshot this is a no-op.
func (ix *Index) Persist() error {
	snap := ix.snap.Load()
	if snap == nil {
		return nil
	}

	if len(snap.vectors) != len(snap.ids)*ix.dim {
		return ErrCardinalityMismatch
	}

	if dir := filepath.Dir(ix.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	if err := writeVectors(ix.path+".vec", ix.dim, snap); err != nil {
		return err
	}
	if err := writeIDs(ix.path+".ids", snap.ids); err != nil {
		return err
	}

	slog.Info("vector index persisted", "vectors", len(snap.ids), "path", ix.path)
	return nil
}

// Load reads the persisted snapshot from disk and swaps it in. It fails
// closed: missing, unreadable, or mutually inconsistent artifacts return
// false without an error, and the caller falls back to RebuildFromStore.
func (ix *Index) Load() bool {
	dim, count, vectors, err := readVectors(ix.path + ".vec")
	if err != nil {
		slog.Info("no persisted index loaded", "path", ix.path, "reason", err)
		return false
	}
	if dim != ix.dim {
		slog.Warn("persisted index has wrong dimension", "got", dim, "want", ix.dim)
		return false
	}

	ids, err := readIDs(ix.path + ".ids")
	if err != nil {
		slog.Info("no persisted id list loaded", "path", ix.path, "reason", err)
		return false
	}
	if len(ids) != count {
		slog.Error("persisted index and id list disagree", "vectors", count, "ids", len(ids))
		return false
	}

	ix.writeMu.Lock()
	ix.snap.Store(&snapshot{ids: ids, vectors: vectors})
	ix.writeMu.Unlock()

	slog.Info("vector index loaded", "vectors", count, "path", ix.path)
	return true
}

func writeVectors(path string, dim int, snap *snapshot) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}

	w := bufio.NewWriter(f)
	header := vecHeader{
		Magic:     vecMagic,
		Version:   vecVersion,
		Dimension: uint32(dim),
		Count:     uint32(len(snap.ids)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write vector header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, snap.vectors); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write vector data: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush vector file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close vector file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace vector file: %w", err)
	}
	return nil
}

func readVectors(path string) (dim, count int, vectors []float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header vecHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read vector header: %w", err)
	}
	if header.Magic != vecMagic {
		return 0, 0, nil, fmt.Errorf("not a vector index file")
	}
	if header.Version != vecVersion {
		return 0, 0, nil, fmt.Errorf("unsupported vector index version %d", header.Version)
	}

	vectors = make([]float32, int(header.Count)*int(header.Dimension))
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read vector data: %w", err)
	}
	return int(header.Dimension), int(header.Count), vectors, nil
}

func writeIDs(path string, ids []uuid.UUID) error {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	data, err := json.Marshal(strs)
	if err != nil {
		return fmt.Errorf("failed to marshal id list: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write id list: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace id list: %w", err)
	}
	return nil
}

func readIDs(path string) ([]uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal id list: %w", err)
	}

	ids := make([]uuid.UUID, len(strs))
	for i, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q in id list: %w", s, err)
		}
		ids[i] = id
	}
	return ids, nil
}
