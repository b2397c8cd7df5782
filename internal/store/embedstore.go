package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pborenstein/temoa/internal/errors"
)

// On-disk layout, per vault and model:
//
//	{vault}/.temoa/{model}/embeddings.f32   matrix
//	{vault}/.temoa/{model}/metadata.json    parallel metadata list
//	{vault}/.temoa/{model}/index.json       vault metadata + file tracking + counts
const (
	StateDirName   = ".temoa"
	matrixFileName = "embeddings.f32"
	metaFileName   = "metadata.json"
	indexFileName  = "index.json"
)

// matrix file header
var matrixMagic = [4]byte{'T', 'E', 'M', 'O'}

const matrixVersion = 1

// EmbeddingStore owns the persisted triple for one (vault, model) pair.
// The incremental indexer is the only collaborator that calls its mutating
// operations; the query pipeline only reads the loaded Index.
type EmbeddingStore struct {
	vaultPath string // absolute, resolved
	modelName string
	dir       string
}

// NewEmbeddingStore creates a store rooted under the vault's state directory.
func NewEmbeddingStore(vaultPath, modelName string) *EmbeddingStore {
	return &EmbeddingStore{
		vaultPath: vaultPath,
		modelName: modelName,
		dir:       filepath.Join(vaultPath, StateDirName, modelName),
	}
}

// Dir returns the store's on-disk directory.
func (s *EmbeddingStore) Dir() string {
	return s.dir
}

// indexFile is the serialized shape of index.json.
type indexFile struct {
	VaultMetadata VaultMetadata         `json:"vault_metadata"`
	FileTracking  map[string]*FileTrack `json:"file_tracking"`
	Counts        indexCounts           `json:"counts"`
}

type indexCounts struct {
	Rows  int `json:"rows"`
	Files int `json:"files"`
}

// Load reads the persisted triple. Returns ErrNoIndex when nothing has been
// saved yet. A vault-path mismatch fails closed unless force is set; a
// missing vault path on an otherwise valid index triggers a one-shot
// migration that records the caller's vault path.
func (s *EmbeddingStore) Load(force bool) (*Index, error) {
	idxPath := filepath.Join(s.dir, indexFileName)
	data, err := os.ReadFile(idxPath)
	if os.IsNotExist(err) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, errors.IndexError("cannot read index.json", err)
	}

	var ixf indexFile
	if err := json.Unmarshal(data, &ixf); err != nil {
		return nil, errors.IndexError("index.json is corrupt", err)
	}

	migrated := false
	if ixf.VaultMetadata.VaultPath == "" {
		// Legacy index without the sidecar fields: adopt the caller's path.
		ixf.VaultMetadata.VaultPath = s.vaultPath
		ixf.VaultMetadata.ModelName = s.modelName
		migrated = true
		slog.Info("index_sidecar_migrated",
			slog.String("vault", s.vaultPath),
			slog.String("model", s.modelName))
	} else if ixf.VaultMetadata.VaultPath != s.vaultPath && !force {
		return nil, errors.VaultMismatchError(ixf.VaultMetadata.VaultPath, s.vaultPath)
	}

	matrix, dims, err := s.loadMatrix()
	if err != nil {
		return nil, err
	}

	metadata, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}

	if len(matrix) != len(metadata) {
		return nil, errors.IndexError(
			fmt.Sprintf("matrix has %d rows but metadata has %d records", len(matrix), len(metadata)), nil)
	}
	if ixf.VaultMetadata.EmbeddingDimension == 0 {
		ixf.VaultMetadata.EmbeddingDimension = dims
		migrated = true
	}

	ix := &Index{
		Matrix:   matrix,
		Metadata: metadata,
		Meta:     ixf.VaultMetadata,
	}
	// Positions from disk may predate the last mutation; the metadata list
	// is canonical.
	ix.RebuildTracking()

	if migrated {
		if err := s.writeIndexJSON(ix); err != nil {
			slog.Warn("index_sidecar_migration_write_failed",
				slog.String("error", err.Error()))
		}
	}

	return ix, nil
}

// Save atomically rewrites all three files. The file-tracking table is
// rebuilt from the metadata list first; row positions on disk are canonical.
// An interrupted save leaves the previous consistent state intact.
func (s *EmbeddingStore) Save(ix *Index) error {
	if len(ix.Matrix) != len(ix.Metadata) {
		return errors.IndexError(
			fmt.Sprintf("refusing to save misaligned index: %d rows, %d records", len(ix.Matrix), len(ix.Metadata)), nil)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot create index directory", err)
	}

	ix.RebuildTracking()

	now := time.Now().UTC()
	if ix.Meta.CreatedAt.IsZero() {
		ix.Meta.CreatedAt = now
	}
	ix.Meta.UpdatedAt = now
	ix.Meta.VaultPath = s.vaultPath
	ix.Meta.ModelName = s.modelName
	if ix.Meta.EmbeddingDimension == 0 && len(ix.Matrix) > 0 {
		ix.Meta.EmbeddingDimension = len(ix.Matrix[0])
	}

	if err := s.writeMatrix(ix.Matrix, ix.Meta.EmbeddingDimension); err != nil {
		return err
	}
	if err := s.writeMetadata(ix.Metadata); err != nil {
		return err
	}
	return s.writeIndexJSON(ix)
}

// loadMatrix reads embeddings.f32.
func (s *EmbeddingStore) loadMatrix() ([][]float32, int, error) {
	path := filepath.Join(s.dir, matrixFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, errors.IndexError("cannot read embedding matrix", err)
	}
	if len(data) < 12 {
		return nil, 0, errors.IndexError("embedding matrix truncated", nil)
	}
	if [4]byte(data[:4]) != matrixMagic {
		return nil, 0, errors.IndexError("embedding matrix has wrong magic", nil)
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != matrixVersion {
		return nil, 0, errors.IndexError(
			fmt.Sprintf("unsupported matrix version %d", version), nil)
	}
	dims := int(binary.LittleEndian.Uint16(data[6:8]))
	rows := int(binary.LittleEndian.Uint32(data[8:12]))

	want := 12 + rows*dims*4
	if len(data) != want {
		return nil, 0, errors.IndexError(
			fmt.Sprintf("embedding matrix size mismatch: want %d bytes, have %d", want, len(data)), nil)
	}

	matrix := make([][]float32, rows)
	off := 12
	for i := 0; i < rows; i++ {
		row := make([]float32, dims)
		for j := 0; j < dims; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		matrix[i] = row
	}
	return matrix, dims, nil
}

// writeMatrix writes embeddings.f32 atomically.
func (s *EmbeddingStore) writeMatrix(matrix [][]float32, dims int) error {
	rows := len(matrix)
	buf := make([]byte, 12+rows*dims*4)
	copy(buf[:4], matrixMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], matrixVersion)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(dims))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rows))

	off := 12
	for _, row := range matrix {
		if len(row) != dims {
			return errors.IndexError(
				fmt.Sprintf("row has %d dimensions, matrix has %d", len(row), dims), nil)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}

	return s.atomicWrite(matrixFileName, buf)
}

// loadMetadata reads metadata.json.
func (s *EmbeddingStore) loadMetadata() ([]*Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFileName))
	if err != nil {
		return nil, errors.IndexError("cannot read metadata list", err)
	}
	var metadata []*Entry
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, errors.IndexError("metadata list is corrupt", err)
	}
	return metadata, nil
}

// writeMetadata writes metadata.json atomically.
func (s *EmbeddingStore) writeMetadata(metadata []*Entry) error {
	if metadata == nil {
		metadata = []*Entry{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot encode metadata list", err)
	}
	return s.atomicWrite(metaFileName, data)
}

// writeIndexJSON writes index.json atomically.
func (s *EmbeddingStore) writeIndexJSON(ix *Index) error {
	ixf := indexFile{
		VaultMetadata: ix.Meta,
		FileTracking:  ix.Tracking,
		Counts: indexCounts{
			Rows:  len(ix.Metadata),
			Files: len(ix.Tracking),
		},
	}
	if ixf.FileTracking == nil {
		ixf.FileTracking = map[string]*FileTrack{}
	}
	data, err := json.MarshalIndent(ixf, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot encode index.json", err)
	}
	return s.atomicWrite(indexFileName, data)
}

// atomicWrite writes data to name via temp file, fsync, and rename.
func (s *EmbeddingStore) atomicWrite(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(errors.ErrCodeIndexWrite, "cannot write "+name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.New(errors.ErrCodeIndexWrite, "cannot sync "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot close "+name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return errors.New(errors.ErrCodeIndexWrite, "cannot replace "+name, err)
	}
	return nil
}
