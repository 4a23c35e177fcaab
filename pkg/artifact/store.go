package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// metaSuffix is appended to an artifact filename for its sidecar.
const metaSuffix = ".meta.json"

// DefaultChunkSize is the fetch chunk size. It stays well under the
// transport frame limit with CBOR overhead included.
const DefaultChunkSize = 32768

// Store errors.
var (
	// ErrNotFound indicates no artifact exists under the given id.
	ErrNotFound = errors.New("artifact not found")

	// ErrOffsetOutOfRange indicates a fetch offset past the artifact end.
	ErrOffsetOutOfRange = errors.New("artifact offset out of range")
)

// Meta describes one stored artifact.
type Meta struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	DeviceID  string    `json:"deviceId"`
	Filename  string    `json:"filename"`
	Size      uint64    `json:"size"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is a disk-backed artifact store. An artifact is written to a
// temp file and renamed into place, so it is fully present or absent;
// a JSON sidecar carries its metadata. Artifacts are immutable once
// written and retained until purged.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	index map[string]Meta
}

// NewStore opens an artifact store in the given directory, creating it
// if needed and rebuilding the index from the metadata sidecars.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	s := &Store{dir: dir, logger: logger, index: make(map[string]Meta)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read artifact dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable artifact metadata", "file", e.Name(), "error", err)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("skipping malformed artifact metadata", "file", e.Name(), "error", err)
			continue
		}
		// Sidecar without its data file is a leftover from an
		// interrupted purge
		if _, err := os.Stat(filepath.Join(s.dir, meta.Filename)); err != nil {
			s.logger.Warn("skipping orphaned artifact metadata", "file", e.Name())
			continue
		}
		s.index[meta.ID] = meta
	}
	return nil
}

// Write stores a new artifact. The writer callback produces the file
// content; it is streamed to a temp file and hashed on the way. Only
// after a successful write, fsync, and rename does the artifact become
// visible. On any error the temp file is removed and nothing is
// stored.
func (s *Store) Write(jobID, deviceID, filename string, write func(io.Writer) error) (Meta, error) {
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return Meta{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		cleanup()
		return Meta{}, err
	}

	if err := write(io.MultiWriter(tmp, hasher)); err != nil {
		cleanup()
		return Meta{}, fmt.Errorf("artifact write failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return Meta{}, fmt.Errorf("artifact sync failed: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		cleanup()
		return Meta{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Meta{}, err
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, filename)); err != nil {
		os.Remove(tmpName)
		return Meta{}, fmt.Errorf("artifact rename failed: %w", err)
	}

	meta := Meta{
		ID:        uuid.New().String(),
		JobID:     jobID,
		DeviceID:  deviceID,
		Filename:  filename,
		Size:      uint64(info.Size()),
		Digest:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt: time.Now(),
	}
	if err := s.writeMeta(meta); err != nil {
		os.Remove(filepath.Join(s.dir, filename))
		return Meta{}, err
	}

	s.mu.Lock()
	s.index[meta.ID] = meta
	s.mu.Unlock()

	s.logger.Info("artifact stored",
		"artifact_id", meta.ID, "job_id", jobID, "device_id", deviceID,
		"filename", filename, "size", meta.Size)
	return meta, nil
}

func (s *Store) writeMeta(meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, meta.Filename+metaSuffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact metadata: %w", err)
	}
	return nil
}

// Get returns the metadata of one artifact.
func (s *Store) Get(id string) (Meta, error) {
	s.mu.RLock()
	meta, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return meta, nil
}

// List returns all stored artifacts sorted by creation time.
func (s *Store) List() []Meta {
	s.mu.RLock()
	metas := make([]Meta, 0, len(s.index))
	for _, m := range s.index {
		metas = append(metas, m)
	}
	s.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].ID < metas[j].ID
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas
}

// ReadChunk reads up to maxBytes of artifact data starting at offset.
// eof is set when the chunk reaches the end of the artifact. A zero
// maxBytes uses DefaultChunkSize.
func (s *Store) ReadChunk(id string, offset uint64, maxBytes uint32) (data []byte, eof bool, err error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}
	if offset > meta.Size {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrOffsetOutOfRange, offset, meta.Size)
	}
	if maxBytes == 0 {
		maxBytes = DefaultChunkSize
	}

	f, err := os.Open(filepath.Join(s.dir, meta.Filename))
	if err != nil {
		return nil, false, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	remaining := meta.Size - offset
	n := uint64(maxBytes)
	if n > remaining {
		n = remaining
	}

	data = make([]byte, n)
	if _, err := f.ReadAt(data, int64(offset)); err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("artifact read failed: %w", err)
	}
	return data, offset+n >= meta.Size, nil
}

// Purge removes an artifact and its metadata.
func (s *Store) Purge(id string) error {
	s.mu.Lock()
	meta, ok := s.index[id]
	if ok {
		delete(s.index, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Metadata first, so a crash never leaves an indexed artifact
	// without data
	if err := os.Remove(filepath.Join(s.dir, meta.Filename+metaSuffix)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, meta.Filename)); err != nil && !os.IsNotExist(err) {
		return err
	}

	s.logger.Info("artifact purged", "artifact_id", id, "filename", meta.Filename)
	return nil
}

// PurgeAll removes every stored artifact and returns how many were
// purged.
func (s *Store) PurgeAll() (int, error) {
	metas := s.List()
	for i, m := range metas {
		if err := s.Purge(m.ID); err != nil {
			return i, err
		}
	}
	return len(metas), nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}
