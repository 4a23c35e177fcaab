package artifact

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/blake2b"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)
	content := []byte("start time, end time\n15:04:05.000000, 15:04:06.000000\n")

	meta, err := s.Write("job-1", "/dev/sim0", "sensorA_05032021_090702.txt", func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if meta.Size != uint64(len(content)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(content))
	}

	sum := blake2b.Sum256(content)
	if meta.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("Digest = %s, want %s", meta.Digest, hex.EncodeToString(sum[:]))
	}

	data, eof, err := s.ReadChunk(meta.ID, 0, 0)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if !eof {
		t.Error("eof = false for full read")
	}
	if !bytes.Equal(data, content) {
		t.Errorf("data = %q, want %q", data, content)
	}
}

func TestReadChunked(t *testing.T) {
	s := newTestStore(t)
	content := []byte("0123456789")

	meta, err := s.Write("job-1", "/dev/sim0", "a.txt", func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got []byte
	var offset uint64
	for {
		data, eof, err := s.ReadChunk(meta.ID, offset, 4)
		if err != nil {
			t.Fatalf("ReadChunk at %d failed: %v", offset, err)
		}
		got = append(got, data...)
		offset += uint64(len(data))
		if eof {
			break
		}
	}
	if !bytes.Equal(got, content) {
		t.Errorf("chunked read = %q, want %q", got, content)
	}

	if _, _, err := s.ReadChunk(meta.ID, uint64(len(content))+1, 4); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("expected ErrOffsetOutOfRange, got %v", err)
	}
}

func TestWriteFailureLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	fail := errors.New("decode exploded")

	_, err := s.Write("job-1", "/dev/sim0", "b.txt", func(w io.Writer) error {
		w.Write([]byte("partial"))
		return fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("expected write error, got %v", err)
	}

	// No artifact, no data file, no temp leftovers
	if len(s.List()) != 0 {
		t.Error("failed write left an indexed artifact")
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		t.Errorf("failed write left file %s", e.Name())
	}
}

func TestIndexRebuild(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	meta, err := s1.Write("job-1", "/dev/sim0", "c.txt", func(w io.Writer) error {
		_, err := w.Write([]byte("data"))
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A fresh store over the same directory sees the artifact
	s2, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	got, err := s2.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get after rebuild failed: %v", err)
	}
	if got.Digest != meta.Digest || got.JobID != "job-1" {
		t.Errorf("rebuilt meta = %+v, want %+v", got, meta)
	}
}

func TestIndexRebuildSkipsOrphanedMeta(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	meta, err := s1.Write("job-1", "/dev/sim0", "d.txt", func(w io.Writer) error {
		_, err := w.Write([]byte("data"))
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Data file vanished, sidecar left behind
	os.Remove(filepath.Join(dir, "d.txt"))

	s2, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := s2.Get(meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for orphaned metadata, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Write("job-1", "/dev/sim0", "e.txt", func(w io.Writer) error {
		_, err := w.Write([]byte("data"))
		return err
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := s.Purge(meta.ID); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if _, err := s.Get(meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if strings.Contains(e.Name(), "e.txt") {
			t.Errorf("purge left file %s", e.Name())
		}
	}

	if err := s.Purge(meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double purge, got %v", err)
	}
}

func TestPurgeAll(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"g1.txt", "g2.txt", "g3.txt"} {
		if _, err := s.Write("job-1", "/dev/sim0", name, func(w io.Writer) error {
			_, err := w.Write([]byte(name))
			return err
		}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	n, err := s.PurgeAll()
	if err != nil {
		t.Fatalf("PurgeAll failed: %v", err)
	}
	if n != 3 {
		t.Errorf("purged %d artifacts, want 3", n)
	}
	if len(s.List()) != 0 {
		t.Error("artifacts survived PurgeAll")
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		t.Errorf("PurgeAll left file %s", e.Name())
	}

	// Empty store purges cleanly
	if n, err := s.PurgeAll(); err != nil || n != 0 {
		t.Errorf("PurgeAll on empty store = (%d, %v), want (0, nil)", n, err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"f1.txt", "f2.txt"} {
		if _, err := s.Write("job-1", "/dev/sim0", name, func(w io.Writer) error {
			_, err := w.Write([]byte(name))
			return err
		}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	metas := s.List()
	if len(metas) != 2 {
		t.Fatalf("List returned %d artifacts, want 2", len(metas))
	}
	if metas[0].CreatedAt.After(metas[1].CreatedAt) {
		t.Error("List not sorted by creation time")
	}
}
