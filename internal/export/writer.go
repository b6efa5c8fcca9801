package export

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"zonecore/pkg/domain"
)

// Writer produces export partitions under a directory, one JSONL file per
// kind plus a blake2b digest sidecar. Partitions are written to a
// temporary name and renamed on close, so readers never observe a
// half-written file.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Partition opens a streaming writer for one kind. The caller must Close
// it to make the partition visible.
func (w *Writer) Partition(kind domain.Kind) (*PartitionWriter, error) {
	if _, err := domain.ParseKind(kind.String()); err != nil {
		return nil, err
	}

	final := partitionPath(w.dir, kind)
	tmp := final + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create partition %s: %w", kind, err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("init digest: %w", err)
	}

	bw := bufio.NewWriter(f)
	return &PartitionWriter{
		kind:  kind,
		f:     f,
		bw:    bw,
		hash:  hasher,
		enc:   json.NewEncoder(io.MultiWriter(bw, hasher)),
		tmp:   tmp,
		final: final,
	}, nil
}

// PartitionWriter streams records into one kind's partition.
type PartitionWriter struct {
	kind  domain.Kind
	f     *os.File
	bw    *bufio.Writer
	hash  hash.Hash
	enc   *json.Encoder
	tmp   string
	final string
}

// Write appends one record to the partition.
func (p *PartitionWriter) Write(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind != p.kind {
		return fmt.Errorf("record kind %s does not match partition %s", rec.Kind, p.kind)
	}
	if err := p.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode export record %s/%s: %w", rec.Kind, rec.EntityID, err)
	}
	return nil
}

// Close flushes the partition, publishes it under its final name, and
// writes the digest sidecar.
func (p *PartitionWriter) Close() error {
	if err := p.bw.Flush(); err != nil {
		p.f.Close()
		return fmt.Errorf("flush partition %s: %w", p.kind, err)
	}
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		return fmt.Errorf("sync partition %s: %w", p.kind, err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close partition %s: %w", p.kind, err)
	}
	if err := os.Rename(p.tmp, p.final); err != nil {
		return fmt.Errorf("publish partition %s: %w", p.kind, err)
	}

	digest := hex.EncodeToString(p.hash.Sum(nil))
	if err := os.WriteFile(digestPath(p.final), []byte(digest+"\n"), 0o644); err != nil {
		return fmt.Errorf("write digest for %s: %w", p.kind, err)
	}
	return nil
}

func partitionPath(dir string, kind domain.Kind) string {
	return filepath.Join(dir, kind.String()+".jsonl")
}

func digestPath(partition string) string {
	return partition + ".blake2b"
}
