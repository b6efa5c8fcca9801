package export

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// maxRecordBytes bounds one JSONL line. Registry payloads are XML-ish
// blobs well under this.
const maxRecordBytes = 16 << 20

// Reader streams export partitions. Reads are restartable: each Read call
// is an independent pass over the partition file.
type Reader struct {
	dir string
}

// NewReader creates a Reader over an export directory.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// Dir returns the export directory this reader is rooted at.
func (r *Reader) Dir() string {
	return r.dir
}

// Read streams the kind's records into fn, in file order. A partition
// that does not exist yields sentinel.ErrNotFound; the exporter saw no
// entities of that kind, or the artifact is incomplete, and the caller
// decides which. Undecodable records and digest mismatches yield
// sentinel.ErrCorruptExportRecord; nothing is silently skipped.
func (r *Reader) Read(ctx context.Context, kind domain.Kind, fn func(Record) error) error {
	if _, err := domain.ParseKind(kind.String()); err != nil {
		return err
	}

	path := partitionPath(r.dir, kind)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("partition %s: %w", kind, sentinel.ErrNotFound)
		}
		return fmt.Errorf("open partition %s: %w", kind, err)
	}
	defer f.Close()

	want, err := readDigest(path)
	if err != nil {
		return err
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("init digest: %w", err)
	}

	scanner := bufio.NewScanner(io.TeeReader(f, hasher))
	scanner.Buffer(make([]byte, 64<<10), maxRecordBytes)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("partition %s line %d: %v: %w",
				kind, line, err, sentinel.ErrCorruptExportRecord)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("partition %s line %d: %v: %w",
				kind, line, err, sentinel.ErrCorruptExportRecord)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read partition %s: %w", kind, err)
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
		return fmt.Errorf("partition %s digest mismatch (got %s, want %s): %w",
			kind, got, want, sentinel.ErrCorruptExportRecord)
	}
	return nil
}

func readDigest(partition string) (string, error) {
	b, err := os.ReadFile(digestPath(partition))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("digest sidecar for %s missing: %w",
				partition, sentinel.ErrCorruptExportRecord)
		}
		return "", fmt.Errorf("read digest for %s: %w", partition, err)
	}
	return strings.TrimSpace(string(b)), nil
}
