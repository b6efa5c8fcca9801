package commitlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS commit_log_buckets (
    bucket_start BIGINT PRIMARY KEY,
    created_at   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS commit_log_transactions (
    id           UUID PRIMARY KEY,
    group_id     TEXT NOT NULL,
    bucket_start BIGINT NOT NULL REFERENCES commit_log_buckets (bucket_start) ON DELETE CASCADE,
    committed_at BIGINT NOT NULL,
    mutations    JSONB NOT NULL,
    CONSTRAINT commit_log_group_order UNIQUE (group_id, committed_at)
);

CREATE INDEX IF NOT EXISTS idx_commit_log_tx_committed
    ON commit_log_transactions (committed_at);
CREATE INDEX IF NOT EXISTS idx_commit_log_tx_group
    ON commit_log_transactions (group_id, committed_at);

CREATE TABLE IF NOT EXISTS commit_log_checkpoint (
    singleton  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    checkpoint BIGINT NOT NULL
);

INSERT INTO commit_log_checkpoint (singleton, checkpoint)
    VALUES (TRUE, 0) ON CONFLICT DO NOTHING;
`

// PostgresStore persists the commit log in PostgreSQL. The
// commit_log_group_order constraint is a backstop for the timestamp
// authority: equal (group, timestamp) pairs are rejected at the storage
// layer too.
type PostgresStore struct {
	db    *sql.DB
	width time.Duration
}

// NewPostgres constructs a PostgreSQL-backed commit log store.
func NewPostgres(db *sql.DB, bucketWidth time.Duration) *PostgresStore {
	return &PostgresStore{db: db, width: bucketWidth}
}

// EnsureSchema creates the commit log tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure commit log schema: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

// Append durably stores the transaction; duplicate ids are no-ops.
func (s *PostgresStore) Append(ctx context.Context, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	mutations, err := json.Marshal(tx.Mutations)
	if err != nil {
		return fmt.Errorf("marshal mutations: %w", err)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback()

	bucket := bucketStart(tx.CommittedAt, s.width)
	if _, err := dbTx.ExecContext(ctx,
		`INSERT INTO commit_log_buckets (bucket_start, created_at) VALUES ($1, $2)
		 ON CONFLICT (bucket_start) DO NOTHING`,
		toMillis(bucket), toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	res, err := dbTx.ExecContext(ctx,
		`INSERT INTO commit_log_transactions (id, group_id, bucket_start, committed_at, mutations)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		tx.ID.String(), tx.GroupID.String(), toMillis(bucket), toMillis(tx.CommittedAt), mutations,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "commit_log_group_order" {
			return fmt.Errorf("group %s at %s: %w", tx.GroupID,
				tx.CommittedAt.Format(time.RFC3339Nano), sentinel.ErrTimestampCollision)
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Retry of an already durable transaction.
		return dbTx.Commit()
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Scan returns the window's transactions ascending by commit timestamp.
func (s *PostgresStore) Scan(ctx context.Context, w Window, groupID domain.GroupID) ([]Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	needed := windowBuckets(w, s.width)
	if err := s.checkCoverage(ctx, needed); err != nil {
		return nil, err
	}

	query := `SELECT id, group_id, committed_at, mutations
	          FROM commit_log_transactions
	          WHERE committed_at > $1 AND committed_at <= $2`
	args := []any{toMillis(w.Start), toMillis(w.End)}
	if groupID != ScanAllGroups {
		query += ` AND group_id = $3`
		args = append(args, groupID.String())
	}
	query += ` ORDER BY committed_at, group_id, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			idStr     string
			groupStr  string
			committed int64
			mutations []byte
		)
		if err := rows.Scan(&idStr, &groupStr, &committed, &mutations); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		id, err := domain.ParseTransactionID(idStr)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		tx := Transaction{
			ID:          id,
			GroupID:     domain.GroupID(groupStr),
			CommittedAt: fromMillis(committed),
		}
		if err := json.Unmarshal(mutations, &tx.Mutations); err != nil {
			return nil, fmt.Errorf("decode mutations for %s: %w", idStr, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// checkCoverage verifies every needed bucket exists.
func (s *PostgresStore) checkCoverage(ctx context.Context, needed []time.Time) error {
	if len(needed) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start FROM commit_log_buckets WHERE bucket_start >= $1 AND bucket_start <= $2`,
		toMillis(needed[0]), toMillis(needed[len(needed)-1]),
	)
	if err != nil {
		return fmt.Errorf("load buckets: %w", err)
	}
	defer rows.Close()

	present := make(map[int64]bool, len(needed))
	for rows.Next() {
		var start int64
		if err := rows.Scan(&start); err != nil {
			return fmt.Errorf("scan bucket row: %w", err)
		}
		present[start] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, b := range needed {
		if !present[toMillis(b)] {
			return fmt.Errorf("bucket starting %s missing: %w",
				b.Format(time.RFC3339), sentinel.ErrWindowGap)
		}
	}
	return nil
}

// SealThrough materializes buckets up to the one containing t.
func (s *PostgresStore) SealThrough(ctx context.Context, t time.Time) error {
	last := bucketStart(t, s.width)

	var origin sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(bucket_start) FROM commit_log_buckets`,
	).Scan(&origin); err != nil {
		return fmt.Errorf("load bucket origin: %w", err)
	}

	first := last
	if origin.Valid {
		first = fromMillis(origin.Int64)
	}
	if first.After(last) {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO commit_log_buckets (bucket_start, created_at)
		 SELECT gs, $4 FROM generate_series($1::bigint, $2::bigint, $3::bigint) gs
		 ON CONFLICT (bucket_start) DO NOTHING`,
		toMillis(first), toMillis(last), s.width.Milliseconds(), toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("seal buckets: %w", err)
	}
	return nil
}

// Checkpoint returns the current retention checkpoint.
func (s *PostgresStore) Checkpoint(ctx context.Context) (time.Time, error) {
	var millis int64
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM commit_log_checkpoint WHERE singleton`,
	).Scan(&millis)
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if millis == 0 {
		return time.Time{}, nil
	}
	return fromMillis(millis), nil
}

// AdvanceCheckpoint moves the retention checkpoint forward.
func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE commit_log_checkpoint SET checkpoint = $1 WHERE singleton AND checkpoint <= $1`,
		toMillis(t),
	)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("checkpoint %s behind current: %w",
			t.Format(time.RFC3339), sentinel.ErrRetentionViolation)
	}
	return nil
}

// PurgeBefore deletes buckets that end at or before t.
func (s *PostgresStore) PurgeBefore(ctx context.Context, t time.Time) error {
	checkpoint, err := s.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if t.After(checkpoint) {
		return fmt.Errorf("purge through %s exceeds checkpoint %s: %w",
			t.Format(time.RFC3339), checkpoint.Format(time.RFC3339),
			sentinel.ErrRetentionViolation)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM commit_log_buckets WHERE bucket_start + $2 <= $1`,
		toMillis(t), s.width.Milliseconds(),
	); err != nil {
		return fmt.Errorf("purge buckets: %w", err)
	}
	return nil
}
