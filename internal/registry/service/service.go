// Package service orchestrates the registry backend: committing
// transactions with ordered timestamps, reconstructing snapshots from
// export plus log window, and operating the retention checkpoint. It
// keeps orchestration out of handlers and domain logic thin.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zonecore/internal/commitlog"
	"zonecore/internal/export"
	"zonecore/internal/registry/metrics"
	"zonecore/internal/replay"
	"zonecore/internal/sink"
	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// LogStore is the slice of the commit log the write path needs.
type LogStore interface {
	Append(ctx context.Context, tx commitlog.Transaction) error
	SealThrough(ctx context.Context, t time.Time) error
	Checkpoint(ctx context.Context) (time.Time, error)
}

// Sequencer issues strictly increasing commit timestamps per entity group.
type Sequencer interface {
	Propose() time.Time
	Next(ctx context.Context, groupID domain.GroupID, proposed time.Time) (time.Time, error)
}

// Reconstructor rebuilds a snapshot from an export and a log window.
type Reconstructor interface {
	Reconstruct(ctx context.Context, req replay.Request) (*sink.Snapshot, error)
}

// Publisher emits committed transactions to the commit feed.
type Publisher interface {
	Publish(ctx context.Context, tx commitlog.Transaction) error
}

// Service is the registry backend's application layer.
type Service struct {
	log        LogStore
	sequencer  Sequencer
	replayer   Reconstructor
	checkpoint *commitlog.Checkpointer
	feed       Publisher
	exportRoot string
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	groups map[domain.GroupID]*sync.Mutex
}

// New wires the service. feed may be nil when no commit feed is
// configured.
func New(
	log LogStore,
	sequencer Sequencer,
	replayer Reconstructor,
	checkpoint *commitlog.Checkpointer,
	feed Publisher,
	exportRoot string,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		log:        log,
		sequencer:  sequencer,
		replayer:   replayer,
		checkpoint: checkpoint,
		feed:       feed,
		exportRoot: exportRoot,
		logger:     logger,
		metrics:    m,
		groups:     make(map[domain.GroupID]*sync.Mutex),
	}
}

// CommitRequest is one transaction to commit against a single entity
// group.
type CommitRequest struct {
	GroupID   domain.GroupID
	Mutations []commitlog.Mutation
}

// CommitResult reports the durable identity of a committed transaction.
type CommitResult struct {
	TransactionID domain.TransactionID
	CommittedAt   time.Time
}

// Commit assigns the transaction an ordered timestamp and appends it to
// the log. Commits to the same group are serialized here; the timestamp
// authority assumes that serialization and turns concurrent same-group
// writes it does observe into hard failures rather than reordered
// history.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	start := time.Now()

	groupID, err := domain.ParseGroupID(req.GroupID.String())
	if err != nil {
		s.metrics.CommitFailures.Inc()
		return CommitResult{}, fmt.Errorf("%v: %w", err, sentinel.ErrInvalidInput)
	}
	if len(req.Mutations) == 0 {
		s.metrics.CommitFailures.Inc()
		return CommitResult{}, fmt.Errorf("commit to group %s has no mutations: %w", groupID, sentinel.ErrInvalidInput)
	}
	for i, m := range req.Mutations {
		if err := m.Validate(); err != nil {
			s.metrics.CommitFailures.Inc()
			return CommitResult{}, fmt.Errorf("mutation %d: %v: %w", i, err, sentinel.ErrInvalidInput)
		}
	}

	lock := s.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()

	committedAt, err := s.sequencer.Next(ctx, groupID, s.sequencer.Propose())
	if err != nil {
		s.metrics.CommitFailures.Inc()
		return CommitResult{}, err
	}

	tx := commitlog.Transaction{
		ID:          domain.NewTransactionID(),
		GroupID:     groupID,
		CommittedAt: committedAt,
		Mutations:   req.Mutations,
	}
	if err := s.log.Append(ctx, tx); err != nil {
		s.metrics.CommitFailures.Inc()
		return CommitResult{}, err
	}

	s.publishCommit(ctx, tx)

	s.metrics.Commits.Inc()
	s.metrics.MutationsCommitted.Add(float64(len(tx.Mutations)))
	s.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "transaction committed",
		"transaction_id", tx.ID.String(),
		"group_id", groupID.String(),
		"committed_at", committedAt.Format(time.RFC3339Nano),
		"mutations", len(tx.Mutations),
	)
	return CommitResult{TransactionID: tx.ID, CommittedAt: committedAt}, nil
}

// publishCommit is best-effort: the transaction is already durable in the
// log, and feed consumers re-sync from the log on startup.
func (s *Service) publishCommit(ctx context.Context, tx commitlog.Transaction) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, tx); err != nil {
		s.metrics.FeedPublishFailures.Inc()
		s.logger.WarnContext(ctx, "commit feed publish failed",
			"transaction_id", tx.ID.String(),
			"error", err,
		)
	}
}

// ReconstructRequest names an export artifact and the log window to fold
// on top of it. Export is a directory name under the export root, never a
// path.
type ReconstructRequest struct {
	Export string
	Window commitlog.Window
	Kinds  []domain.Kind
}

// Reconstruct rebuilds the exact store state at Window.End.
func (s *Service) Reconstruct(ctx context.Context, req ReconstructRequest) (*sink.Snapshot, error) {
	dir, err := s.exportDir(req.Export)
	if err != nil {
		return nil, err
	}
	if err := req.Window.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, sentinel.ErrInvalidInput)
	}
	if len(req.Kinds) == 0 {
		return nil, fmt.Errorf("at least one tracked kind is required: %w", sentinel.ErrInvalidInput)
	}
	return s.replayer.Reconstruct(ctx, replay.Request{
		Export: export.NewReader(dir),
		Window: req.Window,
		Kinds:  req.Kinds,
	})
}

func (s *Service) exportDir(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("export name is required: %w", sentinel.ErrInvalidInput)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("export name %q must be a bare directory name: %w", name, sentinel.ErrInvalidInput)
	}
	return filepath.Join(s.exportRoot, name), nil
}

// ConfirmWatermark records a consumer's durable progress through the log.
func (s *Service) ConfirmWatermark(ctx context.Context, consumer string, watermark time.Time) error {
	if consumer == "" {
		return fmt.Errorf("consumer name is required: %w", sentinel.ErrInvalidInput)
	}
	if watermark.IsZero() {
		return fmt.Errorf("watermark is required: %w", sentinel.ErrInvalidInput)
	}
	s.checkpoint.Register(consumer)
	s.checkpoint.Confirm(consumer, watermark)
	s.logger.InfoContext(ctx, "consumer watermark confirmed",
		"consumer", consumer,
		"watermark", watermark.Format(time.RFC3339),
	)
	return nil
}

// AdvanceCheckpoint moves the retention checkpoint to t if every
// registered consumer has confirmed past it.
func (s *Service) AdvanceCheckpoint(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("checkpoint timestamp is required: %w", sentinel.ErrInvalidInput)
	}
	if err := s.checkpoint.Advance(ctx, t.UTC()); err != nil {
		return err
	}
	s.metrics.CheckpointAdvances.Inc()
	return nil
}

// Purge deletes log data older than the established checkpoint.
func (s *Service) Purge(ctx context.Context) error {
	if err := s.checkpoint.Purge(ctx); err != nil {
		return err
	}
	s.metrics.PurgeRuns.Inc()
	return nil
}

// Checkpoint returns the current retention checkpoint and per-consumer
// watermarks.
func (s *Service) Checkpoint(ctx context.Context) (time.Time, map[string]time.Time, error) {
	checkpoint, err := s.log.Checkpoint(ctx)
	if err != nil {
		return time.Time{}, nil, err
	}
	return checkpoint, s.checkpoint.Watermarks(), nil
}

// Seal materializes every log bucket up to the current proposed time, so
// idle intervals stay distinguishable from lost data. Run on a fixed
// cadence by the server.
func (s *Service) Seal(ctx context.Context) error {
	if err := s.log.SealThrough(ctx, s.sequencer.Propose()); err != nil {
		return err
	}
	s.metrics.BucketsSealed.Inc()
	return nil
}

func (s *Service) groupLock(groupID domain.GroupID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.groups[groupID]
	if !ok {
		lock = &sync.Mutex{}
		s.groups[groupID] = lock
	}
	return lock
}
