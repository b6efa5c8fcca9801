// Package replay reconstructs the exact object-store state at a chosen
// cutoff instant by folding a commit log window on top of a bulk export.
//
// The export is a non-atomic baseline: individual records may be stale or
// missing. The fold is last-writer-wins by commit timestamp, which is
// exact because each entity group owns a strictly increasing timestamp
// sequence and mutations to different groups touch disjoint entity ids.
// A reconstruction either completes exactly or fails; it never returns a
// partial snapshot.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"zonecore/internal/commitlog"
	"zonecore/internal/export"
	"zonecore/internal/replay/metrics"
	"zonecore/internal/sink"
	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// Engine merges export baselines with commit log windows.
type Engine struct {
	log     commitlog.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates a reconstruction engine over the given commit log store.
func New(log commitlog.Store, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		log:     log,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("zonecore/replay"),
	}
}

// Request describes one reconstruction: the export baseline, the log
// window (Start must not be later than the export's completion time; an
// overlap only causes harmless re-application), and the explicit kind
// filter.
type Request struct {
	Export *export.Reader
	Window commitlog.Window
	Kinds  []domain.Kind
}

// Reconstruct returns the exact store state at Window.End for the tracked
// kinds. Window gaps, corrupt export records, and timestamp faults abort
// the call; untracked kinds found in the log are counted and skipped.
func (e *Engine) Reconstruct(ctx context.Context, req Request) (*sink.Snapshot, error) {
	start := time.Now()

	snapshot, txCount, err := e.reconstruct(ctx, req)
	if err != nil {
		e.metrics.IncrementFailures()
		return nil, err
	}
	e.metrics.ObserveReconstruction(start, txCount)
	return snapshot, nil
}

func (e *Engine) reconstruct(ctx context.Context, req Request) (*sink.Snapshot, int, error) {
	ctx, span := e.tracer.Start(ctx, "replay.reconstruct", trace.WithAttributes(
		attribute.Int("kinds", len(req.Kinds)),
		attribute.String("window.start", req.Window.Start.Format(time.RFC3339)),
		attribute.String("window.end", req.Window.End.Format(time.RFC3339)),
	))
	defer span.End()

	if err := req.Window.Validate(); err != nil {
		return nil, 0, err
	}
	if req.Export == nil {
		return nil, 0, fmt.Errorf("export reader is required")
	}
	if len(req.Kinds) == 0 {
		return nil, 0, fmt.Errorf("at least one tracked kind is required")
	}
	for _, k := range req.Kinds {
		if _, err := domain.ParseKind(k.String()); err != nil {
			return nil, 0, err
		}
	}
	tracked := domain.NewKindSet(req.Kinds...)

	output, err := e.seedFromExport(ctx, req.Export, tracked)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	txs, err := e.scanWindow(ctx, req.Window)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	if err := e.fold(ctx, output, txs, tracked); err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	span.SetAttributes(attribute.Int("transactions", len(txs)))
	return sink.New(output), len(txs), nil
}

// seedFromExport loads every tracked partition concurrently. Each kind's
// goroutine owns its map, so no synchronization is needed beyond the
// group wait.
func (e *Engine) seedFromExport(
	ctx context.Context,
	reader *export.Reader,
	tracked domain.KindSet,
) (map[domain.Kind]map[domain.EntityID]sink.Entity, error) {
	ctx, span := e.tracer.Start(ctx, "replay.seed")
	defer span.End()

	kinds := tracked.Kinds()
	maps := make([]map[domain.EntityID]sink.Entity, len(kinds))

	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			entities := make(map[domain.EntityID]sink.Entity)
			err := reader.Read(ctx, kind, func(rec export.Record) error {
				effective := time.Time{}
				if rec.KnownAsOf != nil {
					effective = rec.KnownAsOf.UTC()
				}
				entities[rec.EntityID] = sink.Entity{
					EntityID:    rec.EntityID,
					EffectiveAt: effective,
					Payload:     rec.Payload,
				}
				return nil
			})
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				// Absent partitions are legitimate (a kind with no
				// entities at dump time); anything else is fatal.
				return err
			}
			maps[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	output := make(map[domain.Kind]map[domain.EntityID]sink.Entity, len(kinds))
	for i, kind := range kinds {
		output[kind] = maps[i]
	}
	return output, nil
}

func (e *Engine) scanWindow(ctx context.Context, w commitlog.Window) ([]commitlog.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "replay.scan")
	defer span.End()
	return e.log.Scan(ctx, w, commitlog.ScanAllGroups)
}

// deltaEntry is one entity's final state within a single group's fold.
type deltaEntry struct {
	tombstone   bool
	effectiveAt time.Time
	payload     []byte
}

// fold applies the window's transactions on top of the seeded output.
// Transactions partition cleanly by entity group: ordering within a group
// is total by the commit invariant, and groups touch disjoint entity ids,
// so each partition folds on its own worker and the merge is a
// timestamp-guarded union.
func (e *Engine) fold(
	ctx context.Context,
	output map[domain.Kind]map[domain.EntityID]sink.Entity,
	txs []commitlog.Transaction,
	tracked domain.KindSet,
) error {
	ctx, span := e.tracer.Start(ctx, "replay.fold")
	defer span.End()

	byGroup := make(map[domain.GroupID][]commitlog.Transaction)
	for _, tx := range txs {
		byGroup[tx.GroupID] = append(byGroup[tx.GroupID], tx)
	}
	groups := make([]domain.GroupID, 0, len(byGroup))
	for gid := range byGroup {
		groups = append(groups, gid)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	deltas := make([]map[domain.Kind]map[domain.EntityID]deltaEntry, len(groups))
	skipped := make([]int, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, gid := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			deltas[i], skipped[i] = foldGroup(byGroup[gid], tracked)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	untracked := 0
	for _, n := range skipped {
		untracked += n
	}
	e.metrics.AddUntracked(untracked)
	if untracked > 0 {
		e.logger.DebugContext(ctx, "skipped untracked mutations", "count", untracked)
	}

	for _, delta := range deltas {
		for kind, entities := range delta {
			out := output[kind]
			for id, d := range entities {
				if cur, ok := out[id]; ok && !d.effectiveAt.After(cur.EffectiveAt) {
					// The seed already reflects this mutation (export
					// overlapped the window); the strictly-later
					// timestamp always wins.
					continue
				}
				if d.tombstone {
					delete(out, id)
					continue
				}
				out[id] = sink.Entity{
					EntityID:    id,
					EffectiveAt: d.effectiveAt,
					Payload:     d.payload,
				}
			}
		}
	}
	return nil
}

// foldGroup collapses one group's transactions (already ascending) into
// the final per-entity state, and counts untracked mutations.
func foldGroup(
	txs []commitlog.Transaction,
	tracked domain.KindSet,
) (map[domain.Kind]map[domain.EntityID]deltaEntry, int) {
	delta := make(map[domain.Kind]map[domain.EntityID]deltaEntry)
	skipped := 0
	for _, tx := range txs {
		for _, m := range tx.Mutations {
			if !tracked.Has(m.Kind) {
				skipped++
				continue
			}
			entities := delta[m.Kind]
			if entities == nil {
				entities = make(map[domain.EntityID]deltaEntry)
				delta[m.Kind] = entities
			}
			entities[m.EntityID] = deltaEntry{
				tombstone:   m.Type == commitlog.MutationDelete,
				effectiveAt: tx.CommittedAt,
				payload:     m.Payload,
			}
		}
	}
	return delta, skipped
}
