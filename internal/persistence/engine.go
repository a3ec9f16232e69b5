package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
)

// Collector produces a point-in-time Snapshot of live engine state. The
// engine package implements this over its graph/lifecycle/priority
// state; persistence stays agnostic of those types.
type Collector interface {
	Collect(reason string) Snapshot
}

// Config controls autosave cadence, retention, and checksum/compression
// choices.
type Config struct {
	SessionID           string
	AutosaveInterval    time.Duration
	OpportunisticMinGap time.Duration
	MaxRecoverableAge   time.Duration
	MaxBackups          int
	ChecksumAlgorithm   string // "sha256" or "md5"
	Compress            bool
}

// Engine drives snapshot creation and retrieval against a Store,
// including a background autosave timer and a rate-limited opportunistic
// snapshot path triggered by terminal task transitions.
type Engine struct {
	store     Store
	collector Collector
	cfg       Config

	mu               sync.Mutex
	lastOpportunistic time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a persistence Engine. Call Start to begin the autosave
// timer; call Stop to halt it during shutdown.
func New(store Store, collector Collector, cfg Config) *Engine {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 5 * time.Minute
	}
	if cfg.OpportunisticMinGap <= 0 {
		cfg.OpportunisticMinGap = time.Second
	}
	if cfg.MaxRecoverableAge <= 0 {
		cfg.MaxRecoverableAge = 7 * 24 * time.Hour
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}
	if cfg.ChecksumAlgorithm == "" {
		cfg.ChecksumAlgorithm = "sha256"
	}
	return &Engine{
		store:     store,
		collector: collector,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background autosave timer.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.AutosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.Snapshot(ctx, "autosave"); err != nil {
					logger.WithComponent("persistence").Error("autosave failed", zap.Error(err))
				}
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the autosave timer and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func snapshotID(now time.Time) string {
	return fmt.Sprintf("snap_%d", now.UnixNano())
}

// Snapshot captures current engine state and persists it, pruning the
// oldest backups beyond cfg.MaxBackups.
func (e *Engine) Snapshot(ctx context.Context, reason string) error {
	now := time.Now()
	snap := e.collector.Collect(reason)
	snap.ID = snapshotID(now)
	snap.SessionID = e.cfg.SessionID
	snap.CreatedAt = now

	enc, err := Encode(snap, e.cfg.ChecksumAlgorithm, e.cfg.Compress)
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, enc); err != nil {
		return err
	}

	logger.WithComponent("persistence").Info("snapshot created",
		zap.String("id", snap.ID), zap.String("reason", reason), zap.Int("tasks", len(snap.Tasks)))

	return e.pruneOldest(ctx)
}

// OpportunisticSnapshot captures a snapshot on a terminal task
// transition, but rate-limited to at most once per OpportunisticMinGap
// so a burst of completions doesn't hammer the store.
func (e *Engine) OpportunisticSnapshot(ctx context.Context, reason string) error {
	e.mu.Lock()
	now := time.Now()
	if now.Sub(e.lastOpportunistic) < e.cfg.OpportunisticMinGap {
		e.mu.Unlock()
		return nil
	}
	e.lastOpportunistic = now
	e.mu.Unlock()

	return e.Snapshot(ctx, reason)
}

func (e *Engine) pruneOldest(ctx context.Context) error {
	ids, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= e.cfg.MaxBackups {
		return nil
	}
	sort.Strings(ids)
	excess := len(ids) - e.cfg.MaxBackups
	for _, id := range ids[:excess] {
		if err := e.store.Delete(ctx, id); err != nil {
			logger.WithComponent("persistence").Warn("failed to prune old snapshot", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// List returns the IDs of every snapshot currently retained by the
// backing store.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// LoadByID loads and validates a specific snapshot.
func (e *Engine) LoadByID(ctx context.Context, id string) (Snapshot, error) {
	enc, err := e.store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Decode(enc)
}

// LoadLatestValid scans snapshots newest-first and returns the first one
// that decodes and checksums cleanly, skipping any corrupt ones it
// encounters along the way.
func (e *Engine) LoadLatestValid(ctx context.Context) (Snapshot, error) {
	ids, err := e.store.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	for _, id := range ids {
		snap, err := e.LoadByID(ctx, id)
		if err != nil {
			logger.WithComponent("persistence").Warn("skipping unreadable snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		return snap, nil
	}
	return Snapshot{}, model.NewError(model.ErrorCodePersistence, "persistence", "load_latest", "", "no valid snapshot found")
}

// Cleanup deletes snapshots older than cfg.MaxRecoverableAge.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	ids, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-e.cfg.MaxRecoverableAge)
	removed := 0
	for _, id := range ids {
		snap, err := e.LoadByID(ctx, id)
		if err != nil {
			continue
		}
		if snap.CreatedAt.Before(cutoff) {
			if err := e.store.Delete(ctx, id); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RecoveryInfo summarizes what a restart would recover from.
type RecoveryInfo struct {
	SnapshotID string
	CreatedAt  time.Time
	TaskCount  int
	Orphaned   bool // true when the snapshot's session differs from the current one
}

// Recover loads the latest valid snapshot and reports whether it belongs
// to a different session than currentSessionID -- evidence the engine
// exited without a clean shutdown, so tasks the snapshot caught in an
// in-flight execution state are not resumed as if still running; the
// engine's Restore counts each as a failed attempt ("orphaned on
// restart").
func (e *Engine) Recover(ctx context.Context, currentSessionID string) (Snapshot, RecoveryInfo, error) {
	snap, err := e.LoadLatestValid(ctx)
	if err != nil {
		return Snapshot{}, RecoveryInfo{}, err
	}

	info := RecoveryInfo{
		SnapshotID: snap.ID,
		CreatedAt:  snap.CreatedAt,
		TaskCount:  len(snap.Tasks),
		Orphaned:   snap.SessionID != "" && snap.SessionID != currentSessionID,
	}
	return snap, info, nil
}
