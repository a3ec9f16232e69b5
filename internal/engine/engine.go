// Package engine wires the graph, priority, scheduler, lifecycle,
// supervisor, resource, persistence, and event components into the
// single public API callers use to submit and control work.
//
// Internally, one goroutine -- the "scheduler fiber" -- owns the
// dependency graph, ready queue, and priority cache. Every mutation that
// another goroutine requests (the HTTP-free public API methods, executor
// completion callbacks) reaches it through the command channel, the same
// message-passing discipline the orchestrator's DAGEngine uses. Read-only
// queries (GetStatus, Query, History, SystemHealth) read state directly
// from the caller's goroutine, and executor progress reports are
// published from the executor's goroutine.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/config"
	"github.com/taskmesh/engine/internal/events"
	"github.com/taskmesh/engine/internal/graph"
	"github.com/taskmesh/engine/internal/lifecycle"
	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/persistence"
	"github.com/taskmesh/engine/internal/priority"
	"github.com/taskmesh/engine/internal/resources"
	"github.com/taskmesh/engine/internal/scheduler"
	"github.com/taskmesh/engine/internal/supervisor"
)

// Engine is the top-level entry point: construct one with New, call
// Start to begin scheduling, and drive it through Submit/Cancel/
// Pause/Resume/Retry/Query.
type Engine struct {
	cfg       config.EngineConfig
	sessionID string

	graph      *graph.DependencyGraph
	priorities *priority.Computer
	lifecycle  *lifecycle.Manager
	supervisor *supervisor.Supervisor
	resources  *resources.Pool
	persist    *persistence.Engine
	bus        *events.EventBus
	policy     scheduler.Policy
	readyQueue *scheduler.ReadyQueue
	audit      *persistence.PostgresAuditLog
	kafka      *events.KafkaPublisher
	retry      supervisor.RetryPolicy

	cmdCh  chan command
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	seq    int64
	subs   map[string]subscription
	subSeq int64
}

type subscription struct {
	types []events.EventType
	ch    chan events.Event
}

// Options groups the collaborators New needs beyond configuration.
type Options struct {
	Config    config.EngineConfig
	Executor  supervisor.Executor
	Store     persistence.Store
	SessionID string
	Policy    scheduler.Policy
	Resources map[string]int
}

// New builds an Engine ready to Start. If opts.Policy is nil, the
// hybrid-adaptive policy is used; if opts.SessionID is empty, a random
// one is generated (used for orphan detection across restarts).
func New(opts Options) *Engine {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	pol := opts.Policy
	if pol == nil {
		pol = scheduler.HybridAdaptivePolicy{}
	}

	e := &Engine{
		cfg:        opts.Config,
		sessionID:  sessionID,
		graph:      graph.NewDependencyGraph(),
		priorities: priority.NewComputer(nil),
		lifecycle:  lifecycle.NewManager(opts.Config.MaxHistoryPerTask),
		resources:  resources.NewPool(opts.Resources),
		bus:        events.NewEventBus(),
		policy:     pol,
		readyQueue: scheduler.NewReadyQueue(),
		cmdCh:      make(chan command, 256),
		stopCh:     make(chan struct{}),
		subs:       make(map[string]subscription),
	}

	e.lifecycle.AttachResourcePool(e.resources)

	e.retry = supervisor.RetryPolicy{
		MaxRetries: opts.Config.MaxRetries,
		BaseDelay:  opts.Config.RetryBaseDelay,
		Factor:     opts.Config.RetryBackoffFactor,
		MaxDelay:   opts.Config.RetryMaxDelay,
	}

	e.supervisor = supervisor.New(supervisor.Config{
		MaxConcurrent: opts.Config.MaxConcurrentTasks,
		Executor:      opts.Executor,
		PauseWindow:   opts.Config.PauseHandoffWindow,
	})

	store := opts.Store
	if store == nil {
		local, err := persistence.NewLocalStore(opts.Config.SnapshotDir)
		if err != nil {
			logger.WithComponent("engine").Error("failed to init local snapshot store", zap.Error(err))
		}
		store = local
	}
	e.persist = persistence.New(store, &collector{engine: e}, persistence.Config{
		SessionID:           sessionID,
		AutosaveInterval:    opts.Config.AutosaveInterval,
		OpportunisticMinGap: opts.Config.OpportunisticMinGap,
		MaxRecoverableAge:   opts.Config.MaxRecoverableAge,
		MaxBackups:          opts.Config.MaxBackupSnapshots,
		ChecksumAlgorithm:   opts.Config.SnapshotChecksum,
		Compress:            opts.Config.SnapshotCompress,
	})

	if opts.Config.PostgresDSN != "" {
		audit, err := persistence.NewPostgresAuditLog(opts.Config.PostgresDSN)
		if err != nil {
			logger.WithComponent("engine").Error("failed to init postgres audit log, continuing without it", zap.Error(err))
		} else {
			e.audit = audit
			e.lifecycle.AfterHook(lifecycle.Hook{
				ID:       "postgres-audit",
				Priority: 0,
				Fn: func(ctx context.Context, task *model.Task, from, to model.State) error {
					if err := audit.Record(ctx, task, from, to); err != nil {
						logger.WithTask(task.ID).Warn("audit log write failed", zap.Error(err))
					}
					return nil
				},
			})
		}
	}

	if len(config.GetKafkaBrokers()) > 0 {
		kafka, err := events.NewKafkaPublisher(opts.Config.KafkaTopic)
		if err != nil {
			logger.WithComponent("engine").Error("failed to init kafka event mirror, continuing without it", zap.Error(err))
		} else {
			e.kafka = kafka
		}
	}

	return e
}

// Start launches the scheduler loop, the persistence autosave timer,
// and the event bus dispatcher.
func (e *Engine) Start(ctx context.Context) {
	e.bus.Start(ctx)
	e.persist.Start(ctx)

	e.wg.Add(1)
	go e.run(ctx)
}

// Stop halts the scheduler loop, cancels in-flight executions, and
// waits for everything to wind down, or until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	close(e.stopCh)
	e.wg.Wait()
	e.persist.Stop()
	if e.audit != nil {
		_ = e.audit.Close()
	}
	if e.kafka != nil {
		_ = e.kafka.Close()
	}
	return e.supervisor.Shutdown(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SchedulingTick)
	defer ticker.Stop()

	recompute := time.NewTicker(e.cfg.PriorityRecomputeEvery)
	defer recompute.Stop()

	for {
		select {
		case cmd := <-e.cmdCh:
			e.handleCommand(ctx, cmd)
		case <-ticker.C:
			e.tick(ctx)
		case <-recompute.C:
			e.recomputePriorities()
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) publish(ctx context.Context, typ events.EventType, payload interface{}) {
	evt, err := events.NewEvent(uuid.NewString(), typ, "engine", payload)
	if err != nil {
		return
	}
	_ = e.bus.Publish(ctx, evt)
	if e.kafka != nil {
		if err := e.kafka.Publish(ctx, evt); err != nil {
			logger.WithComponent("engine").Warn("kafka event mirror publish failed", zap.Error(err))
		}
	}

	e.mu.Lock()
	for _, sub := range e.subs {
		for _, t := range sub.types {
			if t == typ {
				select {
				case sub.ch <- evt:
				default:
				}
				break
			}
		}
	}
	e.mu.Unlock()
}

func nextSnapshotReason(state model.State) string {
	return fmt.Sprintf("task-%s", state)
}
