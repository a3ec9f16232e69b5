// Command engine-demo submits a small dependency graph to the task
// engine and logs each task's completed, failed, or cancelled event as
// it arrives, as a smoke test
// for the scheduler, supervisor, and persistence wiring.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskmesh/engine/internal/config"
	"github.com/taskmesh/engine/internal/engine"
	"github.com/taskmesh/engine/internal/events"
	"github.com/taskmesh/engine/internal/logger"
	"github.com/taskmesh/engine/internal/model"
	"github.com/taskmesh/engine/internal/supervisor"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()
	logger.InitLogger(logger.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down engine-demo")
		cancel()
	}()

	eng := engine.New(engine.Options{
		Config:    cfg,
		Executor:  demoExecutor(),
		Resources: map[string]int{"cpu": 4, "gpu": 1},
	})
	eng.Start(ctx)
	defer eng.Stop(context.Background())

	subID, sub := eng.Subscribe([]events.EventType{events.EventTaskCompleted, events.EventTaskFailed, events.EventTaskCancelled})
	defer eng.Unsubscribe(subID)
	go logEvents(sub)

	if err := submitDemoGraph(ctx, eng); err != nil {
		log.Fatalf("failed to submit demo graph: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		log.Println("demo timeout reached")
	}

	health := eng.SystemHealth()
	fmt.Printf("final health: tasks=%d queue=%d running=%d\n", health.TasksTracked, health.QueueDepth, health.RunningTasks)
}

func logEvents(ch <-chan events.Event) {
	for evt := range ch {
		log.Printf("event %s from %s", evt.Type, evt.Source)
	}
}

// submitDemoGraph builds a small fan-out/fan-in pipeline:
//
//	fetch -> {transform-a, transform-b} -> merge
func submitDemoGraph(ctx context.Context, eng *engine.Engine) error {
	if _, err := eng.Submit(ctx, model.TaskSubmission{
		ID: "fetch", Name: "fetch-input", Category: model.CategoryIO,
		Priority: model.PriorityHigh, Timeout: 5 * time.Second,
	}); err != nil {
		return err
	}

	for _, name := range []string{"transform-a", "transform-b"} {
		if _, err := eng.Submit(ctx, model.TaskSubmission{
			ID: name, Name: name, Category: model.CategoryCompute,
			Priority:     model.PriorityNormal,
			Timeout:      5 * time.Second,
			Dependencies: []model.Edge{{From: "fetch", To: name, Type: model.DependencyHard}},
		}); err != nil {
			return err
		}
	}

	_, err := eng.Submit(ctx, model.TaskSubmission{
		ID: "merge", Name: "merge-results", Category: model.CategoryCompute,
		Priority: model.PriorityNormal,
		Timeout:  5 * time.Second,
		Dependencies: []model.Edge{
			{From: "transform-a", To: "merge", Type: model.DependencyHard},
			{From: "transform-b", To: "merge", Type: model.DependencyHard},
		},
	})
	return err
}

// demoExecutor simulates work with a short random sleep instead of doing
// anything real; swap in a production Executor to run actual tasks.
func demoExecutor() supervisor.Executor {
	return supervisor.ExecutorFunc(func(ctx context.Context, task *model.Task, upstream map[string]interface{}, progress supervisor.ProgressSink) supervisor.Result {
		progress.Progress(0, "starting")
		select {
		case <-time.After(time.Duration(50+rand.Intn(200)) * time.Millisecond):
		case <-ctx.Done():
			return supervisor.Result{Success: false, Err: ctx.Err()}
		}
		progress.Progress(100, "done")
		return supervisor.Result{Success: true, Output: fmt.Sprintf("%s-output", task.ID)}
	})
}
