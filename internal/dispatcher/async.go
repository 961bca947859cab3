package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type task struct {
	name string
	fn   func() error
}

// Async is a bounded task pool for fire-and-forget remote commands.
// A full queue drops the task rather than stalling the submitting cycle;
// failures are logged and counted, never propagated back.
type Async struct {
	tasks  chan task
	logger Logger

	failed  metric.Int64Counter
	dropped metric.Int64Counter

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAsync creates a task pool with the given number of workers and queue
// capacity.
func NewAsync(workers, queueSize int, logger Logger) (*Async, error) {
	if workers < 1 {
		workers = 1
	}

	a := &Async{
		tasks:  make(chan task, queueSize),
		logger: logger,
	}

	m := meter()

	var err error
	a.failed, err = m.Int64Counter(
		"commands.failed",
		metric.WithDescription("Total remote commands that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	a.dropped, err = m.Int64Counter(
		"commands.dropped",
		metric.WithDescription("Total remote commands dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	return a, nil
}

func (a *Async) worker() {
	defer a.wg.Done()
	for t := range a.tasks {
		if err := t.fn(); err != nil {
			a.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", t.name)))
			a.logger.Error("remote command failed", "command", t.name, "error", err)
		}
	}
}

// Go submits a command for background execution. It never blocks; if the
// queue is full the command is dropped and counted.
func (a *Async) Go(name string, fn func() error) {
	select {
	case a.tasks <- task{name: name, fn: fn}:
	default:
		a.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", name)))
		a.logger.Error("remote command dropped, queue full", "command", name)
	}
}

// Close stops accepting tasks and waits for in-flight commands to finish.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.tasks)
	})
	a.wg.Wait()
}
