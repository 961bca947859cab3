package poller

import (
	"log/slog"
	"sync"
	"time"
)

// CycleFunc runs one polling cycle. The error is logged; a failing cycle
// never stops the loop.
type CycleFunc func() error

// Loop runs a named cycle function at a fixed interval on its own
// goroutine. The first cycle runs immediately on Start.
type Loop struct {
	name      string
	interval  time.Duration
	cycle     CycleFunc
	log       *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewLoop creates a loop. It does not start it.
func NewLoop(name string, interval time.Duration, cycle CycleFunc, log *slog.Logger) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		cycle:    cycle,
		log:      log,
	}
}

// IsRunning returns whether the loop goroutine is active.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isRunning
}

// Start launches the loop goroutine. Starting an already-running loop is
// a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return
	}
	l.isRunning = true
	l.stopChan = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.isRunning = false
			l.mu.Unlock()
			close(l.done)
		}()

		l.log.Debug("poll loop started", "loop", l.name, "interval", l.interval)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.runCycle()
		for {
			select {
			case <-l.stopChan:
				l.log.Debug("poll loop stopped", "loop", l.name)
				return
			case <-ticker.C:
				l.runCycle()
			}
		}
	}()
}

// runCycle executes one cycle with a panic guard so a bad payload from
// the game server cannot take the loop down.
func (l *Loop) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("poll cycle panicked", "loop", l.name, "panic", r)
		}
	}()

	if err := l.cycle(); err != nil {
		l.log.Error("poll cycle failed", "loop", l.name, "error", err)
	}
}

// Stop signals the loop to exit and waits for the in-flight cycle to
// finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return
	}
	close(l.stopChan)
	done := l.done
	l.mu.Unlock()

	<-done
}
