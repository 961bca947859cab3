package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if len(m) >= 5 && m[:5] == "ERROR" {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("race_section_passed", func(e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Hook: "race_section_passed", Data: json.RawMessage(`{"a":1}`)})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.Hook != "race_section_passed" {
		t.Errorf("handler saw hook %q", got.Hook)
	}
}

func TestDispatcher_UnknownHook(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Hook: "nope"})

	if err == nil {
		t.Error("expected error for unknown hook")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("vehicle_enter", func(e Event) error { return nil })

	if !d.HasHandler("vehicle_enter") {
		t.Error("expected handler to be registered")
	}
	if d.HasHandler("vehicle_exit") {
		t.Error("unexpected handler")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int64
	done := make(chan struct{})
	d.Register("event_state_changed", func(e Event) error {
		if processed.Add(1) == 5 {
			close(done)
		}
		return nil
	}, Buffered(10))

	for i := 0; i < 5; i++ {
		if err := d.Dispatch(Event{Hook: "event_state_changed"}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered handler did not drain")
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register("slow", func(e Event) error {
		<-block
		return nil
	}, Buffered(1))

	// First fills the worker, second fills the buffer, third must drop.
	_ = d.Dispatch(Event{Hook: "slow"})
	_ = d.Dispatch(Event{Hook: "slow"})

	var dropErr error
	for i := 0; i < 10; i++ {
		dropErr = d.Dispatch(Event{Hook: "slow"})
		if dropErr != nil {
			break
		}
	}
	close(block)

	if dropErr == nil {
		t.Error("expected queue full error")
	}
}

func TestDispatcher_LoggedHandlerReportsErrors(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("bad", func(e Event) error {
		return errors.New("boom")
	}, Logged())

	_ = d.Dispatch(Event{Hook: "bad"})

	if logger.errorCount() == 0 {
		t.Error("expected error to be logged")
	}
}

func TestAsync_RunsTasks(t *testing.T) {
	a, err := NewAsync(2, 16, &testLogger{})
	if err != nil {
		t.Fatalf("NewAsync: %v", err)
	}

	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		a.Go("eject", func() error {
			ran.Add(1)
			return nil
		})
	}
	a.Close()

	if ran.Load() != 8 {
		t.Errorf("expected 8 tasks run, got %d", ran.Load())
	}
}

func TestAsync_FailureIsLoggedNotPropagated(t *testing.T) {
	logger := &testLogger{}
	a, err := NewAsync(1, 4, logger)
	if err != nil {
		t.Fatalf("NewAsync: %v", err)
	}

	a.Go("fine", func() error { return errors.New("remote 500") })
	a.Close()

	if logger.errorCount() == 0 {
		t.Error("expected failure to be logged")
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	logger := &testLogger{}
	a, err := NewAsync(1, 1, logger)
	if err != nil {
		t.Fatalf("NewAsync: %v", err)
	}

	block := make(chan struct{})
	a.Go("slow", func() error { <-block; return nil })
	a.Go("slow", func() error { <-block; return nil })
	// Queue of 1 is now full; this submit must return immediately.
	submitted := make(chan struct{})
	go func() {
		a.Go("slow", func() error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Go blocked on full queue")
	}
	close(block)
	a.Close()
}
