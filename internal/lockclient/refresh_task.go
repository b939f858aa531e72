package lockclient

import (
	"context"
	"sync"
	"time"
)

// RefreshTask runs a callback on a fixed interval until stopped. It is owned
// by one Client and started when the lock is held.
type RefreshTask struct {
	interval time.Duration
	run      func(context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshTask builds a stopped task.
func NewRefreshTask(interval time.Duration, run func(context.Context)) *RefreshTask {
	return &RefreshTask{interval: interval, run: run}
}

// Interval returns the cadence of the task.
func (t *RefreshTask) Interval() time.Duration {
	return t.interval
}

// Start launches the task. Starting a running task is a no-op.
func (t *RefreshTask) Start(parent context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.loop(ctx, done)
}

// Running reports whether the task is scheduled.
func (t *RefreshTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Cancel stops future runs without waiting for an in-flight run. It is safe
// to call from inside the callback.
func (t *RefreshTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Stop cancels the task and waits for an in-flight run to return.
func (t *RefreshTask) Stop() {
	t.mu.Lock()
	done := t.done
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *RefreshTask) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}
