package session

import (
	"context"
	"sync"
	"time"
)

// EditFunc delivers one text snapshot to the outbound message.
type EditFunc func(ctx context.Context, text string) error

// Throttle converts a high-frequency stream of cumulative text snapshots into
// rate-limited message edits. The first snapshot flushes immediately; snapshots
// arriving inside the cool-down coalesce into a single trailing flush. One
// instance serves exactly one outbound message and is discarded with the turn.
type Throttle struct {
	interval time.Duration
	edit     EditFunc
	onError  func(error)
	ctx      context.Context

	mu          sync.Mutex
	timer       *time.Timer
	lastFlush   time.Time
	lastText    string
	flushedOnce bool
	lastOK      bool
	pending     string
	hasPending  bool
	done        bool
}

func NewThrottle(ctx context.Context, interval time.Duration, edit EditFunc, onError func(error)) *Throttle {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Throttle{
		interval: interval,
		edit:     edit,
		onError:  onError,
		ctx:      ctx,
	}
}

// Publish offers a cumulative snapshot. Safe for concurrent use; edits are
// issued in publish order.
func (t *Throttle) Publish(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	if t.timer != nil {
		t.pending = text
		t.hasPending = true
		return
	}
	if since := time.Since(t.lastFlush); t.flushedOnce && since < t.interval {
		t.pending = text
		t.hasPending = true
		t.timer = time.AfterFunc(t.interval-since, t.trailingFlush)
		return
	}
	t.flushLocked(text)
}

// Finalize delivers the terminal snapshot, bypassing the cool-down so stream
// completion is never lost to coalescing, then stops the throttle.
func (t *Throttle) Finalize(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
	t.flushLocked(text)
}

// Cancel stops the throttle without a final flush. Used on the failure path.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
}

func (t *Throttle) trailingFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	if t.done || !t.hasPending {
		return
	}
	text := t.pending
	t.hasPending = false
	t.flushLocked(text)
}

func (t *Throttle) flushLocked(text string) {
	// A snapshot identical to the last delivered text is a no-op.
	if t.flushedOnce && t.lastOK && text == t.lastText {
		return
	}
	t.lastFlush = time.Now()
	t.flushedOnce = true
	err := t.edit(t.ctx, text)
	if err != nil {
		t.lastOK = false
		if t.onError != nil {
			t.onError(err)
		}
		return
	}
	t.lastOK = true
	t.lastText = text
}
