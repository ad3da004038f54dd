package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type editRecorder struct {
	mu    sync.Mutex
	texts []string
	fail  map[int]bool // attempt index -> fail
	calls int
}

func (r *editRecorder) edit(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	r.calls++
	if r.fail[idx] {
		return errors.New("edit rejected")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *editRecorder) flushed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

func TestThrottleLeadingEdgeAndFinalFlush(t *testing.T) {
	rec := &editRecorder{}
	// An interval far longer than the test ensures the trailing timer never
	// fires; only the leading edge and Finalize may flush.
	th := NewThrottle(context.Background(), time.Hour, rec.edit, nil)

	th.Publish("Hi")
	th.Publish("Hi there")
	th.Finalize("Hi there!")

	got := rec.flushed()
	if len(got) != 2 || got[0] != "Hi" || got[1] != "Hi there!" {
		t.Fatalf("expected leading edge then final flush, got %v", got)
	}
}

func TestThrottleTrailingCoalesce(t *testing.T) {
	rec := &editRecorder{}
	th := NewThrottle(context.Background(), 40*time.Millisecond, rec.edit, nil)

	th.Publish("a")
	th.Publish("ab")
	th.Publish("abc")
	time.Sleep(150 * time.Millisecond)

	got := rec.flushed()
	if len(got) != 2 || got[0] != "a" || got[1] != "abc" {
		t.Fatalf("expected coalesced trailing flush, got %v", got)
	}

	// Finalize with the already-delivered text must not issue another edit.
	th.Finalize("abc")
	if got := rec.flushed(); len(got) != 2 {
		t.Fatalf("identical final snapshot must be a no-op, got %v", got)
	}
}

func TestThrottleSkipsIdenticalSnapshot(t *testing.T) {
	rec := &editRecorder{}
	th := NewThrottle(context.Background(), time.Hour, rec.edit, nil)

	th.Publish("same")
	th.Finalize("same")

	if got := rec.flushed(); len(got) != 1 || got[0] != "same" {
		t.Fatalf("expected a single edit, got %v", got)
	}
}

func TestThrottleEditFailureDoesNotAbortStream(t *testing.T) {
	rec := &editRecorder{fail: map[int]bool{0: true}}
	var reported int
	th := NewThrottle(context.Background(), time.Hour, rec.edit, func(error) { reported++ })

	th.Publish("first")
	th.Finalize("final")

	if reported != 1 {
		t.Fatalf("expected 1 reported failure, got %d", reported)
	}
	if got := rec.flushed(); len(got) != 1 || got[0] != "final" {
		t.Fatalf("expected the final flush to survive the failed edit, got %v", got)
	}
}

func TestThrottleRetriesTextAfterFailedEdit(t *testing.T) {
	rec := &editRecorder{fail: map[int]bool{0: true}}
	th := NewThrottle(context.Background(), time.Hour, rec.edit, nil)

	th.Publish("text")
	// The first delivery failed, so the same terminal text must be re-sent.
	th.Finalize("text")

	if got := rec.flushed(); len(got) != 1 || got[0] != "text" {
		t.Fatalf("expected retry of undelivered text, got %v", got)
	}
}

func TestThrottleIgnoresSnapshotsAfterDone(t *testing.T) {
	rec := &editRecorder{}
	th := NewThrottle(context.Background(), time.Hour, rec.edit, nil)

	th.Publish("a")
	th.Finalize("b")
	th.Publish("c")

	if got := rec.flushed(); len(got) != 2 || got[1] != "b" {
		t.Fatalf("snapshots after Finalize must be dropped, got %v", got)
	}
}

func TestThrottleCancelSkipsPendingFlush(t *testing.T) {
	rec := &editRecorder{}
	th := NewThrottle(context.Background(), 40*time.Millisecond, rec.edit, nil)

	th.Publish("a")
	th.Publish("ab")
	th.Cancel()
	time.Sleep(100 * time.Millisecond)

	if got := rec.flushed(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("cancel must drop the pending trailing flush, got %v", got)
	}
}
