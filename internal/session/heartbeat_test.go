package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHeartbeatTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int64
	hb := StartHeartbeat(context.Background(), 20*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}, zerolog.Nop())

	time.Sleep(90 * time.Millisecond)
	hb.Stop()
	after := ticks.Load()

	if after < 2 {
		t.Fatalf("expected immediate tick plus periodic ticks, got %d", after)
	}

	time.Sleep(60 * time.Millisecond)
	if ticks.Load() != after {
		t.Fatalf("heartbeat kept ticking after Stop: %d -> %d", after, ticks.Load())
	}
}

func TestHeartbeatStopIsIdempotent(t *testing.T) {
	hb := StartHeartbeat(context.Background(), time.Hour, func(context.Context) error {
		return nil
	}, zerolog.Nop())
	hb.Stop()
	hb.Stop()
}

func TestHeartbeatTickFailureContinuesLoop(t *testing.T) {
	var ticks atomic.Int64
	hb := StartHeartbeat(context.Background(), 20*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return errors.New("typing rejected")
	}, zerolog.Nop())
	defer hb.Stop()

	time.Sleep(90 * time.Millisecond)
	if ticks.Load() < 2 {
		t.Fatalf("a failed tick must not stop the loop, got %d ticks", ticks.Load())
	}
}
