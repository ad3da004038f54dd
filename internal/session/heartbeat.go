package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TypingFunc emits one "composing" signal to the chat platform.
type TypingFunc func(ctx context.Context) error

// Heartbeat keeps the chat showing a typing indicator while a turn is in
// flight. A failed tick is logged and the loop continues.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

// StartHeartbeat emits one signal immediately, then repeats every interval
// until Stop. Stop is idempotent and must run on every exit path of the turn.
func StartHeartbeat(ctx context.Context, interval time.Duration, tick TypingFunc, logger zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 6 * time.Second
	}
	hbCtx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		h.tickOnce(hbCtx, tick, logger)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				h.tickOnce(hbCtx, tick, logger)
			}
		}
	}()
	return h
}

func (h *Heartbeat) tickOnce(ctx context.Context, tick TypingFunc, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	if err := tick(ctx); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("typing heartbeat tick failed")
	}
}

// Stop cancels the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.stop.Do(func() {
		h.cancel()
		<-h.done
	})
}
