package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper drives the store's expiry sweep on a fixed interval. Ticks that fire
// while a sweep is still running are skipped, never queued.
type Sweeper struct {
	store    *Store
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it more than once is a no-op.
func (w *Sweeper) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.loop(ctx)
	})
}

// Stop cancels the loop and waits for it to exit.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel == nil {
			close(w.done)
			return
		}
		w.cancel()
		<-w.done
	})
}

func (w *Sweeper) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.running.CompareAndSwap(false, true) {
				continue
			}
			w.store.Sweep()
			w.running.Store(false)
		}
	}
}
