package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/writeway/internal/store"
)

// Sweeper promotes stale pending ledger rows to failed, answering
// spec.md §9's open question about a pending row that never transitions
// (processor crashed after the insert, or the final retry was routed to
// the DLQ). It is a configurable background task rather than inferred
// policy, per the spec's own guidance.
type Sweeper struct {
	store      *store.Store
	interval   time.Duration
	staleAfter time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSweeper builds a Sweeper that runs every interval, promoting
// pending rows older than staleAfter.
func NewSweeper(s *store.Store, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      s,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	if sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.mu.Unlock()

	sw.wg.Add(1)
	go sw.run()
	slog.Info("ledger sweeper started", slog.Duration("interval", sw.interval), slog.Duration("stale_after", sw.staleAfter))
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = false
	sw.mu.Unlock()

	close(sw.stopCh)
	sw.wg.Wait()
	slog.Info("ledger sweeper stopped")
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweepOnce()
		case <-sw.stopCh:
			return
		}
	}
}

func (sw *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := sw.store.SweepStalePending(ctx, sw.staleAfter)
	if err != nil {
		slog.Error("ledger sweep failed", slog.String("error", err.Error()))
		return
	}
	if swept > 0 {
		slog.Info("ledger sweep promoted stale pending operations", slog.Int64("count", swept))
	}
}
