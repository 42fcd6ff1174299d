// Package poller drives the ingestion engine on a fixed cadence, independent
// of any caller lifecycle. Results are delivered over a buffered channel; a
// full channel drops the result rather than stalling the poll loop, and
// results from cycles that finish after cancellation are discarded.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tglite/internal/engine"
)

const defaultInterval = 5 * time.Second

// Syncer runs one poll/merge/persist cycle.
type Syncer interface {
	Sync(ctx context.Context) (*engine.SyncResult, error)
}

type Poller struct {
	engine   Syncer
	interval time.Duration
	logger   *slog.Logger

	results chan *engine.SyncResult

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(eng Syncer, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		engine:   eng,
		interval: interval,
		logger:   logger,
		results:  make(chan *engine.SyncResult, 16),
	}
}

// Results delivers the outcome of each completed poll cycle.
func (p *Poller) Results() <-chan *engine.SyncResult {
	return p.results
}

// Start launches the poll loop. It is a no-op if the poller is already
// running. The loop stops when ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(loopCtx)
	p.logger.Info("poller started", "interval", p.interval)
}

// Stop cancels the loop and waits for the in-flight cycle to finish. Its
// result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	res, err := p.engine.Sync(ctx)
	if ctx.Err() != nil {
		// Cancelled mid-cycle; the result must not be applied.
		return
	}
	if err != nil {
		// A failed cycle is logged and the cadence continues.
		p.logger.Warn("sync cycle failed", "error", err)
		return
	}
	if res.Appended > 0 {
		p.logger.Info("sync cycle merged new messages",
			"appended", res.Appended,
			"logPersisted", res.LogPersist.Persisted,
			"rosterPersisted", res.RosterPersist.Persisted || !res.RosterPersist.Attempted,
		)
	}

	select {
	case p.results <- res:
	default:
		p.logger.Warn("results channel full, dropping sync result")
	}
}
