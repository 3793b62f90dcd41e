package usecase

import (
	"context"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

// FetchQuoteFunc pulls one symbol's full snapshot.
type FetchQuoteFunc func(ctx context.Context, symbol string) (*models.StockQuote, error)

// Poller keeps poll-only symbols fresh with one independent fixed-interval
// timer per symbol. A failed poll logs and waits for the next tick; it never
// touches any other symbol's timer.
type Poller struct {
	interval time.Duration
	fetch    FetchQuoteFunc
	merge    *MergeEngine
	log      *logger.Logger
	metrics  repository.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates the polling scheduler.
func NewPoller(interval time.Duration, fetch FetchQuoteFunc, merge *MergeEngine, log *logger.Logger, metrics repository.Metrics) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		merge:    merge,
		log:      log,
		metrics:  metrics,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// StartPolling begins polling each symbol. Symbols already being polled are
// left alone.
func (p *Poller) StartPolling(ctx context.Context, symbols []string) {
	for _, symbol := range util.NormalizeSymbols(symbols) {
		p.mu.Lock()
		if _, running := p.cancels[symbol]; running {
			p.mu.Unlock()
			continue
		}
		symCtx, cancel := context.WithCancel(ctx)
		p.cancels[symbol] = cancel
		p.wg.Add(1)
		p.mu.Unlock()

		go p.pollLoop(symCtx, symbol)
	}
}

// StopPolling cancels the timers for the given symbols. In-flight fetches
// finish and still merge.
func (p *Poller) StopPolling(symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, symbol := range util.NormalizeSymbols(symbols) {
		if cancel, ok := p.cancels[symbol]; ok {
			cancel()
			delete(p.cancels, symbol)
		}
	}
}

// StopAll cancels every timer and waits for the loops to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	for symbol, cancel := range p.cancels {
		cancel()
		delete(p.cancels, symbol)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// IsPolling reports whether symbol currently has a timer.
func (p *Poller) IsPolling(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancels[util.NormalizeSymbol(symbol)]
	return ok
}

func (p *Poller) pollLoop(ctx context.Context, symbol string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, symbol)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, symbol string) {
	quote, err := p.fetch(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.RecordError("poll_failed")
		p.log.Warn("poll failed", logger.String("symbol", symbol), logger.Error(err))
		return
	}
	p.metrics.RecordTick("poll")
	p.merge.MergeSnapshot(quote)
}
