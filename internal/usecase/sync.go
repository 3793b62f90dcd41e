package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

// QuoteFetcher is the slice of the pull gateway the facade needs.
type QuoteFetcher interface {
	GetQuotes(ctx context.Context, symbols []string) ([]*models.StockQuote, error)
	RefreshQuote(ctx context.Context, symbol string) (*models.StockQuote, error)
	GetProfile(ctx context.Context, symbol string) (*models.FMPProfile, error)
	NextExDividendDate(ctx context.Context, symbol string) (time.Time, error)
}

// SyncConfig tunes the facade.
type SyncConfig struct {
	// StreamingEnabled false routes every symbol through the poller.
	StreamingEnabled bool
	// PollOnlySymbols are never sent to the stream regardless of shape.
	PollOnlySymbols []string
}

// Sync is the single entry point consumers use: subscribe/unsubscribe with
// reference counting, one-shot batch fetch, non-blocking cached reads, and a
// change feed. It owns the subscription registry and is the only component
// that mutates it.
type Sync struct {
	cfg     SyncConfig
	stream  repository.MarketStream
	poller  *Poller
	merge   *MergeEngine
	fetcher QuoteFetcher
	store   repository.SymbolStore
	hub     *Hub
	pub     repository.UpdatePublisher
	log     *logger.Logger
	metrics repository.Metrics

	mu       sync.Mutex
	subs     map[string]*models.Subscription
	pollOnly map[string]struct{}

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewSync wires the facade. It registers itself as the merge engine's
// post-merge and backfill hooks, so construct it before any merging starts.
func NewSync(
	cfg SyncConfig,
	stream repository.MarketStream,
	poller *Poller,
	merge *MergeEngine,
	fetcher QuoteFetcher,
	store repository.SymbolStore,
	hub *Hub,
	pub repository.UpdatePublisher,
	log *logger.Logger,
	metrics repository.Metrics,
) *Sync {
	s := &Sync{
		cfg:      cfg,
		stream:   stream,
		poller:   poller,
		merge:    merge,
		fetcher:  fetcher,
		store:    store,
		hub:      hub,
		pub:      pub,
		log:      log,
		metrics:  metrics,
		subs:     make(map[string]*models.Subscription),
		pollOnly: make(map[string]struct{}),
		now:      time.Now,
	}
	for _, sym := range util.NormalizeSymbols(cfg.PollOnlySymbols) {
		s.pollOnly[sym] = struct{}{}
	}
	merge.OnMerged(s.onMerged)
	merge.OnBackfillNeeded(s.requestBackfill)
	return s
}

// Start connects the stream (when enabled) and begins pumping ticks and
// lifecycle events.
func (s *Sync) Start(ctx context.Context) error {
	s.runCtx, s.cancel = context.WithCancel(ctx)

	if s.cfg.StreamingEnabled {
		if err := s.stream.Connect(s.runCtx); err != nil {
			return err
		}
		s.wg.Add(2)
		go s.pumpTicks()
		go s.pumpEvents()
	}
	return nil
}

// Stop tears everything down: stream, poll timers, change feed.
func (s *Sync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cfg.StreamingEnabled {
		_ = s.stream.Disconnect()
	}
	s.poller.StopAll()
	s.wg.Wait()
	s.hub.Close()
}

// SubscribeToSymbols starts tracking symbols. Repeated subscriptions bump
// the reference count; new symbols are split into stream and poll delivery
// and seeded with an immediate batch pull in the background.
func (s *Sync) SubscribeToSymbols(ctx context.Context, symbols []string) error {
	symbols = util.NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil
	}

	var toStream, toPoll, fresh []string
	s.mu.Lock()
	for _, sym := range symbols {
		if sub, ok := s.subs[sym]; ok {
			sub.RefCount++
			continue
		}
		mode := s.deliveryMode(sym)
		s.subs[sym] = &models.Subscription{Symbol: sym, Mode: mode, RefCount: 1}
		fresh = append(fresh, sym)
		if mode == models.ModeStream {
			toStream = append(toStream, sym)
		} else {
			toPoll = append(toPoll, sym)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if len(toStream) > 0 {
		if err := s.stream.Subscribe(ctx, toStream); err != nil {
			// The desired set is persisted inside the manager; a write
			// failure here only means the frame waits for the next connect.
			s.log.Warn("stream subscribe failed", logger.Strings("symbols", toStream), logger.Error(err))
		}
	}
	if len(toPoll) > 0 {
		s.poller.StartPolling(s.runContext(), toPoll)
	}

	// Seed initial values so reads do not stay empty until the first tick,
	// then resolve the profile-derived fields the quote endpoint lacks.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.runContext()
		if _, err := s.FetchBatchStockData(ctx, fresh); err != nil {
			s.log.Warn("initial batch fetch failed", logger.Strings("symbols", fresh), logger.Error(err))
		}
		s.enrichSymbols(ctx, fresh)
	}()
	return nil
}

// enrichSymbols pulls company profile and dividend calendar data for freshly
// subscribed symbols. Every step fails independently per symbol; whatever
// resolved still lands on the record.
func (s *Sync) enrichSymbols(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		var enr models.Enrichment

		profile, err := s.fetcher.GetProfile(ctx, symbol)
		if err != nil {
			s.log.Warn("profile enrichment failed", logger.String("symbol", symbol), logger.Error(err))
		} else {
			if profile.CompanyName != "" {
				enr.Name = &profile.CompanyName
			}
			if profile.ExchangeShortName != "" {
				enr.Exchange = &profile.ExchangeShortName
			}
			if profile.LastDiv > 0 {
				if q, ok := s.store.Get(symbol); ok && q.Price > 0 {
					yield := profile.LastDiv / q.Price * 100
					enr.DividendYield = &yield
				}
			}
		}

		next, err := s.fetcher.NextExDividendDate(ctx, symbol)
		if err != nil {
			s.log.Warn("dividend enrichment failed", logger.String("symbol", symbol), logger.Error(err))
		} else if !next.IsZero() {
			enr.NextExDividendDate = &next
		}

		s.merge.MergeEnrichment(symbol, &enr)
	}
}

// UnsubscribeFromSymbols drops one reference per symbol; at zero the symbol
// leaves the stream or loses its poll timer. In-flight requests are not
// cancelled and their results still merge.
func (s *Sync) UnsubscribeFromSymbols(ctx context.Context, symbols []string) error {
	symbols = util.NormalizeSymbols(symbols)

	var fromStream, fromPoll []string
	s.mu.Lock()
	for _, sym := range symbols {
		sub, ok := s.subs[sym]
		if !ok {
			continue
		}
		sub.RefCount--
		if sub.RefCount > 0 {
			continue
		}
		delete(s.subs, sym)
		if sub.Mode == models.ModeStream {
			fromStream = append(fromStream, sym)
		} else {
			fromPoll = append(fromPoll, sym)
		}
	}
	s.mu.Unlock()

	if len(fromStream) > 0 {
		if err := s.stream.Unsubscribe(ctx, fromStream); err != nil {
			s.log.Warn("stream unsubscribe failed", logger.Strings("symbols", fromStream), logger.Error(err))
		}
	}
	if len(fromPoll) > 0 {
		s.poller.StopPolling(fromPoll)
	}
	return nil
}

// FetchBatchStockData pulls fresh snapshots for symbols, merges them, and
// returns the merged records keyed by upper-cased symbol.
func (s *Sync) FetchBatchStockData(ctx context.Context, symbols []string) (map[string]*models.StockQuote, error) {
	symbols = util.NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return map[string]*models.StockQuote{}, nil
	}

	quotes, err := s.fetcher.GetQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*models.StockQuote, len(quotes))
	for _, q := range quotes {
		merged := s.merge.MergeSnapshot(q)
		if merged != nil {
			out[merged.Symbol] = merged
		}
	}
	return out, nil
}

// GetStock returns the latest cached record. Never blocks on in-flight work.
func (s *Sync) GetStock(symbol string) (*models.StockQuote, bool) {
	return s.store.Get(symbol)
}

// GetAllStocks returns every cached record.
func (s *Sync) GetAllStocks() map[string]*models.StockQuote {
	return s.store.All()
}

// IsConnected reports the stream state; always false in poll-only mode.
func (s *Sync) IsConnected() bool {
	return s.cfg.StreamingEnabled && s.stream.IsConnected()
}

// Subscriptions snapshots the registry for the read surface.
func (s *Sync) Subscriptions() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	return out
}

// Events attaches a consumer to the change feed.
func (s *Sync) Events() (<-chan models.Event, func()) {
	return s.hub.Subscribe()
}

// deliveryMode classifies a symbol. Caret-prefixed instruments are index
// trackers the stream does not carry. Caller holds the lock or is in the
// constructor.
func (s *Sync) deliveryMode(symbol string) models.DeliveryMode {
	if !s.cfg.StreamingEnabled {
		return models.ModePoll
	}
	if _, ok := s.pollOnly[symbol]; ok {
		return models.ModePoll
	}
	if strings.HasPrefix(symbol, "^") {
		return models.ModePoll
	}
	return models.ModeStream
}

// onMerged republishes every cache write on the change feed and mirrors it
// to the external update feed.
func (s *Sync) onMerged(q *models.StockQuote) {
	s.hub.Publish(models.Event{
		Type:      models.EventStockUpdate,
		Symbol:    q.Symbol,
		Quote:     q,
		Timestamp: s.now(),
	})
	if s.pub != nil {
		if err := s.pub.PublishUpdate(s.runContext(), q); err != nil {
			s.log.Warn("update publish failed", logger.String("symbol", q.Symbol), logger.Error(err))
		}
	}
}

// requestBackfill schedules a full fetch for a symbol that received a
// partial with no cached baseline.
func (s *Sync) requestBackfill(symbol string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		quote, err := s.fetcher.RefreshQuote(s.runContext(), symbol)
		if err != nil {
			s.log.Warn("backfill failed", logger.String("symbol", symbol), logger.Error(err))
			return
		}
		s.merge.MergeSnapshot(quote)
	}()
}

// pumpTicks feeds stream deltas into the merge engine.
func (s *Sync) pumpTicks() {
	defer s.wg.Done()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case tick, ok := <-s.stream.Ticks():
			if !ok {
				return
			}
			s.merge.MergeDelta(tick)
		}
	}
}

// pumpEvents republishes stream lifecycle events on the change feed.
func (s *Sync) pumpEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case ev, ok := <-s.stream.Events():
			if !ok {
				return
			}
			if ev.Fatal {
				s.log.Error("stream terminal failure", logger.String("reason", ev.Reason))
			}
			s.hub.Publish(ev)
		}
	}
}

func (s *Sync) runContext() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
