package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	domrepo "MarketSync/internal/domain/repository"
	"MarketSync/internal/repository"
	"MarketSync/pkg/logger"
)

type fakeStream struct {
	mu           sync.Mutex
	subscribed   map[string]bool
	unsubscribed []string
	connected    bool
	ticks        chan *models.StreamTick
	events       chan models.Event
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		subscribed: make(map[string]bool),
		ticks:      make(chan *models.StreamTick, 64),
		events:     make(chan models.Event, 64),
	}
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Subscribe(_ context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	return nil
}

func (f *fakeStream) Unsubscribe(_ context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.subscribed, s)
		f.unsubscribed = append(f.unsubscribed, s)
	}
	return nil
}

func (f *fakeStream) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) State() models.ConnectionState {
	if f.IsConnected() {
		return models.StateConnected
	}
	return models.StateDisconnected
}

func (f *fakeStream) Ticks() <-chan *models.StreamTick { return f.ticks }
func (f *fakeStream) Events() <-chan models.Event      { return f.events }

func (f *fakeStream) isSubscribed(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[symbol]
}

type fakeFetcher struct {
	mu       sync.Mutex
	batches  [][]string
	singles  []string
	priceFor map[string]float64
	profiles map[string]*models.FMPProfile
	exDates  map[string]time.Time
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		priceFor: map[string]float64{},
		profiles: map[string]*models.FMPProfile{},
		exDates:  map[string]time.Time{},
	}
}

func (f *fakeFetcher) GetQuotes(_ context.Context, symbols []string) ([]*models.StockQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, symbols)

	out := make([]*models.StockQuote, 0, len(symbols))
	for _, s := range symbols {
		price := f.priceFor[s]
		if price == 0 {
			price = 100
		}
		out = append(out, &models.StockQuote{Symbol: s, Price: price, PreviousClose: price})
	}
	return out, nil
}

func (f *fakeFetcher) RefreshQuote(ctx context.Context, symbol string) (*models.StockQuote, error) {
	f.mu.Lock()
	f.singles = append(f.singles, symbol)
	f.mu.Unlock()

	quotes, err := f.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	return quotes[0], nil
}

func (f *fakeFetcher) GetProfile(_ context.Context, symbol string) (*models.FMPProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[symbol]; ok {
		return p, nil
	}
	return nil, errors.New("profile " + symbol + ": not found")
}

func (f *fakeFetcher) NextExDividendDate(_ context.Context, symbol string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exDates[symbol], nil
}

func (f *fakeFetcher) singleFetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.singles...)
}

func newTestSync(t *testing.T, cfg SyncConfig) (*Sync, *fakeStream, *fakeFetcher) {
	t.Helper()

	stream := newFakeStream()
	fetcher := newFakeFetcher()
	store := repository.NewSymbolStore()
	merge := NewMergeEngine(store, logger.Nop(), domrepo.NopMetrics{})
	poller := NewPoller(time.Hour, fetcher.RefreshQuote, merge, logger.Nop(), domrepo.NopMetrics{})
	hub := NewHub(logger.Nop())

	s := NewSync(cfg, stream, poller, merge, fetcher, store, hub, repository.NopUpdatePublisher{}, logger.Nop(), domrepo.NopMetrics{})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s, stream, fetcher
}

func TestSyncSplitsStreamAndPollDelivery(t *testing.T) {
	s, stream, _ := newTestSync(t, SyncConfig{StreamingEnabled: true, PollOnlySymbols: []string{"SPY"}})

	require.NoError(t, s.SubscribeToSymbols(context.Background(), []string{"aapl", "spy", "^GSPC"}))

	assert.True(t, stream.isSubscribed("AAPL"))
	assert.False(t, stream.isSubscribed("SPY"), "configured poll-only symbol must not hit the stream")
	assert.False(t, stream.isSubscribed("^GSPC"), "index trackers must not hit the stream")
	assert.True(t, s.poller.IsPolling("SPY"))
	assert.True(t, s.poller.IsPolling("^GSPC"))

	// Seeding happens in the background; all three symbols end up readable.
	require.Eventually(t, func() bool {
		_, okA := s.GetStock("AAPL")
		_, okS := s.GetStock("SPY")
		_, okG := s.GetStock("^GSPC")
		return okA && okS && okG
	}, 2*time.Second, 10*time.Millisecond)

	q, _ := s.GetStock("aapl")
	assert.Equal(t, "AAPL", q.Symbol, "reads are case-insensitive, records are upper-cased")
}

func TestSyncEnrichesSeededRecords(t *testing.T) {
	s, _, fetcher := newTestSync(t, SyncConfig{StreamingEnabled: true})
	fetcher.priceFor["AAPL"] = 200
	exDate := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	fetcher.profiles["AAPL"] = &models.FMPProfile{
		Symbol:            "AAPL",
		CompanyName:       "Apple Inc.",
		ExchangeShortName: "NASDAQ",
		LastDiv:           1.0,
	}
	fetcher.exDates["AAPL"] = exDate

	require.NoError(t, s.SubscribeToSymbols(context.Background(), []string{"AAPL"}))

	require.Eventually(t, func() bool {
		q, ok := s.GetStock("AAPL")
		return ok && q.Name == "Apple Inc." && !q.NextExDividendDate.IsZero()
	}, 2*time.Second, 10*time.Millisecond, "profile and dividend data must land on the record")

	q, _ := s.GetStock("AAPL")
	assert.Equal(t, "NASDAQ", q.Exchange)
	assert.InDelta(t, 0.5, q.DividendYield, 1e-9, "lastDiv 1.0 against price 200")
	assert.Equal(t, exDate, q.NextExDividendDate)
	assert.Equal(t, 200.0, q.Price, "enrichment must not disturb quote fields")
}

func TestSyncEnrichmentFailuresAreIsolated(t *testing.T) {
	s, _, fetcher := newTestSync(t, SyncConfig{StreamingEnabled: true})
	exDate := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	// No profile configured: that step fails, the dividend step still runs.
	fetcher.exDates["AAPL"] = exDate

	require.NoError(t, s.SubscribeToSymbols(context.Background(), []string{"AAPL"}))

	require.Eventually(t, func() bool {
		q, ok := s.GetStock("AAPL")
		return ok && q.NextExDividendDate.Equal(exDate)
	}, 2*time.Second, 10*time.Millisecond, "the fields that did resolve must still publish")

	q, _ := s.GetStock("AAPL")
	assert.Empty(t, q.Name)
	assert.Equal(t, 100.0, q.Price, "seeded quote survives the failed profile step")
}

func TestSyncReferenceCounting(t *testing.T) {
	s, stream, _ := newTestSync(t, SyncConfig{StreamingEnabled: true})
	ctx := context.Background()

	require.NoError(t, s.SubscribeToSymbols(ctx, []string{"AAPL"}))
	require.NoError(t, s.SubscribeToSymbols(ctx, []string{"AAPL"}))

	require.NoError(t, s.UnsubscribeFromSymbols(ctx, []string{"AAPL"}))
	assert.True(t, stream.isSubscribed("AAPL"), "one reference remains")

	require.NoError(t, s.UnsubscribeFromSymbols(ctx, []string{"AAPL"}))
	assert.False(t, stream.isSubscribed("AAPL"), "last reference gone, stream unsubscribed")
	assert.Empty(t, s.Subscriptions())
}

func TestSyncStreamingDisabledPollsEverything(t *testing.T) {
	s, stream, _ := newTestSync(t, SyncConfig{StreamingEnabled: false})

	require.NoError(t, s.SubscribeToSymbols(context.Background(), []string{"AAPL", "MSFT"}))

	assert.False(t, s.IsConnected())
	assert.False(t, stream.isSubscribed("AAPL"))
	assert.True(t, s.poller.IsPolling("AAPL"))
	assert.True(t, s.poller.IsPolling("MSFT"))
}

func TestSyncRepublishesTicksAsStockUpdates(t *testing.T) {
	s, stream, _ := newTestSync(t, SyncConfig{StreamingEnabled: true})

	_, err := s.FetchBatchStockData(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	feed, cancel := s.Events()
	defer cancel()

	stream.ticks <- &models.StreamTick{Symbol: "AAPL", Price: f64(105), Timestamp: time.Now()}

	select {
	case ev := <-feed:
		assert.Equal(t, models.EventStockUpdate, ev.Type)
		assert.Equal(t, "AAPL", ev.Symbol)
		require.NotNil(t, ev.Quote)
		assert.Equal(t, 105.0, ev.Quote.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no stockUpdate event on the feed")
	}
}

func TestSyncBackfillsUnknownSymbolOnPartial(t *testing.T) {
	s, stream, fetcher := newTestSync(t, SyncConfig{StreamingEnabled: true})

	stream.ticks <- &models.StreamTick{Symbol: "NVDA", Price: f64(900), Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		for _, sym := range fetcher.singleFetches() {
			if sym == "NVDA" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "partial with no baseline must schedule a full backfill")

	require.Eventually(t, func() bool {
		q, ok := s.GetStock("NVDA")
		return ok && q.PreviousClose > 0
	}, 2*time.Second, 10*time.Millisecond, "backfilled snapshot replaces the incomplete record")
}

func TestSyncRepublishesLifecycleEvents(t *testing.T) {
	s, stream, _ := newTestSync(t, SyncConfig{StreamingEnabled: true})

	feed, cancel := s.Events()
	defer cancel()

	stream.events <- models.Event{Type: models.EventDisconnected, Reason: "read: connection reset"}

	select {
	case ev := <-feed:
		assert.Equal(t, models.EventDisconnected, ev.Type)
		assert.Equal(t, "read: connection reset", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle event not republished")
	}
}

func TestSyncFetchBatchReturnsMergedRecords(t *testing.T) {
	s, _, fetcher := newTestSync(t, SyncConfig{StreamingEnabled: true})
	fetcher.priceFor["AAPL"] = 190.5

	out, err := s.FetchBatchStockData(context.Background(), []string{"aapl", "msft"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 190.5, out["AAPL"].Price)

	q, ok := s.GetStock("MSFT")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)
}
