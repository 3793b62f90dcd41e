package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/repository"
	"MarketSync/internal/service/breaker"
	"MarketSync/internal/service/budget"
	"MarketSync/internal/service/requestqueue"
	"MarketSync/pkg/cache"
	apphttp "MarketSync/pkg/http"
	"MarketSync/pkg/logger"
)

func newTestGateway(t *testing.T, handler http.Handler, spread float64) (*Gateway, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	q := requestqueue.New(requestqueue.Config{MaxRetries: 1, RetryBaseDelay: time.Millisecond},
		breaker.New(5, time.Minute, 1), budget.New(0, 0, 0), logger.Nop(), repository.NopMetrics{},
		requestqueue.WithSleep(func(context.Context, time.Duration) error { return nil }))
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	cfg := Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		TTL: TTLs{
			Quote:      10 * time.Second,
			Extended:   10 * time.Second,
			News:       5 * time.Minute,
			Historical: time.Hour,
			Search:     24 * time.Hour,
			Profile:    24 * time.Hour,
			Dividend:   7 * 24 * time.Hour,
		},
		SyntheticSpread: spread,
	}
	return New(cfg, apphttp.NewClient(), q, mem, logger.Nop(), repository.NopMetrics{}), srv
}

const quoteBody = `[{"symbol":"AAPL","name":"Apple Inc.","price":190.5,"changesPercentage":1.2,
"change":2.26,"dayLow":188.0,"dayHigh":191.2,"yearHigh":199.6,"yearLow":140.0,
"marketCap":2950000000000,"exchange":"NASDAQ","volume":52000000,"avgVolume":58000000,
"open":188.4,"previousClose":188.24,"eps":6.42,"pe":29.7,"timestamp":1718000000}]`

func TestGatewayQuoteTransform(t *testing.T) {
	var calls atomic.Int64
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/quote/AAPL", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(quoteBody))
	}), 0.01)

	q, err := g.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc.", q.Name)
	assert.Equal(t, 190.5, q.Price)
	assert.Equal(t, 1.2, q.ChangePercent)
	assert.InDelta(t, 190.49, q.Bid, 1e-9)
	assert.InDelta(t, 190.51, q.Ask, 1e-9)
	assert.False(t, q.LastUpdated.IsZero())
	assert.Equal(t, int64(1), calls.Load())
}

func TestGatewaySyntheticSpreadDisabled(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(quoteBody))
	}), 0)

	q, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Zero(t, q.Bid)
	assert.Zero(t, q.Ask)
}

func TestGatewayResponseCache(t *testing.T) {
	var calls atomic.Int64
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(quoteBody))
	}), 0)

	ctx := context.Background()
	_, err := g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	_, err = g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "second read inside the TTL must be served from cache")

	require.NoError(t, g.ClearCache(ctx, ""))
	_, err = g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "ClearCache must force a fresh pull")
}

func TestGatewayCacheExpiryTriggersRefetch(t *testing.T) {
	var calls atomic.Int64
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(quoteBody))
	}), 0)
	g.cfg.TTL.Quote = 30 * time.Millisecond

	ctx := context.Background()
	_, err := g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	_, err = g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load(), "read inside the TTL window is a hit")

	time.Sleep(60 * time.Millisecond)

	_, err = g.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "read past the TTL is a miss and pulls fresh")
}

func TestGatewayBatchQuotes(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/AAPL,MSFT", r.URL.Path)
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","price":190.5},{"symbol":"MSFT","price":420.1}]`))
	}), 0)

	quotes, err := g.GetQuotes(context.Background(), []string{"aapl", "msft", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, "MSFT", quotes[1].Symbol)
}

func TestGatewayClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown symbol", http.StatusNotFound)
	}), 0)

	_, err := g.GetQuote(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int64(1), calls.Load(), "4xx must not be retried")
}

func TestGatewayServerErrorRetries(t *testing.T) {
	var calls atomic.Int64
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(quoteBody))
	}), 0)

	_, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGatewayNextExDividendDate(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/historical-price-full/stock_dividend/AAPL", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbol":"AAPL","historical":[
			{"date":"2025-08-08","dividend":0.25},
			{"date":"2025-05-09","dividend":0.25},
			{"date":"2025-11-07","dividend":0.26}]}`))
	}), 0)
	g.now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }

	next, err := g.NextExDividendDate(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), next)
}

func TestGatewayProfileNotFound(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}), 0)

	_, err := g.GetProfile(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
