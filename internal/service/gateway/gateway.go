package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/internal/service/requestqueue"
	"MarketSync/pkg/cache"
	apphttp "MarketSync/pkg/http"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

const cachePrefix = "fmp"

// TTLs holds per-data-class response cache lifetimes.
type TTLs struct {
	Quote      time.Duration
	Extended   time.Duration
	News       time.Duration
	Historical time.Duration
	Search     time.Duration
	Profile    time.Duration
	Dividend   time.Duration
}

// Config wires the gateway to the upstream REST API.
type Config struct {
	BaseURL string
	APIKey  string
	TTL     TTLs
	// SyntheticSpread is the half-spread applied when the provider omits
	// bid/ask. Zero disables the fallback.
	SyntheticSpread float64
}

// Gateway is the sole REST path to the upstream provider. Every request goes
// through the priority queue, and every response lands in a short-TTL cache
// keyed by endpoint and parameters, so repeated reads inside a TTL window
// cost zero upstream calls.
type Gateway struct {
	cfg     Config
	client  *apphttp.Client
	queue   *requestqueue.Queue
	cache   cache.Service
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

// Option configures the gateway.
type Option func(*Gateway)

// WithClock injects a clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates the pull gateway.
func New(cfg Config, client *apphttp.Client, queue *requestqueue.Queue, store cache.Service, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		client:  client,
		queue:   queue,
		cache:   store,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetQuote fetches one symbol's full quote at interactive priority.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (*models.StockQuote, error) {
	quotes, err := g.fetchQuotes(ctx, []string{symbol}, requestqueue.PriorityHigh)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("quote %s: empty response", symbol)
	}
	return quotes[0], nil
}

// RefreshQuote is GetQuote at background priority, for pollers and backfills.
func (g *Gateway) RefreshQuote(ctx context.Context, symbol string) (*models.StockQuote, error) {
	quotes, err := g.fetchQuotes(ctx, []string{symbol}, requestqueue.PriorityNormal)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("quote %s: empty response", symbol)
	}
	return quotes[0], nil
}

// GetQuotes fetches a batch of symbols in one upstream call.
func (g *Gateway) GetQuotes(ctx context.Context, symbols []string) ([]*models.StockQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	return g.fetchQuotes(ctx, symbols, requestqueue.PriorityHigh)
}

func (g *Gateway) fetchQuotes(ctx context.Context, symbols []string, priority requestqueue.Priority) ([]*models.StockQuote, error) {
	symbols = util.NormalizeSymbols(symbols)
	endpoint := "quote/" + strings.Join(symbols, ",")

	var rows []models.FMPQuote
	if err := g.get(ctx, "quote", endpoint, nil, g.cfg.TTL.Quote, priority, &rows); err != nil {
		return nil, err
	}

	out := make([]*models.StockQuote, 0, len(rows))
	for i := range rows {
		out = append(out, g.quoteToStock(&rows[i]))
	}
	return out, nil
}

// GetProfile fetches the company profile.
func (g *Gateway) GetProfile(ctx context.Context, symbol string) (*models.FMPProfile, error) {
	symbol = util.NormalizeSymbol(symbol)

	var rows []models.FMPProfile
	if err := g.get(ctx, "profile", "profile/"+symbol, nil, g.cfg.TTL.Profile, requestqueue.PriorityNormal, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: not found", symbol)
	}
	return &rows[0], nil
}

// GetDividendHistory fetches the dividend calendar for one symbol.
func (g *Gateway) GetDividendHistory(ctx context.Context, symbol string) (*models.FMPDividendHistory, error) {
	symbol = util.NormalizeSymbol(symbol)

	var hist models.FMPDividendHistory
	err := g.get(ctx, "dividends", "historical-price-full/stock_dividend/"+symbol, nil,
		g.cfg.TTL.Dividend, requestqueue.PriorityNormal, &hist)
	if err != nil {
		return nil, err
	}
	return &hist, nil
}

// NextExDividendDate returns the next upcoming ex-dividend date for symbol,
// or the zero time when none is scheduled.
func (g *Gateway) NextExDividendDate(ctx context.Context, symbol string) (time.Time, error) {
	hist, err := g.GetDividendHistory(ctx, symbol)
	if err != nil {
		return time.Time{}, err
	}

	now := g.now()
	var next time.Time
	for _, d := range hist.Historical {
		t, ok := util.ParseTime(d.Date)
		if !ok || t.Before(now) {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next, nil
}

// GetNews fetches recent articles for the given symbols.
func (g *Gateway) GetNews(ctx context.Context, symbols []string, limit int) ([]models.FMPNewsItem, error) {
	symbols = util.NormalizeSymbols(symbols)
	if limit <= 0 {
		limit = 50
	}
	params := map[string]string{
		"tickers": strings.Join(symbols, ","),
		"limit":   strconv.Itoa(limit),
	}

	var rows []models.FMPNewsItem
	if err := g.get(ctx, "news", "stock_news", params, g.cfg.TTL.News, requestqueue.PriorityLow, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Search looks up symbols by ticker fragment or company name.
func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]models.FMPSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	params := map[string]string{
		"query": query,
		"limit": strconv.Itoa(limit),
	}

	var rows []models.FMPSearchResult
	if err := g.get(ctx, "search", "search", params, g.cfg.TTL.Search, requestqueue.PriorityLow, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetHistoricalPrices fetches daily bars. from/to are YYYY-MM-DD and
// optional.
func (g *Gateway) GetHistoricalPrices(ctx context.Context, symbol, from, to string) (*models.FMPHistoricalPrices, error) {
	symbol = util.NormalizeSymbol(symbol)
	params := map[string]string{}
	if from != "" {
		params["from"] = from
	}
	if to != "" {
		params["to"] = to
	}

	var hist models.FMPHistoricalPrices
	err := g.get(ctx, "historical", "historical-price-full/"+symbol, params,
		g.cfg.TTL.Historical, requestqueue.PriorityLow, &hist)
	if err != nil {
		return nil, err
	}
	return &hist, nil
}

// GetAftermarketQuote fetches the extended-hours quote for one symbol.
func (g *Gateway) GetAftermarketQuote(ctx context.Context, symbol string) (*models.FMPAftermarketQuote, error) {
	symbol = util.NormalizeSymbol(symbol)

	var row models.FMPAftermarketQuote
	err := g.get(ctx, "aftermarket", "pre-post-market/"+symbol, nil,
		g.cfg.TTL.Extended, requestqueue.PriorityHigh, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetAftermarketQuotes fans a batch out as parallel singles; the upstream has
// no batch form for this endpoint. Symbols that fail are skipped.
func (g *Gateway) GetAftermarketQuotes(ctx context.Context, symbols []string) ([]*models.FMPAftermarketQuote, error) {
	symbols = util.NormalizeSymbols(symbols)

	results := make([]*models.FMPAftermarketQuote, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			q, err := g.GetAftermarketQuote(ctx, symbol)
			if err != nil {
				g.log.Warn("aftermarket quote failed",
					logger.String("symbol", symbol), logger.Error(err))
				return
			}
			results[i] = q
		}(i, symbol)
	}
	wg.Wait()

	out := make([]*models.FMPAftermarketQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

// ClearCache evicts cached responses whose endpoint starts with prefix; an
// empty prefix clears everything the gateway cached.
func (g *Gateway) ClearCache(ctx context.Context, prefix string) error {
	key := cachePrefix
	if prefix != "" {
		key = cache.Key(cachePrefix, prefix)
	}
	return g.cache.DeleteByPrefix(ctx, key)
}

// get is the single fetch path: response cache, then the queue, then REST.
func (g *Gateway) get(ctx context.Context, name, endpoint string, params map[string]string, ttl time.Duration, priority requestqueue.Priority, dest interface{}) error {
	key := g.cacheKey(endpoint, params)

	var cached []byte
	if err := g.cache.Get(ctx, key, &cached); err == nil {
		g.metrics.RecordCacheHit(name)
		return json.Unmarshal(cached, dest)
	}
	g.metrics.RecordCacheMiss(name)

	start := g.now()
	err := g.queue.Wait(ctx, fmt.Sprintf("%s %s", name, endpoint), priority, func(ctx context.Context) error {
		body, err := g.request(ctx, endpoint, params)
		if err != nil {
			return err
		}
		cached = body
		return nil
	})
	if err != nil {
		return err
	}
	g.metrics.RecordLatency(name, g.now().Sub(start).Seconds())

	if err := json.Unmarshal(cached, dest); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	if setErr := g.cache.Set(ctx, key, cached, ttl); setErr != nil {
		g.log.Warn("response cache write failed", logger.String("key", key), logger.Error(setErr))
	}
	return nil
}

// request performs the raw HTTP call and classifies failures: client errors
// are permanent, server and rate-limit errors are retryable.
func (g *Gateway) request(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	query := map[string][]string{"apikey": {g.cfg.APIKey}}
	for k, v := range params {
		query[k] = []string{v}
	}

	resp, err := g.client.SendRequest(ctx, &apphttp.RequestOptions{
		Method:      apphttp.MethodGet,
		URL:         strings.TrimRight(g.cfg.BaseURL, "/") + "/" + endpoint,
		QueryParams: query,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	default:
		return nil, requestqueue.Permanent(fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
}

// cacheKey builds a deterministic composite key from endpoint and parameters.
func (g *Gateway) cacheKey(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return cache.Key(cachePrefix, endpoint)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return cache.Key(cachePrefix, endpoint, strings.Join(pairs, "&"))
}

// quoteToStock maps a provider quote row onto the engine's record shape. The
// provider carries no bid/ask on this endpoint, so a configurable synthetic
// spread around the last price stands in when enabled.
func (g *Gateway) quoteToStock(fq *models.FMPQuote) *models.StockQuote {
	q := &models.StockQuote{
		Symbol:        util.NormalizeSymbol(fq.Symbol),
		Name:          fq.Name,
		Exchange:      fq.Exchange,
		Price:         fq.Price,
		Change:        fq.Change,
		ChangePercent: fq.ChangesPercentage,
		DayLow:        fq.DayLow,
		DayHigh:       fq.DayHigh,
		YearLow:       fq.YearLow,
		YearHigh:      fq.YearHigh,
		Open:          fq.Open,
		PreviousClose: fq.PreviousClose,
		Volume:        fq.Volume,
		MarketCap:     fq.MarketCap,
		PE:            fq.PE,
		EPS:           fq.EPS,
		LastUpdated:   g.now(),
	}
	if g.cfg.SyntheticSpread > 0 && fq.Price > 0 {
		q.Bid = fq.Price - g.cfg.SyntheticSpread
		q.Ask = fq.Price + g.cfg.SyntheticSpread
	}
	return q
}
