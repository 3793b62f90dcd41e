package usecase

import (
	"sync"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

// MergeEngine is the only writer of the symbol store. It folds streaming
// deltas into the previously cached full record and replaces records
// wholesale on pull snapshots. Merges for the same symbol are serialized by a
// per-symbol mutex; different symbols merge concurrently.
type MergeEngine struct {
	store   repository.SymbolStore
	log     *logger.Logger
	metrics repository.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// onMerged receives every record written to the store.
	onMerged func(*models.StockQuote)
	// backfill is invoked when a partial arrives with no previous record;
	// it should schedule a full fetch for the symbol.
	backfill func(symbol string)
}

// NewMergeEngine creates the merge engine. onMerged and backfill may be nil.
func NewMergeEngine(store repository.SymbolStore, log *logger.Logger, metrics repository.Metrics) *MergeEngine {
	return &MergeEngine{
		store:   store,
		log:     log,
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

// OnMerged registers the post-merge hook. Call before any merging starts.
func (e *MergeEngine) OnMerged(fn func(*models.StockQuote)) { e.onMerged = fn }

// OnBackfillNeeded registers the partial-without-previous hook. Call before
// any merging starts.
func (e *MergeEngine) OnBackfillNeeded(fn func(symbol string)) { e.backfill = fn }

// MergeDelta folds a partial streaming update into the cached record.
// Non-nil tick fields overwrite; absent fields are preserved. Change and
// ChangePercent are recomputed from the new price against the previous
// cached price rather than taken from the provider, which omits them on
// partial frames. When no previous record exists the partial is stored
// best-effort and a full backfill is requested.
func (e *MergeEngine) MergeDelta(tick *models.StreamTick) *models.StockQuote {
	if tick == nil || tick.Symbol == "" {
		return nil
	}
	symbol := util.NormalizeSymbol(tick.Symbol)

	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	prev, ok := e.store.Get(symbol)
	if !ok {
		q := e.recordFromTick(symbol, tick)
		e.store.Put(q)
		e.metrics.RecordMerge("delta_initial")
		if q.Price > 0 {
			e.metrics.RecordLastPrice(symbol, q.Price)
		}
		e.notify(q)
		if e.backfill != nil {
			e.backfill(symbol)
		}
		return q
	}

	q := prev // store.Get already returned a clone
	if tick.Price != nil {
		if prev.Price > 0 {
			q.Change = *tick.Price - prev.Price
			q.ChangePercent = q.Change / prev.Price * 100
		}
		q.Price = *tick.Price
	}
	if tick.Bid != nil {
		q.Bid = *tick.Bid
	}
	if tick.Ask != nil {
		q.Ask = *tick.Ask
	}
	if tick.BidSize != nil {
		q.BidSize = *tick.BidSize
	}
	if tick.AskSize != nil {
		q.AskSize = *tick.AskSize
	}
	if tick.Volume != nil {
		q.Volume = *tick.Volume
	}
	q.LastUpdated = tick.Timestamp

	e.store.Put(q)
	e.metrics.RecordMerge("delta")
	if q.Price > 0 {
		e.metrics.RecordLastPrice(symbol, q.Price)
	}
	e.notify(q)
	return q
}

// MergeSnapshot replaces the cached record wholesale; a full pull is
// authoritative by construction. Profile-sourced fields are the one
// exception: the quote endpoint never carries them, so they survive from the
// previous record instead of being zeroed.
func (e *MergeEngine) MergeSnapshot(quote *models.StockQuote) *models.StockQuote {
	if quote == nil || quote.Symbol == "" {
		return nil
	}
	symbol := util.NormalizeSymbol(quote.Symbol)

	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	q := quote.Clone()
	q.Symbol = symbol
	if prev, ok := e.store.Get(symbol); ok {
		if q.Name == "" {
			q.Name = prev.Name
		}
		if q.Exchange == "" {
			q.Exchange = prev.Exchange
		}
		if q.DividendYield == 0 {
			q.DividendYield = prev.DividendYield
		}
		if q.NextExDividendDate.IsZero() {
			q.NextExDividendDate = prev.NextExDividendDate
		}
	}
	e.store.Put(q)
	e.metrics.RecordMerge("snapshot")
	if q.Price > 0 {
		e.metrics.RecordLastPrice(symbol, q.Price)
	}
	e.notify(q)
	return q
}

// MergeEnrichment folds profile-derived fields into the cached record. It
// never touches quote fields; when no record exists yet a bare one is created
// so the fields that did resolve still publish.
func (e *MergeEngine) MergeEnrichment(symbol string, enr *models.Enrichment) *models.StockQuote {
	if enr.Empty() || symbol == "" {
		return nil
	}
	symbol = util.NormalizeSymbol(symbol)

	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	q, ok := e.store.Get(symbol)
	if !ok {
		q = &models.StockQuote{Symbol: symbol}
	}
	if enr.Name != nil {
		q.Name = *enr.Name
	}
	if enr.Exchange != nil {
		q.Exchange = *enr.Exchange
	}
	if enr.DividendYield != nil {
		q.DividendYield = *enr.DividendYield
	}
	if enr.NextExDividendDate != nil {
		q.NextExDividendDate = *enr.NextExDividendDate
	}

	e.store.Put(q)
	e.metrics.RecordMerge("enrichment")
	e.notify(q)
	return q
}

func (e *MergeEngine) recordFromTick(symbol string, tick *models.StreamTick) *models.StockQuote {
	q := &models.StockQuote{Symbol: symbol, LastUpdated: tick.Timestamp}
	if tick.Price != nil {
		q.Price = *tick.Price
	}
	if tick.Bid != nil {
		q.Bid = *tick.Bid
	}
	if tick.Ask != nil {
		q.Ask = *tick.Ask
	}
	if tick.BidSize != nil {
		q.BidSize = *tick.BidSize
	}
	if tick.AskSize != nil {
		q.AskSize = *tick.AskSize
	}
	if tick.Volume != nil {
		q.Volume = *tick.Volume
	}
	return q
}

func (e *MergeEngine) notify(q *models.StockQuote) {
	if e.onMerged != nil {
		e.onMerged(q.Clone())
	}
}

func (e *MergeEngine) symbolLock(symbol string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	if l, ok := e.locks[symbol]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[symbol] = l
	return l
}
