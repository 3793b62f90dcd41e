package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"MarketSync/internal/domain/models"
	xhttp "MarketSync/pkg/http"
	xlogger "MarketSync/pkg/logger"
)

// Engine is the synchronization facade surface the handler consumes.
type Engine interface {
	SubscribeToSymbols(ctx context.Context, symbols []string) error
	UnsubscribeFromSymbols(ctx context.Context, symbols []string) error
	FetchBatchStockData(ctx context.Context, symbols []string) (map[string]*models.StockQuote, error)
	GetStock(symbol string) (*models.StockQuote, bool)
	GetAllStocks() map[string]*models.StockQuote
	IsConnected() bool
	Subscriptions() []models.Subscription
}

// MarketData is the slice of the pull gateway exposed over HTTP.
type MarketData interface {
	GetProfile(ctx context.Context, symbol string) (*models.FMPProfile, error)
	GetDividendHistory(ctx context.Context, symbol string) (*models.FMPDividendHistory, error)
	GetNews(ctx context.Context, symbols []string, limit int) ([]models.FMPNewsItem, error)
	Search(ctx context.Context, query string, limit int) ([]models.FMPSearchResult, error)
	GetHistoricalPrices(ctx context.Context, symbol, from, to string) (*models.FMPHistoricalPrices, error)
	GetAftermarketQuote(ctx context.Context, symbol string) (*models.FMPAftermarketQuote, error)
}

// UsageReporter exposes budget headroom.
type UsageReporter interface {
	Report() models.UsageReport
}

// StocksHandler is the HTTP read surface over the engine.
type StocksHandler struct {
	engine Engine
	market MarketData
	usage  UsageReporter
	logger *xlogger.Logger
}

// NewStocksHandler creates the handler.
func NewStocksHandler(engine Engine, market MarketData, usage UsageReporter, logger *xlogger.Logger) *StocksHandler {
	return &StocksHandler{engine: engine, market: market, usage: usage, logger: logger}
}

func (h *StocksHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/usage", h.Usage)
	g.GET("/search", h.Search)
	g.GET("/news", h.News)

	g.GET("/stocks", h.AllStocks)
	g.POST("/stocks/fetch", h.Fetch)
	g.GET("/stocks/:symbol", h.Stock)
	g.GET("/stocks/:symbol/profile", h.Profile)
	g.GET("/stocks/:symbol/dividends", h.Dividends)
	g.GET("/stocks/:symbol/historical", h.Historical)
	g.GET("/stocks/:symbol/aftermarket", h.Aftermarket)

	g.GET("/subscriptions", h.ListSubscriptions)
	g.POST("/subscriptions", h.Subscribe)
	g.DELETE("/subscriptions", h.Unsubscribe)
}

func (h *StocksHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":    "ok",
		"connected": h.engine.IsConnected(),
		"tracked":   len(h.engine.GetAllStocks()),
		"time":      time.Now().UTC(),
	})
}

func (h *StocksHandler) Usage(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.usage.Report())
}

func (h *StocksHandler) AllStocks(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.GetAllStocks())
}

func (h *StocksHandler) Stock(c echo.Context) error {
	symbol := c.Param("symbol")
	quote, ok := h.engine.GetStock(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("symbol not tracked: "+symbol))
	}
	return xhttp.SuccessResponse(c, quote)
}

func (h *StocksHandler) Fetch(c echo.Context) error {
	req := &models.FetchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	out, err := h.engine.FetchBatchStockData(c.Request().Context(), req.Symbols)
	if err != nil {
		h.logger.Error("batch fetch failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *StocksHandler) Subscribe(c echo.Context) error {
	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.engine.SubscribeToSymbols(c.Request().Context(), req.Symbols); err != nil {
		h.logger.Error("subscribe failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.engine.Subscriptions())
}

func (h *StocksHandler) Unsubscribe(c echo.Context) error {
	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.engine.UnsubscribeFromSymbols(c.Request().Context(), req.Symbols); err != nil {
		h.logger.Error("unsubscribe failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.engine.Subscriptions())
}

func (h *StocksHandler) ListSubscriptions(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Subscriptions())
}

func (h *StocksHandler) Profile(c echo.Context) error {
	profile, err := h.market.GetProfile(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	}
	return xhttp.SuccessResponse(c, profile)
}

func (h *StocksHandler) Dividends(c echo.Context) error {
	hist, err := h.market.GetDividendHistory(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		h.logger.Error("dividend fetch failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, hist)
}

func (h *StocksHandler) Historical(c echo.Context) error {
	req := &models.HistoricalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	hist, err := h.market.GetHistoricalPrices(c.Request().Context(), c.Param("symbol"), req.From, req.To)
	if err != nil {
		h.logger.Error("historical fetch failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, hist)
}

func (h *StocksHandler) Aftermarket(c echo.Context) error {
	quote, err := h.market.GetAftermarketQuote(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		h.logger.Error("aftermarket fetch failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, quote)
}

func (h *StocksHandler) Search(c echo.Context) error {
	req := &models.SearchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	results, err := h.market.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		h.logger.Error("search failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, results)
}

func (h *StocksHandler) News(c echo.Context) error {
	req := &models.NewsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	items, err := h.market.GetNews(c.Request().Context(), req.Symbols, req.Limit)
	if err != nil {
		h.logger.Error("news fetch failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()))
	}
	return xhttp.SuccessResponse(c, items)
}
