package di

import (
	"fmt"

	"MarketSync/internal/domain/repository"
	"MarketSync/internal/handler/api"
	internalrepo "MarketSync/internal/repository"
	"MarketSync/internal/service/breaker"
	"MarketSync/internal/service/budget"
	"MarketSync/internal/service/gateway"
	"MarketSync/internal/service/requestqueue"
	"MarketSync/internal/service/stream"
	"MarketSync/internal/usecase"
	"MarketSync/pkg/cache"
	"MarketSync/pkg/config"
	apphttp "MarketSync/pkg/http"
	pkgkafka "MarketSync/pkg/kafka"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/metrics"
	"MarketSync/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache builds the response cache: L1 memory always, L2 Redis when
// configured.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)), nil
	}

	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(redisCache, cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize)), nil
}

// ProvideUsageStore persists ledger snapshots through the cache backend.
func ProvideUsageStore(c cache.Service) repository.UsageStore {
	return internalrepo.NewCacheUsageStore(c)
}

// ProvideBreaker creates the gateway-wide circuit breaker.
func ProvideBreaker(cfg *config.Config) *breaker.CircuitBreaker {
	return breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, cfg.Breaker.HalfOpenProbes)
}

// ProvideLedger creates the usage ledger with persistence.
func ProvideLedger(cfg *config.Config, store repository.UsageStore) *budget.Ledger {
	return budget.New(
		cfg.Budget.DailyCallLimit,
		cfg.Budget.MonthlyCallLimit,
		cfg.Budget.CostPerCallUSD,
		budget.WithStore(store),
	)
}

// ProvideQueue creates the priority request queue.
func ProvideQueue(cfg *config.Config, cb *breaker.CircuitBreaker, ledger *budget.Ledger, log *logger.Logger, m repository.Metrics) *requestqueue.Queue {
	return requestqueue.New(requestqueue.Config{
		RequestSpacing: cfg.Queue.RequestSpacing,
		MaxRetries:     cfg.Queue.MaxRetries,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay,
	}, cb, ledger, log, m)
}

// ProvideHTTPClient creates the outbound HTTP client.
func ProvideHTTPClient(cfg *config.Config) *apphttp.Client {
	return apphttp.NewClient(apphttp.WithTimeout(cfg.FMP.RequestTimeout))
}

// ProvideGateway creates the pull gateway.
func ProvideGateway(cfg *config.Config, client *apphttp.Client, queue *requestqueue.Queue, c cache.Service, log *logger.Logger, m repository.Metrics) *gateway.Gateway {
	return gateway.New(gateway.Config{
		BaseURL: cfg.FMP.BaseURL,
		APIKey:  cfg.FMP.APIKey,
		TTL: gateway.TTLs{
			Quote:      cfg.Cache.QuoteTTL,
			Extended:   cfg.Cache.ExtendedTTL,
			News:       cfg.Cache.NewsTTL,
			Historical: cfg.Cache.HistoricalTTL,
			Search:     cfg.Cache.SearchTTL,
			Profile:    cfg.Cache.ProfileTTL,
			Dividend:   cfg.Cache.DividendTTL,
		},
		SyntheticSpread: cfg.Quote.SyntheticSpread,
	}, client, queue, c, log, m)
}

// ProvideStream creates the WebSocket stream manager.
func ProvideStream(cfg *config.Config, log *logger.Logger, m repository.Metrics) repository.MarketStream {
	return stream.New(stream.Config{
		URL:          cfg.FMP.WebSocketURL,
		APIKey:       cfg.FMP.APIKey,
		PingInterval: cfg.FMP.PingInterval,
		Reconnect: stream.Reconnect{
			BaseDelay:   cfg.FMP.Reconnect.BaseDelay,
			MaxDelay:    cfg.FMP.Reconnect.MaxDelay,
			MaxAttempts: cfg.FMP.Reconnect.MaxAttempts,
		},
	}, log, m)
}

// ProvideSymbolStore creates the latest-record store.
func ProvideSymbolStore() repository.SymbolStore {
	return internalrepo.NewSymbolStore()
}

// ProvideMergeEngine creates the merge engine.
func ProvideMergeEngine(store repository.SymbolStore, log *logger.Logger, m repository.Metrics) *usecase.MergeEngine {
	return usecase.NewMergeEngine(store, log, m)
}

// ProvidePoller creates the polling scheduler, fed by background-priority
// gateway pulls.
func ProvidePoller(cfg *config.Config, gw *gateway.Gateway, merge *usecase.MergeEngine, log *logger.Logger, m repository.Metrics) *usecase.Poller {
	return usecase.NewPoller(cfg.Polling.Interval, gw.RefreshQuote, merge, log, m)
}

// ProvideHub creates the change-feed hub.
func ProvideHub(log *logger.Logger) *usecase.Hub {
	return usecase.NewHub(log)
}

// ProvideUpdatePublisher mirrors merged records to Kafka when brokers are
// configured, otherwise discards them.
func ProvideUpdatePublisher(cfg *config.Config) (repository.UpdatePublisher, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopUpdatePublisher{}, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaUpdatePublisher(producer, cfg.Kafka.Topic), nil
}

// ProvideSync wires the synchronization facade.
func ProvideSync(
	cfg *config.Config,
	ms repository.MarketStream,
	poller *usecase.Poller,
	merge *usecase.MergeEngine,
	gw *gateway.Gateway,
	store repository.SymbolStore,
	hub *usecase.Hub,
	pub repository.UpdatePublisher,
	log *logger.Logger,
	m repository.Metrics,
) *usecase.Sync {
	return usecase.NewSync(usecase.SyncConfig{
		StreamingEnabled: cfg.StreamingEnabled(),
		PollOnlySymbols:  cfg.Polling.PollOnlySymbols,
	}, ms, poller, merge, gw, store, hub, pub, log, m)
}

// ProvideHTTPHandler creates the echo read surface.
func ProvideHTTPHandler(s *usecase.Sync, gw *gateway.Gateway, ledger *budget.Ledger, log *logger.Logger) apphttp.Handler {
	return api.NewStocksHandler(s, gw, ledger, log)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	s *usecase.Sync,
	queue *requestqueue.Queue,
	handler apphttp.Handler,
	c cache.Service,
	pub repository.UpdatePublisher,
) *server.App {
	return server.New(cfg, log, s, queue, handler, c, pub)
}
