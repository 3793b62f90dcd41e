//go:build wireinject
// +build wireinject

package di

import (
	"MarketSync/pkg/config"
	"MarketSync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure
		ProvideCache,
		ProvideHTTPClient,
		ProvideUpdatePublisher,

		// Gateway stack
		ProvideUsageStore,
		ProvideBreaker,
		ProvideLedger,
		ProvideQueue,
		ProvideGateway,

		// Engine
		ProvideStream,
		ProvideSymbolStore,
		ProvideMergeEngine,
		ProvidePoller,
		ProvideHub,
		ProvideSync,

		// Surface
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
