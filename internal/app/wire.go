//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/vascoliveira2511/WatchLog/internal/config"
)

// InitializeCore wires the ledger, catalog and controllers
func InitializeCore(cfg *config.Config) (*Core, func(), error) {
	wire.Build(CoreSet)
	return nil, nil, nil
}

// InitializeApp wires the full HTTP service
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(ServerSet)
	return nil, nil, nil
}
