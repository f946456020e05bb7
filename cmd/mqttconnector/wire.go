//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
)

func initApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, func(), error) {
	wire.Build(
		provideDatabase,
		provideJournal,
		provideInflux,
		provideHub,
		newObserver,
		provideConnector,
		provideAPI,
		newApp,
	)
	return nil, nil, nil // wire will generate the result
}
