package observer

import (
	"context"

	"github.com/itellico/joi-sub010/internal/store"
)

// ConfigSource supplies the observer configuration. It is consulted on every
// submitted turn so admin changes apply without a restart.
type ConfigSource interface {
	ObserverConfig(ctx context.Context) (store.ObserverConfig, error)
}

// StoreConfig reads the persisted singleton, seeding Defaults on first use.
type StoreConfig struct {
	Store    *store.Store
	Defaults store.ObserverConfig
}

func (c StoreConfig) ObserverConfig(ctx context.Context) (store.ObserverConfig, error) {
	return c.Store.ObserverConfig(ctx, c.Defaults)
}

// Update validates and persists a new configuration.
func (c StoreConfig) Update(ctx context.Context, cfg store.ObserverConfig) error {
	return c.Store.SetObserverConfig(ctx, cfg)
}

// StaticConfig is a fixed configuration, mostly for tests.
type StaticConfig store.ObserverConfig

func (c StaticConfig) ObserverConfig(context.Context) (store.ObserverConfig, error) {
	return store.ObserverConfig(c), nil
}
