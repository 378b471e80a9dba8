package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const observerConfigKey = "observer_config"

// ObserverConfig returns the persisted observer configuration, seeding it
// with defaults the first time it is read.
func (s *Store) ObserverConfig(ctx context.Context, defaults ObserverConfig) (ObserverConfig, error) {
	raw, err := s.GetSetting(ctx, observerConfigKey)
	if errors.Is(err, ErrNotFound) {
		if err := s.SetObserverConfig(ctx, defaults); err != nil {
			return ObserverConfig{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return ObserverConfig{}, err
	}
	cfg := defaults
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return ObserverConfig{}, fmt.Errorf("decode observer config: %w", err)
	}
	return cfg, nil
}

// SetObserverConfig validates and persists the observer configuration.
func (s *Store) SetObserverConfig(ctx context.Context, cfg ObserverConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode observer config: %w", err)
	}
	return s.SetSetting(ctx, observerConfigKey, string(data))
}
