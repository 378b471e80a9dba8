package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/config"
	"github.com/itellico/joi-sub010/internal/keylock"
	"github.com/itellico/joi-sub010/internal/observer"
	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/scheduler"
	"github.com/itellico/joi-sub010/internal/soul"
	"github.com/itellico/joi-sub010/internal/store"
)

// app holds the services shared by every command that touches the store.
type app struct {
	cfg       *config.Config
	store     *store.Store
	events    *bus.EventBus
	locks     *keylock.Locker
	router    *rollout.Router
	engine    *rollout.Engine
	souls     *soul.Service
	artifacts *soul.ArtifactWriter
	settings  observer.StoreConfig
	kafka     *bus.KafkaSink
}

// openApp loads config, opens the store and builds the governance services.
// Close must be called to flush queued events and release the database.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	policy := rolloutPolicy(cfg.Rollout)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("rollout policy: %w", err)
	}
	st, err := store.Open(ctx, store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		events:    bus.NewEventBus(cfg.Events.Buffer),
		locks:     keylock.New(),
		artifacts: &soul.ArtifactWriter{Workspace: cfg.Paths.Workspace},
		settings: observer.StoreConfig{
			Store:    st,
			Defaults: observerDefaults(cfg.Observer),
		},
	}
	if brokers := strings.TrimSpace(cfg.Events.KafkaBrokers); brokers != "" {
		a.kafka = bus.NewKafkaSink(bus.NewKafkaWriter(brokers, cfg.Events.KafkaTopic), 0)
		a.kafka.Attach(a.events)
		slog.Debug("Kafka event sink attached", "brokers", brokers, "topic", cfg.Events.KafkaTopic)
	}
	a.router = rollout.NewRouter(st)
	a.engine = rollout.NewEngine(st, a.locks, rollout.StaticPolicy(policy), a.events, a.artifacts)
	a.engine.UseObserverConfig(a.settings)
	a.souls = soul.NewService(st, a.locks, a.artifacts, a.events)
	return a, nil
}

// Close delivers events still queued and closes the sink and the store.
func (a *app) Close() {
	if n := a.events.Drain(); n > 0 {
		slog.Debug("Flushed queued events", "count", n)
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			slog.Warn("Kafka sink close failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Store close failed", "error", err)
	}
}

func observerDefaults(c config.ObserverConfig) store.ObserverConfig {
	return store.ObserverConfig{
		Enabled:              c.Enabled,
		QualityThreshold:     c.QualityThreshold,
		SkipDryRun:           c.SkipDryRun,
		MinUserMessageLength: c.MinUserMessageLength,
	}
}

func rolloutPolicy(c config.RolloutConfig) rollout.Policy {
	return rollout.Policy{
		MinSamples:            c.MinSamples,
		FailureScore:          c.FailureScore,
		RejectTolerance:       c.RejectTolerance,
		RejectRollbackMargin:  c.RejectRollbackMargin,
		FailureTolerance:      c.FailureTolerance,
		FailureRollbackMargin: c.FailureRollbackMargin,
		IssueTolerance:        c.IssueTolerance,
		IssueRollbackMargin:   c.IssueRollbackMargin,
		RollbackOnCritical:    c.RollbackOnCritical,
	}
}

func schedulerConfig(c config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Enabled:           c.Enabled,
		TickInterval:      c.TickInterval,
		MaxConcEvaluation: c.MaxConcEvaluation,
		MaxConcDefault:    c.MaxConcDefault,
		LockPath:          c.LockPath,
	}
}
