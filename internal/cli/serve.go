package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/gateway"
	"github.com/itellico/joi-sub010/internal/judge"
	"github.com/itellico/joi-sub010/internal/observer"
	"github.com/itellico/joi-sub010/internal/provider"
	"github.com/itellico/joi-sub010/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the observer, the rollout scheduler and the admin API",
	RunE:  runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides gateway.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides gateway.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	printHeader(cmd.OutOrStdout(), "joigov serve")

	// Bring artifacts in line with the store before anything else runs.
	if n, err := a.souls.Resync(ctx); err != nil {
		slog.Warn("Soul artifact resync failed", "error", err)
	} else if n > 0 {
		slog.Info("Soul artifacts resynced", "agents", n)
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = a.events.Dispatch(dispatchCtx)
	}()
	defer func() {
		cancelDispatch()
		<-dispatchDone
	}()

	var obs *observer.Observer
	if cfg.Judge.APIKey == "" {
		slog.Warn("No judge API key configured; turn scoring is disabled")
	} else {
		prov := provider.NewOpenAIProvider(cfg.Judge.APIKey, cfg.Judge.APIBase, cfg.Judge.Model)
		j := judge.New(prov, judge.Options{
			Model:       cfg.Judge.Model,
			Temperature: &cfg.Judge.Temperature,
			MaxTokens:   cfg.Judge.MaxTokens,
			Timeout:     cfg.Judge.Timeout,
			ContentCap:  cfg.Judge.ContentCap,
			ToolCap:     cfg.Judge.ToolCap,
		})
		obs = observer.New(a.store, j, a.settings, a.events, a.router, observer.Options{
			Workers:   cfg.Observer.Workers,
			QueueSize: cfg.Observer.QueueSize,
		})
		if _, err := obs.Recover(ctx); err != nil {
			return fmt.Errorf("recover analyses: %w", err)
		}
		obs.Start(ctx)
		defer obs.Stop()
	}

	var jobs gateway.JobStatuser
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(schedulerConfig(cfg.Scheduler), a.store)
		job, err := scheduler.NewRolloutEvaluateJob(cfg.Rollout.EvaluateCron, a.engine)
		if err != nil {
			return err
		}
		sched.Register(job)
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Scheduler exited", "error", err)
			}
		}()
		defer sched.Wait()
		jobs = sched
	}

	host, port := cfg.Gateway.Host, cfg.Gateway.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	srv := gateway.New(gateway.Deps{
		Store:                 a.store,
		Observer:              obs,
		ObserverConfig:        a.settings,
		Engine:                a.engine,
		Router:                a.router,
		Souls:                 a.souls,
		Events:                a.events,
		Scheduler:             jobs,
		AuthToken:             cfg.Gateway.AuthToken,
		DefaultTrafficPercent: cfg.Rollout.DefaultTrafficPercent,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Admin API: http://%s:%d/api/v1\n", host, port)
	return srv.ListenAndServe(ctx, host, port)
}
