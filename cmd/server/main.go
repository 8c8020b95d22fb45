package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"advisor/internal/cache"
	"advisor/internal/clients/marketdata"
	"advisor/internal/config"
	"advisor/internal/modules/assemble"
	"advisor/internal/modules/explain"
	"advisor/internal/modules/factors"
	"advisor/internal/modules/optimization"
	"advisor/internal/modules/policy"
	"advisor/internal/modules/recommend"
	"advisor/internal/modules/risk"
	"advisor/internal/modules/suitability"
	"advisor/internal/server"
	"advisor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting advisor")

	var store *cache.Store
	if cfg.Gateway.CachePath != "" {
		store, err = cache.OpenStore(cfg.Gateway.CachePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open cache store")
		}
		defer store.Close()
	}
	dataCache := cache.New(store, log)

	gateway := marketdata.NewGateway(marketdata.NewSyntheticProvider(), dataCache, cfg.Gateway, log)
	solver := optimization.NewPenaltySolver(cfg.Optimizer.MaxIterations, log)
	optimizer := optimization.NewOptimizer(solver, cfg.Optimizer.SolveTimeout, log)
	pool := optimization.NewPool(optimizer, cfg.Optimizer.Workers, log)
	defer pool.Close()

	policyEngine := policy.NewEngine(log)
	if cfg.PolicyTablePath != "" {
		policyEngine, err = policy.NewEngineFromFile(cfg.PolicyTablePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load policy table")
		}
	}

	service := recommend.NewService(
		gateway,
		policyEngine,
		suitability.NewFilter(log),
		factors.NewModel(cfg.Factors, log),
		risk.NewModel(cfg.Risk, log),
		pool,
		assemble.NewAssembler(explain.NewExplainer(log), log),
		cfg,
		log,
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Gateway.SweepInterval), func() {
		if removed := dataCache.PurgeExpired(); removed > 0 {
			log.Debug().Int("removed", removed).Msg("cache sweep complete")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule cache sweep")
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg.Server, service, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}
}
