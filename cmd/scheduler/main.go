package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"review-hub/internal/infra/bootstrap"
	"review-hub/internal/infra/config"
	"review-hub/internal/infra/log"
	"review-hub/internal/infra/metrics"
	"review-hub/internal/usecase/scheduling"
)

func main() {
	cfg := config.Load()
	logger := log.Component(log.NewLogger(cfg.AppEnv), "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	dispatcher := scheduling.NewDispatcher(deps.Store, deps.Processor, cfg.Scheduler.FailureCooldown, logger)
	loop := scheduling.NewLoop(dispatcher, cfg.Scheduler.Interval, logger)

	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.MetricsAddr)
	stopLoop, err := loop.Start(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось запустить цикл")
	}

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка, ждём завершения прохода")
	select {
	case <-stopLoop().Done():
	case <-time.After(2 * time.Minute):
		logger.Warn().Msg("scheduler: проход не завершился вовремя")
	}
}
