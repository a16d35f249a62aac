package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"review-hub/internal/adapters/rest"
	"review-hub/internal/infra/bootstrap"
	"review-hub/internal/infra/config"
	httpinfra "review-hub/internal/infra/http"
	"review-hub/internal/infra/log"
	"review-hub/internal/infra/metrics"
	"review-hub/internal/usecase/scheduling"
)

func main() {
	cfg := config.Load()
	logger := log.Component(log.NewLogger(cfg.AppEnv), "api")
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("api: JWT_SECRET не задан")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	service := scheduling.NewService(deps.Store, deps.Processor, deps.Cache, deps.Store, logger)
	handler := rest.NewHandler(service, logger)

	server := httpinfra.NewServer(logger)
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.JWTAuthMiddleware(cfg.JWTSecret))
		handler.Register(protected)
	})

	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
