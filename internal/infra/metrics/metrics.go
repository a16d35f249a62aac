package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SchedulerPassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_pass_seconds",
		Help:    "Длительность одного прохода диспетчера",
		Buckets: prometheus.DefBuckets,
	})
	SchedulerDuePosts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_due_posts",
		Help: "Количество постов, выбранных последним проходом",
	})
	SchedulerPassErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_pass_errors_total",
		Help: "Проходы, завершившиеся ошибкой выборки",
	})
	PostsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduled_posts_processed_total",
		Help: "Обработанные посты по исходу",
	}, []string{"outcome"})
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_refresh_total",
		Help: "Обновления OAuth токенов",
	}, []string{"status"})
	PostsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduled_posts_submitted_total",
		Help: "Принятые заявки на публикацию по виду",
	}, []string{"kind"})
	AlertSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_send_errors_total",
		Help: "Ошибки отправки оповещений в Telegram",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SchedulerPassSeconds,
		SchedulerDuePosts,
		SchedulerPassErrors,
		PostsProcessedTotal,
		TokenRefreshTotal,
		PostsSubmittedTotal,
		AlertSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObservePass записывает итог прохода диспетчера.
func ObservePass(start time.Time, selected int, err error) {
	SchedulerPassSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		SchedulerPassErrors.Inc()
		return
	}
	SchedulerDuePosts.Set(float64(selected))
}

// IncProcessed увеличивает счётчик исходов обработки поста.
func IncProcessed(outcome string) {
	PostsProcessedTotal.WithLabelValues(outcome).Inc()
}

// IncTokenRefresh увеличивает счётчик обновлений токена.
func IncTokenRefresh(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TokenRefreshTotal.WithLabelValues(status).Inc()
}

// IncSubmitted увеличивает счётчик принятых заявок.
func IncSubmitted(kind string) {
	PostsSubmittedTotal.WithLabelValues(kind).Inc()
}
