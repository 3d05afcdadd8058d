package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/internal/hub"
	"github.com/your-org/mediaflow-events/pkg/config"
	"github.com/your-org/mediaflow-events/pkg/kafka"
	"github.com/your-org/mediaflow-events/pkg/logger"
	"github.com/your-org/mediaflow-events/pkg/metrics"
	"github.com/your-org/mediaflow-events/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateHub(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Service:     cfg.App.Name + "-hub",
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name + "-hub",
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	h := hub.NewHub(logr, m)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = h.RunWithContext(ctx)
	}()

	// Each instance joins its own group so every instance sees every
	// notification, starting from the newest one.
	groupID := cfg.Kafka.HubGroupPrefix + "-" + uuid.NewString()
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.NotificationsTopic,
		GroupID:     groupID,
		StartOffset: kafkago.LastOffset,
	}, logr)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		defer consumer.Close() //nolint:errcheck
		logr.Info("notification consumer starting",
			zap.String("topic", cfg.Kafka.NotificationsTopic),
			zap.String("group", groupID),
		)
		if err := consumer.Run(ctx, h.HandleNotification); err != nil {
			logr.Error("notification consumer stopped", zap.Error(err))
			stop()
		}
	}()

	tokens := hub.NewTokenIssuer(
		[]byte(cfg.Hub.SigningKey),
		hub.ClientURL(cfg.Hub.PublicURL, cfg.Hub.Name),
		cfg.Hub.Name,
		cfg.Hub.TokenTTL,
	)
	handler := hub.NewHTTPHandler(h, tokens, hub.HTTPConfig{
		HubName:           cfg.Hub.Name,
		PublicURL:         cfg.Hub.PublicURL,
		KeepAliveInterval: cfg.Hub.KeepAliveInterval,
		HandshakeTimeout:  cfg.Hub.HandshakeTimeout,
		ClientTimeout:     cfg.Hub.ClientTimeout,
		AllowedOrigins:    cfg.Hub.AllowedOrigins,
		NegotiateLimit:    cfg.Hub.NegotiateLimit,
		NegotiateWindow:   cfg.Hub.NegotiateWindow,
	}, logr)

	// No write timeout: websocket connections are long-lived.
	server := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     handler.Router(),
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}
	metricsServer := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: metrics.Handler(reg),
	}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logr.Error("metrics server shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("notification hub starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("hub", cfg.Hub.Name),
		zap.String("client_url", hub.ClientURL(cfg.Hub.PublicURL, cfg.Hub.Name)),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}

	<-consumerDone
	<-hubDone
	logr.Info("notification hub stopped")
}
