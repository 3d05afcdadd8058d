package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/mediaflow-events/internal/processing"
	"github.com/your-org/mediaflow-events/pkg/config"
	"github.com/your-org/mediaflow-events/pkg/kafka"
	"github.com/your-org/mediaflow-events/pkg/logger"
	"github.com/your-org/mediaflow-events/pkg/mediaservices"
	"github.com/your-org/mediaflow-events/pkg/metrics"
	"github.com/your-org/mediaflow-events/pkg/storage/objectstore"
	"github.com/your-org/mediaflow-events/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateProcessor(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Service:     cfg.App.Name + "-processor",
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
		ServiceName:    cfg.App.Name + "-processor",
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.NotificationsTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})

	// Token acquisition is bound to the process, not to the signal context,
	// so in-flight provisioning can finish during shutdown.
	grants, err := mediaservices.New(context.Background(), mediaservices.Config{
		ARMEndpoint:    cfg.Media.ARMEndpoint,
		AuthorityHost:  cfg.Media.AuthorityHost,
		SubscriptionID: cfg.Media.SubscriptionID,
		ResourceGroup:  cfg.Media.ResourceGroup,
		AccountName:    cfg.Media.AccountName,
		TenantID:       cfg.Media.TenantID,
		ClientID:       cfg.Media.ClientID,
		ClientSecret:   cfg.Media.ClientSecret,
		APIVersion:     cfg.Media.APIVersion,
		RequestTimeout: cfg.Media.RequestTimeout,
	})
	if err != nil {
		logr.Fatal("init media services client", zap.Error(err))
	}

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}
	var archive processing.Archive
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			logr.Fatal("ensure dead-letter bucket", zap.Error(err))
		}
		archive = store
		defer store.Close() //nolint:errcheck
	} else {
		logr.Warn("no dead-letter archive configured, failed events will only be logged")
	}

	service := processing.NewService(processing.Params{
		Emitter: processing.NewBrokerEmitter(producer),
		Grants:  grants,
		Logger:  logr,
		Metrics: m,
	})

	consumerDone := make(chan struct{})
	if cfg.Events.KafkaEnabled {
		delivery := processing.NewDelivery(processing.DeliveryParams{
			Handler:        service,
			Archive:        archive,
			Consumer:       cfg.Kafka.ConsumerGroup,
			MaxAttempts:    cfg.Kafka.MaxDeliveryAttempts,
			InitialBackoff: cfg.Kafka.RedeliveryBackoff,
			MaxBackoff:     cfg.Kafka.MaxRedeliveryBackoff,
			Logger:         logr,
			Metrics:        m,
		})
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
			GroupID: cfg.Kafka.ConsumerGroup,
		}, logr)

		go func() {
			defer close(consumerDone)
			defer consumer.Close() //nolint:errcheck
			logr.Info("event consumer starting",
				zap.String("topic", cfg.Kafka.EventsTopic),
				zap.String("group", cfg.Kafka.ConsumerGroup),
			)
			if err := consumer.Run(ctx, delivery.HandleMessage); err != nil {
				logr.Error("event consumer stopped", zap.Error(err))
				stop()
			}
		}()
	} else {
		close(consumerDone)
	}

	handler := processing.NewHTTPHandler(service, logr, cfg.Events.MaxBodyBytes, cfg.Events.WebhookKey)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
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

	logr.Info("event processor starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("metrics_addr", cfg.Metrics.Addr),
		zap.Bool("kafka_enabled", cfg.Events.KafkaEnabled),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}

	<-consumerDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := producer.Close(shutdownCtx); err != nil {
		logr.Error("producer shutdown failed", zap.Error(err))
	}
	logr.Info("event processor stopped")
}
