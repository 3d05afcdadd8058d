package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config captures the full runtime configuration for the MediaFlow event services.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
	Media   MediaConfig
	Hub     HubConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"mediaflow-events"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type KafkaConfig struct {
	Brokers              []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092" validate:"min=1"`
	EventsTopic          string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"mediaflow.media-events" validate:"required"`
	NotificationsTopic   string        `env:"KAFKA_NOTIFICATIONS_TOPIC" envDefault:"mediaflow.notifications" validate:"required"`
	ConsumerGroup        string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"mediaflow-processor"`
	HubGroupPrefix       string        `env:"KAFKA_HUB_GROUP_PREFIX" envDefault:"mediaflow-hub"`
	Retries              int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec     string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize            int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout         time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
	MaxDeliveryAttempts  int           `env:"KAFKA_MAX_DELIVERY_ATTEMPTS" envDefault:"5" validate:"min=1"`
	RedeliveryBackoff    time.Duration `env:"KAFKA_REDELIVERY_BACKOFF" envDefault:"500ms"`
	MaxRedeliveryBackoff time.Duration `env:"KAFKA_MAX_REDELIVERY_BACKOFF" envDefault:"30s"`
}

// StorageConfig points at the bucket that receives dead-lettered events.
// Provider "none" disables archiving.
type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"mediaflow-deadletter"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=mediaflow"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

type EventsConfig struct {
	KafkaEnabled bool   `env:"EVENTS_KAFKA_ENABLED" envDefault:"true"`
	WebhookKey   string `env:"EVENTS_WEBHOOK_KEY"`
	MaxBodyBytes int64  `env:"EVENTS_MAX_BODY_BYTES" envDefault:"1048576" validate:"gt=0"`
}

// MediaConfig mirrors the "AMS" settings section of the media services account.
type MediaConfig struct {
	ARMEndpoint    string        `env:"AMS_ARM_ENDPOINT" envDefault:"https://management.azure.com" validate:"required,url"`
	AuthorityHost  string        `env:"AMS_AUTHORITY_HOST" envDefault:"https://login.microsoftonline.com" validate:"required,url"`
	SubscriptionID string        `env:"AMS_SUBSCRIPTION_ID" validate:"required"`
	ResourceGroup  string        `env:"AMS_RESOURCE_GROUP" validate:"required"`
	AccountName    string        `env:"AMS_ACCOUNT_NAME" validate:"required"`
	TenantID       string        `env:"AMS_TENANT_ID" validate:"required"`
	ClientID       string        `env:"AMS_CLIENT_ID" validate:"required"`
	ClientSecret   string        `env:"AMS_CLIENT_SECRET" validate:"required"`
	APIVersion     string        `env:"AMS_API_VERSION" envDefault:"2023-01-01" validate:"required"`
	RequestTimeout time.Duration `env:"AMS_REQUEST_TIMEOUT" envDefault:"30s"`
}

type HubConfig struct {
	Name              string        `env:"HUB_NAME" envDefault:"ams" validate:"required"`
	PublicURL         string        `env:"HUB_PUBLIC_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	SigningKey        string        `env:"HUB_SIGNING_KEY" validate:"required,min=32"`
	TokenTTL          time.Duration `env:"HUB_TOKEN_TTL" envDefault:"1h"`
	KeepAliveInterval time.Duration `env:"HUB_KEEPALIVE_INTERVAL" envDefault:"15s"`
	HandshakeTimeout  time.Duration `env:"HUB_HANDSHAKE_TIMEOUT" envDefault:"15s"`
	ClientTimeout     time.Duration `env:"HUB_CLIENT_TIMEOUT" envDefault:"30s"`
	AllowedOrigins    []string      `env:"HUB_ALLOWED_ORIGINS" envSeparator:","`
	NegotiateLimit    int           `env:"HUB_NEGOTIATE_LIMIT" envDefault:"120" validate:"gte=0"`
	NegotiateWindow   time.Duration `env:"HUB_NEGOTIATE_WINDOW" envDefault:"1m"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateProcessor checks the sections the event processor depends on.
func (c *Config) ValidateProcessor() error {
	return validateSections(c.Kafka, c.Events, c.Media)
}

// ValidateHub checks the sections the notification hub depends on.
func (c *Config) ValidateHub() error {
	return validateSections(c.Kafka, c.Hub)
}

func validateSections(sections ...any) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	for _, s := range sections {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}
