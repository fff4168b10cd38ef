package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yashrajoria/storefront-checkout/database"
)

type Config struct {
	Env         string
	Port        string
	ServiceName string

	APIGatewayURL      string
	RequestTimeout     time.Duration
	ValidationTimeout  time.Duration
	CompletionTimeout  time.Duration
	SettleWait         time.Duration
	CheckoutIdleTTL    time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration

	StripeSecretKey  string
	StripeWebhookKey string
	JWTSecret        string

	RedisURL       string
	IdempotencyTTL time.Duration

	Postgres     database.PostgresConfig
	AuditEnabled bool

	KafkaBrokers []string
	KafkaTopic   string

	AWSRegion              string
	AWSEndpoint            string
	UseSecrets             bool
	SecretName             string
	CheckoutEventsTopicARN string
	AuthorizationQueueURL  string
	CloudWatchEnabled      bool
	CloudWatchNamespace    string
	CloudWatchLogGroup     string

	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
}

// LoadConfig reads the environment, loading a .env file first when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8090"),
		ServiceName: getEnv("SERVICE_NAME", "checkout-service"),

		APIGatewayURL:      os.Getenv("API_GATEWAY_URL"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 10*time.Second),
		ValidationTimeout:  getDuration("VALIDATION_TIMEOUT", 5*time.Second),
		CompletionTimeout:  getDuration("COMPLETION_TIMEOUT", 15*time.Second),
		SettleWait:         getDuration("PAYMENT_SETTLE_WAIT", 20*time.Second),
		CheckoutIdleTTL:    getDuration("CHECKOUT_IDLE_TTL", 30*time.Minute),
		BreakerFailures:    uint32(getInt("BREAKER_CONSECUTIVE_FAILURES", 5)),
		BreakerOpenTimeout: getDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		StripeSecretKey:  os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		JWTSecret:        os.Getenv("JWT_SECRET"),

		RedisURL:       os.Getenv("REDIS_URL"),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		Postgres: database.PostgresConfig{
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   os.Getenv("POSTGRES_DB"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_CHECKOUT_TOPIC", "checkout-events"),

		AWSRegion:              getEnv("AWS_REGION", "eu-west-2"),
		AWSEndpoint:            os.Getenv("AWS_ENDPOINT"),
		UseSecrets:             os.Getenv("AWS_USE_SECRETS") == "true",
		SecretName:             getEnv("AWS_SECRET_NAME", "checkout-service"),
		CheckoutEventsTopicARN: os.Getenv("CHECKOUT_SNS_TOPIC_ARN"),
		AuthorizationQueueURL:  os.Getenv("PAYMENT_AUTHORIZED_QUEUE_URL"),
		CloudWatchEnabled:      os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace:    getEnv("CLOUDWATCH_NAMESPACE", "ECommerce/Checkout"),
		CloudWatchLogGroup:     getEnv("CLOUDWATCH_LOG_GROUP", "/ecommerce/services"),

		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 20),
	}
	cfg.AuditEnabled = cfg.Postgres.Host != ""

	if !cfg.UseSecrets {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	var missing []string
	if c.APIGatewayURL == "" {
		missing = append(missing, "API_GATEWAY_URL")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookKey == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.AuditEnabled && (c.Postgres.User == "" || c.Postgres.DBName == "") {
		missing = append(missing, "POSTGRES_USER/POSTGRES_DB")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SecretReader decodes a JSON secret by name.
type SecretReader interface {
	GetSecretJSON(ctx context.Context, name string, out any) error
}

type serviceSecrets struct {
	StripeSecretKey  string `json:"stripe_secret_key"`
	StripeWebhookKey string `json:"stripe_webhook_secret"`
	JWTSecret        string `json:"jwt_secret"`
	PostgresPassword string `json:"postgres_password"`
}

// ApplySecrets overrides credentials from the service secret and re-validates.
// Empty secret fields keep the environment value.
func (c *Config) ApplySecrets(ctx context.Context, secrets SecretReader) error {
	var s serviceSecrets
	if err := secrets.GetSecretJSON(ctx, c.SecretName, &s); err != nil {
		return fmt.Errorf("load secret %s: %w", c.SecretName, err)
	}
	override(&c.StripeSecretKey, s.StripeSecretKey)
	override(&c.StripeWebhookKey, s.StripeWebhookKey)
	override(&c.JWTSecret, s.JWTSecret)
	override(&c.Postgres.Password, s.PostgresPassword)
	return c.Validate()
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
