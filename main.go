package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/storefront-checkout/clients"
	"github.com/yashrajoria/storefront-checkout/common/auth"
	apperrors "github.com/yashrajoria/storefront-checkout/common/errors"
	"github.com/yashrajoria/storefront-checkout/common/logger"
	commonmw "github.com/yashrajoria/storefront-checkout/common/middleware"
	"github.com/yashrajoria/storefront-checkout/config"
	"github.com/yashrajoria/storefront-checkout/controllers"
	"github.com/yashrajoria/storefront-checkout/database"
	"github.com/yashrajoria/storefront-checkout/kafka"
	"github.com/yashrajoria/storefront-checkout/middleware"
	awspkg "github.com/yashrajoria/storefront-checkout/pkg/aws"
	"github.com/yashrajoria/storefront-checkout/providers"
	"github.com/yashrajoria/storefront-checkout/repository"
	"github.com/yashrajoria/storefront-checkout/routes"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[CheckoutService] Failed to load config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awspkg.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatal("[CheckoutService] Failed to load AWS config: ", err)
	}

	if cfg.UseSecrets {
		if err := cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg)); err != nil {
			log.Fatal("[CheckoutService] Failed to load secrets: ", err)
		}
	}

	// ── Logging + metrics ──
	if cfg.CloudWatchEnabled {
		cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, cfg.ServiceName, true)
		if err != nil {
			log.Printf("[CheckoutService] CloudWatch Logs init failed: %v", err)
			logger.Initialize(cfg.Env)
		} else {
			logger.InitializeWithWriter(cfg.Env, cwLogs)
		}
	} else {
		logger.Initialize(cfg.Env)
	}
	zlog := logger.Log.With(zap.String("service", cfg.ServiceName))
	defer func() { _ = zlog.Sync() }()

	metrics := awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)

	// ── Upstream clients ──
	newGateway := func(name string) *clients.GatewayClient {
		breaker := clients.NewCircuitBreaker(name, cfg.BreakerFailures, cfg.BreakerOpenTimeout, zlog)
		return clients.NewGatewayClient(cfg.APIGatewayURL, cfg.RequestTimeout, breaker)
	}
	pricing := clients.NewPricingClient(newGateway("checkout-validation"))
	completer := clients.NewOrderCompletionClient(newGateway("order-completion"))
	carts := clients.NewCartClient(newGateway("cart"))

	// ── Audit ──
	var recorder services.AttemptRecorder
	if cfg.AuditEnabled {
		db, err := database.ConnectPostgres(cfg.Postgres, zlog)
		if err != nil {
			zlog.Fatal("failed to connect audit database", zap.Error(err))
		}
		recorder = repository.NewGormCheckoutAuditRepository(db)
	}

	// ── Checkout events ──
	var publishers services.FanoutPublisher
	if cfg.CheckoutEventsTopicARN != "" {
		publishers = append(publishers, services.NewSNSEventPublisher(awspkg.NewSNSClient(awsCfg, zlog), cfg.CheckoutEventsTopicARN))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zlog)
		defer producer.Close()
		publishers = append(publishers, producer)
	}

	// ── Checkout core ──
	widget := providers.NewStripeWidget(cfg.StripeSecretKey, cfg.StripeWebhookKey, zlog)
	registry := services.NewCheckoutRegistry(services.CheckoutDependencies{
		Validator: services.NewCheckoutValidator(pricing, cfg.ValidationTimeout, zlog),
		Guard:     services.NewCompletionGuard(completer, recorder, cfg.CompletionTimeout, zlog),
		Widget:    widget,
		Carts:     carts,
		Listener:  services.NewCheckoutNotifier(publishers, metrics, zlog),
		Logger:    zlog,
	}, widget)
	if cfg.CheckoutIdleTTL > 0 {
		go registry.Run(ctx, cfg.CheckoutIdleTTL)
	}

	if cfg.AuthorizationQueueURL != "" {
		consumer := services.NewAuthorizationConsumer(
			awspkg.NewSQSConsumer(awsCfg, cfg.AuthorizationQueueURL, zlog),
			registry, metrics, zlog)
		go consumer.Start(ctx)
	}

	// ── HTTP ──
	var idempotency middleware.ResponseStore
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		idempotency = repository.NewRedisIdempotencyRepository(rdb)
	}

	limiter := commonmw.NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), cfg.RateLimitBurst, 5*time.Minute)
	go limiter.Run(ctx)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(commonmw.RequestLogger(zlog))
	r.Use(commonmw.MetricsMiddleware(metrics, cfg.ServiceName))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r,
		controllers.NewCheckoutController(registry, cfg.SettleWait),
		controllers.NewPaymentWebhookController(registry, widget, zlog),
		routes.Options{
			Tokens:         auth.NewTokenParser(cfg.JWTSecret),
			RateLimiter:    limiter,
			Idempotency:    idempotency,
			IdempotencyTTL: cfg.IdempotencyTTL,
			Logger:         zlog,
		})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("checkout service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
}
