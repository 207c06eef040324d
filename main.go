package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-conference-ticketing/internal/analytics"
	analytics_api "ms-conference-ticketing/internal/analytics/api"
	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/config"
	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/kafka"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/notification"
	"ms-conference-ticketing/internal/order"
	"ms-conference-ticketing/internal/order/db"
	"ms-conference-ticketing/internal/order/discount"
	orderkafka "ms-conference-ticketing/internal/order/kafka"
	"ms-conference-ticketing/internal/order/order_api"
	rediswrap "ms-conference-ticketing/internal/order/redis"
	"ms-conference-ticketing/internal/payment/services"
	"ms-conference-ticketing/internal/pricing"
	"ms-conference-ticketing/internal/sse"
	ticket_db "ms-conference-ticketing/internal/tickets/db"
	"ms-conference-ticketing/internal/tickets/qr"
	tickets "ms-conference-ticketing/internal/tickets/service"
	"ms-conference-ticketing/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *logger.Logger) *redis.Client {
	if !cfg.Enabled {
		logger.Warn("REDIS", "Redis disabled, order locks and token cache are off")
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Redis unreachable at %s, continuing without locks: %v", cfg.Addr, err))
		redisClient.Close()
		return nil
	}

	logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return redisClient
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, redisClient *redis.Client, logger *logger.Logger) (auth.Verifier, error) {
	var verifier auth.Verifier
	if cfg.OIDCIssuer != "" {
		oidcVerifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		logger.Info("AUTH", fmt.Sprintf("Verifying OIDC tokens from %s", cfg.OIDCIssuer))
		verifier = oidcVerifier
	} else {
		logger.Warn("AUTH", "OIDC_ISSUER not set, verifying HS256 tokens with AUTH_HMAC_SECRET")
		verifier = auth.NewHMACVerifier(cfg.HMACSecret)
	}

	if redisClient != nil {
		verifier = auth.NewCachingVerifier(verifier, redisClient, 5*time.Minute, logger)
	}
	return verifier, nil
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}

	cfg := config.Load()
	level := logger.ParseLevel(cfg.App.LogLevel)
	logger := logger.NewLogger(cfg.App.Name)
	defer logger.Close()
	logger.SetLevel(level)

	logger.Info("APP", "Starting conference ticketing service")
	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	ctx := context.Background()

	sqldb, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	bunDB := database.NewBun(sqldb)
	defer bunDB.Close()

	redisClient := connectRedis(ctx, cfg.Redis, logger)
	var locker order.Locker = rediswrap.NopLocker{}
	if redisClient != nil {
		defer redisClient.Close()
		locker = rediswrap.NewRedis(redisClient, cfg.Redis.LockTTL, cfg.Redis.LockWait, logger)
	}

	var producer *kafka.Producer
	var notifier notification.Notifier
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		topics := []string{cfg.Kafka.Topics.Notifications, cfg.Kafka.Topics.OrderEvents}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		notifier = notification.NewKafkaNotifier(producer, cfg.Kafka.Topics.Notifications, cfg.App.Name)
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		logger.Warn("KAFKA", "Kafka disabled, notifications and order events are only logged")
		producer = kafka.NewLogProducer(logger)
		notifier = notification.LogNotifier{Logger: logger}
	}
	defer producer.Close()

	gateway, err := services.NewStripeService(cfg.Stripe.SecretKey, logger)
	if err != nil {
		logger.Fatal("STRIPE", err.Error())
	}

	qrGenerator, err := qr.NewGenerator(cfg.App.QRSecret)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Invalid ticket QR secret: %v", err))
	}

	verifier, err := newVerifier(ctx, cfg.Auth, redisClient, logger)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Failed to set up token verification: %v", err))
	}

	orderStore := &db.DB{Bun: bunDB}
	ticketStore := &ticket_db.DB{Bun: bunDB}
	ticketService := tickets.NewTicketService(ticketStore, orderStore, notifier, qrGenerator, cfg.App.BaseURL, logger)
	statusEvents := sse.NewOrderEventEmitter()

	orderService := order.NewOrderService(order.Deps{
		DB:       orderStore,
		Redis:    locker,
		Kafka:    orderkafka.NewOrderEvents(producer, cfg.Kafka.Topics.OrderEvents),
		Gateway:  gateway,
		Promos:   discount.NewValidator(orderStore, logger),
		Tickets:  ticketService,
		Notifier: notifier,
		Status:   statusEvents,
		Pricing:  pricing.NewEngine(cfg.Pricing.MemberDiscountBasisPoints, cfg.Pricing.TaxBasisPoints),
	}, order.Options{
		Currency:           cfg.Pricing.Currency,
		TaxLabel:           cfg.Pricing.TaxLabel,
		BankTransferExpiry: cfg.Pricing.BankTransferExpiry,
		BaseURL:            cfg.App.BaseURL,
		WebhookSecret:      cfg.Stripe.WebhookSecret,
	}, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	requireAuth := auth.Middleware(verifier)
	optionalAuth := auth.OptionalMiddleware(verifier)
	order_api.NewHandler(orderService, statusEvents, logger).Register(r, requireAuth, optionalAuth)
	ticket_api.NewHandler(ticketService, logger).Register(r, requireAuth)
	analytics_api.NewHandler(analytics.NewService(bunDB), ticketStore, logger).Register(r, requireAuth)
	logger.Info("ROUTER", "Order, ticket, invite and organizer routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Service shutdown complete")
	}
}
