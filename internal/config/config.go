package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Auth     AuthConfig
	Pricing  PricingConfig
	App      AppConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	ConnRetries  int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
	LockTTL  time.Duration
	LockWait time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	Notifications string
	OrderEvents   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type AuthConfig struct {
	// OIDCIssuer selects the OIDC verifier when set; otherwise HMACSecret is used.
	OIDCIssuer   string
	OIDCClientID string
	HMACSecret   string
}

type PricingConfig struct {
	Currency                  string
	MemberDiscountBasisPoints int64
	TaxBasisPoints            int64
	TaxLabel                  string
	BankTransferExpiry        time.Duration
}

type AppConfig struct {
	Name     string
	BaseURL  string
	LogLevel string
	QRSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnRetries:  getEnvInt("DB_CONN_RETRIES", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			LockTTL:  getEnvDuration("ORDER_LOCK_TTL", 30*time.Second),
			LockWait: getEnvDuration("ORDER_LOCK_WAIT", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				Notifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "conference.notifications"),
				OrderEvents:   getEnv("KAFKA_TOPIC_ORDER_EVENTS", "conference.order-events"),
			},
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Auth: AuthConfig{
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
			HMACSecret:   getEnv("AUTH_HMAC_SECRET", ""),
		},
		Pricing: PricingConfig{
			Currency:                  strings.ToLower(getEnv("PRICING_CURRENCY", "jpy")),
			MemberDiscountBasisPoints: int64(getEnvInt("PRICING_MEMBER_DISCOUNT_BP", 2000)),
			TaxBasisPoints:            int64(getEnvInt("PRICING_TAX_BP", 1000)),
			TaxLabel:                  getEnv("PRICING_TAX_LABEL", "Consumption tax"),
			BankTransferExpiry:        getEnvDuration("BANK_TRANSFER_EXPIRY", 7*24*time.Hour),
		},
		App: AppConfig{
			Name:     getEnv("APP_NAME", "conference-ticketing"),
			BaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
			QRSecret: getEnv("TICKET_QR_SECRET", ""),
		},
	}
}

// Validate reports every missing mandatory setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.Auth.OIDCIssuer == "" && c.Auth.HMACSecret == "" {
		errs = append(errs, errors.New("one of OIDC_ISSUER or AUTH_HMAC_SECRET is required"))
	}
	if len(c.App.QRSecret) != 32 {
		errs = append(errs, fmt.Errorf("TICKET_QR_SECRET must be 32 bytes, got %d", len(c.App.QRSecret)))
	}
	if c.Pricing.MemberDiscountBasisPoints < 0 || c.Pricing.MemberDiscountBasisPoints > 10000 {
		errs = append(errs, errors.New("PRICING_MEMBER_DISCOUNT_BP must be between 0 and 10000"))
	}
	if c.Pricing.TaxBasisPoints < 0 {
		errs = append(errs, errors.New("PRICING_TAX_BP must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
