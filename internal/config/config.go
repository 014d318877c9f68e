package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

// maxCartLinesCeiling keeps per-line metadata within the provider's key limit
const maxCartLinesCeiling = domain.MaxCheckoutLines

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	Database       DatabaseConfig
	Stripe         StripeConfig
	Checkout       CheckoutConfig
	Catalog        CatalogConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Mail           MailConfig
	API            APIConfig
	RequestTimeout time.Duration // REQUEST_TIMEOUT: upper bound for one inbound request
}

type DatabaseConfig struct {
	URL      string // DATABASE_URL overrides the individual fields when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// StripeConfig configures the payment gateway adapter
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string        // STRIPE_WEBHOOK_SECRET: verifies Stripe-Signature headers
	WebhookTolerance time.Duration // replay window for signed webhook timestamps
	APIURL           string        // STRIPE_API_URL: optional override, e.g. stripe-mock
	AutomaticTax     bool
	Timeout          time.Duration // GATEWAY_TIMEOUT: per-call deadline
	RetryAttempts    int           // GATEWAY_RETRY_ATTEMPTS: retrieve-session retries; session creation is never retried
}

// CheckoutConfig holds storefront checkout settings
type CheckoutConfig struct {
	Currency          domain.Currency
	FrontendURL       string
	SuccessPath       string
	CancelPath        string
	MaxCartLines      int
	OrderNumberPrefix string
	RateLimitPerMin   int // CHECKOUT_RATE_LIMIT: requests per minute per client IP
}

// SuccessURL is the provider redirect after payment, with the session id placeholder the provider fills in
func (c CheckoutConfig) SuccessURL() string {
	return strings.TrimSuffix(c.FrontendURL, "/") + c.SuccessPath + "?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is the provider redirect when the customer abandons payment
func (c CheckoutConfig) CancelURL() string {
	return strings.TrimSuffix(c.FrontendURL, "/") + c.CancelPath
}

// CatalogConfig is used to call a remote catalog service; empty BaseURL means the catalog tables are read directly
type CatalogConfig struct {
	BaseURL    string // e.g. http://catalog:3000
	ServiceKey string // CATALOG_SERVICE_KEY
}

// RedisConfig backs the checkout rate limiter; empty Addr disables it
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig backs the reconciliation-issue publisher; no brokers disables it
type KafkaConfig struct {
	Brokers      []string
	IssuesTopic  string
	PollInterval time.Duration
}

// MailConfig configures order confirmation emails; empty APIKey logs instead of sending
type MailConfig struct {
	ResendAPIKey string
	From         string
	BaseURL      string
}

type APIConfig struct {
	OperatorKeyHash string // OPERATOR_API_KEY_HASH: bcrypt hash of the admin API key
}

func Load() (*Config, error) {
	if err := readConfig(); err != nil {
		return nil, err
	}
	return build()
}

// LoadDatabase reads only the database settings, for operator tools that never call the payment provider
func LoadDatabase() (DatabaseConfig, error) {
	if err := readConfig(); err != nil {
		return DatabaseConfig{}, err
	}
	return databaseConfig(), nil
}

func readConfig() error {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func databaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:      strings.TrimSpace(getEnvOrViper("DATABASE_URL", "")),
		Host:     getEnvOrViper("DB_HOST", "localhost"),
		Port:     getEnvOrViper("DB_PORT", "5432"),
		User:     getEnvOrViper("DB_USER", "postgres"),
		Password: getEnvOrViper("DB_PASSWORD", "postgres"),
		DBName:   getEnvOrViper("DB_NAME", "checkout"),
		SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
	}
}

func build() (*Config, error) {
	currency, err := domain.ParseCurrency(getEnvOrViper("CURRENCY", "usd"))
	if err != nil {
		return nil, fmt.Errorf("CURRENCY: %w", err)
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrViper("LOG_LEVEL", "info"),
		Database:    databaseConfig(),
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getEnvOrViper("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getEnvOrViper("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			APIURL:           strings.TrimSpace(getEnvOrViper("STRIPE_API_URL", "")),
			AutomaticTax:     getBool("STRIPE_AUTOMATIC_TAX", false),
			Timeout:          getDuration("GATEWAY_TIMEOUT", 8*time.Second),
			RetryAttempts:    getInt("GATEWAY_RETRY_ATTEMPTS", 3),
		},
		Checkout: CheckoutConfig{
			Currency:          currency,
			FrontendURL:       strings.TrimSpace(getEnvOrViper("FRONTEND_URL", "http://localhost:3000")),
			SuccessPath:       getEnvOrViper("CHECKOUT_SUCCESS_PATH", "/order/success"),
			CancelPath:        getEnvOrViper("CHECKOUT_CANCEL_PATH", "/cart"),
			MaxCartLines:      getInt("MAX_CART_LINES", 30),
			OrderNumberPrefix: getEnvOrViper("ORDER_NUMBER_PREFIX", "SC"),
			RateLimitPerMin:   getInt("CHECKOUT_RATE_LIMIT", 10),
		},
		Catalog: CatalogConfig{
			BaseURL:    strings.TrimSpace(getEnvOrViper("CATALOG_URL", "")),
			ServiceKey: strings.TrimSpace(getEnvOrViper("CATALOG_SERVICE_KEY", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getEnvOrViper("REDIS_ADDR", "")),
			Password: getEnvOrViper("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getEnvOrViper("KAFKA_BROKERS", "")),
			IssuesTopic:  getEnvOrViper("KAFKA_ISSUES_TOPIC", "checkout.reconciliation-issues"),
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		},
		Mail: MailConfig{
			ResendAPIKey: strings.TrimSpace(getEnvOrViper("RESEND_API_KEY", "")),
			From:         getEnvOrViper("MAIL_FROM", "Sawdust & Coffee <orders@sawdustandcoffee.com>"),
			BaseURL:      getEnvOrViper("RESEND_API_URL", "https://api.resend.com"),
		},
		API: APIConfig{
			OperatorKeyHash: strings.TrimSpace(getEnvOrViper("OPERATOR_API_KEY_HASH", "")),
		},
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 10*time.Second),
	}

	// Validate required fields
	if cfg.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.Stripe.WebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.Checkout.MaxCartLines < 1 || cfg.Checkout.MaxCartLines > maxCartLinesCeiling {
		return nil, fmt.Errorf("MAX_CART_LINES must be between 1 and %d", maxCartLinesCeiling)
	}
	if cfg.Stripe.RetryAttempts < 0 {
		return nil, fmt.Errorf("GATEWAY_RETRY_ATTEMPTS must not be negative")
	}

	return cfg, nil
}

// DSN returns the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnvOrViper(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnvOrViper(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnvOrViper(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
