package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const (
	defaultTimeout  = 8 * time.Second
	couponNameLimit = 40
)

// Client is the Stripe Checkout implementation of the payment gateway
type Client struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	automaticTax  bool
	timeout       time.Duration
	retries       uint64
	breaker       *gobreaker.CircuitBreaker[any]
	logger        *zap.Logger
}

// NewClient creates a Stripe client. cfg.APIURL points the client at a mock server when set.
func NewClient(cfg config.StripeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     logger.Named("stripe").Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackendsWithConfig(backendCfg))

	retries := 0
	if cfg.RetryAttempts > 0 {
		retries = cfg.RetryAttempts
	}

	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.WebhookTolerance,
		automaticTax:  cfg.AutomaticTax,
		timeout:       timeout,
		retries:       uint64(retries),
		breaker:       newBreaker(logger),
		logger:        logger,
	}
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejected requests mean the provider is up
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Payment gateway circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// execute runs op through the circuit breaker with the per-call deadline
func execute[T any](ctx context.Context, c *Client, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var zero T
	res, err := c.breaker.Execute(func() (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// isClientError reports a 4xx response from the provider. Those are never retried.
func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests &&
			stripeErr.HTTPStatusCode != http.StatusConflict
	}
	return false
}

func providerMessage(err error) string {
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return "payment provider temporarily unavailable"
	}
	return err.Error()
}

func paymentGatewayError(op string, err error) error {
	return &errors.ErrPaymentGateway{Message: fmt.Sprintf("%s: %s", op, providerMessage(err)), Err: err}
}
