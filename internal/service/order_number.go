package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

const (
	orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderNumberSuffix   = 6
	orderNumberAttempts = 5
)

type orderNumberGenerator struct {
	orders repository.OrderRepository
	prefix string
	now    func() time.Time
}

// NewOrderNumberGenerator creates a generator of human-readable order numbers: PREFIX + YYMMDD + 6 alphanumerics
func NewOrderNumberGenerator(orders repository.OrderRepository, prefix string) *orderNumberGenerator {
	return &orderNumberGenerator{orders: orders, prefix: prefix, now: time.Now}
}

// Next returns an order number not yet used. The unique index still guards the insert.
func (g *orderNumberGenerator) Next(ctx context.Context) (string, error) {
	for range orderNumberAttempts {
		candidate, err := g.candidate()
		if err != nil {
			return "", err
		}
		exists, err := g.orders.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free order number after %d attempts", orderNumberAttempts)
}

func (g *orderNumberGenerator) candidate() (string, error) {
	suffix := make([]byte, orderNumberSuffix)
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating order number: %w", err)
		}
		suffix[i] = orderNumberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s%s%s", g.prefix, g.now().UTC().Format("060102"), suffix), nil
}
