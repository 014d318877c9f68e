package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

var usd = domain.Currency{Code: "usd", Scale: 2}

func testOrder() (*domain.Order, []*domain.OrderItem) {
	variant := "Cherry"
	order := &domain.Order{
		OrderNumber:   "SC261014ABC123",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		Currency:      "usd",
		Subtotal:      decimal.RequireFromString("50.00"),
		Discount:      decimal.RequireFromString("5.00"),
		Tax:           decimal.RequireFromString("3.60"),
		Shipping:      decimal.Zero,
		Total:         decimal.RequireFromString("48.60"),
	}
	items := []*domain.OrderItem{
		{ProductName: "Pour-Over Stand", VariantName: &variant, Quantity: 2, Subtotal: decimal.RequireFromString("50.00")},
	}
	return order, items
}

func TestResendMailer_SendOrderConfirmation(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	m := NewResendMailer("re_test", "orders@sawdustandcoffee.test", srv.URL, usd, zap.NewNop())
	order, items := testOrder()

	require.NoError(t, m.SendOrderConfirmation(context.Background(), order, items))
	assert.Equal(t, []string{"ada@example.com"}, got.To)
	assert.Equal(t, "orders@sawdustandcoffee.test", got.From)
	assert.Equal(t, "Your order SC261014ABC123", got.Subject)
	assert.Contains(t, got.HTML, "Pour-Over Stand (Cherry)")
	assert.Contains(t, got.HTML, "Total: 48.60 USD")
	assert.Contains(t, got.HTML, "Discount: -5.00")
}

func TestResendMailer_UsesOrderCurrencyScale(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"email_2"}`))
	}))
	defer srv.Close()

	order, items := testOrder()
	order.Currency = "jpy"
	order.Subtotal = decimal.NewFromInt(5000)
	order.Discount = decimal.NewFromInt(500)
	order.Tax = decimal.NewFromInt(360)
	order.Total = decimal.NewFromInt(4860)
	items[0].Subtotal = decimal.NewFromInt(5000)

	m := NewResendMailer("re_test", "orders@sawdustandcoffee.test", srv.URL, usd, zap.NewNop())
	require.NoError(t, m.SendOrderConfirmation(context.Background(), order, items))
	assert.Contains(t, got.HTML, "Total: 4860 JPY")
	assert.Contains(t, got.HTML, "Discount: -500")
	assert.NotContains(t, got.HTML, "4860.00")
}

func TestResendMailer_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer srv.Close()

	m := NewResendMailer("re_test", "bad", srv.URL, usd, nil)
	order, items := testOrder()

	err := m.SendOrderConfirmation(context.Background(), order, items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid from address")
}

func TestResendMailer_RequiresEmail(t *testing.T) {
	m := NewResendMailer("re_test", "orders@sawdustandcoffee.test", "http://127.0.0.1:0", usd, nil)
	order, items := testOrder()
	order.CustomerEmail = ""

	require.Error(t, m.SendOrderConfirmation(context.Background(), order, items))
}

func TestLogNotifier(t *testing.T) {
	order, items := testOrder()
	assert.NoError(t, NewLogNotifier(zap.NewNop()).SendOrderConfirmation(context.Background(), order, items))
}
