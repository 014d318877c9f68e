package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

const defaultResendURL = "https://api.resend.com"

// ResendMailer sends transactional email through the Resend HTTP API
type ResendMailer struct {
	apiKey   string
	from     string
	baseURL  string
	currency domain.Currency
	client   *http.Client
	logger   *zap.Logger
}

// NewResendMailer creates a mailer; baseURL may be empty for the public API.
// Amounts are printed at the scale of the order's currency, falling back to currency.
func NewResendMailer(apiKey, from, baseURL string, currency domain.Currency, logger *zap.Logger) *ResendMailer {
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendMailer{
		apiKey:   apiKey,
		from:     from,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		currency: currency,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`
<p>Hi {{.Name}},</p>
<p>Thanks for your order <strong>{{.Number}}</strong>. We'll let you know when it ships.</p>
<table>
{{range .Lines}}<tr><td>{{.Quantity}} × {{.Name}}</td><td>{{.Subtotal}}</td></tr>
{{end}}</table>
{{if .Discount}}<p>Discount: -{{.Discount}}</p>{{end}}
<p>Tax: {{.Tax}}<br>Shipping: {{.Shipping}}<br><strong>Total: {{.Total}} {{.Currency}}</strong></p>
`))

type confirmationLine struct {
	Name     string
	Quantity int
	Subtotal string
}

type confirmationView struct {
	Name     string
	Number   string
	Lines    []confirmationLine
	Discount string
	Tax      string
	Shipping string
	Total    string
	Currency string
}

// SendOrderConfirmation emails the order summary to the customer
func (m *ResendMailer) SendOrderConfirmation(ctx context.Context, order *domain.Order, items []*domain.OrderItem) error {
	if order.CustomerEmail == "" {
		return fmt.Errorf("order %s has no customer email", order.OrderNumber)
	}

	scale := m.scaleFor(order.Currency)
	view := confirmationView{
		Name:     order.CustomerName,
		Number:   order.OrderNumber,
		Tax:      order.Tax.StringFixed(scale),
		Shipping: order.Shipping.StringFixed(scale),
		Total:    order.Total.StringFixed(scale),
		Currency: strings.ToUpper(order.Currency),
	}
	if order.Discount.IsPositive() {
		view.Discount = order.Discount.StringFixed(scale)
	}
	for _, it := range items {
		name := it.ProductName
		if it.VariantName != nil {
			name += " (" + *it.VariantName + ")"
		}
		view.Lines = append(view.Lines, confirmationLine{Name: name, Quantity: it.Quantity, Subtotal: it.Subtotal.StringFixed(scale)})
	}

	var html bytes.Buffer
	if err := confirmationTemplate.Execute(&html, view); err != nil {
		return fmt.Errorf("rendering confirmation: %w", err)
	}

	return m.send(ctx, sendRequest{
		From:    m.from,
		To:      []string{order.CustomerEmail},
		Subject: "Your order " + order.OrderNumber,
		HTML:    html.String(),
	})
}

func (m *ResendMailer) scaleFor(code string) int32 {
	if code == "" || strings.EqualFold(code, m.currency.Code) {
		return m.currency.Scale
	}
	cur, err := domain.ParseCurrency(code)
	if err != nil {
		m.logger.Warn("Unknown order currency, using the configured scale", zap.String("currency", code))
		return m.currency.Scale
	}
	return cur.Scale
}

func (m *ResendMailer) send(ctx context.Context, body sendRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("resend returned %d: %s", resp.StatusCode, string(msg))
	}

	m.logger.Info("Order confirmation sent", zap.String("subject", body.Subject))
	return nil
}

// LogNotifier records confirmations in the log when no mail provider is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOrderConfirmation(_ context.Context, order *domain.Order, items []*domain.OrderItem) error {
	n.logger.Info("Order confirmation (mail disabled)",
		zap.String("order_number", order.OrderNumber),
		zap.String("email", order.CustomerEmail),
		zap.Int("item_count", len(items)),
		zap.String("total", order.Total.String()),
	)
	return nil
}
