package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// Client calls the catalog service with a service key
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a catalog HTTP client
func NewClient(baseURL, serviceKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type productResponse struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Price     decimal.Decimal  `json:"price"`
	SalePrice *decimal.Decimal `json:"sale_price"`
	Inventory int              `json:"inventory"`
	Active    bool             `json:"active"`
}

type variantResponse struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Name          string          `json:"name"`
	PriceModifier decimal.Decimal `json:"price_modifier"`
	Inventory     int             `json:"inventory"`
	Active        bool            `json:"active"`
}

// GetProduct fetches a product with its current price and inventory
func (c *Client) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p productResponse
	if err := c.get(ctx, "/v1/products/"+strconv.FormatInt(id, 10), "product", id, &p); err != nil {
		return nil, err
	}
	return &domain.Product{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		SalePrice: p.SalePrice,
		Inventory: p.Inventory,
		Active:    p.Active,
	}, nil
}

// GetVariant fetches a product variant
func (c *Client) GetVariant(ctx context.Context, id int64) (*domain.ProductVariant, error) {
	var v variantResponse
	if err := c.get(ctx, "/v1/variants/"+strconv.FormatInt(id, 10), "variant", id, &v); err != nil {
		return nil, err
	}
	return &domain.ProductVariant{
		ID:            v.ID,
		ProductID:     v.ProductID,
		Name:          v.Name,
		PriceModifier: v.PriceModifier,
		Inventory:     v.Inventory,
		Active:        v.Active,
	}, nil
}

func (c *Client) get(ctx context.Context, path, resource string, id int64, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("catalog client not configured: base URL required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Catalog request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &errors.ErrNotFound{Resource: resource, ID: strconv.FormatInt(id, 10)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("catalog returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding catalog %s: %w", resource, err)
	}
	return nil
}
