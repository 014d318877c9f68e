package postgres

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// catalogRepository reads the storefront's product tables
type catalogRepository struct {
	db     dbtx
	logger *zap.Logger
}

// NewCatalogRepository creates a read-only catalog repository
func NewCatalogRepository(db dbtx, logger *zap.Logger) *catalogRepository {
	return &catalogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *catalogRepository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, name, price, sale_price, inventory, active
		FROM products
		WHERE id = $1
	`

	var p domain.Product
	var salePrice decimal.NullDecimal

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&salePrice,
		&p.Inventory,
		&p.Active,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get product", zap.Int64("product_id", id), zap.Error(err))
		return nil, err
	}

	if salePrice.Valid {
		p.SalePrice = &salePrice.Decimal
	}

	return &p, nil
}

func (r *catalogRepository) GetVariant(ctx context.Context, id int64) (*domain.ProductVariant, error) {
	query := `
		SELECT id, product_id, name, price_modifier, inventory, active
		FROM product_variants
		WHERE id = $1
	`

	var v domain.ProductVariant
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID,
		&v.ProductID,
		&v.Name,
		&v.PriceModifier,
		&v.Inventory,
		&v.Active,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "variant", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get product variant", zap.Int64("variant_id", id), zap.Error(err))
		return nil, err
	}

	return &v, nil
}
