package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const (
	boardID    int64 = 1
	standID    int64 = 2
	retiredID  int64 = 3
	cherryID   int64 = 20
	clearoutID int64 = 21
	mugID      int64 = 4
	mugBlueID  int64 = 40
)

func int64Ptr(v int64) *int64 { return &v }

func seedCatalog(store *fakeStore) {
	store.addProduct(domain.Product{ID: boardID, Name: "Walnut Cutting Board", Price: decimal.RequireFromString("25.00"), Inventory: 10, Active: true})
	store.addProduct(domain.Product{ID: standID, Name: "Pour-Over Stand", Price: decimal.RequireFromString("40.00"), SalePrice: decPtr("32.50"), Inventory: 6, Active: true})
	store.addProduct(domain.Product{ID: retiredID, Name: "Retired Tray", Price: decimal.RequireFromString("10.00"), Inventory: 4, Active: false})
	store.addProduct(domain.Product{ID: mugID, Name: "Stoneware Mug", Price: decimal.RequireFromString("18.00"), Inventory: 20, Active: true})
	store.addVariant(domain.ProductVariant{ID: cherryID, ProductID: standID, Name: "Cherry", PriceModifier: decimal.RequireFromString("5.00"), Inventory: 2, Active: true})
	store.addVariant(domain.ProductVariant{ID: clearoutID, ProductID: standID, Name: "Clearout", PriceModifier: decimal.RequireFromString("-50.00"), Inventory: 5, Active: true})
	store.addVariant(domain.ProductVariant{ID: mugBlueID, ProductID: mugID, Name: "Blue", PriceModifier: decimal.Zero, Inventory: 20, Active: true})
	store.addCode(domain.DiscountCode{
		ID:             10,
		Code:           "SAVE10",
		Type:           domain.DiscountTypePercentage,
		Value:          decimal.NewFromInt(10),
		MinOrderAmount: decPtr("20.00"),
		Active:         true,
	})
	store.addCode(domain.DiscountCode{
		ID:        11,
		Code:      "OLDNEWS",
		Type:      domain.DiscountTypeFixed,
		Value:     decimal.NewFromInt(5),
		ExpiresAt: timePtr(time.Now().Add(-24 * time.Hour)),
		Active:    true,
	})
}

func fakeCustomer() domain.Customer {
	return domain.Customer{
		Name:    gofakeit.Name(),
		Email:   gofakeit.Email(),
		Phone:   gofakeit.Phone(),
		Address: gofakeit.Street(),
		City:    gofakeit.City(),
		State:   gofakeit.State(),
		Zip:     gofakeit.Zip(),
	}
}

type checkoutFixture struct {
	store   *fakeStore
	gateway *fakeGateway
	builder *checkoutBuilder
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	store := newFakeStore()
	seedCatalog(store)
	gw := newFakeGateway()
	repos := store.repos()
	evaluator := NewDiscountEvaluator(repos.DiscountCode, usd, zap.NewNop())
	builder := NewCheckoutBuilder(repos.Catalog, evaluator, gw, CheckoutOptions{
		Currency:     usd,
		SuccessURL:   "https://shop.example.test/order/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:    "https://shop.example.test/cart",
		MaxCartLines: 5,
	}, zap.NewNop())
	return &checkoutFixture{store: store, gateway: gw, builder: builder}
}

func TestCheckoutBuilder_PricesLinesFromCatalog(t *testing.T) {
	f := newCheckoutFixture(t)

	intent, discount, err := f.builder.Build(context.Background(), CheckoutRequest{
		Customer: fakeCustomer(),
		Lines: []domain.CartLine{
			{ProductID: boardID, Quantity: 2},
			{ProductID: standID, VariantID: int64Ptr(cherryID), Quantity: 1},
			{ProductID: standID, Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, discount)

	require.Len(t, intent.LineItems, 3)
	board, cherry, stand := intent.LineItems[0], intent.LineItems[1], intent.LineItems[2]

	assert.Equal(t, "Walnut Cutting Board", board.Name)
	assert.Equal(t, int64(2500), board.UnitPriceMinor)
	assert.Equal(t, int64(5000), board.LineTotalMinor)

	// sale price plus variant modifier
	assert.Equal(t, "Pour-Over Stand (Cherry)", cherry.Name)
	assert.Equal(t, int64(3750), cherry.UnitPriceMinor)
	assert.Equal(t, "Cherry", cherry.VariantName)

	assert.Equal(t, int64(3250), stand.UnitPriceMinor)
	assert.Equal(t, int64(9750), stand.LineTotalMinor)

	var sum int64
	for _, line := range intent.LineItems {
		assert.GreaterOrEqual(t, line.UnitPriceMinor, int64(0))
		assert.Equal(t, line.UnitPriceMinor*int64(line.Quantity), line.LineTotalMinor)
		sum += line.LineTotalMinor
	}
	assert.Equal(t, sum, intent.SubtotalMinor)
	assert.Equal(t, int64(18500), intent.SubtotalMinor)
	assert.Equal(t, "usd", intent.Currency)
	assert.NotEmpty(t, intent.IdempotencyKey)
}

func TestCheckoutBuilder_MetadataCarriesCatalogIDs(t *testing.T) {
	f := newCheckoutFixture(t)
	customer := fakeCustomer()

	intent, _, err := f.builder.Build(context.Background(), CheckoutRequest{
		Customer: customer,
		Lines: []domain.CartLine{
			{ProductID: boardID, Quantity: 1},
			{ProductID: standID, VariantID: int64Ptr(cherryID), Quantity: 2},
		},
		IdempotencyKey: "client-key-1",
	})
	require.NoError(t, err)

	meta := intent.Metadata
	assert.Equal(t, customer.Email, meta[domain.MetaCustomerEmail])
	assert.Equal(t, customer.Name, meta[domain.MetaCustomerName])
	assert.Equal(t, customer.Zip, meta[domain.MetaShippingZip])
	assert.Equal(t, "2", meta[domain.MetaLineCount])
	assert.Equal(t, "10000", meta[domain.MetaSubtotal])
	assert.Equal(t, "client-key-1", meta[domain.MetaIdempotencyKey])
	assert.NotContains(t, meta, domain.MetaDiscountCode)

	for _, line := range intent.LineItems {
		ref, err := domain.DecodeLineRef(meta[line.Ref])
		require.NoError(t, err, line.Ref)
		assert.Equal(t, line.ProductID, ref.ProductID)
		assert.Equal(t, line.VariantID, ref.VariantID)
		assert.Equal(t, line.Quantity, ref.Quantity)
		assert.Equal(t, line.UnitPriceMinor, ref.UnitPriceMinor)
	}

	second, err := domain.DecodeLineRef(meta[domain.LineKey(1)])
	require.NoError(t, err)
	require.NotNil(t, second.VariantID)
	assert.Equal(t, cherryID, *second.VariantID)

	for k, v := range meta {
		assert.LessOrEqual(t, len(v), domain.MaxMetadataValueLen, k)
	}
}

func TestCheckoutBuilder_AppliesDiscountLine(t *testing.T) {
	f := newCheckoutFixture(t)

	res, err := f.builder.Checkout(context.Background(), CheckoutRequest{
		Customer:     fakeCustomer(),
		Lines:        []domain.CartLine{{ProductID: boardID, Quantity: 2}},
		DiscountCode: "save10",
	})
	require.NoError(t, err)
	assert.True(t, res.DiscountApplied)
	assert.Nil(t, res.DiscountWarning)

	intent := res.Intent
	assert.Equal(t, int64(5000), intent.SubtotalMinor)
	assert.Equal(t, int64(500), intent.DiscountMinor)
	require.NotNil(t, intent.DiscountCode)
	assert.Equal(t, "SAVE10", *intent.DiscountCode)

	line, ok := intent.DiscountLine()
	require.True(t, ok)
	assert.Equal(t, "Discount (SAVE10)", line.Name)
	assert.Equal(t, int64(-500), line.LineTotalMinor)
	assert.Len(t, intent.ProductLines(), 1)

	assert.Equal(t, "SAVE10", intent.Metadata[domain.MetaDiscountCode])
	assert.Equal(t, "10", intent.Metadata[domain.MetaDiscountCodeID])
	assert.Equal(t, "500", intent.Metadata[domain.MetaDiscountAmount])
	assert.Equal(t, "1", intent.Metadata[domain.MetaLineCount])

	// usage is only counted once payment is confirmed
	assert.Zero(t, f.store.code(10).UsedCount)
}

func TestCheckoutBuilder_InapplicableDiscountIsWarning(t *testing.T) {
	tests := []struct {
		name string
		code string
		want domain.DiscountRejection
	}{
		{name: "unknown", code: "BOGUS", want: domain.DiscountNotFound},
		{name: "expired", code: "OLDNEWS", want: domain.DiscountExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)

			res, err := f.builder.Checkout(context.Background(), CheckoutRequest{
				Customer:     fakeCustomer(),
				Lines:        []domain.CartLine{{ProductID: boardID, Quantity: 2}},
				DiscountCode: tt.code,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, res.SessionID)
			assert.NotEmpty(t, res.URL)
			assert.False(t, res.DiscountApplied)
			require.NotNil(t, res.DiscountWarning)
			assert.Equal(t, tt.want, res.DiscountWarning.Reason)

			_, hasDiscount := res.Intent.DiscountLine()
			assert.False(t, hasDiscount)
			assert.Zero(t, res.Intent.DiscountMinor)
			assert.NotContains(t, res.Intent.Metadata, domain.MetaDiscountCode)
			assert.Equal(t, 1, f.gateway.createdCount())
		})
	}
}

func TestCheckoutBuilder_WorthlessDiscountIsWarning(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.addProduct(domain.Product{ID: 500, Name: "Sticker", Price: decimal.RequireFromString("0.50"), Inventory: 50, Active: true})
	f.store.addCode(domain.DiscountCode{
		ID:     12,
		Code:   "ONEPCT",
		Type:   domain.DiscountTypePercentage,
		Value:  decimal.NewFromInt(1),
		Active: true,
	})

	res, err := f.builder.Checkout(context.Background(), CheckoutRequest{
		Customer:     fakeCustomer(),
		Lines:        []domain.CartLine{{ProductID: 500, Quantity: 1}},
		DiscountCode: "ONEPCT",
	})
	require.NoError(t, err)
	assert.False(t, res.DiscountApplied)
	require.NotNil(t, res.DiscountWarning)
	assert.Equal(t, domain.DiscountNoValue, res.DiscountWarning.Reason)
	assert.Zero(t, res.Intent.DiscountMinor)
}

func TestCheckoutBuilder_FullCartFitsProviderMetadata(t *testing.T) {
	f := newCheckoutFixture(t)
	f.builder.opts.MaxCartLines = domain.MaxCheckoutLines

	lines := make([]domain.CartLine, 0, domain.MaxCheckoutLines)
	for i := range domain.MaxCheckoutLines {
		id := int64(1000 + i)
		f.store.addProduct(domain.Product{ID: id, Name: gofakeit.ProductName(), Price: decimal.RequireFromString("12.00"), Inventory: 5, Active: true})
		lines = append(lines, domain.CartLine{ProductID: id, Quantity: 1})
	}

	intent, _, err := f.builder.Build(context.Background(), CheckoutRequest{
		Customer:       fakeCustomer(),
		Lines:          lines,
		DiscountCode:   "SAVE10",
		IdempotencyKey: "full-cart",
	})
	require.NoError(t, err)
	require.NotNil(t, intent.DiscountCode)
	assert.Len(t, intent.ProductLines(), domain.MaxCheckoutLines)
	assert.Contains(t, intent.Metadata, domain.MetaCustomerPhone)
	assert.Contains(t, intent.Metadata, domain.MetaDiscountAmount)
	assert.LessOrEqual(t, len(intent.Metadata), domain.MaxMetadataKeys)
}

func TestCheckoutBuilder_CatalogFailures(t *testing.T) {
	tests := []struct {
		name     string
		line     domain.CartLine
		resource string
	}{
		{name: "missing product", line: domain.CartLine{ProductID: 999, Quantity: 1}, resource: "product"},
		{name: "inactive product", line: domain.CartLine{ProductID: retiredID, Quantity: 1}, resource: "product"},
		{name: "missing variant", line: domain.CartLine{ProductID: standID, VariantID: int64Ptr(777), Quantity: 1}, resource: "variant"},
		{name: "variant of another product", line: domain.CartLine{ProductID: boardID, VariantID: int64Ptr(mugBlueID), Quantity: 1}, resource: "variant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)

			_, err := f.builder.Checkout(context.Background(), CheckoutRequest{
				Customer: fakeCustomer(),
				Lines:    []domain.CartLine{{ProductID: boardID, Quantity: 1}, tt.line},
			})
			var notFound *errors.ErrNotFound
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, tt.resource, notFound.Resource)
			assert.Zero(t, f.gateway.createdCount())
		})
	}
}

func TestCheckoutBuilder_StockIsCheckedAcrossLines(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.builder.Checkout(context.Background(), CheckoutRequest{
		Customer: fakeCustomer(),
		Lines: []domain.CartLine{
			{ProductID: standID, VariantID: int64Ptr(cherryID), Quantity: 1},
			{ProductID: boardID, Quantity: 1},
			{ProductID: standID, VariantID: int64Ptr(cherryID), Quantity: 2},
		},
	})

	var stockErr *errors.ErrStock
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, standID, stockErr.ProductID)
	require.NotNil(t, stockErr.VariantID)
	assert.Equal(t, cherryID, *stockErr.VariantID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.Zero(t, f.gateway.createdCount())
}

func TestCheckoutBuilder_RejectsNegativePrice(t *testing.T) {
	f := newCheckoutFixture(t)

	_, _, err := f.builder.Build(context.Background(), CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: standID, VariantID: int64Ptr(clearoutID), Quantity: 1}},
	})
	var valErr *errors.ErrValidation
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields, "items[0]")
}

func TestCheckoutBuilder_ValidationFailsBeforeGateway(t *testing.T) {
	tests := []struct {
		name  string
		req   func() CheckoutRequest
		field string
	}{
		{
			name:  "empty cart",
			req:   func() CheckoutRequest { return CheckoutRequest{Customer: fakeCustomer()} },
			field: "items",
		},
		{
			name: "zero quantity",
			req: func() CheckoutRequest {
				return CheckoutRequest{Customer: fakeCustomer(), Lines: []domain.CartLine{{ProductID: boardID, Quantity: 0}}}
			},
			field: "items[0].quantity",
		},
		{
			name: "bad product id",
			req: func() CheckoutRequest {
				return CheckoutRequest{Customer: fakeCustomer(), Lines: []domain.CartLine{{ProductID: boardID, Quantity: 1}, {ProductID: -4, Quantity: 1}}}
			},
			field: "items[1].product_id",
		},
		{
			name: "too many lines",
			req: func() CheckoutRequest {
				lines := make([]domain.CartLine, 6)
				for i := range lines {
					lines[i] = domain.CartLine{ProductID: mugID, Quantity: 1}
				}
				return CheckoutRequest{Customer: fakeCustomer(), Lines: lines}
			},
			field: "items",
		},
		{
			name: "invalid email",
			req: func() CheckoutRequest {
				c := fakeCustomer()
				c.Email = "not-an-email"
				return CheckoutRequest{Customer: c, Lines: []domain.CartLine{{ProductID: boardID, Quantity: 1}}}
			},
			field: "customer.email",
		},
		{
			name: "missing name",
			req: func() CheckoutRequest {
				c := fakeCustomer()
				c.Name = ""
				return CheckoutRequest{Customer: c, Lines: []domain.CartLine{{ProductID: boardID, Quantity: 1}}}
			},
			field: "customer.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)

			_, err := f.builder.Checkout(context.Background(), tt.req())
			var valErr *errors.ErrValidation
			require.ErrorAs(t, err, &valErr)
			assert.Contains(t, valErr.Fields, tt.field)
			assert.Zero(t, f.gateway.createdCount())
		})
	}
}

func TestCheckoutBuilder_GatewayFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.gateway.createErr = stderrors.New("api key expired")

	_, err := f.builder.Checkout(context.Background(), CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: boardID, Quantity: 1}},
	})
	var gwErr *errors.ErrPaymentGateway
	require.ErrorAs(t, err, &gwErr)
	assert.Contains(t, gwErr.Error(), "api key expired")
}

func TestCheckoutBuilder_CancelledBeforeGateway(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.builder.Checkout(ctx, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: boardID, Quantity: 1}},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.gateway.createdCount())
	assert.Empty(t, f.store.orderList())
}

func TestCheckoutBuilder_ReturnsGatewaySession(t *testing.T) {
	f := newCheckoutFixture(t)

	res, err := f.builder.Checkout(context.Background(), CheckoutRequest{
		Customer:       fakeCustomer(),
		Lines:          []domain.CartLine{{ProductID: mugID, VariantID: int64Ptr(mugBlueID), Quantity: 3}},
		IdempotencyKey: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_001", res.SessionID)
	assert.Equal(t, "https://checkout.example.test/pay/cs_test_001", res.URL)
	assert.Equal(t, res.SessionID, res.Intent.SessionID)
	assert.Equal(t, "abc", res.Intent.IdempotencyKey)
	assert.Equal(t, "https://shop.example.test/cart", res.Intent.CancelURL)
	assert.Empty(t, f.store.orderList())
}
