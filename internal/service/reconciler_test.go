package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

type reconcileFixture struct {
	*checkoutFixture
	notifier   *fakeNotifier
	numbers    *fixedNumbers
	reconciler *orderReconciler
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	cf := newCheckoutFixture(t)
	notifier := &fakeNotifier{}
	numbers := &fixedNumbers{}
	return &reconcileFixture{
		checkoutFixture: cf,
		notifier:        notifier,
		numbers:         numbers,
		reconciler:      NewOrderReconciler(cf.store.repos(), numbers, notifier, usd, zap.NewNop()),
	}
}

// checkoutAndSettle runs a checkout and settles the resulting session at the provider
func (f *reconcileFixture) checkoutAndSettle(t *testing.T, req CheckoutRequest, tax, shipping int64) *domain.SessionDetail {
	t.Helper()
	res, err := f.builder.Checkout(context.Background(), req)
	require.NoError(t, err)
	return f.gateway.settle(res.SessionID, "pi_"+res.SessionID, res.Intent, tax, shipping)
}

func TestOrderReconciler_MaterializesOrderAndItems(t *testing.T) {
	f := newReconcileFixture(t)
	customer := fakeCustomer()

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: customer,
		Lines: []domain.CartLine{
			{ProductID: boardID, Quantity: 2},
			{ProductID: standID, VariantID: int64Ptr(cherryID), Quantity: 1},
		},
	}, 700, 1200)

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.NotNil(t, order.PaidAt)
	assert.Equal(t, detail.ID, order.PaymentSessionID)
	require.NotNil(t, order.PaymentIntentID)
	assert.Equal(t, detail.PaymentIntentID, *order.PaymentIntentID)
	assert.Equal(t, "SC260101000001", order.OrderNumber)

	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("87.50")))
	assert.True(t, order.Tax.Equal(decimal.RequireFromString("7.00")))
	assert.True(t, order.Shipping.Equal(decimal.RequireFromString("12.00")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("106.50")))
	assert.True(t, order.TotalsBalance())

	assert.Equal(t, customer.Name, order.CustomerName)
	assert.Equal(t, customer.Email, order.CustomerEmail)
	assert.Equal(t, customer.Address, order.ShippingAddress)

	items := f.store.itemsFor(order.ID)
	require.Len(t, items, 2)

	type itemView struct {
		ProductID int64
		VariantID *int64
		Name      string
		Variant   *string
		Quantity  int
		Price     string
		Subtotal  string
	}
	got := make([]itemView, len(items))
	for i, it := range items {
		got[i] = itemView{it.ProductID, it.VariantID, it.ProductName, it.VariantName, it.Quantity, it.PriceAtPurchase.StringFixed(2), it.Subtotal.StringFixed(2)}
	}
	cherry := "Cherry"
	want := []itemView{
		{ProductID: boardID, Name: "Walnut Cutting Board", Quantity: 2, Price: "25.00", Subtotal: "50.00"},
		{ProductID: standID, VariantID: int64Ptr(cherryID), Name: "Pour-Over Stand", Variant: &cherry, Quantity: 1, Price: "37.50", Subtotal: "37.50"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order items mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"order_created"}, f.store.eventTypes(order.ID))
	assert.Equal(t, 1, f.notifier.count())
}

func TestOrderReconciler_ItemsSurviveCatalogChanges(t *testing.T) {
	f := newReconcileFixture(t)

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: boardID, Quantity: 1}},
	}, 0, 0)

	// repriced and then removed between checkout and completion
	f.store.addProduct(domain.Product{ID: boardID, Name: "Walnut Board v2", Price: decimal.NewFromInt(99), Inventory: 1, Active: true})
	f.store.mu.Lock()
	delete(f.store.products, boardID)
	f.store.mu.Unlock()

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)

	items := f.store.itemsFor(order.ID)
	require.Len(t, items, 1)
	assert.Equal(t, "Walnut Cutting Board", items[0].ProductName)
	assert.Equal(t, boardID, items[0].ProductID)
	assert.True(t, items[0].PriceAtPurchase.Equal(decimal.RequireFromString("25.00")))
}

func TestOrderReconciler_RedeemsDiscountOnce(t *testing.T) {
	f := newReconcileFixture(t)

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer:     fakeCustomer(),
		Lines:        []domain.CartLine{{ProductID: boardID, Quantity: 2}},
		DiscountCode: "SAVE10",
	}, 360, 0)

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)

	require.NotNil(t, order.DiscountCode)
	assert.Equal(t, "SAVE10", *order.DiscountCode)
	require.NotNil(t, order.DiscountCodeID)
	assert.Equal(t, int64(10), *order.DiscountCodeID)
	assert.True(t, order.Discount.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("48.60")))

	assert.Equal(t, 1, f.store.code(10).UsedCount)
	assert.Equal(t, 1, f.store.useCount())

	_, err = f.reconciler.Materialize(context.Background(), detail)
	require.ErrorIs(t, err, repository.ErrDuplicateSession)
	assert.Equal(t, 1, f.store.code(10).UsedCount)
	assert.Equal(t, 1, f.store.useCount())
	assert.Len(t, f.store.orderList(), 1)
}

func TestOrderReconciler_UnpaidSessionLeavesPaidAtUnset(t *testing.T) {
	f := newReconcileFixture(t)

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: mugID, Quantity: 1}},
	}, 0, 0)
	detail.PaymentStatus = "unpaid"

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
}

func TestOrderReconciler_FallsBackToProviderCustomer(t *testing.T) {
	f := newReconcileFixture(t)

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: mugID, Quantity: 1}},
	}, 0, 0)
	for _, k := range []string{domain.MetaCustomerName, domain.MetaCustomerEmail, domain.MetaShippingAddress, domain.MetaShippingCity, domain.MetaShippingZip} {
		delete(detail.Metadata, k)
	}
	detail.CustomerName = "Grace Hopper"
	detail.CustomerEmail = "grace@example.com"
	detail.CustomerAddress = domain.Address{Line1: "1 Navy Yard", Line2: "Suite 2", City: "Arlington", PostalCode: "22202"}

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", order.CustomerName)
	assert.Equal(t, "grace@example.com", order.CustomerEmail)
	assert.Equal(t, "1 Navy Yard Suite 2", order.ShippingAddress)
	assert.Equal(t, "Arlington", order.ShippingCity)
	assert.Equal(t, "22202", order.ShippingZip)
}

func TestOrderReconciler_RejectsInconsistentSessions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *domain.SessionDetail)
	}{
		{name: "unbalanced total", mutate: func(d *domain.SessionDetail) { d.AmountTotal += 1 }},
		{name: "negative tax", mutate: func(d *domain.SessionDetail) { d.AmountTax = -100; d.AmountTotal -= 100 }},
		{name: "line without reference", mutate: func(d *domain.SessionDetail) { d.LineItems[0].Metadata = nil }},
		{name: "reference missing from session", mutate: func(d *domain.SessionDetail) { delete(d.Metadata, domain.LineKey(0)) }},
		{name: "malformed reference", mutate: func(d *domain.SessionDetail) { d.Metadata[domain.LineKey(0)] = `{"product_id":0}` }},
		{name: "line count mismatch", mutate: func(d *domain.SessionDetail) { d.LineItems = d.LineItems[:1]; d.AmountSubtotal = d.LineItems[0].AmountSubtotal; d.AmountTotal = d.AmountSubtotal }},
		{name: "subtotal mismatch", mutate: func(d *domain.SessionDetail) { d.AmountSubtotal += 100; d.AmountTotal += 100 }},
		{name: "duplicate reference", mutate: func(d *domain.SessionDetail) { d.LineItems[1].Metadata = d.LineItems[0].Metadata }},
		{name: "no line items", mutate: func(d *domain.SessionDetail) { d.LineItems = nil }},
		{name: "unknown currency", mutate: func(d *domain.SessionDetail) { d.Currency = "zzz" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t)
			detail := f.checkoutAndSettle(t, CheckoutRequest{
				Customer: fakeCustomer(),
				Lines: []domain.CartLine{
					{ProductID: boardID, Quantity: 1},
					{ProductID: mugID, Quantity: 2},
				},
			}, 0, 0)
			tt.mutate(detail)

			_, err := f.reconciler.Materialize(context.Background(), detail)
			var recErr *errors.ErrReconciliation
			require.ErrorAs(t, err, &recErr)
			assert.Equal(t, detail.ID, recErr.SessionID)
			assert.NotEmpty(t, recErr.Reason)

			assert.Empty(t, f.store.orderList())
			assert.Zero(t, f.notifier.count())
		})
	}
}

func TestOrderReconciler_AtomicWithItems(t *testing.T) {
	f := newReconcileFixture(t)
	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer:     fakeCustomer(),
		Lines:        []domain.CartLine{{ProductID: boardID, Quantity: 2}},
		DiscountCode: "SAVE10",
	}, 0, 0)
	f.store.failCreateBatch = stderrors.New("connection reset")

	_, err := f.reconciler.Materialize(context.Background(), detail)
	var recErr *errors.ErrReconciliation
	require.ErrorAs(t, err, &recErr)

	assert.Empty(t, f.store.orderList())
	assert.Zero(t, f.store.code(10).UsedCount)
	assert.Zero(t, f.store.useCount())
	assert.Zero(t, f.notifier.count())
}

func TestOrderReconciler_RetriesOrderNumberCollision(t *testing.T) {
	f := newReconcileFixture(t)

	first := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: mugID, Quantity: 1}},
	}, 0, 0)
	f.numbers.numbers = []string{"SC260101TAKEN1"}
	_, err := f.reconciler.Materialize(context.Background(), first)
	require.NoError(t, err)

	second := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: mugID, Quantity: 1}},
	}, 0, 0)
	f.numbers.numbers = []string{"SC260101TAKEN1", "SC260101FRESH1"}
	order, err := f.reconciler.Materialize(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "SC260101FRESH1", order.OrderNumber)
	assert.Len(t, f.store.orderList(), 2)
}

func TestOrderReconciler_NotificationFailureKeepsOrder(t *testing.T) {
	f := newReconcileFixture(t)
	f.notifier.err = stderrors.New("mail provider down")

	detail := f.checkoutAndSettle(t, CheckoutRequest{
		Customer: fakeCustomer(),
		Lines:    []domain.CartLine{{ProductID: boardID, Quantity: 1}},
	}, 0, 0)

	order, err := f.reconciler.Materialize(context.Background(), detail)
	require.NoError(t, err)
	assert.Len(t, f.store.orderList(), 1)
	assert.Len(t, f.store.itemsFor(order.ID), 1)
}
