package service

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// fakeStore is an in-memory stand-in for the postgres repositories.
// Transactions are serialized and roll back by restoring a snapshot.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[int64]domain.Product
	variants map[int64]domain.ProductVariant
	orders   map[uuid.UUID]domain.Order
	items    []domain.OrderItem
	codes    map[int64]domain.DiscountCode
	uses     []domain.DiscountUse
	events   []domain.OrderEvent
	idem     map[string]domain.CheckoutIdempotencyKey
	issues   []domain.ReconciliationIssue

	failCreateBatch error
	failIssueCreate error
	lookups         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[int64]domain.Product{},
		variants: map[int64]domain.ProductVariant{},
		orders:   map[uuid.UUID]domain.Order{},
		codes:    map[int64]domain.DiscountCode{},
		idem:     map[string]domain.CheckoutIdempotencyKey{},
	}
}

func (s *fakeStore) repos() *repository.Repositories {
	return &repository.Repositories{
		Catalog:             &fakeCatalog{s},
		Order:               &fakeOrders{s},
		OrderItem:           &fakeItems{s},
		DiscountCode:        &fakeCodes{s},
		OrderEvent:          &fakeEvents{s},
		CheckoutIdempotency: &fakeIdempotency{s},
		ReconciliationIssue: &fakeIssues{s},
		Tx:                  &fakeTx{s},
	}
}

func (s *fakeStore) addProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *fakeStore) addVariant(v domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *fakeStore) addCode(c domain.DiscountCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.ID] = c
}

func (s *fakeStore) orderList() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.orders))
}

func (s *fakeStore) itemsFor(orderID uuid.UUID) []domain.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderItem
	for _, it := range s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out
}

func (s *fakeStore) eventTypes(orderID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (s *fakeStore) code(id int64) domain.DiscountCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[id]
}

func (s *fakeStore) useCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uses)
}

func (s *fakeStore) issueList() []domain.ReconciliationIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.issues)
}

type snapshot struct {
	orders map[uuid.UUID]domain.Order
	items  []domain.OrderItem
	codes  map[int64]domain.DiscountCode
	uses   []domain.DiscountUse
	events []domain.OrderEvent
}

func (s *fakeStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		orders: maps.Clone(s.orders),
		items:  slices.Clone(s.items),
		codes:  maps.Clone(s.codes),
		uses:   slices.Clone(s.uses),
		events: slices.Clone(s.events),
	}
}

func (s *fakeStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders, s.items, s.codes, s.uses, s.events = snap.orders, snap.items, snap.codes, snap.uses, snap.events
}

type fakeTx struct{ s *fakeStore }

func (t *fakeTx) WithinTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	snap := t.s.snapshot()
	repos := t.s.repos()
	repos.Tx = nestedFakeTx{repos}
	if err := fn(repos); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type nestedFakeTx struct{ repos *repository.Repositories }

func (n nestedFakeTx) WithinTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	return fn(n.repos)
}

type fakeCatalog struct{ s *fakeStore }

func (c *fakeCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.lookups++
	p, ok := c.s.products[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(id, 10)}
	}
	return &p, nil
}

func (c *fakeCatalog) GetVariant(_ context.Context, id int64) (*domain.ProductVariant, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	v, ok := c.s.variants[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "variant", ID: strconv.FormatInt(id, 10)}
	}
	return &v, nil
}

type fakeOrders struct{ s *fakeStore }

func (r *fakeOrders) Create(_ context.Context, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentSessionID == order.PaymentSessionID {
			return repository.ErrDuplicateSession
		}
		if o.OrderNumber == order.OrderNumber {
			return &errors.ErrConflict{Message: "order number already exists"}
		}
	}
	if !order.TotalsBalance() {
		return fmt.Errorf("check constraint orders_total_balanced violated")
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	r.s.orders[order.ID] = *order
	return nil
}

func (r *fakeOrders) find(match func(domain.Order) bool, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if match(o) {
			return &o, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "order", ID: id}
}

func (r *fakeOrders) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == id }, id.String())
}

func (r *fakeOrders) GetByOrderNumber(_ context.Context, n string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.OrderNumber == n }, n)
}

func (r *fakeOrders) GetByPaymentSessionID(_ context.Context, id string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.PaymentSessionID == id }, id)
}

func (r *fakeOrders) GetByPaymentIntentID(_ context.Context, id string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.PaymentIntentID != nil && *o.PaymentIntentID == id }, id)
}

func (r *fakeOrders) OrderNumberExists(_ context.Context, n string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.OrderNumber == n {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOrders) List(_ context.Context, filter repository.OrderFilter) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if filter.Status == nil || o.Status == *filter.Status {
			out = append(out, &o)
		}
	}
	return out, nil
}

func (r *fakeOrders) MarkPaid(_ context.Context, piID string, paidAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, o := range r.s.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == piID && o.PaidAt == nil {
			o.PaidAt = &paidAt
			o.PaymentStatus = domain.PaymentStatusPaid
			r.s.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOrders) MarkPaymentFailed(_ context.Context, piID string, note string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, o := range r.s.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == piID &&
			o.Status == domain.OrderStatusPending && o.PaidAt == nil {
			o.Status = domain.OrderStatusCancelled
			o.PaymentStatus = domain.PaymentStatusFailed
			notes := note
			if o.AdminNotes != nil {
				notes = *o.AdminNotes + "\n" + note
			}
			o.AdminNotes = &notes
			r.s.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOrders) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus, note string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if note != "" {
		notes := note
		if o.AdminNotes != nil {
			notes = *o.AdminNotes + "\n" + note
		}
		o.AdminNotes = &notes
	}
	r.s.orders[id] = o
	return true, nil
}

type fakeItems struct{ s *fakeStore }

func (r *fakeItems) CreateBatch(_ context.Context, items []*domain.OrderItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreateBatch != nil {
		return r.s.failCreateBatch
	}
	for _, it := range items {
		r.s.items = append(r.s.items, *it)
	}
	return nil
}

func (r *fakeItems) GetByOrderID(_ context.Context, orderID uuid.UUID) ([]*domain.OrderItem, error) {
	var out []*domain.OrderItem
	for _, it := range r.s.itemsFor(orderID) {
		out = append(out, &it)
	}
	return out, nil
}

type fakeCodes struct{ s *fakeStore }

func (r *fakeCodes) GetByCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.codes {
		if strings.EqualFold(c.Code, strings.TrimSpace(code)) {
			return &c, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "discount code", ID: code}
}

func (r *fakeCodes) Create(_ context.Context, code *domain.DiscountCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	code.ID = int64(len(r.s.codes) + 1)
	r.s.codes[code.ID] = *code
	return nil
}

func (r *fakeCodes) CountUsesByCustomer(_ context.Context, id int64, email string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, u := range r.s.uses {
		if u.DiscountCodeID == id && strings.EqualFold(u.CustomerEmail, email) {
			n++
		}
	}
	return n, nil
}

func (r *fakeCodes) IncrementUsage(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[id]
	if !ok {
		return &errors.ErrNotFound{Resource: "discount code", ID: strconv.FormatInt(id, 10)}
	}
	c.UsedCount++
	r.s.codes[id] = c
	return nil
}

func (r *fakeCodes) RecordUse(_ context.Context, use *domain.DiscountUse) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	use.ID = uuid.New()
	r.s.uses = append(r.s.uses, *use)
	return nil
}

type fakeEvents struct{ s *fakeStore }

func (r *fakeEvents) Create(_ context.Context, event *domain.OrderEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	event.ID = uuid.New()
	r.s.events = append(r.s.events, *event)
	return nil
}

func (r *fakeEvents) GetByOrderID(_ context.Context, orderID uuid.UUID) ([]*domain.OrderEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.OrderEvent
	for _, e := range r.s.events {
		if e.OrderID == orderID {
			out = append(out, &e)
		}
	}
	return out, nil
}

type fakeIdempotency struct{ s *fakeStore }

func (r *fakeIdempotency) GetByKey(_ context.Context, key string) (*domain.CheckoutIdempotencyKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.idem[key]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (r *fakeIdempotency) Create(_ context.Context, key *domain.CheckoutIdempotencyKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.idem[key.Key] = *key
	return nil
}

type fakeIssues struct{ s *fakeStore }

func (r *fakeIssues) Create(_ context.Context, issue *domain.ReconciliationIssue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failIssueCreate != nil {
		return r.s.failIssueCreate
	}
	r.s.issues = append(r.s.issues, *issue)
	return nil
}

func (r *fakeIssues) GetByID(_ context.Context, id uuid.UUID) (*domain.ReconciliationIssue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.issues {
		if i.ID == id {
			return &i, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "reconciliation issue", ID: id.String()}
}

func (r *fakeIssues) List(_ context.Context, status domain.IssueStatus, _ int) ([]*domain.ReconciliationIssue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.ReconciliationIssue
	for _, i := range r.s.issues {
		if i.Status == status {
			out = append(out, &i)
		}
	}
	return out, nil
}

func (r *fakeIssues) Resolve(_ context.Context, id uuid.UUID, note string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for n, i := range r.s.issues {
		if i.ID == id {
			i.Status = domain.IssueStatusResolved
			i.ResolutionNote = &note
			r.s.issues[n] = i
			return nil
		}
	}
	return &errors.ErrNotFound{Resource: "reconciliation issue", ID: id.String()}
}

func (r *fakeIssues) ListUnpublished(_ context.Context, _ int) ([]*domain.ReconciliationIssue, error) {
	return nil, nil
}

func (r *fakeIssues) MarkPublished(_ context.Context, _ []uuid.UUID) error {
	return nil
}

// fakeGateway plays the payment provider. Sessions it creates can be settled
// with settle, which mirrors how the provider reports line items and totals.
type fakeGateway struct {
	mu       sync.Mutex
	created  []*domain.CheckoutIntent
	sessions map[string]*domain.SessionDetail

	createErr   error
	retrieveErr error
	retrieves   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*domain.SessionDetail{}}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, intent *domain.CheckoutIntent) (*domain.CreatedSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, intent)
	id := fmt.Sprintf("cs_test_%03d", len(g.created))
	return &domain.CreatedSession{ID: id, URL: "https://checkout.example.test/pay/" + id}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, sessionID string) (*domain.SessionDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieves++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	d, ok := g.sessions[sessionID]
	if !ok {
		return nil, &errors.ErrPaymentGateway{Message: "no such checkout session: " + sessionID}
	}
	return d, nil
}

// VerifyWebhook accepts the signature "valid" and a compact JSON test payload
func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*domain.Event, error) {
	if signatureHeader != "valid" {
		return nil, &errors.ErrSignature{Message: "signature mismatch"}
	}
	var raw struct {
		ID             string `json:"id"`
		Type           string `json:"type"`
		Session        string `json:"session"`
		PaymentIntent  string `json:"payment_intent"`
		PaymentStatus  string `json:"payment_status"`
		FailureMessage string `json:"failure_message"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &errors.ErrSignature{Message: "bad payload", Err: err}
	}

	event := &domain.Event{ID: raw.ID, Kind: domain.EventKind(raw.Type), RawType: raw.Type, Created: time.Now()}
	switch event.Kind {
	case domain.EventCheckoutSessionCompleted:
		event.SessionCompleted = &domain.SessionCompleted{
			SessionID:       raw.Session,
			PaymentIntentID: raw.PaymentIntent,
			PaymentStatus:   raw.PaymentStatus,
		}
	case domain.EventPaymentIntentSucceeded:
		event.PaymentSucceeded = &domain.PaymentIntentUpdate{PaymentIntentID: raw.PaymentIntent}
	case domain.EventPaymentIntentFailed:
		event.PaymentFailed = &domain.PaymentIntentUpdate{
			PaymentIntentID: raw.PaymentIntent,
			FailureMessage:  raw.FailureMessage,
			FailureCode:     "card_declined",
		}
	}
	return event, nil
}

// settle records the provider view of a created session, adding tax and shipping
func (g *fakeGateway) settle(sessionID, piID string, intent *domain.CheckoutIntent, tax, shipping int64) *domain.SessionDetail {
	g.mu.Lock()
	defer g.mu.Unlock()

	detail := &domain.SessionDetail{
		ID:              sessionID,
		PaymentIntentID: piID,
		PaymentStatus:   "paid",
		Currency:        intent.Currency,
		CustomerEmail:   intent.Customer.Email,
		AmountSubtotal:  intent.SubtotalMinor,
		AmountDiscount:  intent.DiscountMinor,
		AmountTax:       tax,
		AmountShipping:  shipping,
		AmountTotal:     intent.SubtotalMinor - intent.DiscountMinor + tax + shipping,
		Metadata:        maps.Clone(intent.Metadata),
	}
	for _, line := range intent.ProductLines() {
		detail.LineItems = append(detail.LineItems, domain.SettledLineItem{
			Description:    line.Name,
			Quantity:       int64(line.Quantity),
			UnitAmount:     line.UnitPriceMinor,
			AmountSubtotal: line.LineTotalMinor,
			AmountTotal:    line.LineTotalMinor,
			Metadata:       map[string]string{domain.MetaLineRef: line.Ref},
		})
	}
	g.sessions[sessionID] = detail
	return detail
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) SendOrderConfirmation(_ context.Context, order *domain.Order, _ []*domain.OrderItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, order.OrderNumber)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fixedNumbers hands out order numbers in order, then falls back to a counter
type fixedNumbers struct {
	mu      sync.Mutex
	numbers []string
	n       int
}

func (f *fixedNumbers) Next(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if len(f.numbers) > 0 {
		next := f.numbers[0]
		f.numbers = f.numbers[1:]
		return next, nil
	}
	return fmt.Sprintf("SC260101%06d", f.n), nil
}
