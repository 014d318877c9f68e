package domain

// CartLine is one client-supplied cart entry. It is never persisted as-is.
type CartLine struct {
	ProductID int64
	VariantID *int64
	Quantity  int
}

// Customer is the contact and shipping snapshot captured at checkout
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	State   string
	Zip     string
}

// PricedLineItem is a line sent to the payment provider, priced in minor units.
// LineTotalMinor == UnitPriceMinor * Quantity, except for the discount line whose
// LineTotalMinor is the negated discount.
type PricedLineItem struct {
	Ref            string // metadata key carrying the line's catalog IDs
	Name           string
	ProductID      int64
	VariantID      *int64
	VariantName    string
	UnitPriceMinor int64
	Quantity       int
	LineTotalMinor int64
	IsDiscount     bool
}

// CheckoutIntent is the provider-agnostic description of one checkout session.
// It is immutable once handed to the gateway.
type CheckoutIntent struct {
	SessionID      string
	SessionURL     string
	Customer       Customer
	LineItems      []PricedLineItem
	DiscountCode   *string
	DiscountMinor  int64
	SubtotalMinor  int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// ProductLines returns the catalog lines, excluding the synthetic discount line
func (i *CheckoutIntent) ProductLines() []PricedLineItem {
	lines := make([]PricedLineItem, 0, len(i.LineItems))
	for _, l := range i.LineItems {
		if !l.IsDiscount {
			lines = append(lines, l)
		}
	}
	return lines
}

// DiscountLine returns the synthetic discount line, if the intent carries one
func (i *CheckoutIntent) DiscountLine() (PricedLineItem, bool) {
	for _, l := range i.LineItems {
		if l.IsDiscount {
			return l, true
		}
	}
	return PricedLineItem{}, false
}

// CreatedSession is what the gateway returns for a new checkout session
type CreatedSession struct {
	ID  string
	URL string
}

// SessionDetail is the provider-confirmed state of a completed checkout session.
// All amounts are minor units.
type SessionDetail struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
	Currency        string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	CustomerAddress Address
	AmountSubtotal  int64
	AmountDiscount  int64
	AmountTax       int64
	AmountShipping  int64
	AmountTotal     int64
	LineItems       []SettledLineItem
	Metadata        map[string]string
}

// Address is a provider-reported postal address
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// SettledLineItem is one line as the provider settled it
type SettledLineItem struct {
	Description    string
	Quantity       int64
	UnitAmount     int64
	AmountSubtotal int64
	AmountTotal    int64
	Metadata       map[string]string // product-level metadata set at session creation
}
