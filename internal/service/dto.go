package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

// CheckoutSubmitRequest represents the checkout session payload
type CheckoutSubmitRequest struct {
	Customer     CustomerInfo    `json:"customer" binding:"required"`
	Shipping     ShippingAddress `json:"shipping" binding:"required"`
	Items        []CheckoutItem  `json:"items" binding:"required,min=1,dive"`
	DiscountCode *string         `json:"discount_code,omitempty" binding:"omitempty,max=64"`
}

type CheckoutItem struct {
	ProductID int64  `json:"product_id" binding:"required,gt=0"`
	VariantID *int64 `json:"variant_id,omitempty" binding:"omitempty,gt=0"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=999"`
}

type CustomerInfo struct {
	Name  string `json:"name" binding:"required,max=255"`
	Email string `json:"email" binding:"required,email,max=255"`
	Phone string `json:"phone" binding:"omitempty,max=32"`
}

type ShippingAddress struct {
	Address string `json:"address" binding:"required,max=255"`
	City    string `json:"city" binding:"required,max=100"`
	State   string `json:"state" binding:"required,max=100"`
	Zip     string `json:"zip" binding:"required,max=20"`
}

// ToCheckoutRequest maps the wire payload to the builder input
func (r CheckoutSubmitRequest) ToCheckoutRequest(idempotencyKey string) CheckoutRequest {
	lines := make([]domain.CartLine, len(r.Items))
	for i, item := range r.Items {
		lines[i] = domain.CartLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		}
	}

	var code string
	if r.DiscountCode != nil {
		code = strings.TrimSpace(*r.DiscountCode)
	}

	return CheckoutRequest{
		Customer: domain.Customer{
			Name:    strings.TrimSpace(r.Customer.Name),
			Email:   strings.TrimSpace(r.Customer.Email),
			Phone:   strings.TrimSpace(r.Customer.Phone),
			Address: strings.TrimSpace(r.Shipping.Address),
			City:    strings.TrimSpace(r.Shipping.City),
			State:   strings.TrimSpace(r.Shipping.State),
			Zip:     strings.TrimSpace(r.Shipping.Zip),
		},
		Lines:          lines,
		DiscountCode:   code,
		IdempotencyKey: idempotencyKey,
	}
}

// DiscountValidateRequest is the payload for previewing a discount code
type DiscountValidateRequest struct {
	Code     string          `json:"code" binding:"required,max=64"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Email    string          `json:"email" binding:"omitempty,email"`
}
