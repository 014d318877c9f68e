package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// DiscountResult is the outcome of evaluating a discount code against a subtotal
type DiscountResult struct {
	Applicable    bool
	Reason        domain.DiscountRejection
	DiscountMinor int64
	Code          *domain.DiscountCode // nil when the code does not exist
}

// Warning converts an inapplicable result into the non-fatal checkout warning
func (r *DiscountResult) Warning(code string) *errors.ErrDiscount {
	if r == nil || r.Applicable {
		return nil
	}
	return &errors.ErrDiscount{Code: code, Reason: r.Reason}
}

type discountEvaluator struct {
	codes    repository.DiscountCodeRepository
	currency domain.Currency
	now      func() time.Time
	logger   *zap.Logger
}

// NewDiscountEvaluator creates a discount evaluator. It reads code state and never mutates usage counters.
func NewDiscountEvaluator(codes repository.DiscountCodeRepository, currency domain.Currency, logger *zap.Logger) *discountEvaluator {
	return &discountEvaluator{
		codes:    codes,
		currency: currency,
		now:      time.Now,
		logger:   logger,
	}
}

// Evaluate prices code against subtotalMinor. An error is returned only when code state cannot be read;
// every business rejection is reported through DiscountResult.Reason.
func (e *discountEvaluator) Evaluate(ctx context.Context, code string, subtotalMinor int64, customerEmail string) (*DiscountResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return &DiscountResult{Reason: domain.DiscountNotFound}, nil
	}

	dc, err := e.codes.GetByCode(ctx, code)
	if err != nil {
		var notFound *errors.ErrNotFound
		if stderrors.As(err, &notFound) {
			return &DiscountResult{Reason: domain.DiscountNotFound}, nil
		}
		e.logger.Error("Failed to look up discount code", zap.String("code", code), zap.Error(err))
		return nil, err
	}

	reject := func(reason domain.DiscountRejection) (*DiscountResult, error) {
		e.logger.Debug("Discount code rejected", zap.String("code", dc.Code), zap.String("reason", string(reason)))
		return &DiscountResult{Reason: reason, Code: dc}, nil
	}

	now := e.now()
	switch {
	case !dc.Active:
		return reject(domain.DiscountInactive)
	case dc.StartsAt != nil && now.Before(*dc.StartsAt):
		return reject(domain.DiscountNotStarted)
	case dc.ExpiresAt != nil && now.After(*dc.ExpiresAt):
		return reject(domain.DiscountExpired)
	case dc.MinOrderAmount != nil && decimal.NewFromInt(subtotalMinor).LessThan(dc.MinOrderAmount.Shift(e.currency.Scale)):
		return reject(domain.DiscountBelowMinimum)
	case dc.MaxUses != nil && dc.UsedCount >= *dc.MaxUses:
		return reject(domain.DiscountUsageExceeded)
	}

	if dc.MaxUsesPerCustomer != nil && strings.TrimSpace(customerEmail) != "" {
		used, err := e.codes.CountUsesByCustomer(ctx, dc.ID, customerEmail)
		if err != nil {
			e.logger.Error("Failed to count discount code uses", zap.String("code", dc.Code), zap.Error(err))
			return nil, err
		}
		if used >= *dc.MaxUsesPerCustomer {
			return reject(domain.DiscountCustomerLimit)
		}
	}

	return &DiscountResult{
		Applicable:    true,
		DiscountMinor: e.amount(dc, subtotalMinor),
		Code:          dc,
	}, nil
}

// amount never exceeds subtotalMinor and never goes below zero
func (e *discountEvaluator) amount(dc *domain.DiscountCode, subtotalMinor int64) int64 {
	if subtotalMinor <= 0 || !dc.Value.IsPositive() {
		return 0
	}

	var minor int64
	switch dc.Type {
	case domain.DiscountTypePercentage:
		minor = decimal.NewFromInt(subtotalMinor).Mul(dc.Value).Div(hundred).Floor().IntPart()
	case domain.DiscountTypeFixed:
		minor = dc.Value.Shift(e.currency.Scale).Floor().IntPart()
	default:
		return 0
	}

	return min(minor, subtotalMinor)
}
