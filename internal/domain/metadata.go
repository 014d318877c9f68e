package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Metadata keys written at checkout and read back during reconciliation
const (
	MetaCustomerName    = "customer_name"
	MetaCustomerEmail   = "customer_email"
	MetaCustomerPhone   = "customer_phone"
	MetaShippingAddress = "shipping_address"
	MetaShippingCity    = "shipping_city"
	MetaShippingState   = "shipping_state"
	MetaShippingZip     = "shipping_zip"
	MetaSubtotal        = "subtotal"
	MetaDiscountCode    = "discount_code"
	MetaDiscountCodeID  = "discount_code_id"
	MetaDiscountAmount  = "discount_amount"
	MetaLineCount       = "line_count"
	MetaIdempotencyKey  = "idempotency_key"

	// MetaLineRef is set on each provider line item and points at the session key holding its LineRef
	MetaLineRef = "line_ref"

	lineKeyPrefix = "line_"
)

const (
	// MaxMetadataValueLen is the longest value the provider accepts for one metadata key
	MaxMetadataValueLen = 500

	// MaxMetadataKeys is the most keys the provider accepts on one session
	MaxMetadataKeys = 50

	// sessionMetadataKeys counts the Meta* session keys above, written beside the line refs
	sessionMetadataKeys = 13

	// MaxCheckoutLines is the most product lines whose refs fit beside the session keys
	MaxCheckoutLines = MaxMetadataKeys - sessionMetadataKeys
)

// LineRef is the catalog identity of one checkout line, carried through the provider
type LineRef struct {
	ProductID      int64  `json:"product_id"`
	VariantID      *int64 `json:"variant_id,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price"`
}

// LineKey returns the metadata key for the i-th checkout line
func LineKey(i int) string {
	return fmt.Sprintf("%s%03d", lineKeyPrefix, i)
}

// IsLineKey reports whether key is a per-line metadata key
func IsLineKey(key string) bool {
	rest, ok := strings.CutPrefix(key, lineKeyPrefix)
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// EncodeLineRef serializes a LineRef into a metadata value
func EncodeLineRef(ref LineRef) (string, error) {
	b, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	if len(b) > MaxMetadataValueLen {
		return "", fmt.Errorf("line ref exceeds %d bytes", MaxMetadataValueLen)
	}
	return string(b), nil
}

// DecodeLineRef parses a metadata value written by EncodeLineRef
func DecodeLineRef(value string) (LineRef, error) {
	var ref LineRef
	if err := json.Unmarshal([]byte(value), &ref); err != nil {
		return LineRef{}, fmt.Errorf("malformed line ref: %w", err)
	}
	if ref.ProductID <= 0 {
		return LineRef{}, fmt.Errorf("line ref has no product id")
	}
	if ref.Quantity < 1 {
		return LineRef{}, fmt.Errorf("line ref has invalid quantity %d", ref.Quantity)
	}
	return ref, nil
}
