package enums

import "fmt"

// RefundType distinguishes money-only refunds from goods-returned refunds.
// Stock restoration policy depends on it.
type RefundType string

const (
	RefundTypeRefundOnly   RefundType = "refund_only"
	RefundTypeReturnRefund RefundType = "return_refund"
)

var validRefundTypes = []RefundType{
	RefundTypeRefundOnly,
	RefundTypeReturnRefund,
}

// String implements fmt.Stringer.
func (t RefundType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known RefundType.
func (t RefundType) IsValid() bool {
	for _, candidate := range validRefundTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseRefundType converts raw input into a RefundType.
func ParseRefundType(value string) (RefundType, error) {
	for _, candidate := range validRefundTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund type %q", value)
}
