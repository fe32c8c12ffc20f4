package enums

import "fmt"

// CommissionStatus tracks a commission row through the settlement pipeline.
type CommissionStatus string

const (
	CommissionStatusFrozen          CommissionStatus = "frozen"
	CommissionStatusPendingApproval CommissionStatus = "pending_approval"
	CommissionStatusApproved        CommissionStatus = "approved"
	CommissionStatusSettled         CommissionStatus = "settled"
	CommissionStatusCancelled       CommissionStatus = "cancelled"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusFrozen,
	CommissionStatusPendingApproval,
	CommissionStatusApproved,
	CommissionStatusSettled,
	CommissionStatusCancelled,
}

// String implements fmt.Stringer.
func (s CommissionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CommissionStatus.
func (s CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinal reports whether the row can no longer change amount or status.
// Settled rows can still be clawed back through the balance, never mutated.
func (s CommissionStatus) IsFinal() bool {
	return s == CommissionStatusSettled || s == CommissionStatusCancelled
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
