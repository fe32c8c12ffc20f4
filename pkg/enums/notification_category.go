package enums

import "fmt"

// NotificationCategory buckets user-facing notifications.
type NotificationCategory string

const (
	NotificationCategoryOrder      NotificationCategory = "order"
	NotificationCategoryCommission NotificationCategory = "commission"
	NotificationCategoryRefund     NotificationCategory = "refund"
	NotificationCategorySystem     NotificationCategory = "system"
	// NotificationCategoryOpsAlert is the operator-facing integrity alert
	// channel (referral cycles, non-positive margins).
	NotificationCategoryOpsAlert NotificationCategory = "ops_alert"
)

var validNotificationCategories = []NotificationCategory{
	NotificationCategoryOrder,
	NotificationCategoryCommission,
	NotificationCategoryRefund,
	NotificationCategorySystem,
	NotificationCategoryOpsAlert,
}

// String implements fmt.Stringer.
func (c NotificationCategory) String() string {
	return string(c)
}

// IsValid reports whether the value is a known NotificationCategory.
func (c NotificationCategory) IsValid() bool {
	for _, candidate := range validNotificationCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseNotificationCategory converts raw input into a NotificationCategory.
func ParseNotificationCategory(value string) (NotificationCategory, error) {
	for _, candidate := range validNotificationCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification category %q", value)
}
