package enums

import "fmt"

// FulfillmentType records which side of the platform ships an order.
type FulfillmentType string

const (
	// FulfillmentTypeAgentPending means the routed agent has not yet
	// claimed the order; the timeout sweep reassigns it to the platform.
	FulfillmentTypeAgentPending FulfillmentType = "agent_pending"
	FulfillmentTypeAgent        FulfillmentType = "agent"
	FulfillmentTypeCompany      FulfillmentType = "company"
)

var validFulfillmentTypes = []FulfillmentType{
	FulfillmentTypeAgentPending,
	FulfillmentTypeAgent,
	FulfillmentTypeCompany,
}

// String implements fmt.Stringer.
func (t FulfillmentType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known FulfillmentType.
func (t FulfillmentType) IsValid() bool {
	for _, candidate := range validFulfillmentTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseFulfillmentType converts raw input into a FulfillmentType.
func ParseFulfillmentType(value string) (FulfillmentType, error) {
	for _, candidate := range validFulfillmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment type %q", value)
}
