package enums

import "fmt"

// CommissionType distinguishes how a commission amount was derived.
type CommissionType string

const (
	// CommissionTypeGap is the tier price difference earned by an ancestor
	// in the referral chain.
	CommissionTypeGap CommissionType = "gap"
	// CommissionTypeAgentFulfillment is the fulfilling agent's own margin.
	CommissionTypeAgentFulfillment CommissionType = "agent_fulfillment"
	// CommissionTypeRegional is the regional attribution share.
	CommissionTypeRegional CommissionType = "regional"
)

var validCommissionTypes = []CommissionType{
	CommissionTypeGap,
	CommissionTypeAgentFulfillment,
	CommissionTypeRegional,
}

// String implements fmt.Stringer.
func (t CommissionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known CommissionType.
func (t CommissionType) IsValid() bool {
	for _, candidate := range validCommissionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCommissionType converts raw input into a CommissionType.
func ParseCommissionType(value string) (CommissionType, error) {
	for _, candidate := range validCommissionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission type %q", value)
}
