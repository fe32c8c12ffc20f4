package enums

import "fmt"

// UserTier is the ordered role level in the reseller chain. Higher tiers
// buy at lower prices; the gap funds the commission split.
type UserTier int

const (
	UserTierGuest      UserTier = 0
	UserTierMember     UserTier = 1
	UserTierTeamLeader UserTier = 2
	UserTierAgent      UserTier = 3
)

var userTierNames = map[UserTier]string{
	UserTierGuest:      "guest",
	UserTierMember:     "member",
	UserTierTeamLeader: "team_leader",
	UserTierAgent:      "agent",
}

// String implements fmt.Stringer.
func (t UserTier) String() string {
	if name, ok := userTierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// IsValid reports whether the value is a known UserTier.
func (t UserTier) IsValid() bool {
	_, ok := userTierNames[t]
	return ok
}

// Above reports whether t outranks other in the referral chain.
func (t UserTier) Above(other UserTier) bool {
	return t > other
}

// ParseUserTier converts a raw level into a UserTier.
func ParseUserTier(value int) (UserTier, error) {
	tier := UserTier(value)
	if !tier.IsValid() {
		return 0, fmt.Errorf("invalid user tier %d", value)
	}
	return tier, nil
}
