package orders

import (
	"fmt"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

// transitionTable is the only authority on legal order status moves. Every
// path — user, scheduler and admin force-transition alike — validates
// through it; there is no bypass.
var transitionTable = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusAgentConfirmed,
		enums.OrderStatusShippingRequested,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusAgentConfirmed: {
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShippingRequested: {
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusCompleted,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusCompleted: {
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusRefunded:  {},
	enums.OrderStatusCancelled: {},
}

// TransitionError names a disallowed move.
type TransitionError struct {
	From enums.OrderStatus
	To   enums.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order transition %s -> %s is not allowed", e.From, e.To)
}

// ValidateTransition returns a typed error when from→to is not whitelisted.
func ValidateTransition(from, to enums.OrderStatus) error {
	if !from.IsValid() || !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return nil
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict,
		&TransitionError{From: from, To: to},
		"order transition rejected")
}

// CanTransition reports whether from→to is whitelisted.
func CanTransition(from, to enums.OrderStatus) bool {
	return ValidateTransition(from, to) == nil
}
