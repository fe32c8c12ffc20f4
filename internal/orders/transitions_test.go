package orders

import (
	"errors"
	"testing"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

func TestValidateTransitionWhitelist(t *testing.T) {
	t.Parallel()

	allowed := []struct {
		from, to enums.OrderStatus
	}{
		{enums.OrderStatusPending, enums.OrderStatusPaid},
		{enums.OrderStatusPending, enums.OrderStatusCancelled},
		{enums.OrderStatusPaid, enums.OrderStatusAgentConfirmed},
		{enums.OrderStatusPaid, enums.OrderStatusShippingRequested},
		{enums.OrderStatusPaid, enums.OrderStatusCancelled},
		{enums.OrderStatusAgentConfirmed, enums.OrderStatusShipped},
		{enums.OrderStatusShippingRequested, enums.OrderStatusShipped},
		{enums.OrderStatusShipped, enums.OrderStatusCompleted},
		{enums.OrderStatusShipped, enums.OrderStatusRefunded},
		{enums.OrderStatusCompleted, enums.OrderStatusRefunded},
	}
	for _, tc := range allowed {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Errorf("expected %s -> %s allowed, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionRejectsIllegalMoves(t *testing.T) {
	t.Parallel()

	rejected := []struct {
		from, to enums.OrderStatus
	}{
		{enums.OrderStatusShipped, enums.OrderStatusPaid},
		{enums.OrderStatusPending, enums.OrderStatusShipped},
		{enums.OrderStatusCancelled, enums.OrderStatusPaid},
		{enums.OrderStatusRefunded, enums.OrderStatusCompleted},
		{enums.OrderStatusCompleted, enums.OrderStatusCancelled},
		{enums.OrderStatusPaid, enums.OrderStatusCompleted},
	}
	for _, tc := range rejected {
		err := ValidateTransition(tc.from, tc.to)
		if err == nil {
			t.Errorf("expected %s -> %s rejected", tc.from, tc.to)
			continue
		}
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
			t.Errorf("expected state conflict for %s -> %s, got %v", tc.from, tc.to, err)
		}
		var transitionErr *TransitionError
		if !errors.As(err, &transitionErr) {
			t.Errorf("expected typed TransitionError for %s -> %s", tc.from, tc.to)
			continue
		}
		if transitionErr.From != tc.from || transitionErr.To != tc.to {
			t.Errorf("transition error names wrong pair: %+v", transitionErr)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, terminal := range []enums.OrderStatus{enums.OrderStatusRefunded, enums.OrderStatusCancelled} {
		for _, to := range []enums.OrderStatus{
			enums.OrderStatusPending, enums.OrderStatusPaid, enums.OrderStatusAgentConfirmed,
			enums.OrderStatusShippingRequested, enums.OrderStatusShipped,
			enums.OrderStatusCompleted, enums.OrderStatusRefunded, enums.OrderStatusCancelled,
		} {
			if CanTransition(terminal, to) {
				t.Errorf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
}
