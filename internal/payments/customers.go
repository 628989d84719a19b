package payments

import (
	"context"
	"strings"

	pkgerrors "github.com/locad/locad-payments/pkg/errors"
)

// resolveCustomer returns the caller's processor customer, creating it on
// first use. Concurrent first-time calls share one processor customer through
// the gateway's idempotency key; the conditional write decides whose ID is
// stored and losers re-read it.
func (s *service) resolveCustomer(ctx context.Context, caller Caller) (string, error) {
	user, err := s.repo.EnsureUser(ctx, caller.UserID, caller.UserType)
	if err != nil {
		return "", storeError(err, "load user")
	}
	if user.StripeCustomerID != nil && strings.TrimSpace(*user.StripeCustomerID) != "" {
		return *user.StripeCustomerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, caller.UserID)
	if err != nil {
		return "", processorError(err, "create customer")
	}

	won, err := s.repo.SetStripeCustomerIDIfAbsent(ctx, caller.UserID, customer.ID)
	if err != nil {
		return "", storeError(err, "store customer id")
	}
	if won {
		s.logg.Info(s.logg.WithField(ctx, "stripe_customer_id", customer.ID), "stripe customer created")
		return customer.ID, nil
	}

	winner, err := s.repo.FindUser(ctx, caller.UserID)
	if err != nil {
		return "", storeError(err, "reload user")
	}
	if winner == nil || winner.StripeCustomerID == nil || *winner.StripeCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "customer id missing after conditional write")
	}
	if *winner.StripeCustomerID != customer.ID {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"stripe_customer_id":    *winner.StripeCustomerID,
			"discarded_customer_id": customer.ID,
		}), "concurrent customer creation resolved to stored customer")
	}
	return *winner.StripeCustomerID, nil
}
