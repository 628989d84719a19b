package payments

import (
	"net/http"

	"github.com/locad/locad-payments/api/middleware"
	paymentsvc "github.com/locad/locad-payments/internal/payments"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
)

func callerFromRequest(r *http.Request) (paymentsvc.Caller, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return paymentsvc.Caller{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return paymentsvc.Caller{
		UserID:   userID,
		UserType: middleware.UserTypeFromContext(r.Context()),
	}, nil
}
