package payments

import (
	"net/http"
	"time"

	"github.com/locad/locad-payments/api/responses"
	"github.com/locad/locad-payments/api/validators"
	paymentsvc "github.com/locad/locad-payments/internal/payments"
	"github.com/locad/locad-payments/pkg/db/models"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
)

type createPaymentMethodRequest struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"notblank,max=255"`
}

type createPaymentMethodResponse struct {
	Success  bool   `json:"success"`
	MethodID string `json:"methodId"`
}

type paymentMethodResponse struct {
	ID                    string    `json:"id"`
	StripePaymentMethodID string    `json:"stripePaymentMethodId"`
	Type                  string    `json:"type"`
	Last4                 string    `json:"last4"`
	IsDefault             bool      `json:"isDefault"`
	CreatedAt             time.Time `json:"createdAt"`
}

type listPaymentMethodsResponse struct {
	Success bool                    `json:"success"`
	Methods []paymentMethodResponse `json:"methods"`
}

// CreatePaymentMethod vaults a processor payment method as the caller's default.
func CreatePaymentMethod(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := validators.NormalizeID("paymentMethodId", payload.PaymentMethodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := svc.CreatePaymentMethod(r.Context(), caller, methodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createPaymentMethodResponse{
			Success:  true,
			MethodID: method.ID.String(),
		})
	}
}

// ListPaymentMethods returns the caller's saved payment methods, newest first.
func ListPaymentMethods(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methods, err := svc.ListPaymentMethods(r.Context(), caller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := listPaymentMethodsResponse{Success: true, Methods: make([]paymentMethodResponse, 0, len(methods))}
		for _, method := range methods {
			resp.Methods = append(resp.Methods, newPaymentMethodResponse(method))
		}
		responses.WriteSuccess(w, resp)
	}
}

func newPaymentMethodResponse(method models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:                    method.ID.String(),
		StripePaymentMethodID: method.StripePaymentMethodID,
		Type:                  string(method.Type),
		Last4:                 method.Last4,
		IsDefault:             method.IsDefault,
		CreatedAt:             method.CreatedAt,
	}
}
