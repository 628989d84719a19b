package payments

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/locad/locad-payments/api/responses"
	"github.com/locad/locad-payments/api/validators"
	paymentsvc "github.com/locad/locad-payments/internal/payments"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
)

type createIntentRequest struct {
	Amount       int64             `json:"amount" validate:"gt=0"`
	CampaignID   string            `json:"campaignId" validate:"notblank,max=255"`
	InfluencerID string            `json:"influencerId" validate:"notblank,max=255"`
	Metadata     map[string]string `json:"metadata,omitempty" validate:"omitempty,max=40,dive,keys,max=40,endkeys,max=500"`
}

type createIntentResponse struct {
	Success         bool   `json:"success"`
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

type processPaymentRequest struct {
	PaymentMethodID string `json:"paymentMethodId,omitempty" validate:"omitempty,max=255"`
}

type processPaymentResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// CreatePaymentIntent starts a campaign payment for the authenticated business.
func CreatePaymentIntent(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload createIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		campaignID, err := validators.NormalizeID("campaignId", payload.CampaignID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		influencerID, err := validators.NormalizeID("influencerId", payload.InfluencerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentIntent(r.Context(), caller, paymentsvc.CreateIntentInput{
			Amount:       payload.Amount,
			CampaignID:   campaignID,
			InfluencerID: influencerID,
			Metadata:     payload.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createIntentResponse{
			Success:         true,
			PaymentIntentID: result.PaymentIntentID,
			ClientSecret:    result.ClientSecret,
		})
	}
}

// ProcessPayment confirms one of the caller's payment intents.
func ProcessPayment(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload processPaymentRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intentID, err := validators.NormalizeID("paymentIntentId", chi.URLParam(r, "paymentIntentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		methodID, err := validators.NormalizeID("paymentMethodId", payload.PaymentMethodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.ProcessPayment(r.Context(), caller, paymentsvc.ProcessPaymentInput{
			PaymentIntentID: intentID,
			PaymentMethodID: methodID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, processPaymentResponse{Success: true, Status: string(status)})
	}
}
