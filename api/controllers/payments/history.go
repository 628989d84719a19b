package payments

import (
	"net/http"
	"time"

	"github.com/locad/locad-payments/api/responses"
	paymentsvc "github.com/locad/locad-payments/internal/payments"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
)

type historyEntryResponse struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	Amount          int64     `json:"amount"`
	AmountDisplay   string    `json:"amountDisplay"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CampaignID      string    `json:"campaignId"`
	BusinessID      string    `json:"businessId"`
	InfluencerID    string    `json:"influencerId"`
	FailureMessage  *string   `json:"failureMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type historyResponse struct {
	Success bool                   `json:"success"`
	History []historyEntryResponse `json:"history"`
}

// PaymentHistory lists the intents the caller paid or is paid by.
func PaymentHistory(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		entries, err := svc.PaymentHistory(r.Context(), caller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := historyResponse{Success: true, History: make([]historyEntryResponse, 0, len(entries))}
		for _, entry := range entries {
			resp.History = append(resp.History, historyEntryResponse{
				PaymentIntentID: entry.PaymentIntentID,
				Amount:          entry.Amount,
				AmountDisplay:   entry.AmountDisplay,
				Currency:        entry.Currency,
				Status:          string(entry.Status),
				CampaignID:      entry.CampaignID,
				BusinessID:      entry.BusinessID,
				InfluencerID:    entry.InfluencerID,
				FailureMessage:  entry.FailureMessage,
				CreatedAt:       entry.CreatedAt,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}
