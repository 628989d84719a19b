package payloads

import (
	"time"

	"github.com/locad/locad-payments/pkg/enums"
)

// PaymentIntentSucceededEvent is emitted when the processor reports a
// successful payment.
type PaymentIntentSucceededEvent struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	CampaignID      string              `json:"campaign_id,omitempty"`
	BusinessID      string              `json:"business_id"`
	InfluencerID    string              `json:"influencer_id"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Status          enums.PaymentStatus `json:"status"`
	ProcessorEvent  string              `json:"processor_event_id"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

// PaymentIntentFailedEvent is emitted when the processor reports a failed payment.
type PaymentIntentFailedEvent struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	CampaignID      string              `json:"campaign_id,omitempty"`
	BusinessID      string              `json:"business_id"`
	InfluencerID    string              `json:"influencer_id"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Status          enums.PaymentStatus `json:"status"`
	FailureMessage  string              `json:"failure_message"`
	ProcessorEvent  string              `json:"processor_event_id"`
	OccurredAt      time.Time           `json:"occurred_at"`
}
