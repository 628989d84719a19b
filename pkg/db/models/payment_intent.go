package models

import (
	"time"

	"github.com/locad/locad-payments/pkg/enums"
)

// PaymentIntent is the local record of a processor payment intent. The
// processor ID doubles as the primary key.
type PaymentIntent struct {
	ID                    string              `gorm:"column:id;type:text;primaryKey"`
	StripePaymentIntentID string              `gorm:"column:stripe_payment_intent_id;type:text;not null;uniqueIndex"`
	ClientSecret          string              `gorm:"column:client_secret;type:text;not null"`
	Amount                int64               `gorm:"column:amount;not null"`
	Currency              string              `gorm:"column:currency;type:text;not null"`
	Status                enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	CampaignID            string              `gorm:"column:campaign_id;type:text;not null;index"`
	BusinessID            string              `gorm:"column:business_id;type:text;not null;index"`
	InfluencerID          string              `gorm:"column:influencer_id;type:text;not null;index"`
	FailureMessage        *string             `gorm:"column:failure_message"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
