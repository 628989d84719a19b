package models

import (
	"time"

	"github.com/locad/locad-payments/pkg/enums"
)

// Campaign is the subset of a marketplace campaign the payment flow touches.
type Campaign struct {
	ID            string                      `gorm:"column:id;type:text;primaryKey"`
	BusinessID    string                      `gorm:"column:business_id;type:text;not null"`
	PaymentStatus enums.CampaignPaymentStatus `gorm:"column:payment_status;type:text;not null"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
