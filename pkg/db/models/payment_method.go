package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/locad/locad-payments/pkg/enums"
)

// PaymentMethod mirrors a processor payment method saved by a user.
type PaymentMethod struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID                string                  `gorm:"column:user_id;type:text;not null;index"`
	StripePaymentMethodID string                  `gorm:"column:stripe_payment_method_id;type:text;not null"`
	StripeCustomerID      string                  `gorm:"column:stripe_customer_id;type:text;not null"`
	Type                  enums.PaymentMethodType `gorm:"column:type;type:text;not null"`
	Last4                 string                  `gorm:"column:last4;type:text;not null"`
	IsDefault             bool                    `gorm:"column:is_default;not null"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
}
