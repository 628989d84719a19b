package models

import (
	"time"

	"github.com/locad/locad-payments/pkg/enums"
)

// User caches the identity-provider user plus its processor customer.
type User struct {
	ID               string         `gorm:"column:id;type:text;primaryKey"`
	UserType         enums.UserType `gorm:"column:user_type;type:text;not null"`
	StripeCustomerID *string        `gorm:"column:stripe_customer_id;type:text"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
