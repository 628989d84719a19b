package enums

import "fmt"

// CampaignPaymentStatus tracks whether a campaign has been paid for.
type CampaignPaymentStatus string

const (
	CampaignPaymentPending CampaignPaymentStatus = "pending"
	CampaignPaymentPaid    CampaignPaymentStatus = "paid"
)

// IsValid reports whether the value is known.
func (c CampaignPaymentStatus) IsValid() bool {
	return c == CampaignPaymentPending || c == CampaignPaymentPaid
}

// ParseCampaignPaymentStatus converts raw input into a CampaignPaymentStatus.
func ParseCampaignPaymentStatus(value string) (CampaignPaymentStatus, error) {
	status := CampaignPaymentStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid campaign payment status %q", value)
	}
	return status, nil
}
