package enums

import "fmt"

// PaymentStatus mirrors the processor's payment intent status plus the local
// terminal "failed" written on payment_failed notifications.
type PaymentStatus string

const (
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusRequiresConfirmation  PaymentStatus = "requires_confirmation"
	PaymentStatusRequiresAction        PaymentStatus = "requires_action"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusRequiresCapture       PaymentStatus = "requires_capture"
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusCanceled              PaymentStatus = "canceled"
	PaymentStatusFailed                PaymentStatus = "failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusRequiresPaymentMethod,
	PaymentStatusRequiresConfirmation,
	PaymentStatusRequiresAction,
	PaymentStatusProcessing,
	PaymentStatusRequiresCapture,
	PaymentStatusSucceeded,
	PaymentStatusCanceled,
	PaymentStatusFailed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processor transition is expected.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusSucceeded || p == PaymentStatusCanceled || p == PaymentStatusFailed
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
