package enums

import "fmt"

// PaymentMethodType is the stored category of a saved payment method.
type PaymentMethodType string

const (
	PaymentMethodTypeCard        PaymentMethodType = "card"
	PaymentMethodTypeBankAccount PaymentMethodType = "bank_account"
)

var validPaymentMethodTypes = []PaymentMethodType{
	PaymentMethodTypeCard,
	PaymentMethodTypeBankAccount,
}

// String implements fmt.Stringer.
func (p PaymentMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentMethodType) IsValid() bool {
	for _, candidate := range validPaymentMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// PaymentMethodTypeFromProcessor folds the processor's method type into the
// stored categories. Anything that is not a card is treated as a bank debit.
func PaymentMethodTypeFromProcessor(value string) PaymentMethodType {
	if value == string(PaymentMethodTypeCard) {
		return PaymentMethodTypeCard
	}
	return PaymentMethodTypeBankAccount
}

// ParsePaymentMethodType converts raw input into a PaymentMethodType.
func ParsePaymentMethodType(value string) (PaymentMethodType, error) {
	for _, candidate := range validPaymentMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method type %q", value)
}
