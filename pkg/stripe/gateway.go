package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Reserved metadata keys written on every payment intent.
const (
	MetadataCampaignID   = "campaignId"
	MetadataBusinessID   = "businessId"
	MetadataInfluencerID = "influencerId"
	MetadataUserID       = "userId"
)

// CreateIntentInput describes a new payment intent.
type CreateIntentInput struct {
	Amount       int64
	Currency     string
	CampaignID   string
	BusinessID   string
	InfluencerID string
	Metadata     map[string]string
}

// CreatePaymentIntent creates a processor payment intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, input CreateIntentInput) (*stripe.PaymentIntent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.api.V1PaymentIntents.Create(ctx, buildIntentParams(input))
}

func buildIntentParams(input CreateIntentInput) *stripe.PaymentIntentCreateParams {
	metadata := make(map[string]string, len(input.Metadata)+3)
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	metadata[MetadataCampaignID] = input.CampaignID
	metadata[MetadataBusinessID] = input.BusinessID
	metadata[MetadataInfluencerID] = input.InfluencerID

	return &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(input.Amount),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		Metadata: metadata,
	}
}

// ConfirmPaymentIntent confirms an intent, using the customer's default
// payment method when paymentMethodID is empty.
func (c *Client) ConfirmPaymentIntent(ctx context.Context, paymentIntentID, paymentMethodID string) (*stripe.PaymentIntent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	return c.api.V1PaymentIntents.Confirm(ctx, paymentIntentID, params)
}

// GetPaymentMethod retrieves a payment method by id.
func (c *Client) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*stripe.PaymentMethod, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.api.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.api.V1PaymentMethods.Attach(ctx, paymentMethodID, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	})
}

// CreateCustomer creates a processor customer tagged with the user id. The
// idempotency key makes concurrent first-time calls for one user return the
// same customer.
func (c *Client) CreateCustomer(ctx context.Context, userID string) (*stripe.Customer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.CustomerCreateParams{
		Metadata: map[string]string{MetadataUserID: userID},
	}
	params.SetIdempotencyKey(CustomerIdempotencyKey(userID))
	return c.api.V1Customers.Create(ctx, params)
}

// CustomerIdempotencyKey is the processor idempotency key for a user's customer.
func CustomerIdempotencyKey(userID string) string {
	return "customer-create-" + userID
}

// SetDefaultPaymentMethod makes the payment method the customer's invoice default.
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.api.V1Customers.Update(ctx, customerID, &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	})
	return err
}

// ConstructEvent verifies the signature header against the raw payload and
// decodes the event.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEvent(payload, header, c.signingSecret)
}

// ErrorMessage extracts the processor's human readable message from err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}

// PaymentMethodLast4 returns the last four digits for cards and bank accounts.
func PaymentMethodLast4(pm *stripe.PaymentMethod) string {
	if pm == nil {
		return ""
	}
	switch {
	case pm.Card != nil:
		return pm.Card.Last4
	case pm.USBankAccount != nil:
		return pm.USBankAccount.Last4
	default:
		return ""
	}
}

// FailureMessage returns the last payment error message of an intent.
func FailureMessage(pi *stripe.PaymentIntent, fallback string) string {
	if pi == nil || pi.LastPaymentError == nil || strings.TrimSpace(pi.LastPaymentError.Msg) == "" {
		return fallback
	}
	return pi.LastPaymentError.Msg
}
