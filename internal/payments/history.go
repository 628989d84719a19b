package payments

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
)

// HistoryEntry is a payment intent as shown in a user's payment history.
type HistoryEntry struct {
	PaymentIntentID string
	Amount          int64
	AmountDisplay   string
	Currency        string
	Status          enums.PaymentStatus
	CampaignID      string
	BusinessID      string
	InfluencerID    string
	FailureMessage  *string
	CreatedAt       time.Time
}

// zeroDecimalCurrencies are charged in whole units by the processor.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// PaymentHistory lists payments received by influencers or made by businesses.
func (s *service) PaymentHistory(ctx context.Context, caller Caller) (entries []HistoryEntry, err error) {
	defer s.observe(OpPaymentHistory, s.now(), &err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	userType, err := s.historySide(ctx, caller)
	if err != nil {
		return nil, err
	}

	var intents []models.PaymentIntent
	if userType == enums.UserTypeBusiness {
		intents, err = s.repo.ListPaymentIntentsByBusiness(ctx, caller.UserID)
	} else {
		intents, err = s.repo.ListPaymentIntentsByInfluencer(ctx, caller.UserID)
	}
	if err != nil {
		return nil, storeError(err, "list payment history")
	}

	entries = make([]HistoryEntry, 0, len(intents))
	for _, intent := range intents {
		entries = append(entries, HistoryEntry{
			PaymentIntentID: intent.ID,
			Amount:          intent.Amount,
			AmountDisplay:   FormatAmount(intent.Amount, intent.Currency),
			Currency:        intent.Currency,
			Status:          intent.Status,
			CampaignID:      intent.CampaignID,
			BusinessID:      intent.BusinessID,
			InfluencerID:    intent.InfluencerID,
			FailureMessage:  intent.FailureMessage,
			CreatedAt:       intent.CreatedAt,
		})
	}
	return entries, nil
}

// historySide picks the token's user type, falling back to the stored user
// row. Only businesses see payments they made; everyone else sees payments
// received as influencer.
func (s *service) historySide(ctx context.Context, caller Caller) (enums.UserType, error) {
	if caller.UserType.IsValid() {
		return caller.UserType, nil
	}
	user, err := s.repo.FindUser(ctx, caller.UserID)
	if err != nil {
		return "", storeError(err, "load user")
	}
	if user == nil {
		return enums.UserTypeInfluencer, nil
	}
	return user.UserType, nil
}

// FormatAmount renders an amount in the currency's smallest unit as a major
// unit decimal string, e.g. 1999 usd -> "19.99".
func FormatAmount(amount int64, currency string) string {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return decimal.NewFromInt(amount).StringFixed(0)
	}
	return decimal.New(amount, -2).StringFixed(2)
}
