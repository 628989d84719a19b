package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/internal/ledger"
	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
	"github.com/locad/locad-payments/pkg/metrics"
	pkgstripe "github.com/locad/locad-payments/pkg/stripe"
)

// Operation names used for logging and metrics.
const (
	OpCreatePaymentIntent = "create_payment_intent"
	OpCreatePaymentMethod = "create_payment_method"
	OpProcessPayment      = "process_payment"
	OpListPaymentMethods  = "list_payment_methods"
	OpPaymentHistory      = "payment_history"
)

// Service is the intent orchestrator used by the payment handlers.
type Service interface {
	CreatePaymentIntent(ctx context.Context, caller Caller, input CreateIntentInput) (*CreateIntentResult, error)
	CreatePaymentMethod(ctx context.Context, caller Caller, paymentMethodID string) (*models.PaymentMethod, error)
	ProcessPayment(ctx context.Context, caller Caller, input ProcessPaymentInput) (enums.PaymentStatus, error)
	ListPaymentMethods(ctx context.Context, caller Caller) ([]models.PaymentMethod, error)
	PaymentHistory(ctx context.Context, caller Caller) ([]HistoryEntry, error)
}

// Caller is the authenticated user a request acts on behalf of.
type Caller struct {
	UserID   string
	UserType enums.UserType
}

type CreateIntentInput struct {
	Amount       int64
	CampaignID   string
	InfluencerID string
	Metadata     map[string]string
}

type CreateIntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	Status          enums.PaymentStatus
}

type ProcessPaymentInput struct {
	PaymentIntentID string
	PaymentMethodID string
}

// Gateway is the subset of the processor adapter the orchestrator calls.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, input pkgstripe.CreateIntentInput) (*stripe.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, paymentIntentID, paymentMethodID string) (*stripe.PaymentIntent, error)
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*stripe.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error)
	CreateCustomer(ctx context.Context, userID string) (*stripe.Customer, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the payments service.
type ServiceParams struct {
	Repo              ledger.Repository
	Gateway           Gateway
	TransactionRunner txRunner
	Stripe            config.StripeConfig
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo     ledger.Repository
	gateway  Gateway
	txRunner txRunner
	currency string
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService constructs the payments service.
func NewService(params ServiceParams) (*service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		gateway:  params.Gateway,
		txRunner: params.TransactionRunner,
		currency: params.Stripe.ChargeCurrency(),
		metrics:  params.Metrics,
		logg:     logg,
		now:      now,
	}, nil
}

// CreatePaymentIntent creates a processor intent tagged with the campaign
// parties and stores it keyed by the processor ID.
func (s *service) CreatePaymentIntent(ctx context.Context, caller Caller, input CreateIntentInput) (result *CreateIntentResult, err error) {
	defer s.observe(OpCreatePaymentIntent, s.now(), &err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	campaignID := strings.TrimSpace(input.CampaignID)
	influencerID := strings.TrimSpace(input.InfluencerID)
	if input.Amount <= 0 || campaignID == "" || influencerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing required fields")
	}

	ctx = s.logg.WithUserID(ctx, caller.UserID)

	pi, err := s.gateway.CreatePaymentIntent(ctx, pkgstripe.CreateIntentInput{
		Amount:       input.Amount,
		Currency:     s.currency,
		CampaignID:   campaignID,
		BusinessID:   caller.UserID,
		InfluencerID: influencerID,
		Metadata:     input.Metadata,
	})
	if err != nil {
		return nil, processorError(err, "create payment intent")
	}
	ctx = s.logg.WithPaymentIntentID(ctx, pi.ID)

	currency := string(pi.Currency)
	if currency == "" {
		currency = s.currency
	}
	record := &models.PaymentIntent{
		ID:                    pi.ID,
		StripePaymentIntentID: pi.ID,
		ClientSecret:          pi.ClientSecret,
		Amount:                input.Amount,
		Currency:              currency,
		Status:                enums.PaymentStatus(pi.Status),
		CampaignID:            campaignID,
		BusinessID:            caller.UserID,
		InfluencerID:          influencerID,
	}
	if err := s.repo.CreatePaymentIntent(ctx, record); err != nil {
		return nil, storeError(err, "persist payment intent")
	}

	s.logg.Info(ctx, "payment intent created")
	return &CreateIntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Status:          record.Status,
	}, nil
}

// ProcessPayment confirms an intent owned by the caller and records the
// processor's resulting status.
func (s *service) ProcessPayment(ctx context.Context, caller Caller, input ProcessPaymentInput) (status enums.PaymentStatus, err error) {
	defer s.observe(OpProcessPayment, s.now(), &err)

	if err := requireCaller(caller); err != nil {
		return "", err
	}
	intentID := strings.TrimSpace(input.PaymentIntentID)
	if intentID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}

	ctx = s.logg.WithPaymentIntentID(s.logg.WithUserID(ctx, caller.UserID), intentID)

	record, err := s.repo.FindPaymentIntentByID(ctx, intentID)
	if err != nil {
		return "", storeError(err, "load payment intent")
	}
	if record == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if record.BusinessID != caller.UserID {
		s.logg.Warn(ctx, "payment intent owned by another business")
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "not authorized to process this payment")
	}
	if strings.TrimSpace(record.StripePaymentIntentID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent has no processor id")
	}

	pi, err := s.gateway.ConfirmPaymentIntent(ctx, record.StripePaymentIntentID, strings.TrimSpace(input.PaymentMethodID))
	if err != nil {
		return "", processorError(err, "confirm payment intent")
	}

	status = enums.PaymentStatus(pi.Status)
	if err := s.repo.UpdatePaymentIntentStatus(ctx, record.ID, status, nil); err != nil {
		return "", storeError(err, "update payment intent status")
	}

	s.logg.Info(s.logg.WithField(ctx, "status", status), "payment intent confirmed")
	return status, nil
}

// CreatePaymentMethod vaults a processor payment method on the caller's
// customer and makes it the default.
func (s *service) CreatePaymentMethod(ctx context.Context, caller Caller, paymentMethodID string) (method *models.PaymentMethod, err error) {
	defer s.observe(OpCreatePaymentMethod, s.now(), &err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method id required")
	}

	ctx = s.logg.WithUserID(ctx, caller.UserID)

	pm, err := s.gateway.GetPaymentMethod(ctx, paymentMethodID)
	if err != nil {
		return nil, processorError(err, "retrieve payment method")
	}

	customerID, err := s.resolveCustomer(ctx, caller)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.AttachPaymentMethod(ctx, pm.ID, customerID); err != nil {
		return nil, processorError(err, "attach payment method")
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, customerID, pm.ID); err != nil {
		return nil, processorError(err, "set default payment method")
	}

	method = &models.PaymentMethod{
		ID:                    uuid.New(),
		UserID:                caller.UserID,
		StripePaymentMethodID: pm.ID,
		StripeCustomerID:      customerID,
		Type:                  enums.PaymentMethodTypeFromProcessor(string(pm.Type)),
		Last4:                 pkgstripe.PaymentMethodLast4(pm),
		IsDefault:             true,
	}
	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockUser(ctx, caller.UserID); err != nil {
			return err
		}
		if err := repo.ClearDefaultPaymentMethods(ctx, caller.UserID); err != nil {
			return err
		}
		return repo.CreatePaymentMethod(ctx, method)
	}); err != nil {
		return nil, storeError(err, "persist payment method")
	}

	s.logg.Info(s.logg.WithField(ctx, "payment_method_id", method.ID.String()), "payment method saved")
	return method, nil
}

func (s *service) ListPaymentMethods(ctx context.Context, caller Caller) (methods []models.PaymentMethod, err error) {
	defer s.observe(OpListPaymentMethods, s.now(), &err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	methods, err = s.repo.ListPaymentMethodsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, storeError(err, "list payment methods")
	}
	return methods, nil
}

func (s *service) observe(operation string, started time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	s.metrics.ObserveOperation(operation, started, err)
}

func requireCaller(caller Caller) error {
	if strings.TrimSpace(caller.UserID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user must be authenticated")
	}
	return nil
}

// processorError surfaces the processor's own message, such as a decline reason.
func processorError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	msg := pkgstripe.ErrorMessage(err)
	if msg == "" {
		msg = action + " failed"
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg).Expose()
}

func storeError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
