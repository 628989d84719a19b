package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/internal/ledger"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
	"github.com/locad/locad-payments/pkg/metrics"
	"github.com/locad/locad-payments/pkg/outbox"
	"github.com/locad/locad-payments/pkg/outbox/payloads"
	pkgstripe "github.com/locad/locad-payments/pkg/stripe"
)

const (
	defaultFailureMessage = "Payment failed"
	eventSource           = "stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type ServiceParams struct {
	Repo              ledger.Repository
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
}

// Service reconciles processor payment intent notifications into the ledger.
type Service struct {
	repo     ledger.Repository
	outbox   outboxEmitter
	txRunner txRunner
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		repo:     params.Repo,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// HandleEvent applies a verified event. Unknown event types and intents this
// service never created are acknowledged without error.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	eventType := string(event.Type)
	ctx = s.logg.WithFields(s.logg.WithEventID(ctx, event.ID), map[string]any{"event_type": eventType})

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			s.metrics.IncWebhookEvent(eventType, metrics.OutcomeError)
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		outcome, err := s.reconcile(ctx, event, &pi)
		if err != nil {
			s.metrics.IncWebhookEvent(eventType, metrics.OutcomeError)
			return err
		}
		s.metrics.IncWebhookEvent(eventType, outcome)
		return nil
	default:
		s.logg.Info(ctx, "unhandled stripe event type")
		s.metrics.IncWebhookEvent(eventType, metrics.OutcomeIgnored)
		return nil
	}
}

func (s *Service) reconcile(ctx context.Context, event *stripe.Event, pi *stripe.PaymentIntent) (string, error) {
	if pi.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	ctx = s.logg.WithPaymentIntentID(ctx, pi.ID)

	succeeded := event.Type == stripe.EventTypePaymentIntentSucceeded
	outcome := metrics.OutcomeSuccess

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		outcome = metrics.OutcomeSuccess
		repo := s.repo.WithTx(tx)
		record, err := repo.FindPaymentIntentByStripeID(ctx, pi.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
		}
		if record == nil {
			outcome = metrics.OutcomeIgnored
			return nil
		}

		status := enums.PaymentStatusFailed
		var failureMessage *string
		if succeeded {
			status = enums.PaymentStatusSucceeded
		} else {
			msg := pkgstripe.FailureMessage(pi, defaultFailureMessage)
			failureMessage = &msg
		}

		if err := repo.UpdatePaymentIntentStatus(ctx, record.ID, status, failureMessage); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment intent status")
		}
		if succeeded && record.CampaignID != "" {
			if err := repo.MarkCampaignPaid(ctx, record.CampaignID, record.BusinessID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark campaign paid")
			}
		}

		emitted, err := s.outbox.EmitIfNotExists(ctx, tx, domainEvent(event, record, status, failureMessage))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
		}
		if !emitted {
			outcome = metrics.OutcomeDuplicate
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case metrics.OutcomeIgnored:
		s.logg.Warn(ctx, "no payment intent found for stripe event")
	default:
		s.logg.Info(ctx, "payment intent reconciled")
	}
	return outcome, nil
}

func domainEvent(event *stripe.Event, record *models.PaymentIntent, status enums.PaymentStatus, failureMessage *string) outbox.DomainEvent {
	occurredAt := time.Now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	domain := outbox.DomainEvent{
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   record.ID,
		Actor:         &outbox.ActorRef{UserID: record.BusinessID, Source: eventSource},
		OccurredAt:    occurredAt,
	}
	if failureMessage == nil {
		domain.EventType = enums.EventPaymentIntentSucceeded
		domain.Data = payloads.PaymentIntentSucceededEvent{
			PaymentIntentID: record.ID,
			CampaignID:      record.CampaignID,
			BusinessID:      record.BusinessID,
			InfluencerID:    record.InfluencerID,
			Amount:          record.Amount,
			Currency:        record.Currency,
			Status:          status,
			ProcessorEvent:  event.ID,
			OccurredAt:      occurredAt,
		}
		return domain
	}
	domain.EventType = enums.EventPaymentIntentFailed
	domain.Data = payloads.PaymentIntentFailedEvent{
		PaymentIntentID: record.ID,
		CampaignID:      record.CampaignID,
		BusinessID:      record.BusinessID,
		InfluencerID:    record.InfluencerID,
		Amount:          record.Amount,
		Currency:        record.Currency,
		Status:          status,
		FailureMessage:  *failureMessage,
		ProcessorEvent:  event.ID,
		OccurredAt:      occurredAt,
	}
	return domain
}
