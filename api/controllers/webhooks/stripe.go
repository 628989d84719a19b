package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/locad/locad-payments/api/responses"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxBodyBytes    = int64(512 << 10)
	releaseTimeout  = 2 * time.Second
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventGuard short-circuits redelivered Stripe events.
type EventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type SigningSecretProvider interface {
	SigningSecret() string
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// StripeWebhook verifies and reconciles payment intent notifications. The
// guard may be nil; when present its errors are logged and processing continues.
func StripeWebhook(svc StripeWebhookService, client SigningSecretProvider, guard EventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeTooLarge, err, "webhook payload exceeds size limit"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(signatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "Webhook Error: "+err.Error()))
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
			ctx = logg.WithField(ctx, "event_type", string(event.Type))
		}

		guarded := false
		if guard != nil {
			claimed, guardErr := guard.Claim(ctx, event.ID)
			switch {
			case guardErr != nil:
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", guardErr.Error()), "stripe.webhook.guard_unavailable")
				}
			case !claimed:
				if logg != nil {
					logg.Info(ctx, "stripe.webhook.duplicate")
				}
				responses.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
				return
			default:
				guarded = true
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if guarded {
				releaseGuard(ctx, guard, event.ID, logg)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, "stripe.webhook.processed")
		}
		responses.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
	}
}

// releaseGuard frees the event ID so the processor's redelivery is reconciled.
// It outlives the request context, which is usually what made HandleEvent fail.
func releaseGuard(ctx context.Context, guard EventGuard, eventID string, logg *logger.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := guard.Release(releaseCtx, eventID); err != nil && logg != nil {
		logg.Error(ctx, "stripe.webhook.guard_release_failed", err)
	}
}
