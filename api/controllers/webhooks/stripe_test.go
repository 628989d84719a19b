package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/internal/ledger"
	stripewebhook "github.com/locad/locad-payments/internal/webhooks/stripe"
	"github.com/locad/locad-payments/pkg/db"
	"github.com/locad/locad-payments/pkg/db/dbtest"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/outbox"
	pkgredis "github.com/locad/locad-payments/pkg/redis"
)

const testSecret = "whsec_test"

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	service := &fakeStripeWebhookService{}
	guard, err := stripewebhook.NewEventGuard(newInMemoryStore(), time.Minute)
	require.NoError(t, err)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil)

	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, 1, service.calls)

	rec2 := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec2.Body.String())
	assert.Equal(t, 1, service.calls, "duplicate delivery should not be processed")
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, nil, nil)

	rec := serve(handler, payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, nil, nil)

	rec := serve(handler, payload, "t=1,v1=invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	assert.Contains(t, body.Error.Message, "Webhook Error")
}

func TestStripeWebhook_TamperedBodyLeavesLedgerUntouched(t *testing.T) {
	conn, svc := newReconcilerFixture(t)
	handler := StripeWebhook(svc, &fakeSigningClient{secret: testSecret}, nil, nil)

	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	tampered := bytes.Replace(payload, []byte(`"pi_1"`), []byte(`"pi_2"`), 1)
	require.NotEqual(t, payload, tampered)

	rec := serve(handler, tampered, header)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	intent := loadIntent(t, conn)
	assert.Equal(t, enums.PaymentStatusRequiresPaymentMethod, intent.Status)
	assert.Equal(t, enums.CampaignPaymentPending, loadCampaign(t, conn).PaymentStatus)

	var events int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestStripeWebhook_ReconcilesSucceededIntent(t *testing.T) {
	conn, svc := newReconcilerFixture(t)
	handler := StripeWebhook(svc, &fakeSigningClient{secret: testSecret}, nil, nil)

	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, enums.PaymentStatusSucceeded, loadIntent(t, conn).Status)
	assert.Equal(t, enums.CampaignPaymentPaid, loadCampaign(t, conn).PaymentStatus)
}

func TestStripeWebhook_UnknownIntentAcknowledged(t *testing.T) {
	conn, svc := newReconcilerFixture(t)
	handler := StripeWebhook(svc, &fakeSigningClient{secret: testSecret}, nil, nil)

	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_unknown")
	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, enums.PaymentStatusRequiresPaymentMethod, loadIntent(t, conn).Status)
}

func TestStripeWebhook_ProcessingFailureReleasesGuard(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	service := &fakeStripeWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	store := newInMemoryStore()
	guard, err := stripewebhook.NewEventGuard(store, time.Minute)
	require.NoError(t, err)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil)

	rec := serve(handler, payload, header)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, store.data, "guard key should be released for redelivery")

	service.err = nil
	rec2 := serve(handler, payload, header)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 2, service.calls)
}

func TestStripeWebhook_GuardFailureFailsOpen(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	service := &fakeStripeWebhookService{}
	store := newInMemoryStore()
	store.setErr = errors.New("redis down")
	guard, err := stripewebhook.NewEventGuard(store, time.Minute)
	require.NoError(t, err)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil)

	rec := serve(handler, payload, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, service.calls)
}

func TestStripeWebhook_GuardReleasedAfterRequestTimeout(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1")
	store := newInMemoryStore()
	service := &fakeStripeWebhookService{waitForCancel: true}
	guard, err := stripewebhook.NewEventGuard(store, time.Minute)
	require.NoError(t, err)
	handler := chimw.Timeout(20 * time.Millisecond)(StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil))

	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Empty(t, store.data, "guard key must be released once the request context is gone")

	rec = serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, service.calls, "redelivery must be reconciled")
}

func TestStripeWebhook_OversizedPayload(t *testing.T) {
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, nil, nil)

	payload := bytes.Repeat([]byte("a"), int(maxBodyBytes)+1)
	rec := serve(handler, payload, buildStripeSignatureHeader(payload, testSecret, time.Now().Unix()))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeTooLarge))
	assert.Zero(t, service.calls)
}

func serve(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newReconcilerFixture(t *testing.T) (*gorm.DB, *stripewebhook.Service) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := ledger.NewRepository(conn)
	svc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Repo:              repo,
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		TransactionRunner: db.Wrap(conn),
	})
	require.NoError(t, err)

	require.NoError(t, conn.Create(&models.Campaign{
		ID:            "C1",
		BusinessID:    "B1",
		PaymentStatus: enums.CampaignPaymentPending,
	}).Error)
	require.NoError(t, repo.CreatePaymentIntent(context.Background(), &models.PaymentIntent{
		StripePaymentIntentID: "pi_1",
		ClientSecret:          "secret_1",
		Amount:                500,
		Currency:              "usd",
		Status:                enums.PaymentStatusRequiresPaymentMethod,
		CampaignID:            "C1",
		BusinessID:            "B1",
		InfluencerID:          "I1",
	}))
	return conn, svc
}

func loadIntent(t *testing.T, conn *gorm.DB) models.PaymentIntent {
	t.Helper()
	var intent models.PaymentIntent
	require.NoError(t, conn.First(&intent, "id = ?", "pi_1").Error)
	return intent
}

func loadCampaign(t *testing.T, conn *gorm.DB) models.Campaign {
	t.Helper()
	var campaign models.Campaign
	require.NoError(t, conn.First(&campaign, "id = ?", "C1").Error)
	return campaign
}

func buildSignedEvent(t *testing.T, eventType stripe.EventType, intentID string) ([]byte, string) {
	t.Helper()
	rawIntent, err := json.Marshal(map[string]any{
		"id":     intentID,
		"object": "payment_intent",
		"status": "succeeded",
		"amount": 500,
	})
	require.NoError(t, err)
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	header := buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
	// waitForCancel makes the first call block until the request context ends.
	waitForCancel bool
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	if f.waitForCancel && f.calls == 1 {
		<-ctx.Done()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "load payment intent")
	}
	return f.err
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", pkgredis.ErrNil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("locad:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
