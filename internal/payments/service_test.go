package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/internal/ledger"
	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/db"
	"github.com/locad/locad-payments/pkg/db/dbtest"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/metrics"
	pkgstripe "github.com/locad/locad-payments/pkg/stripe"
)

type stubGateway struct {
	mu sync.Mutex

	createInputs  []pkgstripe.CreateIntentInput
	createResult  *stripe.PaymentIntent
	createErr     error
	confirmCalls  []string
	confirmResult *stripe.PaymentIntent
	confirmErr    error
	paymentMethod *stripe.PaymentMethod
	getErr        error
	attached      map[string]string
	defaults      map[string]string
	customers     []string
	customerID    string
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, input pkgstripe.CreateIntentInput) (*stripe.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createInputs = append(g.createInputs, input)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResult, nil
}

func (g *stubGateway) ConfirmPaymentIntent(_ context.Context, paymentIntentID, paymentMethodID string) (*stripe.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls = append(g.confirmCalls, paymentIntentID+"|"+paymentMethodID)
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	return g.confirmResult, nil
}

func (g *stubGateway) GetPaymentMethod(_ context.Context, paymentMethodID string) (*stripe.PaymentMethod, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	if g.paymentMethod != nil {
		return g.paymentMethod, nil
	}
	return &stripe.PaymentMethod{
		ID:   paymentMethodID,
		Type: stripe.PaymentMethodTypeCard,
		Card: &stripe.PaymentMethodCard{Last4: "4242"},
	}, nil
}

func (g *stubGateway) AttachPaymentMethod(_ context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attached == nil {
		g.attached = map[string]string{}
	}
	g.attached[paymentMethodID] = customerID
	return &stripe.PaymentMethod{ID: paymentMethodID}, nil
}

func (g *stubGateway) CreateCustomer(_ context.Context, userID string) (*stripe.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers = append(g.customers, userID)
	id := g.customerID
	if id == "" {
		id = "cus_" + userID
	}
	return &stripe.Customer{ID: id}, nil
}

func (g *stubGateway) SetDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.defaults == nil {
		g.defaults = map[string]string{}
	}
	g.defaults[customerID] = paymentMethodID
	return nil
}

type fixture struct {
	conn    *gorm.DB
	repo    ledger.Repository
	gateway *stubGateway
	svc     *service
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := ledger.NewRepository(conn)
	gateway := &stubGateway{
		createResult: &stripe.PaymentIntent{
			ID:           "pi_1",
			ClientSecret: "secret_1",
			Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
			Currency:     stripe.CurrencyUSD,
		},
		confirmResult: &stripe.PaymentIntent{
			ID:     "pi_1",
			Status: stripe.PaymentIntentStatusSucceeded,
		},
	}
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Gateway:           gateway,
		TransactionRunner: db.Wrap(conn),
		Stripe:            config.StripeConfig{Currency: "usd"},
		Metrics:           metrics.NewPaymentMetrics(reg),
	})
	require.NoError(t, err)
	return &fixture{conn: conn, repo: repo, gateway: gateway, svc: svc, reg: reg}
}

var businessB1 = Caller{UserID: "B1", UserType: enums.UserTypeBusiness}

func TestCreatePaymentIntentHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{
		Amount:       500,
		CampaignID:   "C1",
		InfluencerID: "I1",
		Metadata:     map[string]string{"note": "launch", "businessId": "spoofed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", result.PaymentIntentID)
	assert.Equal(t, "secret_1", result.ClientSecret)

	require.Len(t, f.gateway.createInputs, 1)
	input := f.gateway.createInputs[0]
	assert.Equal(t, "B1", input.BusinessID)
	assert.Equal(t, "usd", input.Currency)
	assert.Equal(t, int64(500), input.Amount)

	stored, err := f.repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(500), stored.Amount)
	assert.Equal(t, "B1", stored.BusinessID)
	assert.Equal(t, "C1", stored.CampaignID)
	assert.Equal(t, "I1", stored.InfluencerID)
	assert.Equal(t, "secret_1", stored.ClientSecret)
	assert.Equal(t, enums.PaymentStatusRequiresPaymentMethod, stored.Status)

	assert.Equal(t, 1.0, counterValue(t, f.reg, OpCreatePaymentIntent, metrics.OutcomeSuccess))
}

func TestCreatePaymentIntentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentIntent(ctx, Caller{}, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	cases := []CreateIntentInput{
		{Amount: 0, CampaignID: "C1", InfluencerID: "I1"},
		{Amount: 500, CampaignID: " ", InfluencerID: "I1"},
		{Amount: 500, CampaignID: "C1"},
	}
	for _, input := range cases {
		_, err := f.svc.CreatePaymentIntent(ctx, businessB1, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", input)
	}
	assert.Empty(t, f.gateway.createInputs)
}

func TestCreatePaymentIntentProcessorFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = &stripe.Error{Msg: "Invalid currency"}

	_, err := f.svc.CreatePaymentIntent(context.Background(), businessB1, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())
	assert.Equal(t, "Invalid currency", typed.Message())
	assert.True(t, typed.Exposed())

	var count int64
	require.NoError(t, f.conn.Model(&models.PaymentIntent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProcessPaymentOwnerSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	require.NoError(t, err)

	status, err := f.svc.ProcessPayment(ctx, businessB1, ProcessPaymentInput{PaymentIntentID: "pi_1", PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, status)
	assert.Equal(t, []string{"pi_1|pm_1"}, f.gateway.confirmCalls)

	stored, err := f.repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, stored.Status)
}

func TestProcessPaymentRejectsOtherBusiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	require.NoError(t, err)

	_, err = f.svc.ProcessPayment(ctx, Caller{UserID: "B2"}, ProcessPaymentInput{PaymentIntentID: "pi_1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Empty(t, f.gateway.confirmCalls)

	stored, err := f.repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRequiresPaymentMethod, stored.Status)
}

func TestProcessPaymentMissingIntentNeverCallsProcessor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessPayment(context.Background(), businessB1, ProcessPaymentInput{PaymentIntentID: "pi_missing"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, f.gateway.confirmCalls)

	_, err = f.svc.ProcessPayment(context.Background(), businessB1, ProcessPaymentInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.ProcessPayment(context.Background(), Caller{}, ProcessPaymentInput{PaymentIntentID: "pi_1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestProcessPaymentDeclineSurfacesReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	require.NoError(t, err)
	f.gateway.confirmErr = &stripe.Error{Msg: "Your card was declined."}

	_, err = f.svc.ProcessPayment(ctx, businessB1, ProcessPaymentInput{PaymentIntentID: "pi_1"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())
	assert.Equal(t, "Your card was declined.", typed.Message())
	assert.Equal(t, 1.0, counterValue(t, f.reg, OpProcessPayment, metrics.OutcomeError))
}

func TestCreatePaymentMethodCreatesCustomerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreatePaymentMethod(ctx, businessB1, "pm_1")
	require.NoError(t, err)
	second, err := f.svc.CreatePaymentMethod(ctx, businessB1, "pm_2")
	require.NoError(t, err)

	assert.Equal(t, []string{"B1"}, f.gateway.customers)
	assert.Equal(t, "cus_B1", first.StripeCustomerID)
	assert.Equal(t, "cus_B1", second.StripeCustomerID)
	assert.Equal(t, "4242", second.Last4)
	assert.Equal(t, enums.PaymentMethodTypeCard, second.Type)
	assert.Equal(t, "cus_B1", f.gateway.attached["pm_2"])
	assert.Equal(t, "pm_2", f.gateway.defaults["cus_B1"])

	methods, err := f.svc.ListPaymentMethods(ctx, businessB1)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			assert.Equal(t, "pm_2", m.StripePaymentMethodID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestCreatePaymentMethodReusesStoredWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.EnsureUser(ctx, "B1", enums.UserTypeBusiness)
	require.NoError(t, err)
	f.gateway.customerID = "cus_late"
	f.svc.repo = &racingRepo{Repository: f.repo, winner: "cus_winner"}

	method, err := f.svc.CreatePaymentMethod(ctx, businessB1, "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_winner", method.StripeCustomerID)
	assert.Equal(t, "cus_winner", f.gateway.attached["pm_1"])
}

func TestCreatePaymentMethodUpstreamMissing(t *testing.T) {
	f := newFixture(t)
	f.gateway.getErr = errors.New("No such PaymentMethod: 'pm_x'")

	_, err := f.svc.CreatePaymentMethod(context.Background(), businessB1, "pm_x")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Empty(t, f.gateway.customers)

	_, err = f.svc.CreatePaymentMethod(context.Background(), businessB1, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

// racingRepo simulates another request storing its customer between this
// request's read and its conditional write.
type racingRepo struct {
	ledger.Repository
	winner string
}

func (r *racingRepo) SetStripeCustomerIDIfAbsent(ctx context.Context, userID, _ string) (bool, error) {
	if _, err := r.Repository.SetStripeCustomerIDIfAbsent(ctx, userID, r.winner); err != nil {
		return false, err
	}
	return false, nil
}

func TestPaymentHistoryBySide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{Amount: 1999, CampaignID: "C1", InfluencerID: "I1"})
	require.NoError(t, err)

	business, err := f.svc.PaymentHistory(ctx, businessB1)
	require.NoError(t, err)
	require.Len(t, business, 1)
	assert.Equal(t, "19.99", business[0].AmountDisplay)

	influencer, err := f.svc.PaymentHistory(ctx, Caller{UserID: "I1", UserType: enums.UserTypeInfluencer})
	require.NoError(t, err)
	require.Len(t, influencer, 1)
	assert.Equal(t, "pi_1", influencer[0].PaymentIntentID)

	other, err := f.svc.PaymentHistory(ctx, Caller{UserID: "I1", UserType: enums.UserTypeBusiness})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPaymentHistoryWithoutTokenUserType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePaymentIntent(ctx, businessB1, CreateIntentInput{Amount: 500, CampaignID: "C1", InfluencerID: "I1"})
	require.NoError(t, err)

	unknownBusiness, err := f.svc.PaymentHistory(ctx, Caller{UserID: "B1"})
	require.NoError(t, err)
	assert.Empty(t, unknownBusiness, "callers without a business record are treated as influencers")

	influencer, err := f.svc.PaymentHistory(ctx, Caller{UserID: "I1"})
	require.NoError(t, err)
	require.Len(t, influencer, 1)

	_, err = f.repo.EnsureUser(ctx, "B1", enums.UserTypeBusiness)
	require.NoError(t, err)
	business, err := f.svc.PaymentHistory(ctx, Caller{UserID: "B1"})
	require.NoError(t, err)
	require.Len(t, business, 1)
	assert.Equal(t, "pi_1", business[0].PaymentIntentID)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "5.00", FormatAmount(500, "usd"))
	assert.Equal(t, "0.07", FormatAmount(7, "EUR"))
	assert.Equal(t, "500", FormatAmount(500, "jpy"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, operation, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "payments_operation_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["operation"] == operation && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
