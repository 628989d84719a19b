package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/locad/locad-payments/pkg/db/dbtest"
	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
)

func newIntent(id, businessID, influencerID string, createdAt time.Time) *models.PaymentIntent {
	return &models.PaymentIntent{
		StripePaymentIntentID: id,
		ClientSecret:          id + "_secret",
		Amount:                500,
		Currency:              "usd",
		Status:                enums.PaymentStatusRequiresPaymentMethod,
		CampaignID:            "C1",
		BusinessID:            businessID,
		InfluencerID:          influencerID,
		CreatedAt:             createdAt,
	}
}

func TestPaymentIntentLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	intent := newIntent("pi_1", "B1", "I1", time.Now().UTC())
	require.NoError(t, repo.CreatePaymentIntent(ctx, intent))
	assert.Equal(t, "pi_1", intent.ID)

	byID, err := repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "B1", byID.BusinessID)
	assert.Equal(t, int64(500), byID.Amount)

	byStripe, err := repo.FindPaymentIntentByStripeID(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, byStripe)
	assert.Equal(t, "pi_1", byStripe.ID)

	msg := "card declined"
	require.NoError(t, repo.UpdatePaymentIntentStatus(ctx, "pi_1", enums.PaymentStatusFailed, &msg))

	updated, err := repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, updated.Status)
	require.NotNil(t, updated.FailureMessage)
	assert.Equal(t, msg, *updated.FailureMessage)

	require.NoError(t, repo.UpdatePaymentIntentStatus(ctx, "pi_1", enums.PaymentStatusSucceeded, nil))
	updated, err = repo.FindPaymentIntentByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, updated.Status)
	require.NotNil(t, updated.FailureMessage)
}

func TestPaymentIntentDuplicateProcessorIDRejected(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	require.NoError(t, repo.CreatePaymentIntent(ctx, newIntent("pi_1", "B1", "I1", time.Now().UTC())))
	assert.Error(t, repo.CreatePaymentIntent(ctx, newIntent("pi_1", "B1", "I1", time.Now().UTC())))
}

func TestFindPaymentIntentMissingReturnsNil(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	byID, err := repo.FindPaymentIntentByID(ctx, "pi_missing")
	require.NoError(t, err)
	assert.Nil(t, byID)

	byStripe, err := repo.FindPaymentIntentByStripeID(ctx, "pi_missing")
	require.NoError(t, err)
	assert.Nil(t, byStripe)
}

func TestListPaymentIntentsNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreatePaymentIntent(ctx, newIntent("pi_old", "B1", "I1", base)))
	require.NoError(t, repo.CreatePaymentIntent(ctx, newIntent("pi_new", "B1", "I2", base.Add(time.Hour))))
	require.NoError(t, repo.CreatePaymentIntent(ctx, newIntent("pi_other", "B2", "I1", base.Add(2*time.Hour))))

	business, err := repo.ListPaymentIntentsByBusiness(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, business, 2)
	assert.Equal(t, "pi_new", business[0].ID)
	assert.Equal(t, "pi_old", business[1].ID)

	influencer, err := repo.ListPaymentIntentsByInfluencer(ctx, "I1")
	require.NoError(t, err)
	require.Len(t, influencer, 2)
	assert.Equal(t, "pi_other", influencer[0].ID)
}

func TestMarkCampaignPaidUpserts(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	require.NoError(t, conn.Create(&models.Campaign{
		ID:            "C1",
		BusinessID:    "B1",
		PaymentStatus: enums.CampaignPaymentPending,
	}).Error)

	require.NoError(t, repo.MarkCampaignPaid(ctx, "C1", "B1"))
	require.NoError(t, repo.MarkCampaignPaid(ctx, "C1", "B1"))
	require.NoError(t, repo.MarkCampaignPaid(ctx, "C2", "B1"))

	var campaigns []models.Campaign
	require.NoError(t, conn.Order("id").Find(&campaigns).Error)
	require.Len(t, campaigns, 2)
	for _, c := range campaigns {
		assert.Equal(t, enums.CampaignPaymentPaid, c.PaymentStatus, c.ID)
	}
}

func TestStripeCustomerIDConditionalWrite(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	user, err := repo.EnsureUser(ctx, "B1", enums.UserTypeBusiness)
	require.NoError(t, err)
	assert.Nil(t, user.StripeCustomerID)

	again, err := repo.EnsureUser(ctx, "B1", enums.UserTypeInfluencer)
	require.NoError(t, err)
	assert.Equal(t, enums.UserTypeBusiness, again.UserType)

	won, err := repo.SetStripeCustomerIDIfAbsent(ctx, "B1", "cus_first")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.SetStripeCustomerIDIfAbsent(ctx, "B1", "cus_second")
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.FindUser(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_first", *stored.StripeCustomerID)

	missing, err := repo.FindUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClearDefaultPaymentMethodsInTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	first := &models.PaymentMethod{
		ID:                    uuid.New(),
		UserID:                "B1",
		StripePaymentMethodID: "pm_1",
		StripeCustomerID:      "cus_1",
		Type:                  enums.PaymentMethodTypeCard,
		Last4:                 "4242",
		IsDefault:             true,
		CreatedAt:             time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, repo.CreatePaymentMethod(ctx, first))

	second := &models.PaymentMethod{
		ID:                    uuid.New(),
		UserID:                "B1",
		StripePaymentMethodID: "pm_2",
		StripeCustomerID:      "cus_1",
		Type:                  enums.PaymentMethodTypeCard,
		Last4:                 "0005",
		IsDefault:             true,
	}
	tx := conn.Begin()
	txRepo := repo.WithTx(tx)
	require.NoError(t, txRepo.ClearDefaultPaymentMethods(ctx, "B1"))
	require.NoError(t, txRepo.CreatePaymentMethod(ctx, second))
	require.NoError(t, tx.Commit().Error)

	methods, err := repo.ListPaymentMethodsByUser(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "pm_2", methods[0].StripePaymentMethodID)
	assert.True(t, methods[0].IsDefault)
	assert.False(t, methods[1].IsDefault)
}

func TestEnsureUserToleratesConcurrentFirstInsert(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	// Another request inserts the same user right before this insert runs.
	competitorInserted := false
	require.NoError(t, conn.Callback().Create().Before("gorm:create").Register("ledger_test:competing_user", func(tx *gorm.DB) {
		if competitorInserted || tx.Statement.Table != "users" {
			return
		}
		competitorInserted = true
		now := time.Now().UTC()
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO users (id, user_type, created_at, updated_at) VALUES (?, ?, ?, ?)",
			"U1", string(enums.UserTypeInfluencer), now, now,
		).Error)
	}))

	user, err := repo.EnsureUser(ctx, "U1", enums.UserTypeBusiness)
	require.NoError(t, err)
	require.True(t, competitorInserted)
	assert.Equal(t, "U1", user.ID)
	assert.Equal(t, enums.UserTypeInfluencer, user.UserType, "the row that landed first is returned")

	var count int64
	require.NoError(t, conn.Model(&models.User{}).Where("id = ?", "U1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLockUser(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	_, err := repo.EnsureUser(ctx, "B1", enums.UserTypeBusiness)
	require.NoError(t, err)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.WithTx(tx).LockUser(ctx, "B1")
	}))
	assert.ErrorIs(t, repo.LockUser(ctx, "nobody"), gorm.ErrRecordNotFound)
}

func TestLockUserQueryTakesRowLockOnPostgres(t *testing.T) {
	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=locad dbname=locad sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	lockSQL := pg.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var user models.User
		return lockUserQuery(tx, "B1").Take(&user)
	})
	assert.Contains(t, lockSQL, "FOR UPDATE")

	sqliteSQL := dbtest.Open(t).ToSQL(func(tx *gorm.DB) *gorm.DB {
		var user models.User
		return lockUserQuery(tx, "B1").Take(&user)
	})
	assert.NotContains(t, sqliteSQL, "FOR UPDATE")
}
