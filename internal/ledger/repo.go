package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/locad/locad-payments/pkg/db/models"
	"github.com/locad/locad-payments/pkg/enums"
)

// Repository persists payment intents, payment methods, campaigns and the
// user records that cache processor customers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	FindPaymentIntentByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindPaymentIntentByStripeID(ctx context.Context, stripePaymentIntentID string) (*models.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, id string, status enums.PaymentStatus, failureMessage *string) error
	ListPaymentIntentsByBusiness(ctx context.Context, businessID string) ([]models.PaymentIntent, error)
	ListPaymentIntentsByInfluencer(ctx context.Context, influencerID string) ([]models.PaymentIntent, error)

	MarkCampaignPaid(ctx context.Context, campaignID, businessID string) error

	EnsureUser(ctx context.Context, userID string, userType enums.UserType) (*models.User, error)
	FindUser(ctx context.Context, userID string) (*models.User, error)
	SetStripeCustomerIDIfAbsent(ctx context.Context, userID, customerID string) (bool, error)
	LockUser(ctx context.Context, userID string) error

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	ClearDefaultPaymentMethods(ctx context.Context, userID string) error
	ListPaymentMethodsByUser(ctx context.Context, userID string) ([]models.PaymentMethod, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil {
		return errors.New("payment intent required")
	}
	if intent.ID == "" {
		intent.ID = intent.StripePaymentIntentID
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

// FindPaymentIntentByID returns nil when no row matches.
func (r *repository) FindPaymentIntentByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	return notFoundAsNil(&intent, err)
}

// FindPaymentIntentByStripeID looks the intent up by its processor ID and
// returns the oldest match, or nil when none exists.
func (r *repository) FindPaymentIntentByStripeID(ctx context.Context, stripePaymentIntentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ?", stripePaymentIntentID).
		Order("created_at ASC").
		Limit(1).
		Take(&intent).Error
	return notFoundAsNil(&intent, err)
}

func (r *repository) UpdatePaymentIntentStatus(ctx context.Context, id string, status enums.PaymentStatus, failureMessage *string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if failureMessage != nil {
		updates["failure_message"] = *failureMessage
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListPaymentIntentsByBusiness(ctx context.Context, businessID string) ([]models.PaymentIntent, error) {
	return r.listPaymentIntents(ctx, "business_id = ?", businessID)
}

func (r *repository) ListPaymentIntentsByInfluencer(ctx context.Context, influencerID string) ([]models.PaymentIntent, error) {
	return r.listPaymentIntents(ctx, "influencer_id = ?", influencerID)
}

func (r *repository) listPaymentIntents(ctx context.Context, where string, arg string) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where(where, arg).
		Order("created_at DESC").
		Order("id DESC").
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

// MarkCampaignPaid sets payment_status = paid, creating the campaign row when
// this service has not seen it yet.
func (r *repository) MarkCampaignPaid(ctx context.Context, campaignID, businessID string) error {
	campaign := models.Campaign{
		ID:            campaignID,
		BusinessID:    businessID,
		PaymentStatus: enums.CampaignPaymentPaid,
		UpdatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payment_status", "updated_at"}),
		}).
		Create(&campaign).Error
}

// EnsureUser returns the cached user row, inserting it on first sight. The
// insert ignores a conflicting row so concurrent first requests both read the
// same record back.
func (r *repository) EnsureUser(ctx context.Context, userID string, userType enums.UserType) (*models.User, error) {
	if !userType.IsValid() {
		userType = enums.UserTypeBusiness
	}
	candidate := models.User{ID: userID, UserType: userType}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&candidate).Error; err != nil {
		return nil, err
	}
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser serializes payment-method writes for one user inside the current
// transaction. SQLite has no row locks and already serializes writers.
func (r *repository) LockUser(ctx context.Context, userID string) error {
	var user models.User
	return lockUserQuery(r.db.WithContext(ctx), userID).Take(&user).Error
}

func lockUserQuery(tx *gorm.DB, userID string) *gorm.DB {
	query := tx.Model(&models.User{}).Where("id = ?", userID)
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (r *repository) FindUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	return notFoundAsNil(&user, err)
}

// SetStripeCustomerIDIfAbsent stores customerID only when the user has none yet.
// It reports whether this call won the write.
func (r *repository) SetStripeCustomerIDIfAbsent(ctx context.Context, userID, customerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND stripe_customer_id IS NULL", userID).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if method == nil {
		return errors.New("payment method required")
	}
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) ClearDefaultPaymentMethods(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}

func (r *repository) ListPaymentMethodsByUser(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func notFoundAsNil[T any](row *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
