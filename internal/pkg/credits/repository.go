package credits

import (
	"time"

	"github.com/sparkflowhq/sparkflow/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the credits service. Every
// balance mutation is a single conditional statement or a transaction scoped
// to the one profile row; there is no read-then-write from application code.
type Repository interface {
	GetOrCreateProfile(userID string) (*models.Profile, error)
	GetCredits(userID string) (int64, error)
	DecrementCreditsIfAvailable(userID string, amount int64) (bool, error)
	ApplyCreditGrant(grant *models.CreditGrant) (bool, error)
	CountScriptsSince(userID string, since time.Time) (int64, error)
	CreateScript(script *models.Script) error
	ListScriptsByUser(userID string, limit int) ([]models.Script, error)
	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a credits repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateProfile(userID string) (*models.Profile, error) {
	return models.GetOrCreateProfile(r.db, userID)
}

func (r *gormRepository) GetCredits(userID string) (int64, error) {
	p, err := models.GetOrCreateProfile(r.db, userID)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}

// DecrementCreditsIfAvailable subtracts amount from the profile balance only
// when the balance covers it. The WHERE clause on the UPDATE is what keeps
// concurrent debits from driving the balance negative.
func (r *gormRepository) DecrementCreditsIfAvailable(userID string, amount int64) (bool, error) {
	tx := r.db.Model(&models.Profile{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ApplyCreditGrant inserts the grant and increments the profile balance in
// one transaction. The unique index on session_id turns the insert into an
// atomic check-and-set: a replayed session leaves RowsAffected at zero and
// the balance untouched.
func (r *gormRepository) ApplyCreditGrant(grant *models.CreditGrant) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).Create(grant)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Session already credited.
			return nil
		}

		if _, err := models.GetOrCreateProfile(tx, grant.UserID); err != nil {
			return err
		}
		if err := tx.Model(&models.Profile{}).
			Where("id = ?", grant.UserID).
			UpdateColumn("credits", gorm.Expr("credits + ?", grant.Credits)).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *gormRepository) CountScriptsSince(userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Script{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateScript(script *models.Script) error {
	return r.db.Create(script).Error
}

func (r *gormRepository) ListScriptsByUser(userID string, limit int) ([]models.Script, error) {
	var scripts []models.Script
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&scripts).Error
	return scripts, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
