package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Profile stores the credit balance for a user. The ID is the opaque user
// identifier issued by the external auth provider; profiles are provisioned
// lazily with zero credits on first access.
type Profile struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateProfile returns the profile for userID, creating it with a zero
// balance if it does not exist yet. The conflict clause makes concurrent
// first touches of the same user idempotent: the loser of the insert race
// keeps the zero-balance row the winner just created.
func GetOrCreateProfile(db *gorm.DB, userID string) (*Profile, error) {
	p := Profile{ID: userID, Credits: 0}
	err := db.Where("id = ?", userID).
		Clauses(clause.OnConflict{DoNothing: true}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
