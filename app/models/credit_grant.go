package models

import "time"

// CreditGrant marks a checkout session whose credits have been applied to a
// profile. The unique session index is what makes webhook replays safe: the
// balance increment only happens when the grant row is inserted.
type CreditGrant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_credit_grants_session" json:"session_id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PriceID   string    `gorm:"type:varchar(191);not null" json:"price_id"`
	Credits   int64     `gorm:"not null" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
