package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Script is the append-only record of one successful generation. It feeds the
// daily quota count and the user's history view; it is never updated or
// deleted by the application.
type Script struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UUID       string    `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID     string    `gorm:"type:varchar(64);not null;index:idx_scripts_user_created,priority:1" json:"user_id"`
	Prompt     string    `gorm:"type:text;not null" json:"prompt"`
	Platform   string    `gorm:"type:varchar(32);not null" json:"platform"`
	ScriptText string    `gorm:"type:longtext;not null" json:"script_text"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_scripts_user_created,priority:2" json:"created_at"`
}

func (s *Script) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == "" {
		s.UUID = uuid.New().String()
	}
	return nil
}
