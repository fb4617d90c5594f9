package models

import (
	"time"

	"gorm.io/gorm"
)

//Session is the database model that keeps a signed-in user's token between restarts
type Session struct {
	gorm.Model
	Owner     string `gorm:"uniqueIndex"`
	Token     string
	Role      string
	Subject   string
	ExpiresAt *time.Time
}

//Expired reports whether the session's token has passed its expiry
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
