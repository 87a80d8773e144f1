package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Timezone  string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Global capabilities, independent of any project membership.
	// IsAdmin grants every action; IsTester only broadens the
	// notification audience when a project goes in_progress.
	IsAdmin  bool `gorm:"default:false" json:"is_admin"`
	IsTester bool `gorm:"default:false" json:"is_tester"`

	// Relations
	Memberships   []ProjectMembership `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
	Notifications []Notification      `gorm:"foreignKey:UserID" json:"-"`
}

// RefreshToken tracks issued refresh tokens so they can be revoked
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`

	User User `json:"-"`
}

// Global role names used by the authorization engine.
const (
	GlobalRoleAdmin  = "admin"
	GlobalRoleTester = "tester"
)

// HasGlobalRole reports whether the user holds the named global role.
func (u *User) HasGlobalRole(role string) bool {
	switch role {
	case GlobalRoleAdmin:
		return u.IsAdmin
	case GlobalRoleTester:
		return u.IsTester
	}
	return false
}
