package models

import "gorm.io/gorm"

// Comment is a plain-text note on a project. Body length is bounded
// at the request layer (max 2000 characters).
type Comment struct {
	gorm.Model

	ProjectID uint   `gorm:"not null;index" json:"project_id"`
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	Body      string `gorm:"not null" json:"body"`

	// Relations
	Project Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	User    User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
