package models

import "gorm.io/gorm"

// Notification types a client can key display logic on. The
// tester-broadened type marks notifications delivered to global
// testers who are not project members, so clients can label them
// differently from ordinary membership notifications.
const (
	NotificationTypeTask            = "task"
	NotificationTypeComment         = "comment"
	NotificationTypeProject         = "project"
	NotificationTypeMember          = "member"
	NotificationTypeTesterBroadened = "tester_broadened"
)

// Notification is the durable record of a delivered-or-pending event.
// Rows are written before any live websocket delivery is attempted, so
// a client reconnecting later can pull what it missed; live delivery
// is an optimization, not the source of truth.
type Notification struct {
	gorm.Model

	UserID  uint   `gorm:"not null;index" json:"user_id"`
	Message string `gorm:"not null" json:"message"`
	Type    string `gorm:"not null" json:"type"`
	Read    bool   `gorm:"default:false;index" json:"read"`
	Link    string `json:"link,omitempty"`

	ProjectID *uint `gorm:"index" json:"project_id,omitempty"`
	CommentID *uint `json:"comment_id,omitempty"`

	// Relations
	User User `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}
