package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the board column a task sits in.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskInReview, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// TaskPriority is the urgency bucket of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a unit of work on a project board. Position orders tasks
// within their (project, status, parent) bucket, densely from 0; it is
// a UI ordering only, never a global sequence. Subtasks reference a
// parent task and cannot themselves have subtasks (depth <= 1).
type Task struct {
	gorm.Model

	ProjectID   uint         `gorm:"not null;index" json:"project_id"`
	Title       string       `gorm:"not null" json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `gorm:"not null;default:'todo';index:idx_task_bucket" json:"status"`
	Priority    TaskPriority `gorm:"not null;default:'medium'" json:"priority"`
	CreatorID   uint         `gorm:"not null" json:"creator_id"`
	AssigneeID  *uint        `json:"assignee_id,omitempty"`

	ParentTaskID *uint `gorm:"index:idx_task_bucket" json:"parent_task_id,omitempty"`
	Position     int   `gorm:"not null;default:0" json:"position"`

	DueDate *time.Time `json:"due_date,omitempty"`
	// CompletedAt is set exactly when Status transitions into done and
	// cleared when it transitions away.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Project  Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Creator  User    `gorm:"foreignKey:CreatorID" json:"-"`
	Assignee *User   `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Parent   *Task   `gorm:"foreignKey:ParentTaskID" json:"-"`
	Subtasks []Task  `gorm:"foreignKey:ParentTaskID" json:"subtasks,omitempty"`
}
