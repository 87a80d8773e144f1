package models

import "gorm.io/gorm"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "planning"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectOnHold     ProjectStatus = "on_hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// Project groups tasks, members and comments. The creator is recorded
// but is not implicitly a member; membership rows are explicit.
type Project struct {
	gorm.Model

	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `gorm:"not null;default:'planning'" json:"status"`
	CreatorID   uint          `gorm:"not null;index" json:"creator_id"`

	// Relations
	Creator     User                `gorm:"foreignKey:CreatorID" json:"-"`
	Memberships []ProjectMembership `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"memberships,omitempty"`
	Tasks       []Task              `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"tasks,omitempty"`
	Comments    []Comment           `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"comments,omitempty"`
}

// ProjectRole is the role a user holds within one project.
type ProjectRole string

const (
	RoleOwner     ProjectRole = "owner"
	RoleManager   ProjectRole = "manager"
	RoleDeveloper ProjectRole = "developer"
	RoleDesigner  ProjectRole = "designer"
	RoleTester    ProjectRole = "tester"
	RoleViewer    ProjectRole = "viewer"
)

// Valid reports whether r is one of the known project roles.
func (r ProjectRole) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleDeveloper, RoleDesigner, RoleTester, RoleViewer:
		return true
	}
	return false
}

// CanManage reports whether the role carries project-management rights.
func (r ProjectRole) CanManage() bool {
	return r == RoleOwner || r == RoleManager
}

// ProjectMembership links a user to a project with exactly one role.
// The (project, user) pair is unique: re-adding a member updates the
// role in place rather than inserting a second row.
type ProjectMembership struct {
	gorm.Model

	ProjectID uint        `gorm:"not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uint        `gorm:"not null;uniqueIndex:idx_project_user" json:"user_id"`
	Role      ProjectRole `gorm:"not null" json:"role"`

	// Relations
	Project Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	User    User    `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"user,omitempty"`
}
