// Package store defines the persistence contracts the core engines
// consume, plus their GORM implementation. Engines depend on the
// interfaces so they can be exercised against fakes in tests.
package store

import (
	"context"
	"fmt"

	"boardflow/models"
)

// Bucket is the (project, status, parent task) scope within which task
// positions are meaningful. ParentTaskID nil means top-level tasks.
type Bucket struct {
	ProjectID    uint
	Status       models.TaskStatus
	ParentTaskID *uint
}

func (b Bucket) String() string {
	if b.ParentTaskID != nil {
		return fmt.Sprintf("project %d / %s / parent %d", b.ProjectID, b.Status, *b.ParentTaskID)
	}
	return fmt.Sprintf("project %d / %s", b.ProjectID, b.Status)
}

// PositionUpdate is one row rewrite produced by a reorder. NewStatus
// is set only for a task that crossed columns; the store applies the
// completed_at side effect for that transition in the same write.
type PositionUpdate struct {
	TaskID    uint
	Position  int
	NewStatus *models.TaskStatus
}

// MembershipStore is the membership surface the authorization engine
// and member mutations consume.
type MembershipStore interface {
	// GetMembership returns nil, nil when the user has no membership.
	GetMembership(ctx context.Context, projectID, userID uint) (*models.ProjectMembership, error)
	CountOwners(ctx context.Context, projectID uint) (int64, error)
	// ListMembers returns current memberships. forUpdate locks the
	// rows for the remainder of the enclosing transaction, so an
	// owner-count check and the write it gates see the same state.
	ListMembers(ctx context.Context, projectID uint, forUpdate bool) ([]models.ProjectMembership, error)
	HasGlobalRole(ctx context.Context, userID uint, role string) (bool, error)
	UpsertMembership(ctx context.Context, projectID, userID uint, role models.ProjectRole) (*models.ProjectMembership, error)
	RemoveMembership(ctx context.Context, projectID, userID uint) error
	// ListGlobalTesters returns users holding the global tester
	// capability, for the in_progress audience broadening.
	ListGlobalTesters(ctx context.Context) ([]models.User, error)
}

// TaskStore is the surface the ordering engine consumes.
type TaskStore interface {
	MaxPosition(ctx context.Context, b Bucket) (int, error)
	// BucketTaskIDs returns the ids currently in the bucket ordered by
	// position. forUpdate locks the rows, serializing concurrent
	// reorders of the same bucket.
	BucketTaskIDs(ctx context.Context, b Bucket, forUpdate bool) ([]uint, error)
	// ApplyReorder rewrites every listed position in one atomic unit,
	// all-or-nothing.
	ApplyReorder(ctx context.Context, b Bucket, updates []PositionUpdate) error
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uint, includeDeleted bool) (*models.Task, error)
}

// NotificationStore persists durable notification rows.
type NotificationStore interface {
	CreateNotifications(ctx context.Context, rows []models.Notification) error
}

// Store is the full persistence surface. WithinTx runs fn against a
// transaction-scoped store; returning an error rolls everything back.
type Store interface {
	MembershipStore
	TaskStore
	NotificationStore
	WithinTx(ctx context.Context, fn func(Store) error) error
}
