package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"boardflow/apperr"
	"boardflow/models"
)

// GormStore implements Store over a *gorm.DB (Postgres in production).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// wrapStoreErr converts driver-level failures into the transient
// class so callers know a retry is safe. Not-found is never transient.
func wrapStoreErr(err error) error {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return apperr.Transient(err)
}

// --- MembershipStore ---

func (s *GormStore) GetMembership(ctx context.Context, projectID, userID uint) (*models.ProjectMembership, error) {
	var m models.ProjectMembership
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &m, nil
}

func (s *GormStore) CountOwners(ctx context.Context, projectID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ProjectMembership{}).
		Where("project_id = ? AND role = ?", projectID, models.RoleOwner).
		Count(&count).Error
	return count, wrapStoreErr(err)
}

func (s *GormStore) ListMembers(ctx context.Context, projectID uint, forUpdate bool) ([]models.ProjectMembership, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var members []models.ProjectMembership
	if err := q.Order("id").Find(&members).Error; err != nil {
		return nil, wrapStoreErr(err)
	}
	return members, nil
}

func (s *GormStore) HasGlobalRole(ctx context.Context, userID uint, role string) (bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("is_admin", "is_tester").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreErr(err)
	}
	return user.HasGlobalRole(role), nil
}

func (s *GormStore) UpsertMembership(ctx context.Context, projectID, userID uint, role models.ProjectRole) (*models.ProjectMembership, error) {
	var m models.ProjectMembership
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.ProjectMembership{ProjectID: projectID, UserID: userID, Role: role}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return nil, wrapStoreErr(err)
		}
	case err != nil:
		return nil, wrapStoreErr(err)
	default:
		if err := s.db.WithContext(ctx).Model(&m).Update("role", role).Error; err != nil {
			return nil, wrapStoreErr(err)
		}
		m.Role = role
	}
	return &m, nil
}

func (s *GormStore) RemoveMembership(ctx context.Context, projectID, userID uint) error {
	res := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&models.ProjectMembership{})
	if res.Error != nil {
		return wrapStoreErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Invalid("user %d is not a member of project %d", userID, projectID)
	}
	return nil
}

func (s *GormStore) ListGlobalTesters(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_tester = ? AND is_active = ?", true, true).
		Find(&users).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return users, nil
}

// --- TaskStore ---

func bucketScope(db *gorm.DB, b Bucket) *gorm.DB {
	q := db.Model(&models.Task{}).
		Where("project_id = ? AND status = ?", b.ProjectID, b.Status)
	if b.ParentTaskID != nil {
		return q.Where("parent_task_id = ?", *b.ParentTaskID)
	}
	return q.Where("parent_task_id IS NULL")
}

func (s *GormStore) MaxPosition(ctx context.Context, b Bucket) (int, error) {
	var max sql.NullInt64
	err := bucketScope(s.db.WithContext(ctx), b).
		Select("MAX(position)").
		Scan(&max).Error
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (s *GormStore) BucketTaskIDs(ctx context.Context, b Bucket, forUpdate bool) ([]uint, error) {
	q := bucketScope(s.db.WithContext(ctx), b).Select("id").Order("position")
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var ids []uint
	if err := q.Scan(&ids).Error; err != nil {
		return nil, wrapStoreErr(err)
	}
	return ids, nil
}

func (s *GormStore) ApplyReorder(ctx context.Context, b Bucket, updates []PositionUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			fields := map[string]interface{}{"position": u.Position}
			if u.NewStatus != nil {
				fields["status"] = *u.NewStatus
				if *u.NewStatus == models.TaskDone {
					fields["completed_at"] = time.Now()
				} else {
					fields["completed_at"] = gorm.Expr("NULL")
				}
			}
			res := tx.Model(&models.Task{}).Where("id = ?", u.TaskID).Updates(fields)
			if res.Error != nil {
				return wrapStoreErr(res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("task %d vanished during reorder", u.TaskID)
			}
		}
		return nil
	})
}

func (s *GormStore) CreateTask(ctx context.Context, task *models.Task) error {
	return wrapStoreErr(s.db.WithContext(ctx).Create(task).Error)
}

func (s *GormStore) GetTask(ctx context.Context, id uint, includeDeleted bool) (*models.Task, error) {
	q := s.db.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var task models.Task
	err := q.First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &task, nil
}

// --- NotificationStore ---

func (s *GormStore) CreateNotifications(ctx context.Context, rows []models.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return wrapStoreErr(s.db.WithContext(ctx).Create(&rows).Error)
}
