// Package ordering keeps task positions dense and consistent within a
// bucket under concurrent creates and drag-and-drop reorders. Every
// mutation runs inside one store transaction; the bucket's rows are
// locked for update so two reorders of the same bucket serialize
// instead of interleaving.
package ordering

import (
	"context"
	"time"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/store"
)

type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// CreateTaskOrdered appends the task to the end of its bucket: the
// current max position is read and the row written in one atomic
// unit, with the bucket locked so concurrent creates cannot be
// assigned the same position.
func (e *Engine) CreateTaskOrdered(ctx context.Context, task *models.Task) error {
	b := store.Bucket{
		ProjectID:    task.ProjectID,
		Status:       task.Status,
		ParentTaskID: task.ParentTaskID,
	}
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		// Locks the bucket's current rows, serializing appends.
		if _, err := tx.BucketTaskIDs(ctx, b, true); err != nil {
			return err
		}
		max, err := tx.MaxPosition(ctx, b)
		if err != nil {
			return err
		}
		task.Position = max + 1
		if task.Status == models.TaskDone && task.CompletedAt == nil {
			now := time.Now()
			task.CompletedAt = &now
		}
		return tx.CreateTask(ctx, task)
	})
}

// ReorderBucket rewrites the bucket's positions to match orderedIDs,
// the client's full desired sequence after a drag-and-drop. A task in
// the list but not currently in the bucket is treated as a
// cross-column move into it (its status changes, and the completed_at
// side effect applies, in the same atomic unit) provided it belongs
// to the same project and parent scope. Anything else rejects the
// whole list: ids outside the project before any write, stale lists
// with a conflict the caller can refetch and retry.
func (e *Engine) ReorderBucket(ctx context.Context, b store.Bucket, orderedIDs []uint) error {
	if len(orderedIDs) == 0 {
		return apperr.Invalid("reorder requires at least one task id")
	}
	seen := make(map[uint]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return apperr.Invalid("task %d appears twice in reorder", id)
		}
		seen[id] = true
	}

	return e.store.WithinTx(ctx, func(tx store.Store) error {
		current, err := tx.BucketTaskIDs(ctx, b, true)
		if err != nil {
			return err
		}
		inBucket := make(map[uint]bool, len(current))
		for _, id := range current {
			inBucket[id] = true
		}

		// Every task currently in the bucket must appear in the list,
		// otherwise applying it would leave duplicate positions behind.
		for _, id := range current {
			if !seen[id] {
				return apperr.Conflict("task %d is in %s but missing from the reorder", id, b)
			}
		}

		updates := make([]store.PositionUpdate, 0, len(orderedIDs))
		sources := make(map[string]store.Bucket)
		for i, id := range orderedIDs {
			if inBucket[id] {
				updates = append(updates, store.PositionUpdate{TaskID: id, Position: i})
				continue
			}
			task, err := tx.GetTask(ctx, id, false)
			if err != nil {
				return err
			}
			if task == nil {
				return apperr.Conflict("task %d does not exist", id)
			}
			if task.ProjectID != b.ProjectID {
				return apperr.Invalid("task %d belongs to another project", id)
			}
			if !sameParent(task.ParentTaskID, b.ParentTaskID) {
				return apperr.Invalid("task %d belongs to another parent scope", id)
			}
			status := b.Status
			updates = append(updates, store.PositionUpdate{TaskID: id, Position: i, NewStatus: &status})
			from := store.Bucket{ProjectID: task.ProjectID, Status: task.Status, ParentTaskID: task.ParentTaskID}
			sources[from.String()] = from
		}

		if err := tx.ApplyReorder(ctx, b, updates); err != nil {
			return err
		}
		// A move out leaves a gap behind; close it in the same unit.
		for _, from := range sources {
			if err := compactBucket(ctx, tx, from); err != nil {
				return err
			}
		}
		return nil
	})
}

// MoveTaskToEnd appends the task to the end of the column named by
// newStatus: the status change, the completed_at side effect and the
// compaction of the column it leaves all land in one atomic unit.
func (e *Engine) MoveTaskToEnd(ctx context.Context, task *models.Task, newStatus models.TaskStatus) error {
	from := store.Bucket{ProjectID: task.ProjectID, Status: task.Status, ParentTaskID: task.ParentTaskID}
	to := store.Bucket{ProjectID: task.ProjectID, Status: newStatus, ParentTaskID: task.ParentTaskID}
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		if _, err := tx.BucketTaskIDs(ctx, to, true); err != nil {
			return err
		}
		max, err := tx.MaxPosition(ctx, to)
		if err != nil {
			return err
		}
		status := newStatus
		err = tx.ApplyReorder(ctx, to, []store.PositionUpdate{
			{TaskID: task.ID, Position: max + 1, NewStatus: &status},
		})
		if err != nil {
			return err
		}
		return compactBucket(ctx, tx, from)
	})
}

// CompactBucket closes the position gap a removal leaves behind.
func (e *Engine) CompactBucket(ctx context.Context, b store.Bucket) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		return compactBucket(ctx, tx, b)
	})
}

func compactBucket(ctx context.Context, tx store.Store, b store.Bucket) error {
	ids, err := tx.BucketTaskIDs(ctx, b, true)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	updates := make([]store.PositionUpdate, 0, len(ids))
	for i, id := range ids {
		updates = append(updates, store.PositionUpdate{TaskID: id, Position: i})
	}
	return tx.ApplyReorder(ctx, b, updates)
}

func sameParent(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
