package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"boardflow/authz"
	"boardflow/fanout"
	"boardflow/middleware"
	"boardflow/models"
	"boardflow/ordering"
	"boardflow/store"
	"boardflow/utils"
)

type TaskController struct {
	DB       *gorm.DB
	Store    store.Store
	Authz    *authz.Engine
	Ordering *ordering.Engine
	Fanout   *fanout.Engine
	Logger   *log.Logger
}

func NewTaskController(db *gorm.DB, s store.Store, az *authz.Engine, ord *ordering.Engine, fo *fanout.Engine, logger *log.Logger) *TaskController {
	return &TaskController{DB: db, Store: s, Authz: az, Ordering: ord, Fanout: fo, Logger: logger}
}

type CreateTaskRequest struct {
	Title        string  `json:"title" validate:"required,max=200"`
	Description  string  `json:"description" validate:"omitempty,max=5000"`
	Status       string  `json:"status" validate:"omitempty,oneof=todo in_progress in_review done blocked"`
	Priority     string  `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID   *uint   `json:"assignee_id"`
	ParentTaskID *uint   `json:"parent_task_id"`
	DueDate      *string `json:"due_date"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Status      *string `json:"status" validate:"omitempty,oneof=todo in_progress in_review done blocked"`
	Priority    *string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID  *uint   `json:"assignee_id"`
}

type ReorderTasksRequest struct {
	Status       string `json:"status" validate:"required,oneof=todo in_progress in_review done blocked"`
	ParentTaskID *uint  `json:"parent_task_id"`
	OrderedIDs   []uint `json:"ordered_ids" validate:"required,min=1"`
}

func (tc *TaskController) loadProject(c *fiber.Ctx) (*models.Project, error) {
	var project models.Project
	if err := tc.DB.First(&project, c.Params("project_id")).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// assigneeIsMember enforces that a task can only be assigned to a
// current member of the same project.
func (tc *TaskController) assigneeIsMember(c *fiber.Ctx, projectID uint, assigneeID uint) bool {
	m, err := tc.Store.GetMembership(c.UserContext(), projectID, assigneeID)
	return err == nil && m != nil
}

func (tc *TaskController) CreateTask(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	project, err := tc.loadProject(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := tc.Authz.Authorize(c.UserContext(), user.ID, authz.TaskCreate, res); err != nil {
		return utils.AppError(c, err)
	}

	status := models.TaskTodo
	if req.Status != "" {
		status = models.TaskStatus(req.Status)
	}
	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.TaskPriority(req.Priority)
	}

	if req.AssigneeID != nil && !tc.assigneeIsMember(c, project.ID, *req.AssigneeID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Assignee must be a member of the project"})
	}

	// Subtasks nest one level deep only.
	if req.ParentTaskID != nil {
		var parent models.Task
		if err := tc.DB.First(&parent, *req.ParentTaskID).Error; err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Parent task not found"})
		}
		if parent.ProjectID != project.ID {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Parent task belongs to another project"})
		}
		if parent.ParentTaskID != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Subtasks cannot have subtasks"})
		}
	}

	task := models.Task{
		ProjectID:    project.ID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       status,
		Priority:     priority,
		CreatorID:    user.ID,
		AssigneeID:   req.AssigneeID,
		ParentTaskID: req.ParentTaskID,
	}
	if req.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *req.DueDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "due_date must be RFC3339"})
		}
		task.DueDate = &due
	}

	if err := tc.Ordering.CreateTaskOrdered(c.UserContext(), &task); err != nil {
		return utils.AppError(c, err)
	}

	tc.Fanout.PublishAsync(fanout.Event{
		Kind:       fanout.TaskCreated,
		ProjectID:  project.ID,
		ActorID:    user.ID,
		Message:    "Task \"" + task.Title + "\" was created",
		Link:       "/projects/" + c.Params("project_id") + "/board",
		TaskID:     &task.ID,
		AssigneeID: task.AssigneeID,
	})

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(task))
}

// ListTasks returns the project's board: tasks grouped by column,
// ordered by position within each column.
func (tc *TaskController) ListTasks(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	project, err := tc.loadProject(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := tc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectRead, res); err != nil {
		return utils.AppError(c, err)
	}

	var tasks []models.Task
	err = tc.DB.
		Where("project_id = ? AND parent_task_id IS NULL", project.ID).
		Preload("Assignee").
		Preload("Subtasks", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("status, position").
		Find(&tasks).Error
	if err != nil {
		tc.Logger.Printf("Error listing tasks for project %d: %v", project.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list tasks"})
	}

	board := make(map[models.TaskStatus][]models.Task)
	for _, t := range tasks {
		board[t.Status] = append(board[t.Status], t)
	}
	return c.JSON(utils.SuccessResponse(board))
}

func (tc *TaskController) UpdateTask(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var task models.Task
	if err := tc.DB.First(&task, c.Params("task_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found"})
	}
	project, err := tc.loadProject(c)
	if err != nil || project.ID != task.ProjectID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found in project"})
	}

	res := authz.Resource{ProjectID: task.ProjectID, ProjectStatus: project.Status, OwnerID: task.CreatorID}
	if err := tc.Authz.Authorize(c.UserContext(), user.ID, authz.TaskUpdate, res); err != nil {
		return utils.AppError(c, err)
	}

	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if req.AssigneeID != nil && !tc.assigneeIsMember(c, task.ProjectID, *req.AssigneeID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Assignee must be a member of the project"})
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.AssigneeID != nil {
		updates["assignee_id"] = *req.AssigneeID
	}

	statusChanged := req.Status != nil && models.TaskStatus(*req.Status) != task.Status
	if err := tc.DB.Model(&task).Updates(updates).Error; err != nil {
		tc.Logger.Printf("Error updating task %d: %v", task.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update task"})
	}

	if statusChanged {
		// A status change through this path appends the task to the end
		// of its new column; completed_at and the source-column
		// compaction land in the same atomic unit.
		if err := tc.Ordering.MoveTaskToEnd(c.UserContext(), &task, models.TaskStatus(*req.Status)); err != nil {
			return utils.AppError(c, err)
		}
	}

	tc.Fanout.PublishAsync(fanout.Event{
		Kind:       fanout.TaskUpdated,
		ProjectID:  task.ProjectID,
		ActorID:    user.ID,
		Message:    "Task \"" + task.Title + "\" was updated",
		Link:       "/projects/" + c.Params("project_id") + "/board",
		TaskID:     &task.ID,
		AssigneeID: task.AssigneeID,
	})

	return c.JSON(fiber.Map{"success": true})
}

func (tc *TaskController) DeleteTask(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var task models.Task
	if err := tc.DB.First(&task, c.Params("task_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found"})
	}
	project, err := tc.loadProject(c)
	if err != nil || project.ID != task.ProjectID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found in project"})
	}

	res := authz.Resource{ProjectID: task.ProjectID, ProjectStatus: project.Status, OwnerID: task.CreatorID}
	if err := tc.Authz.Authorize(c.UserContext(), user.ID, authz.TaskDelete, res); err != nil {
		return utils.AppError(c, err)
	}

	err = tc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_task_id = ?", task.ID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&task).Error
	})
	if err != nil {
		tc.Logger.Printf("Error deleting task %d: %v", task.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete task"})
	}

	// Close the position gap the deleted task leaves in its column.
	b := store.Bucket{ProjectID: task.ProjectID, Status: task.Status, ParentTaskID: task.ParentTaskID}
	if err := tc.Ordering.CompactBucket(c.UserContext(), b); err != nil {
		tc.Logger.Printf("Error compacting column after deleting task %d: %v", task.ID, err)
	}

	tc.Fanout.PublishAsync(fanout.Event{
		Kind:       fanout.TaskDeleted,
		ProjectID:  task.ProjectID,
		ActorID:    user.ID,
		Message:    "Task \"" + task.Title + "\" was deleted",
		Link:       "/projects/" + c.Params("project_id") + "/board",
		TaskID:     &task.ID,
		AssigneeID: task.AssigneeID,
	})

	return c.JSON(fiber.Map{"success": true, "message": "Task deleted"})
}

// ReorderTasks applies the client's full desired sequence for one
// column after a drag-and-drop. Reordering is gated on board-level
// membership, not per-task manage rights: the rewrite touches every
// sibling row, and requiring manage rights on each would make boards
// read-only for developers.
func (tc *TaskController) ReorderTasks(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	project, err := tc.loadProject(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	var req ReorderTasksRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// Any member may reorder; the membership gate is the same one that
	// guards creating a task on the board.
	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := tc.Authz.Authorize(c.UserContext(), user.ID, authz.TaskCreate, res); err != nil {
		return utils.AppError(c, err)
	}

	b := store.Bucket{
		ProjectID:    project.ID,
		Status:       models.TaskStatus(req.Status),
		ParentTaskID: req.ParentTaskID,
	}
	if err := tc.Ordering.ReorderBucket(c.UserContext(), b, req.OrderedIDs); err != nil {
		return utils.AppError(c, err)
	}

	tc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.TaskUpdated,
		ProjectID: project.ID,
		ActorID:   user.ID,
		Message:   "Board \"" + project.Name + "\" was reordered",
		Link:      "/projects/" + c.Params("project_id") + "/board",
	})

	return c.JSON(fiber.Map{"success": true})
}
