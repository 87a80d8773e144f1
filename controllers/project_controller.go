package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"boardflow/authz"
	"boardflow/fanout"
	"boardflow/middleware"
	"boardflow/models"
	"boardflow/utils"
)

type ProjectController struct {
	DB     *gorm.DB
	Authz  *authz.Engine
	Fanout *fanout.Engine
	Logger *log.Logger
}

func NewProjectController(db *gorm.DB, az *authz.Engine, fo *fanout.Engine, logger *log.Logger) *ProjectController {
	return &ProjectController{DB: db, Authz: az, Fanout: fo, Logger: logger}
}

type CreateProjectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Status      *string `json:"status" validate:"omitempty,oneof=planning in_progress on_hold completed cancelled"`
}

// CreateProject writes the project and, in the same transaction, an
// explicit owner membership row for the creator. Membership stays a
// real row: removing it later does not fall back to any
// creator-derived rights.
func (pc *ProjectController) CreateProject(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	project := models.Project{
		Name:        req.Name,
		Description: req.Description,
		Status:      models.ProjectPlanning,
		CreatorID:   user.ID,
	}

	err := pc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		return tx.Create(&models.ProjectMembership{
			ProjectID: project.ID,
			UserID:    user.ID,
			Role:      models.RoleOwner,
		}).Error
	})
	if err != nil {
		pc.Logger.Printf("Error creating project: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create project"})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(project))
}

// ListProjects returns projects the user belongs to, plus in_progress
// projects which are discoverable by any authenticated user.
func (pc *ProjectController) ListProjects(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var projects []models.Project
	q := pc.DB.Preload("Memberships")
	if !user.IsAdmin {
		q = q.Where(
			"status = ? OR id IN (?)",
			models.ProjectInProgress,
			pc.DB.Model(&models.ProjectMembership{}).Select("project_id").Where("user_id = ?", user.ID),
		)
	}
	if err := q.Order("created_at DESC").Find(&projects).Error; err != nil {
		pc.Logger.Printf("Error listing projects: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list projects"})
	}

	return c.JSON(utils.SuccessResponse(projects))
}

func (pc *ProjectController) GetProject(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var project models.Project
	if err := pc.DB.Preload("Memberships.User").First(&project, c.Params("project_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := pc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectRead, res); err != nil {
		return utils.AppError(c, err)
	}

	return c.JSON(utils.SuccessResponse(project))
}

func (pc *ProjectController) UpdateProject(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var project models.Project
	if err := pc.DB.First(&project, c.Params("project_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := pc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectUpdate, res); err != nil {
		return utils.AppError(c, err)
	}

	var req UpdateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	newStatus := project.Status
	if req.Status != nil {
		newStatus = models.ProjectStatus(*req.Status)
		updates["status"] = newStatus
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(project))
	}

	if err := pc.DB.Model(&project).Updates(updates).Error; err != nil {
		pc.Logger.Printf("Error updating project %d: %v", project.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update project"})
	}

	pc.Fanout.PublishAsync(fanout.Event{
		Kind:             fanout.ProjectUpdated,
		ProjectID:        project.ID,
		ActorID:          user.ID,
		Message:          "Project \"" + project.Name + "\" was updated",
		Link:             "/projects/" + c.Params("project_id"),
		NewProjectStatus: newStatus,
	})

	return c.JSON(utils.SuccessResponse(project))
}

// DeleteProject tombstones the project and cascades to memberships,
// tasks and comments in one transaction.
func (pc *ProjectController) DeleteProject(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var project models.Project
	if err := pc.DB.First(&project, c.Params("project_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := pc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectDelete, res); err != nil {
		return utils.AppError(c, err)
	}

	err := pc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&models.ProjectMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&project).Error
	})
	if err != nil {
		pc.Logger.Printf("Error deleting project %d: %v", project.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete project"})
	}

	return c.JSON(fiber.Map{"success": true, "message": "Project deleted"})
}
