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

type CommentController struct {
	DB     *gorm.DB
	Authz  *authz.Engine
	Fanout *fanout.Engine
	Logger *log.Logger
}

func NewCommentController(db *gorm.DB, az *authz.Engine, fo *fanout.Engine, logger *log.Logger) *CommentController {
	return &CommentController{DB: db, Authz: az, Fanout: fo, Logger: logger}
}

type CommentRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

func (cc *CommentController) loadProject(c *fiber.Ctx) (*models.Project, error) {
	var project models.Project
	if err := cc.DB.First(&project, c.Params("project_id")).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (cc *CommentController) ListComments(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	project, err := cc.loadProject(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := cc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectRead, res); err != nil {
		return utils.AppError(c, err)
	}

	var comments []models.Comment
	if err := cc.DB.Preload("User").Where("project_id = ?", project.ID).Order("created_at").Find(&comments).Error; err != nil {
		cc.Logger.Printf("Error listing comments for project %d: %v", project.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list comments"})
	}

	return c.JSON(utils.SuccessResponse(comments))
}

func (cc *CommentController) CreateComment(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	project, err := cc.loadProject(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status}
	if err := cc.Authz.Authorize(c.UserContext(), user.ID, authz.CommentCreate, res); err != nil {
		return utils.AppError(c, err)
	}

	comment := models.Comment{
		ProjectID: project.ID,
		UserID:    user.ID,
		Body:      req.Body,
	}
	if err := cc.DB.Create(&comment).Error; err != nil {
		cc.Logger.Printf("Error creating comment: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create comment"})
	}

	cc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.CommentCreated,
		ProjectID: project.ID,
		ActorID:   user.ID,
		Message:   user.Name + " commented on \"" + project.Name + "\"",
		Link:      "/projects/" + c.Params("project_id") + "/comments",
		CommentID: &comment.ID,
	})

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(comment))
}

func (cc *CommentController) UpdateComment(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var comment models.Comment
	if err := cc.DB.First(&comment, c.Params("comment_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Comment not found"})
	}
	project, err := cc.loadProject(c)
	if err != nil || project.ID != comment.ProjectID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Comment not found in project"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status, OwnerID: comment.UserID}
	if err := cc.Authz.Authorize(c.UserContext(), user.ID, authz.CommentUpdate, res); err != nil {
		return utils.AppError(c, err)
	}

	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := cc.DB.Model(&comment).Update("body", req.Body).Error; err != nil {
		cc.Logger.Printf("Error updating comment %d: %v", comment.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update comment"})
	}

	cc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.CommentUpdated,
		ProjectID: project.ID,
		ActorID:   user.ID,
		Message:   user.Name + " edited a comment on \"" + project.Name + "\"",
		Link:      "/projects/" + c.Params("project_id") + "/comments",
		CommentID: &comment.ID,
	})

	return c.JSON(utils.SuccessResponse(comment))
}

func (cc *CommentController) DeleteComment(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var comment models.Comment
	if err := cc.DB.First(&comment, c.Params("comment_id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Comment not found"})
	}
	project, err := cc.loadProject(c)
	if err != nil || project.ID != comment.ProjectID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Comment not found in project"})
	}

	res := authz.Resource{ProjectID: project.ID, ProjectStatus: project.Status, OwnerID: comment.UserID}
	if err := cc.Authz.Authorize(c.UserContext(), user.ID, authz.CommentDelete, res); err != nil {
		return utils.AppError(c, err)
	}

	if err := cc.DB.Delete(&comment).Error; err != nil {
		cc.Logger.Printf("Error deleting comment %d: %v", comment.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete comment"})
	}

	cc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.CommentDeleted,
		ProjectID: project.ID,
		ActorID:   user.ID,
		Message:   "A comment on \"" + project.Name + "\" was removed",
		Link:      "/projects/" + c.Params("project_id") + "/comments",
		CommentID: &comment.ID,
	})

	return c.JSON(fiber.Map{"success": true, "message": "Comment deleted"})
}
