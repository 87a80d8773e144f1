package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"boardflow/authz"
	"boardflow/fanout"
	"boardflow/middleware"
	"boardflow/models"
	"boardflow/store"
	"boardflow/utils"
)

type MemberController struct {
	DB     *gorm.DB
	Store  store.Store
	Authz  *authz.Engine
	Fanout *fanout.Engine
	Logger *log.Logger
}

func NewMemberController(db *gorm.DB, s store.Store, az *authz.Engine, fo *fanout.Engine, logger *log.Logger) *MemberController {
	return &MemberController{DB: db, Store: s, Authz: az, Fanout: fo, Logger: logger}
}

type UpsertMemberRequest struct {
	UserID uint   `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=owner manager developer designer tester viewer"`
}

func (mc *MemberController) ListMembers(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	projectID := utils.ParseUint(c.Params("project_id"))

	var project models.Project
	if err := mc.DB.First(&project, projectID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: projectID, ProjectStatus: project.Status}
	if err := mc.Authz.Authorize(c.UserContext(), user.ID, authz.ProjectRead, res); err != nil {
		return utils.AppError(c, err)
	}

	var members []models.ProjectMembership
	if err := mc.DB.Preload("User").Where("project_id = ?", projectID).Order("id").Find(&members).Error; err != nil {
		mc.Logger.Printf("Error listing members for project %d: %v", projectID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list members"})
	}

	return c.JSON(utils.SuccessResponse(members))
}

// UpsertMember adds a user to the project or changes their role. The
// (project, user) pair is unique, so re-adding updates in place. The
// owner-count guard runs inside the same transaction as the write:
// two concurrent demotions of the last owner cannot both pass it.
func (mc *MemberController) UpsertMember(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	projectID := utils.ParseUint(c.Params("project_id"))

	var project models.Project
	if err := mc.DB.First(&project, projectID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	var req UpsertMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res := authz.Resource{ProjectID: projectID, ProjectStatus: project.Status}
	if err := mc.Authz.Authorize(c.UserContext(), user.ID, authz.MemberUpdate, res); err != nil {
		return utils.AppError(c, err)
	}

	var target models.User
	if err := mc.DB.First(&target, req.UserID).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "User does not exist"})
	}

	role := models.ProjectRole(req.Role)
	ctx := c.UserContext()

	var membership *models.ProjectMembership
	err := mc.Store.WithinTx(ctx, func(tx store.Store) error {
		if err := authz.GuardOwnerChange(ctx, tx, projectID, req.UserID, &role); err != nil {
			return err
		}
		var err error
		membership, err = tx.UpsertMembership(ctx, projectID, req.UserID, role)
		return err
	})
	if err != nil {
		return utils.AppError(c, err)
	}

	mc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.MemberChanged,
		ProjectID: projectID,
		ActorID:   user.ID,
		Message:   target.Name + " is now " + req.Role + " on \"" + project.Name + "\"",
		Link:      "/projects/" + c.Params("project_id") + "/members",
	})

	return c.JSON(utils.SuccessResponse(membership))
}

// RemoveMember deletes a membership, guarded so the last owner of a
// populated project can never be removed.
func (mc *MemberController) RemoveMember(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	projectID := utils.ParseUint(c.Params("project_id"))
	targetID := utils.ParseUint(c.Params("user_id"))

	var project models.Project
	if err := mc.DB.First(&project, projectID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}

	res := authz.Resource{ProjectID: projectID, ProjectStatus: project.Status}
	if err := mc.Authz.Authorize(c.UserContext(), user.ID, authz.MemberRemove, res); err != nil {
		return utils.AppError(c, err)
	}

	ctx := c.UserContext()
	err := mc.Store.WithinTx(ctx, func(tx store.Store) error {
		if err := authz.GuardOwnerChange(ctx, tx, projectID, targetID, nil); err != nil {
			return err
		}
		return tx.RemoveMembership(ctx, projectID, targetID)
	})
	if err != nil {
		return utils.AppError(c, err)
	}

	mc.Fanout.PublishAsync(fanout.Event{
		Kind:      fanout.MemberChanged,
		ProjectID: projectID,
		ActorID:   user.ID,
		Message:   "A member left \"" + project.Name + "\"",
		Link:      "/projects/" + c.Params("project_id") + "/members",
	})

	return c.JSON(fiber.Map{"success": true, "message": "Member removed"})
}
