package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"boardflow/middleware"
	"boardflow/models"
	"boardflow/utils"
)

// NotificationController serves the durable notification feed: the
// source of truth a client reconciles against after missing live
// pushes.
type NotificationController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewNotificationController(db *gorm.DB, logger *log.Logger) *NotificationController {
	return &NotificationController{DB: db, Logger: logger}
}

func (nc *NotificationController) ListNotifications(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := nc.DB.Model(&models.Notification{}).Where("user_id = ?", user.ID)
	if c.Query("unread") == "true" {
		q = q.Where("read = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		nc.Logger.Printf("Error counting notifications for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list notifications"})
	}

	var notifications []models.Notification
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		nc.Logger.Printf("Error listing notifications for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list notifications"})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  notifications,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (nc *NotificationController) UnreadCount(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var count int64
	err := nc.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Count(&count).Error
	if err != nil {
		nc.Logger.Printf("Error counting unread for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count notifications"})
	}

	return c.JSON(fiber.Map{"unread": count})
}

func (nc *NotificationController) MarkRead(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	res := nc.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", c.Params("notification_id"), user.ID).
		Update("read", true)
	if res.Error != nil {
		nc.Logger.Printf("Error marking notification read: %v", res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark read"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
	}

	return c.JSON(fiber.Map{"success": true})
}

func (nc *NotificationController) MarkAllRead(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	err := nc.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", user.ID, false).
		Update("read", true).Error
	if err != nil {
		nc.Logger.Printf("Error marking all read for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark all read"})
	}

	return c.JSON(fiber.Map{"success": true})
}
