package utils

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"boardflow/apperr"
)

// GenerateRateLimitKey creates a unique key for rate limiting
func GenerateRateLimitKey(userID uint, projectID, path string) string {
	return fmt.Sprintf("rl:%d:%s:%s", userID, projectID, path)
}

// ParseUint safely parses a string to uint
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}

// AppError maps the error taxonomy onto an HTTP response. Reason
// codes ride along for authorization denials so clients can branch on
// them.
func AppError(c *fiber.Ctx, err error) error {
	switch {
	case apperr.IsAuthentication(err):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case apperr.IsAuthorization(err):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  err.Error(),
			"reason": apperr.AuthorizationReason(err),
		})
	case apperr.IsConflict(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case apperr.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case apperr.IsTransient(err):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store temporarily unavailable, retry"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// PaginatedResponse structure for paginated results
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
