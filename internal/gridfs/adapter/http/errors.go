package http

import (
	"errors"

	apperrors "gridfs-store/internal/shared/errors"
	"gridfs-store/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
)

// errorResponse writes err as {"error": type, "message": ..., "code": ..., "requestId": ...}
func errorResponse(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	body := fiber.Map{
		"error":   string(apperrors.ErrorTypeInternal),
		"message": err.Error(),
	}
	if id, idErr := utils.GetRequestIDFromContext(c.UserContext()); idErr == nil {
		body["requestId"] = id
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return c.Status(status).JSON(body)
	}

	body["error"] = string(appErr.Type)
	body["message"] = appErr.Message
	if appErr.Code != "" {
		body["code"] = appErr.Code
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return errorResponse(c, apperrors.NewValidationError(message))
}
