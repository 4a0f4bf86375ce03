package utils

import (
	"reflect"

	"github.com/gofiber/fiber/v2"
)

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a successful JSON response with a message.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendAccepted reports a write that was only partly persisted. The data carries
// the identifiers the caller needs to retry.
func SendAccepted(c *fiber.Ctx, message string, data interface{}) error {
	if message == "" {
		message = "accepted"
	}

	return c.Status(fiber.StatusAccepted).JSON(APIResponse{
		Success: false,
		Data:    data,
		Message: message,
	})
}

// SendCollection sends a list payload, switching to emptyMessage when the list
// has no items. Nil slices are rendered as [].
func SendCollection(c *fiber.Ctx, message, emptyMessage string, items interface{}) error {
	value := reflect.ValueOf(items)
	if !value.IsValid() || (value.Kind() == reflect.Slice && value.Len() == 0) {
		if emptyMessage == "" {
			emptyMessage = message
		}
		return c.Status(fiber.StatusOK).JSON(APIResponse{
			Success: true,
			Data:    []interface{}{},
			Message: emptyMessage,
		})
	}

	return SendSuccess(c, message, items)
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
	})
}
