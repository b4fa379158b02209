package serverutils

import (
	"errors"

	"bioimage-chatbot-be/pkg/ai/router"
	"bioimage-chatbot-be/pkg/collection"

	"github.com/gofiber/fiber/v2"
)

var ErrPermissionDenied = errors.New("permission denied")

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	var validationErr *ValidationError

	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest
	case errors.Is(err, collection.ErrUnknownChannel):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, router.ErrClassification), errors.Is(err, router.ErrSynthesis):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware renders errors returned by downstream handlers as the JSON envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := StatusFor(err)
		return ctx.Status(code).JSON(ErrorResponse(code, err.Error()))
	}
}
