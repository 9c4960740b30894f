package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// NewErrorHandler maps handler errors to JSON responses. Anything that is not
// an api or fiber error is logged and reported as a bare 500.
func NewErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Code).JSON(apiErr)
		}

		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}

		resp := NewError(fiber.StatusInternalServerError, "internal server error")
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			resp = NewError(fiberErr.Code, fiberErr.Message)
		}

		if resp.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", resp.Code,
				"error", err)
		}
		return c.Status(resp.Code).JSON(resp)
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrClient(err error) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: err.Error(),
	}
}
