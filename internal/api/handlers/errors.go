package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequestError is a malformed request, rejected before it reaches a controller
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func badRequest(format string, args ...interface{}) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateBody runs the struct tags of a decoded request body
func validateBody(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return badRequest("invalid request: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return badRequest("invalid request: %s", strings.Join(msgs, ", "))
}

// StatusFor maps an error to its HTTP status and error kind
func StatusFor(err error) (int, string) {
	var reqErr *RequestError
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &reqErr):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.As(err, &fiberErr):
		return fiberErr.Code, strings.ToLower(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_"))
	case errors.Is(err, models.ErrInvalidTransition):
		return fiber.StatusUnprocessableEntity, models.ErrorKind(err)
	case errors.Is(err, models.ErrNotAuthenticated):
		return fiber.StatusUnauthorized, models.ErrorKind(err)
	case errors.Is(err, models.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable, models.ErrorKind(err)
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound, models.ErrorKind(err)
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

// NewErrorHandler returns the fiber error handler writing ErrorResponse bodies
func NewErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, kind := StatusFor(err)

		message := err.Error()
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
				"kind":   kind,
			}).Error("Request failed")
			if status == fiber.StatusInternalServerError {
				message = "internal server error"
			}
		}

		return c.Status(status).JSON(ErrorResponse{Error: kind, Message: message})
	}
}
