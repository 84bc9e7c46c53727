package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the ledger database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db     Pinger
	logger *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.db.Ping(c.UserContext()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "unhealthy",
			"database": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":   "healthy",
		"database": "ok",
	})
}
