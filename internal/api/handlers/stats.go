package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/controllers"
)

// StatsHandler handles per-user count requests
type StatsHandler struct {
	transition *controllers.TransitionController
	logger     *logrus.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(transition *controllers.TransitionController, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{
		transition: transition,
		logger:     logger,
	}
}

// Get returns the raw counts of the caller's library
func (h *StatsHandler) Get(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}

	stats, err := h.transition.Stats(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.JSON(stats)
}
