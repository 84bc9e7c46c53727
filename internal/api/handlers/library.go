package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/controllers"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

const maxListLimit = 500

// WatchlistItem is one row of GET /api/watchlist
type WatchlistItem struct {
	Ref      models.MediaRef `json:"ref"`
	Priority models.Priority `json:"priority"`
	AddedAt  time.Time       `json:"added_at"`
}

// HistoryItem is one row of GET /api/history
type HistoryItem struct {
	Ref       models.MediaRef    `json:"ref"`
	Episode   *models.EpisodeRef `json:"episode,omitempty"`
	Rating    *int               `json:"rating,omitempty"`
	WatchedAt time.Time          `json:"watched_at"`
}

// ActivityItem is one row of GET /api/activities
type ActivityItem struct {
	ID         string              `json:"id"`
	Kind       models.ActivityKind `json:"kind"`
	Ref        models.MediaRef     `json:"ref"`
	Episode    *models.EpisodeRef  `json:"episode,omitempty"`
	Rating     *int                `json:"rating,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// LibraryHandler serves the read-only listings of a user's library
type LibraryHandler struct {
	transition *controllers.TransitionController
	logger     *logrus.Logger
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(transition *controllers.TransitionController, logger *logrus.Logger) *LibraryHandler {
	return &LibraryHandler{
		transition: transition,
		logger:     logger,
	}
}

// Watchlist lists the caller's watchlist, optionally filtered by ?type=
func (h *LibraryHandler) Watchlist(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}

	var mediaType models.MediaType
	if raw := c.Query("type"); raw != "" {
		mediaType, err = models.ParseMediaType(raw)
		if err != nil {
			return badRequest("%v", err)
		}
	}

	entries, err := h.transition.Watchlist(c.UserContext(), userID, mediaType)
	if err != nil {
		return err
	}

	items := make([]WatchlistItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, WatchlistItem{Ref: e.Ref(), Priority: e.Priority, AddedAt: e.AddedAt})
	}
	return c.JSON(items)
}

// History lists the caller's most recent watch events
func (h *LibraryHandler) History(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	limit, err := limitQuery(c)
	if err != nil {
		return err
	}

	events, err := h.transition.History(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}

	items := make([]HistoryItem, 0, len(events))
	for _, e := range events {
		items = append(items, HistoryItem{Ref: e.Ref(), Episode: e.EpisodeRef(), Rating: e.Rating, WatchedAt: e.WatchedAt})
	}
	return c.JSON(items)
}

// Activities lists the caller's most recent activities
func (h *LibraryHandler) Activities(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	limit, err := limitQuery(c)
	if err != nil {
		return err
	}

	events, err := h.transition.Activities(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}

	items := make([]ActivityItem, 0, len(events))
	for _, e := range events {
		item := ActivityItem{
			ID:         e.ID,
			Kind:       e.Kind,
			Ref:        e.Ref(),
			Rating:     e.Rating,
			OccurredAt: e.OccurredAt,
		}
		if e.Season != nil && e.Episode != nil {
			item.Episode = &models.EpisodeRef{Season: *e.Season, Number: *e.Episode}
		}
		items = append(items, item)
	}
	return c.JSON(items)
}

// limitQuery parses ?limit=, 0 when absent
func limitQuery(c *fiber.Ctx) (int, error) {
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxListLimit {
		return 0, badRequest("limit must be between 1 and %d", maxListLimit)
	}
	return limit, nil
}
