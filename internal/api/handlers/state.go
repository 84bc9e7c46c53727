package handlers

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/controllers"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// TransitionRequest is the body of POST /api/state/:type/:id
type TransitionRequest struct {
	Status   models.Status      `json:"status" validate:"required"`
	Rating   *int               `json:"rating,omitempty" validate:"omitempty,min=1,max=10"`
	Episode  *models.EpisodeRef `json:"episode,omitempty"`
	Priority models.Priority    `json:"priority,omitempty" validate:"omitempty,min=1,max=3"`
}

// EpisodesRequest is the body of POST /api/shows/:id/episodes
type EpisodesRequest struct {
	Episodes []models.EpisodeRef `json:"episodes" validate:"required,min=1,dive"`
	Watched  *bool               `json:"watched" validate:"required"`
}

// StateHandler serves reads and transitions of watch states
type StateHandler struct {
	transition *controllers.TransitionController
	logger     *logrus.Logger
}

// NewStateHandler creates a new state handler
func NewStateHandler(transition *controllers.TransitionController, logger *logrus.Logger) *StateHandler {
	return &StateHandler{
		transition: transition,
		logger:     logger,
	}
}

// Get returns the current state of a media item
func (h *StateHandler) Get(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	ref, err := mediaRefParam(c)
	if err != nil {
		return err
	}

	state, err := h.transition.GetState(c.UserContext(), userID, ref)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

// RemoveFromWatchlist drops a media item from the caller's watchlist and
// leaves its watch history alone
func (h *StateHandler) RemoveFromWatchlist(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	ref, err := mediaRefParam(c)
	if err != nil {
		return err
	}

	state, err := h.transition.RemoveFromWatchlist(c.UserContext(), userID, ref)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

// Apply requests a status change of a media item
func (h *StateHandler) Apply(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	ref, err := mediaRefParam(c)
	if err != nil {
		return err
	}

	var req TransitionRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	opts := models.TransitionOptions{
		Rating:   req.Rating,
		Episode:  req.Episode,
		Priority: req.Priority,
	}
	state, err := h.transition.ApplyTransition(c.UserContext(), userID, ref, req.Status, opts)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

// ToggleEpisode flips one episode of a show
func (h *StateHandler) ToggleEpisode(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	showID, err := idParam(c)
	if err != nil {
		return err
	}

	var ep models.EpisodeRef
	if err := decodeBody(c, &ep); err != nil {
		return err
	}

	state, err := h.transition.ToggleEpisode(c.UserContext(), userID, showID, ep)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

// SetEpisodes marks or unmarks a set of episodes of a show at once
func (h *StateHandler) SetEpisodes(c *fiber.Ctx) error {
	userID, err := auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	showID, err := idParam(c)
	if err != nil {
		return err
	}

	var req EpisodesRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	state, err := h.transition.SetEpisodes(c.UserContext(), userID, showID, req.Episodes, *req.Watched)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func decodeBody(c *fiber.Ctx, v interface{}) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return validateBody(v)
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", c.Params("id"))
	}
	return id, nil
}

func mediaRefParam(c *fiber.Ctx) (models.MediaRef, error) {
	mediaType, err := models.ParseMediaType(c.Params("type"))
	if err != nil {
		return models.MediaRef{}, badRequest("%v", err)
	}
	id, err := idParam(c)
	if err != nil {
		return models.MediaRef{}, err
	}
	return models.MediaRef{Type: mediaType, ID: id}, nil
}
