package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Searcher finds catalog entries by title
type Searcher interface {
	Search(ctx context.Context, query string, mediaType models.MediaType) ([]*models.CatalogEntry, error)
}

// SearchHandler serves catalog searches
type SearchHandler struct {
	catalog Searcher
	logger  *logrus.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(catalog Searcher, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// Search handles GET /api/search?q=&type=
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return badRequest("query parameter q is required")
	}

	var mediaType models.MediaType
	if raw := c.Query("type"); raw != "" {
		parsed, err := models.ParseMediaType(raw)
		if err != nil {
			return badRequest("%v", err)
		}
		mediaType = parsed
	}

	results, err := h.catalog.Search(c.UserContext(), query, mediaType)
	if err != nil {
		h.logger.WithError(err).WithField("query", query).Warn("Catalog search failed")
		return fiber.NewError(fiber.StatusBadGateway, "catalog unavailable")
	}
	if results == nil {
		results = []*models.CatalogEntry{}
	}

	return c.JSON(results)
}
