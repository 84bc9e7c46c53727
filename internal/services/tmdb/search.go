package tmdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vascoliveira2511/WatchLog/internal/metrics"
	"github.com/vascoliveira2511/WatchLog/internal/models"
	"github.com/vascoliveira2511/WatchLog/internal/utils"
)

type genre struct {
	Name string `json:"name"`
}

type movieDetails struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	PosterPath  string  `json:"poster_path"`
	Genres      []genre `json:"genres"`
}

func (m *movieDetails) toEntry() *models.CatalogEntry {
	return &models.CatalogEntry{
		Ref:       models.Movie(m.ID),
		Title:     m.Title,
		Year:      utils.ExtractYear(m.ReleaseDate),
		PosterRef: m.PosterPath,
		Genres:    genreNames(m.Genres),
	}
}

type tvDetails struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	FirstAirDate     string  `json:"first_air_date"`
	PosterPath       string  `json:"poster_path"`
	Genres           []genre `json:"genres"`
	NumberOfEpisodes *int    `json:"number_of_episodes"`
	NumberOfSeasons  int     `json:"number_of_seasons"`
}

func (t *tvDetails) toEntry() *models.CatalogEntry {
	return &models.CatalogEntry{
		Ref:           models.Show(t.ID),
		Title:         t.Name,
		Year:          utils.ExtractYear(t.FirstAirDate),
		PosterRef:     t.PosterPath,
		Genres:        genreNames(t.Genres),
		TotalEpisodes: t.NumberOfEpisodes,
		Seasons:       t.NumberOfSeasons,
	}
}

// searchResult is one row of /search/movie, /search/tv or /search/multi
type searchResult struct {
	ID           int64  `json:"id"`
	MediaType    string `json:"media_type"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	PosterPath   string `json:"poster_path"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func genreNames(genres []genre) []string {
	if len(genres) == 0 {
		return nil
	}
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		names = append(names, g.Name)
	}
	return names
}

// Search queries the catalog for titles matching query. An empty mediaType
// searches movies and shows together. Results whose title hits the blocklist
// are dropped and the rest are ranked by title relevance.
func (c *Client) Search(ctx context.Context, query string, mediaType models.MediaType) ([]*models.CatalogEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "tmdb.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", query),
		attribute.String("search.media_type", string(mediaType)),
	)

	key := fmt.Sprintf("search:%s:%s", mediaType, utils.NormalizeTitle(query))
	if cached, ok := c.cache.Get(key); ok {
		metrics.CatalogCache.WithLabelValues("hit").Inc()
		return cached.([]*models.CatalogEntry), nil
	}
	metrics.CatalogCache.WithLabelValues("miss").Inc()

	path := "/search/multi"
	switch mediaType {
	case models.MediaTypeMovie:
		path = "/search/movie"
	case models.MediaTypeShow:
		path = "/search/tv"
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		var resp searchResponse
		if err := c.doRequest(ctx, "search", path, url.Values{"query": {query}}, &resp); err != nil {
			return nil, fmt.Errorf("failed to search catalog: %w", err)
		}

		entries := c.filterResults(resp.Results, mediaType)
		entries = utils.RankByTitle(entries, query, func(e *models.CatalogEntry) string { return e.Title })
		c.cache.Set(key, entries, cache.DefaultExpiration)
		return entries, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return v.([]*models.CatalogEntry), nil
}

func (c *Client) filterResults(results []searchResult, mediaType models.MediaType) []*models.CatalogEntry {
	entries := make([]*models.CatalogEntry, 0, len(results))
	for _, r := range results {
		var entry *models.CatalogEntry
		kind := r.MediaType
		if kind == "" {
			kind = string(mediaType)
		}

		switch kind {
		case "movie":
			entry = &models.CatalogEntry{
				Ref:       models.Movie(r.ID),
				Title:     r.Title,
				Year:      utils.ExtractYear(r.ReleaseDate),
				PosterRef: r.PosterPath,
			}
		case "tv", "show":
			entry = &models.CatalogEntry{
				Ref:       models.Show(r.ID),
				Title:     r.Name,
				Year:      utils.ExtractYear(r.FirstAirDate),
				PosterRef: r.PosterPath,
			}
		default:
			// people and other multi-search rows
			continue
		}

		if blocked, term := c.blocklist.IsBlocked(entry.Title); blocked {
			c.logger.WithFields(logrus.Fields{
				"title": entry.Title,
				"term":  term,
			}).Debug("Search result hidden by blocklist")
			continue
		}

		entries = append(entries, entry)
	}
	return entries
}
