package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Client calls the watch-state HTTP API on behalf of one user. It implements
// the remote side of the optimistic coordinator.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client for the API at baseURL authenticating with a
// bearer token
func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type transitionRequest struct {
	Status   models.Status      `json:"status"`
	Rating   *int               `json:"rating,omitempty"`
	Episode  *models.EpisodeRef `json:"episode,omitempty"`
	Priority models.Priority    `json:"priority,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetState fetches the authoritative state of a media item
func (c *Client) GetState(ctx context.Context, ref models.MediaRef) (*models.WatchState, error) {
	var state models.WatchState
	if err := c.doRequest(ctx, http.MethodGet, statePath(ref), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ApplyTransition requests a status change of a media item
func (c *Client) ApplyTransition(ctx context.Context, ref models.MediaRef, status models.Status, opts models.TransitionOptions) (*models.WatchState, error) {
	body := transitionRequest{
		Status:   status,
		Rating:   opts.Rating,
		Episode:  opts.Episode,
		Priority: opts.Priority,
	}

	var state models.WatchState
	if err := c.doRequest(ctx, http.MethodPost, statePath(ref), body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ToggleEpisode flips one episode of a show
func (c *Client) ToggleEpisode(ctx context.Context, showID int64, ep models.EpisodeRef) (*models.WatchState, error) {
	path := "/api/shows/" + strconv.FormatInt(showID, 10) + "/episodes/toggle"

	var state models.WatchState
	if err := c.doRequest(ctx, http.MethodPost, path, ep, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetEpisodes marks or unmarks a set of episodes of a show
func (c *Client) SetEpisodes(ctx context.Context, showID int64, episodes []models.EpisodeRef, watched bool) (*models.WatchState, error) {
	path := "/api/shows/" + strconv.FormatInt(showID, 10) + "/episodes"
	body := struct {
		Episodes []models.EpisodeRef `json:"episodes"`
		Watched  bool                `json:"watched"`
	}{episodes, watched}

	var state models.WatchState
	if err := c.doRequest(ctx, http.MethodPost, path, body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RemoveFromWatchlist deletes the watchlist entry of a media item and keeps
// its watch history
func (c *Client) RemoveFromWatchlist(ctx context.Context, ref models.MediaRef) (*models.WatchState, error) {
	path := "/api/watchlist/" + string(ref.Type) + "/" + strconv.FormatInt(ref.ID, 10)

	var state models.WatchState
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func statePath(ref models.MediaRef) string {
	return "/api/state/" + string(ref.Type) + "/" + strconv.FormatInt(ref.ID, 10)
}

// doRequest performs an authenticated request and maps failures onto the
// error taxonomy
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	fullURL := c.baseURL + path
	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    fullURL,
	}).Debug("Making tracker API request")

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The call never reached a definite answer
		return fmt.Errorf("%w: request failed: %w", models.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, bodyBytes)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// statusError turns a failed response into an error wrapping the matching
// sentinel
func statusError(status int, body []byte) error {
	var apiErr errorResponse
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	var sentinel error
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = models.ErrInvalidTransition
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = models.ErrNotAuthenticated
	case http.StatusServiceUnavailable:
		sentinel = models.ErrStoreUnavailable
	case http.StatusNotFound:
		sentinel = models.ErrNotFound
	}

	if sentinel == nil {
		return fmt.Errorf("API request failed with status %d: %s", status, message)
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}

