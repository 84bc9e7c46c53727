package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vascoliveira2511/WatchLog/internal/config"
	"github.com/vascoliveira2511/WatchLog/internal/metrics"
	"github.com/vascoliveira2511/WatchLog/internal/models"
	"github.com/vascoliveira2511/WatchLog/internal/utils"
)

var tracer = otel.Tracer("github.com/vascoliveira2511/WatchLog/internal/services/tmdb")

// errTransient marks responses worth retrying (429 and 5xx)
var errTransient = errors.New("transient catalog error")

// Client handles communication with the TMDB v3 API
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	cache         *cache.Cache
	group         singleflight.Group
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker[[]byte]
	maxRetries    uint64
	retryInterval time.Duration
	blocklist     *utils.Blocklist
	logger        *logrus.Logger
}

// NewClient creates a new TMDB client
func NewClient(cfg *config.Config, blocklist *utils.Blocklist, logger *logrus.Logger) *Client {
	ttl := cfg.CatalogCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	perSecond := cfg.CatalogRatePerSec
	if perSecond <= 0 {
		perSecond = 20
	}
	trips := cfg.CatalogBreakerTrips
	if trips == 0 {
		trips = 5
	}

	c := &Client{
		apiKey:        cfg.TMDBAPIKey,
		baseURL:       strings.TrimRight(cfg.TMDBBaseURL, "/"),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		cache:         cache.New(ttl, 2*ttl),
		limiter:       rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		maxRetries:    cfg.CatalogMaxRetries,
		retryInterval: 250 * time.Millisecond,
		blocklist:     blocklist,
		logger:        logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		IsSuccessful: func(err error) bool {
			// An unknown id is a valid answer, not an outage
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CatalogBreakerState.Set(float64(to))
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Catalog circuit breaker changed state")
		},
	})

	return c
}

// ResolveMedia returns the catalog metadata of a movie or show. Results are
// cached and concurrent lookups of the same item share one request.
func (c *Client) ResolveMedia(ctx context.Context, ref models.MediaRef) (*models.CatalogEntry, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: invalid media reference %s", models.ErrNotFound, ref)
	}

	ctx, span := tracer.Start(ctx, "tmdb.ResolveMedia")
	defer span.End()
	span.SetAttributes(attribute.String("media.ref", ref.Key()))

	key := "media:" + ref.Key()
	if cached, ok := c.cache.Get(key); ok {
		metrics.CatalogCache.WithLabelValues("hit").Inc()
		return cached.(*models.CatalogEntry), nil
	}
	metrics.CatalogCache.WithLabelValues("miss").Inc()

	// The shared fetch outlives any single caller; each caller still stops
	// waiting when its own context ends
	shared := context.WithoutCancel(ctx)
	results := c.group.DoChan(key, func() (interface{}, error) {
		entry, err := c.fetchMedia(shared, ref)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, entry, cache.DefaultExpiration)
		return entry, nil
	})

	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		return res.Val.(*models.CatalogEntry), nil
	}
}

func (c *Client) fetchMedia(ctx context.Context, ref models.MediaRef) (*models.CatalogEntry, error) {
	if ref.IsShow() {
		var show tvDetails
		if err := c.doRequest(ctx, "tv", fmt.Sprintf("/tv/%d", ref.ID), nil, &show); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", ref, err)
		}
		return show.toEntry(), nil
	}

	var movie movieDetails
	if err := c.doRequest(ctx, "movie", fmt.Sprintf("/movie/%d", ref.ID), nil, &movie); err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return movie.toEntry(), nil
}

// doRequest performs a rate limited, retried and circuit broken GET against
// the TMDB API and decodes the body into result
func (c *Client) doRequest(ctx context.Context, endpoint, path string, query url.Values, result interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	fullURL := c.baseURL + path + "?" + query.Encode()

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"path":     path,
	}).Debug("Making TMDB API request")

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.getWithRetry(ctx, fullURL)
	})
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(endpoint, outcome(err)).Inc()
		return err
	}
	metrics.CatalogRequests.WithLabelValues(endpoint, "ok").Inc()

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		data, err := c.get(ctx, fullURL)
		if err != nil {
			if errors.Is(err, errTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithField("retry_in", wait).Debug("Retrying TMDB request")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", errTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", errTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}
