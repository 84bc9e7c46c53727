package controllers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vascoliveira2511/WatchLog/internal/metrics"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

const (
	defaultHistoryLimit    = 50
	defaultActivitiesLimit = 20
)

var tracer = otel.Tracer("github.com/vascoliveira2511/WatchLog/internal/controllers")

// pendingActivity is the activity a committed transition owes
type pendingActivity struct {
	kind models.ActivityKind
	meta ActivityMeta
}

// TransitionController applies status changes to the ledger. Every call runs
// in one transaction and calls for the same user and media are serialized.
type TransitionController struct {
	db       *models.Database
	progress *ProgressController
	activity ActivityRecorder
	locks    *KeyedLocker
	logger   *logrus.Logger
}

// NewTransitionController creates a new transition controller
func NewTransitionController(db *models.Database, progress *ProgressController, activity ActivityRecorder, locks *KeyedLocker, logger *logrus.Logger) *TransitionController {
	return &TransitionController{
		db:       db,
		progress: progress,
		activity: activity,
		locks:    locks,
		logger:   logger,
	}
}

// ApplyTransition moves a media item to the requested status for a user and
// returns the resulting state
func (c *TransitionController) ApplyTransition(ctx context.Context, userID string, ref models.MediaRef, requested models.Status, opts models.TransitionOptions) (*models.WatchState, error) {
	ctx, span := tracer.Start(ctx, "transition.Apply", trace.WithAttributes(
		attribute.String("media.ref", ref.Key()),
		attribute.String("transition.requested", string(requested)),
	))
	defer span.End()

	if err := c.validate(userID, ref, requested, opts); err != nil {
		c.observe(ref, string(requested), time.Time{}, false, err, span)
		return nil, err
	}

	return c.run(ctx, span, userID, ref, string(requested), func(l *models.Ledger, total int) (*pendingActivity, error) {
		if ref.IsShow() {
			return c.applyShow(ctx, l, userID, ref.ID, requested, opts, total)
		}
		return c.applyMovie(ctx, l, userID, ref.ID, requested, opts)
	})
}

// ToggleEpisode marks an episode watched when it is not, and unwatched when
// it is
func (c *TransitionController) ToggleEpisode(ctx context.Context, userID string, showID int64, ep models.EpisodeRef) (*models.WatchState, error) {
	ref := models.Show(showID)
	ctx, span := tracer.Start(ctx, "transition.ToggleEpisode", trace.WithAttributes(
		attribute.String("media.ref", ref.Key()),
		attribute.String("episode", ep.String()),
	))
	defer span.End()

	if err := c.validateEpisodes(userID, ref, []models.EpisodeRef{ep}); err != nil {
		c.observe(ref, "toggle_episode", time.Time{}, false, err, span)
		return nil, err
	}

	return c.run(ctx, span, userID, ref, "toggle_episode", func(l *models.Ledger, total int) (*pendingActivity, error) {
		watched, err := l.EpisodeWatched(ctx, userID, showID, ep)
		if err != nil {
			return nil, fmt.Errorf("failed to check episode: %w", err)
		}
		return c.setEpisodes(ctx, l, userID, showID, []models.EpisodeRef{ep}, !watched, total)
	})
}

// SetEpisodes marks a batch of episodes watched or unwatched as a single
// transition
func (c *TransitionController) SetEpisodes(ctx context.Context, userID string, showID int64, episodes []models.EpisodeRef, watched bool) (*models.WatchState, error) {
	ref := models.Show(showID)
	ctx, span := tracer.Start(ctx, "transition.SetEpisodes", trace.WithAttributes(
		attribute.String("media.ref", ref.Key()),
		attribute.Int("episodes", len(episodes)),
		attribute.Bool("watched", watched),
	))
	defer span.End()

	if err := c.validateEpisodes(userID, ref, episodes); err != nil {
		c.observe(ref, "set_episodes", time.Time{}, false, err, span)
		return nil, err
	}

	return c.run(ctx, span, userID, ref, "set_episodes", func(l *models.Ledger, total int) (*pendingActivity, error) {
		return c.setEpisodes(ctx, l, userID, showID, episodes, watched, total)
	})
}

// RemoveFromWatchlist deletes the watchlist entry of a media item without
// touching its watch history. A show falls back to the status its episode
// progress implies.
func (c *TransitionController) RemoveFromWatchlist(ctx context.Context, userID string, ref models.MediaRef) (*models.WatchState, error) {
	ctx, span := tracer.Start(ctx, "transition.RemoveFromWatchlist", trace.WithAttributes(
		attribute.String("media.ref", ref.Key()),
	))
	defer span.End()

	if userID == "" {
		c.observe(ref, "watchlist_remove", time.Time{}, false, models.ErrNotAuthenticated, span)
		return nil, models.ErrNotAuthenticated
	}
	if !ref.Valid() {
		err := fmt.Errorf("%w: invalid media reference %s", models.ErrInvalidTransition, ref)
		c.observe(ref, "watchlist_remove", time.Time{}, false, err, span)
		return nil, err
	}

	return c.run(ctx, span, userID, ref, "watchlist_remove", func(l *models.Ledger, total int) (*pendingActivity, error) {
		removed, err := l.RemoveFromWatchlist(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
		}
		if !removed {
			return nil, nil
		}
		if ref.IsShow() {
			if _, err := c.progress.recomputeIn(ctx, l, userID, ref.ID, total, keepDropped); err != nil {
				return nil, err
			}
		}
		return &pendingActivity{kind: models.ActivityWatchlistRemove}, nil
	})
}

// run executes one serialized transaction, reads back the state and emits the
// owed activity after commit
func (c *TransitionController) run(ctx context.Context, span trace.Span, userID string, ref models.MediaRef, requested string, apply func(l *models.Ledger, total int) (*pendingActivity, error)) (*models.WatchState, error) {
	start := time.Now()

	// Resolved before locking so no network call runs inside the transaction
	total := 0
	if ref.IsShow() {
		total = c.progress.ResolveTotal(ctx, ref.ID)
	}

	unlock := c.locks.Lock(lockKey(userID, ref))
	defer unlock()

	var (
		owed  *pendingActivity
		state *models.WatchState
	)
	err := c.db.Transaction(ctx, func(l *models.Ledger) error {
		var err error
		if owed, err = apply(l, total); err != nil {
			return err
		}
		state, err = c.readState(ctx, l, userID, ref)
		return err
	})
	if err != nil {
		if !errors.Is(err, models.ErrInvalidTransition) {
			err = fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		c.observe(ref, requested, start, false, err, span)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"media":     ref.Key(),
			"requested": requested,
		}).Warn("Transition rejected")
		return nil, err
	}

	changed := owed != nil
	c.observe(ref, requested, start, changed, nil, span)

	fields := logrus.Fields{
		"user_id":   userID,
		"media":     ref.Key(),
		"requested": requested,
		"status":    state.Status,
	}
	if !changed {
		c.logger.WithFields(fields).Debug("Transition was a no-op")
		return state, nil
	}

	c.logger.WithFields(fields).Info("Transition applied")
	if c.activity != nil {
		c.activity.Record(ctx, userID, owed.kind, ref, owed.meta)
	}

	return state, nil
}

func (c *TransitionController) observe(ref models.MediaRef, requested string, start time.Time, changed bool, err error, span trace.Span) {
	outcome := "noop"
	switch {
	case err != nil:
		outcome = models.ErrorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case changed:
		outcome = "changed"
	}
	span.SetAttributes(attribute.String("transition.outcome", outcome))

	metrics.TransitionsTotal.WithLabelValues(string(ref.Type), requested, outcome).Inc()
	if !start.IsZero() {
		metrics.TransitionDuration.WithLabelValues(string(ref.Type)).Observe(time.Since(start).Seconds())
	}
}

func (c *TransitionController) validate(userID string, ref models.MediaRef, requested models.Status, opts models.TransitionOptions) error {
	if userID == "" {
		return models.ErrNotAuthenticated
	}
	if !ref.Valid() {
		return fmt.Errorf("%w: invalid media reference %s", models.ErrInvalidTransition, ref)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("%w: invalid options", err)
	}
	if opts.Rating != nil && (ref.IsShow() || requested != models.StatusWatched) {
		return fmt.Errorf("%w: a rating can only be given when marking a movie watched", models.ErrInvalidTransition)
	}
	if opts.Priority != 0 && requested != models.StatusPlanToWatch {
		return fmt.Errorf("%w: a priority can only be given with %s", models.ErrInvalidTransition, models.StatusPlanToWatch)
	}
	return models.CheckTransition(ref.Type, "", requested, opts.Episode != nil)
}

func (c *TransitionController) validateEpisodes(userID string, ref models.MediaRef, episodes []models.EpisodeRef) error {
	if userID == "" {
		return models.ErrNotAuthenticated
	}
	if !ref.Valid() {
		return fmt.Errorf("%w: invalid media reference %s", models.ErrInvalidTransition, ref)
	}
	if len(episodes) == 0 {
		return fmt.Errorf("%w: no episodes given", models.ErrInvalidTransition)
	}
	for _, ep := range episodes {
		if !ep.Valid() {
			return fmt.Errorf("%w: invalid episode %s", models.ErrInvalidTransition, ep)
		}
	}
	return nil
}

// applyMovie handles every requestable movie transition
func (c *TransitionController) applyMovie(ctx context.Context, l *models.Ledger, userID string, movieID int64, requested models.Status, opts models.TransitionOptions) (*pendingActivity, error) {
	ref := models.Movie(movieID)

	entry, err := l.GetWatchlistEntry(ctx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	latest, err := l.LatestMovieWatch(ctx, userID, movieID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest watch: %w", err)
	}

	current := movieStatus(entry, latest)
	if err := models.CheckTransition(models.MediaTypeMovie, current, requested, false); err != nil {
		return nil, err
	}

	switch requested {
	case models.StatusPlanToWatch:
		changed, err := c.upsertWatchlist(ctx, l, userID, ref, entry, opts.Priority)
		if err != nil || !changed {
			return nil, err
		}
		return &pendingActivity{kind: models.ActivityWatchlistAdd}, nil

	case models.StatusWatched:
		if current == models.StatusWatched {
			if opts.Rating == nil || sameRating(latest.Rating, opts.Rating) {
				return nil, nil
			}
			if err := l.SetWatchRating(ctx, latest.ID, opts.Rating); err != nil {
				return nil, fmt.Errorf("failed to update rating: %w", err)
			}
			return &pendingActivity{kind: models.ActivityRated, meta: ActivityMeta{Rating: opts.Rating}}, nil
		}

		if _, err := l.InsertWatchEvent(ctx, models.NewMovieWatch(userID, movieID, opts.Rating, time.Now().UTC())); err != nil {
			return nil, fmt.Errorf("failed to record watch: %w", err)
		}
		if _, err := l.RemoveFromWatchlist(ctx, userID, ref); err != nil {
			return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
		}
		return &pendingActivity{kind: models.ActivityWatchedMovie, meta: ActivityMeta{Rating: opts.Rating}}, nil

	case models.StatusUnwatched:
		deleted, err := l.DeleteWatchEvents(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to delete watch events: %w", err)
		}
		removed, err := l.RemoveFromWatchlist(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
		}
		if deleted == 0 && !removed {
			return nil, nil
		}
		return &pendingActivity{kind: models.ActivityUnwatched}, nil
	}

	return nil, fmt.Errorf("%w: movie cannot be set to %q", models.ErrInvalidTransition, requested)
}

// applyShow handles every requestable show transition
func (c *TransitionController) applyShow(ctx context.Context, l *models.Ledger, userID string, showID int64, requested models.Status, opts models.TransitionOptions, total int) (*pendingActivity, error) {
	ref := models.Show(showID)

	snap, err := c.progress.load(ctx, l, userID, showID)
	if err != nil {
		return nil, err
	}

	current := snap.status(total)
	if err := models.CheckTransition(models.MediaTypeShow, current, requested, opts.Episode != nil); err != nil {
		return nil, err
	}

	switch requested {
	case models.StatusPlanToWatch:
		changed, err := c.upsertWatchlist(ctx, l, userID, ref, snap.entry, opts.Priority)
		if err != nil {
			return nil, err
		}
		if snap.dropped != nil {
			changed = true
		}
		if _, err := c.progress.recomputeIn(ctx, l, userID, showID, total, clearDropped); err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		return &pendingActivity{kind: models.ActivityWatchlistAdd}, nil

	case models.StatusDropped:
		if current == models.StatusDropped {
			return nil, nil
		}
		if _, err := l.RemoveFromWatchlist(ctx, userID, ref); err != nil {
			return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
		}
		if _, err := c.progress.recomputeIn(ctx, l, userID, showID, total, setDropped); err != nil {
			return nil, err
		}
		return &pendingActivity{kind: models.ActivityDroppedShow}, nil

	case models.StatusUnwatched:
		deleted, err := l.DeleteWatchEvents(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to delete watch events: %w", err)
		}
		removed, err := l.RemoveFromWatchlist(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
		}
		if snap.stored != nil {
			if err := l.DeleteShowProgress(ctx, userID, showID); err != nil {
				return nil, fmt.Errorf("failed to delete show progress: %w", err)
			}
		}
		if deleted == 0 && !removed && snap.dropped == nil {
			return nil, nil
		}
		return &pendingActivity{kind: models.ActivityUnwatched}, nil

	case models.StatusWatching:
		return c.setEpisodesFrom(ctx, l, snap, []models.EpisodeRef{*opts.Episode}, true, total)

	case models.StatusCompleted:
		count := len(snap.episodes())
		if ep := opts.Episode; ep != nil && !containsEpisode(snap.episodes(), *ep) {
			count++
		}
		if t := snap.total(total); t <= 0 || count < t {
			return nil, fmt.Errorf("%w: %d of %d episodes watched", models.ErrInvalidTransition, count, t)
		}

		var episodes []models.EpisodeRef
		if opts.Episode != nil {
			episodes = append(episodes, *opts.Episode)
		}
		return c.setEpisodesFrom(ctx, l, snap, episodes, true, total)
	}

	return nil, fmt.Errorf("%w: show cannot be set to %q", models.ErrInvalidTransition, requested)
}

func (c *TransitionController) setEpisodes(ctx context.Context, l *models.Ledger, userID string, showID int64, episodes []models.EpisodeRef, watched bool, total int) (*pendingActivity, error) {
	snap, err := c.progress.load(ctx, l, userID, showID)
	if err != nil {
		return nil, err
	}
	return c.setEpisodesFrom(ctx, l, snap, episodes, watched, total)
}

// setEpisodesFrom records or deletes episode watches. Any episode change
// removes the watchlist entry, and watching clears the dropped flag.
func (c *TransitionController) setEpisodesFrom(ctx context.Context, l *models.Ledger, snap *showSnapshot, episodes []models.EpisodeRef, watched bool, total int) (*pendingActivity, error) {
	userID, showID := snap.userID, snap.showID
	before := snap.status(total)

	episodes = uniqueEpisodes(episodes)
	now := time.Now().UTC()
	touched := 0
	for _, ep := range episodes {
		var (
			ok  bool
			err error
		)
		if watched {
			ok, err = l.InsertWatchEvent(ctx, models.NewEpisodeWatch(userID, showID, ep, now))
		} else {
			ok, err = l.DeleteEpisodeWatch(ctx, userID, showID, ep)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update episode %s: %w", ep, err)
		}
		if ok {
			touched++
		}
	}

	removed, err := l.RemoveFromWatchlist(ctx, userID, models.Show(showID))
	if err != nil {
		return nil, fmt.Errorf("failed to remove from watchlist: %w", err)
	}

	dropped := keepDropped
	if watched {
		dropped = clearDropped
	}
	progress, err := c.progress.recomputeIn(ctx, l, userID, showID, total, dropped)
	if err != nil {
		return nil, err
	}

	clearedDrop := watched && snap.dropped != nil
	if touched == 0 && !removed && !clearedDrop {
		return nil, nil
	}

	var meta ActivityMeta
	if n := len(episodes); n > 0 {
		last := episodes[n-1]
		meta.Episode = &last
	}

	switch {
	case watched && progress.Status == models.StatusCompleted && before != models.StatusCompleted:
		return &pendingActivity{kind: models.ActivityCompletedShow, meta: meta}, nil
	case watched:
		return &pendingActivity{kind: models.ActivityWatchedEpisode, meta: meta}, nil
	default:
		return &pendingActivity{kind: models.ActivityUnwatchedEpisode, meta: meta}, nil
	}
}

// upsertWatchlist adds the entry or updates its priority. It reports whether
// anything changed.
func (c *TransitionController) upsertWatchlist(ctx context.Context, l *models.Ledger, userID string, ref models.MediaRef, entry *models.WatchlistEntry, priority models.Priority) (bool, error) {
	if entry == nil {
		created, err := l.AddToWatchlist(ctx, &models.WatchlistEntry{
			UserID:    userID,
			MediaType: ref.Type,
			MediaID:   ref.ID,
			Priority:  priority,
		})
		if err != nil {
			return false, fmt.Errorf("failed to add to watchlist: %w", err)
		}
		return created, nil
	}

	if priority == 0 || priority == entry.Priority {
		return false, nil
	}
	if err := l.UpdateWatchlistPriority(ctx, entry.ID, priority); err != nil {
		return false, fmt.Errorf("failed to update watchlist priority: %w", err)
	}
	return true, nil
}

// GetState returns the current state of a media item for a user
func (c *TransitionController) GetState(ctx context.Context, userID string, ref models.MediaRef) (*models.WatchState, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: invalid media reference %s", models.ErrInvalidTransition, ref)
	}

	state, err := c.readState(ctx, c.db.Ledger, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return state, nil
}

func (c *TransitionController) readState(ctx context.Context, l *models.Ledger, userID string, ref models.MediaRef) (*models.WatchState, error) {
	state := models.UnwatchedState(ref)

	entry, err := l.GetWatchlistEntry(ctx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	if entry != nil {
		state.InWatchlist = true
		state.Priority = entry.Priority
	}

	if !ref.IsShow() {
		latest, err := l.LatestMovieWatch(ctx, userID, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest watch: %w", err)
		}
		state.Status = movieStatus(entry, latest)
		if latest != nil {
			watchedAt := latest.WatchedAt
			state.WatchedAt = &watchedAt
			state.Rating = latest.Rating
		}
		return state, nil
	}

	progress, err := l.GetShowProgress(ctx, userID, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get show progress: %w", err)
	}
	events, err := l.ListEpisodeWatches(ctx, userID, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episode watches: %w", err)
	}

	for _, e := range events {
		if ep := e.EpisodeRef(); ep != nil {
			state.WatchedEpisodes = append(state.WatchedEpisodes, *ep)
		}
		if state.WatchedAt == nil || e.WatchedAt.After(*state.WatchedAt) {
			watchedAt := e.WatchedAt
			state.WatchedAt = &watchedAt
		}
	}

	if progress == nil {
		if entry != nil {
			state.Status = models.StatusPlanToWatch
		}
		return state, nil
	}

	state.Status = progress.Status
	state.WatchedEpisodeCount = models.IntPtr(progress.WatchedEpisodeCount)
	if progress.TotalEpisodes > 0 {
		state.TotalEpisodes = models.IntPtr(progress.TotalEpisodes)
	}
	state.LastWatchedEpisode = progress.LastWatched()
	return state, nil
}

// Watchlist returns a user's watchlist, newest first
func (c *TransitionController) Watchlist(ctx context.Context, userID string, mediaType models.MediaType) ([]*models.WatchlistEntry, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	entries, err := c.db.ListWatchlist(ctx, userID, mediaType, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return entries, nil
}

// History returns a user's most recent watch events
func (c *TransitionController) History(ctx context.Context, userID string, limit int) ([]*models.WatchEvent, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	events, err := c.db.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return events, nil
}

// Activities returns a user's most recent activities
func (c *TransitionController) Activities(ctx context.Context, userID string, limit int) ([]*models.ActivityEvent, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultActivitiesLimit
	}
	events, err := c.db.ListActivities(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return events, nil
}

// Stats returns raw counts for a user
func (c *TransitionController) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	if userID == "" {
		return nil, models.ErrNotAuthenticated
	}
	stats, err := c.db.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return stats, nil
}

// movieStatus derives a movie's status. A watchlist entry wins over history
// since every transition except plan_to_watch removes it.
func movieStatus(entry *models.WatchlistEntry, latest *models.WatchEvent) models.Status {
	switch {
	case entry != nil:
		return models.StatusPlanToWatch
	case latest != nil:
		return models.StatusWatched
	default:
		return models.StatusUnwatched
	}
}

func sameRating(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsEpisode(episodes []models.EpisodeRef, ep models.EpisodeRef) bool {
	for _, e := range episodes {
		if e == ep {
			return true
		}
	}
	return false
}

// uniqueEpisodes dedupes and sorts episodes by season then number
func uniqueEpisodes(episodes []models.EpisodeRef) []models.EpisodeRef {
	seen := make(map[models.EpisodeRef]bool, len(episodes))
	out := make([]models.EpisodeRef, 0, len(episodes))
	for _, ep := range episodes {
		if !seen[ep] {
			seen[ep] = true
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
