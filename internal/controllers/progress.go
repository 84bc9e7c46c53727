package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/metrics"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Catalog resolves catalog metadata of media items
type Catalog interface {
	ResolveMedia(ctx context.Context, ref models.MediaRef) (*models.CatalogEntry, error)
}

// droppedChange tells a recompute what to do with the authored dropped flag
type droppedChange int

const (
	keepDropped droppedChange = iota
	setDropped
	clearDropped
)

// ProgressController derives show progress from episode watch events
type ProgressController struct {
	db      *models.Database
	catalog Catalog
	locks   *KeyedLocker
	logger  *logrus.Logger
}

// NewProgressController creates a new progress controller
func NewProgressController(db *models.Database, catalog Catalog, locks *KeyedLocker, logger *logrus.Logger) *ProgressController {
	return &ProgressController{
		db:      db,
		catalog: catalog,
		locks:   locks,
		logger:  logger,
	}
}

// showSnapshot is everything the derivation reads for one show
type showSnapshot struct {
	userID  string
	showID  int64
	events  []*models.WatchEvent
	entry   *models.WatchlistEntry
	stored  *models.ShowProgress
	dropped *time.Time
}

func (c *ProgressController) load(ctx context.Context, l *models.Ledger, userID string, showID int64) (*showSnapshot, error) {
	events, err := l.ListEpisodeWatches(ctx, userID, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episode watches: %w", err)
	}
	entry, err := l.GetWatchlistEntry(ctx, userID, models.Show(showID))
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	stored, err := l.GetShowProgress(ctx, userID, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to get show progress: %w", err)
	}

	snap := &showSnapshot{userID: userID, showID: showID, events: events, entry: entry, stored: stored}
	if stored != nil {
		snap.dropped = stored.DroppedAt
	}
	return snap, nil
}

// total picks the catalog total, falling back to the last stored one
func (s *showSnapshot) total(catalogTotal int) int {
	if catalogTotal > 0 {
		return catalogTotal
	}
	if s.stored != nil {
		return s.stored.TotalEpisodes
	}
	return 0
}

// episodes returns the distinct watched episodes in season/number order
func (s *showSnapshot) episodes() []models.EpisodeRef {
	seen := make(map[models.EpisodeRef]bool, len(s.events))
	out := make([]models.EpisodeRef, 0, len(s.events))
	for _, e := range s.events {
		ep := e.EpisodeRef()
		if ep == nil || seen[*ep] {
			continue
		}
		seen[*ep] = true
		out = append(out, *ep)
	}
	return out
}

func (s *showSnapshot) status(catalogTotal int) models.Status {
	return models.DeriveShowStatus(len(s.episodes()), s.total(catalogTotal), s.entry != nil, s.dropped != nil)
}

// ResolveTotal returns the catalog episode total of a show, 0 when the
// catalog does not know it or cannot be reached
func (c *ProgressController) ResolveTotal(ctx context.Context, showID int64) int {
	if c.catalog == nil {
		return 0
	}

	entry, err := c.catalog.ResolveMedia(ctx, models.Show(showID))
	if err != nil {
		c.logger.WithError(err).WithField("show_id", showID).Warn("Failed to resolve episode total, using stored value")
		return 0
	}
	return entry.EpisodeTotal()
}

// Recompute re-derives the progress of a show in its own transaction
func (c *ProgressController) Recompute(ctx context.Context, userID string, showID int64) (*models.ShowProgress, error) {
	total := c.ResolveTotal(ctx, showID)

	unlock := c.locks.Lock(lockKey(userID, models.Show(showID)))
	defer unlock()

	var progress *models.ShowProgress
	err := c.db.Transaction(ctx, func(l *models.Ledger) error {
		var err error
		progress, err = c.recomputeIn(ctx, l, userID, showID, total, keepDropped)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return progress, nil
}

// recomputeIn rewrites the progress row of a show from the watch events
// visible to l. The row is deleted when nothing is left to store.
func (c *ProgressController) recomputeIn(ctx context.Context, l *models.Ledger, userID string, showID int64, catalogTotal int, dropped droppedChange) (*models.ShowProgress, error) {
	snap, err := c.load(ctx, l, userID, showID)
	if err != nil {
		return nil, err
	}

	switch dropped {
	case setDropped:
		if snap.dropped == nil {
			now := time.Now().UTC()
			snap.dropped = &now
		}
	case clearDropped:
		snap.dropped = nil
	}

	episodes := snap.episodes()
	progress := &models.ShowProgress{
		UserID:              userID,
		ShowID:              showID,
		Status:              snap.status(catalogTotal),
		WatchedEpisodeCount: len(episodes),
		TotalEpisodes:       snap.total(catalogTotal),
		DroppedAt:           snap.dropped,
	}
	if n := len(episodes); n > 0 {
		last := episodes[n-1]
		progress.LastWatchedSeason = &last.Season
		progress.LastWatchedEpisode = &last.Number
	}

	if progress.IsZero() {
		if snap.stored != nil {
			if err := l.DeleteShowProgress(ctx, userID, showID); err != nil {
				return nil, fmt.Errorf("failed to delete show progress: %w", err)
			}
		}
		return progress, nil
	}

	if err := l.SaveShowProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("failed to save show progress: %w", err)
	}
	return progress, nil
}

// ReconcileAll re-derives every stored show progress against fresh catalog
// totals and returns how many rows changed status
func (c *ProgressController) ReconcileAll(ctx context.Context) (int, error) {
	c.logger.Info("Starting show progress reconciliation")

	rows, err := c.db.ListShowProgress(ctx, "")
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%w: failed to list show progress: %w", models.ErrStoreUnavailable, err)
	}

	totals := make(map[int64]int)
	changed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			metrics.ReconcileRuns.WithLabelValues("cancelled").Inc()
			return changed, err
		}

		total, ok := totals[row.ShowID]
		if !ok {
			total = c.ResolveTotal(ctx, row.ShowID)
			totals[row.ShowID] = total
		}

		progress, err := c.reconcileOne(ctx, row.UserID, row.ShowID, total)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": row.UserID,
				"show_id": row.ShowID,
			}).Error("Failed to reconcile show progress")
			continue
		}

		if progress.Status != row.Status {
			changed++
			c.logger.WithFields(logrus.Fields{
				"user_id":    row.UserID,
				"show_id":    row.ShowID,
				"old_status": row.Status,
				"new_status": progress.Status,
			}).Info("Show status changed on reconcile")
		}
	}

	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	c.logger.WithFields(logrus.Fields{
		"shows":   len(rows),
		"changed": changed,
	}).Info("Show progress reconciliation completed")

	return changed, nil
}

func (c *ProgressController) reconcileOne(ctx context.Context, userID string, showID int64, total int) (*models.ShowProgress, error) {
	unlock := c.locks.Lock(lockKey(userID, models.Show(showID)))
	defer unlock()

	var progress *models.ShowProgress
	err := c.db.Transaction(ctx, func(l *models.Ledger) error {
		var err error
		progress, err = c.recomputeIn(ctx, l, userID, showID, total, keepDropped)
		return err
	})
	return progress, err
}
