package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Database wraps the gorm connection to the ledger store
type Database struct {
	db *gorm.DB
	*Ledger
}

// NewDatabase opens the SQLite ledger at path. Write transactions are opened
// IMMEDIATE so that concurrent writers serialize on the database lock instead
// of failing on lock upgrade.
func NewDatabase(path string) (*Database, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db, Ledger: &Ledger{db: db}}, nil
}

// Migrate creates or updates the ledger tables
func (d *Database) Migrate() error {
	return d.db.AutoMigrate(
		&WatchlistEntry{},
		&WatchEvent{},
		&ShowProgress{},
		&ActivityEvent{},
	)
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a single database transaction. Every write made
// through the Ledger passed to fn commits or rolls back together.
func (d *Database) Transaction(ctx context.Context, fn func(l *Ledger) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Ledger{db: tx})
	})
}

// Ledger exposes the ledger operations, bound either to the root connection
// or to a transaction
type Ledger struct {
	db *gorm.DB
}

// Watchlist operations

// GetWatchlistEntry returns the watchlist entry for a media item, nil if absent
func (l *Ledger) GetWatchlistEntry(ctx context.Context, userID string, ref MediaRef) (*WatchlistEntry, error) {
	var entry WatchlistEntry
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, ref.Type, ref.ID).
		Limit(1).
		Find(&entry)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &entry, nil
}

// AddToWatchlist inserts a watchlist entry. An existing entry for the same
// user and media is left untouched and reported as not created.
func (l *Ledger) AddToWatchlist(ctx context.Context, entry *WatchlistEntry) (bool, error) {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	if !entry.Priority.Valid() {
		entry.Priority = PriorityNormal
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "media_type"}, {Name: "media_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateWatchlistPriority changes the priority of an entry
func (l *Ledger) UpdateWatchlistPriority(ctx context.Context, id uint64, priority Priority) error {
	return l.db.WithContext(ctx).
		Model(&WatchlistEntry{}).
		Where("id = ?", id).
		Update("priority", priority).Error
}

// RemoveFromWatchlist deletes the watchlist entry for a media item
func (l *Ledger) RemoveFromWatchlist(ctx context.Context, userID string, ref MediaRef) (bool, error) {
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, ref.Type, ref.ID).
		Delete(&WatchlistEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListWatchlist returns a user's watchlist, newest first. An empty mediaType
// returns every type; limit <= 0 means no limit.
func (l *Ledger) ListWatchlist(ctx context.Context, userID string, mediaType MediaType, limit int) ([]*WatchlistEntry, error) {
	query := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if mediaType != "" {
		query = query.Where("media_type = ?", mediaType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []*WatchlistEntry
	err := query.Order("added_at DESC").Order("id DESC").Find(&entries).Error
	return entries, err
}

// Watch event operations

// InsertWatchEvent appends a watch event. A duplicate episode event is a
// conflict resolved to a no-op and reported as not created.
func (l *Ledger) InsertWatchEvent(ctx context.Context, event *WatchEvent) (bool, error) {
	if event.WatchedAt.IsZero() {
		event.WatchedAt = time.Now().UTC()
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "media_type"}, {Name: "media_id"}, {Name: "season"}, {Name: "episode"},
			},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LatestMovieWatch returns the most recent watch of a movie, nil if never watched
func (l *Ledger) LatestMovieWatch(ctx context.Context, userID string, movieID int64) (*WatchEvent, error) {
	var event WatchEvent
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, MediaTypeMovie, movieID).
		Order("watched_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&event)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &event, nil
}

// SetWatchRating attaches or replaces the rating of a watch event
func (l *Ledger) SetWatchRating(ctx context.Context, id uint64, rating *int) error {
	return l.db.WithContext(ctx).
		Model(&WatchEvent{}).
		Where("id = ?", id).
		Update("rating", rating).Error
}

// DeleteWatchEvents deletes every watch event of a media item, including all
// episode events of a show
func (l *Ledger) DeleteWatchEvents(ctx context.Context, userID string, ref MediaRef) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, ref.Type, ref.ID).
		Delete(&WatchEvent{})
	return res.RowsAffected, res.Error
}

// EpisodeWatched reports whether an episode has a watch event
func (l *Ledger) EpisodeWatched(ctx context.Context, userID string, showID int64, ep EpisodeRef) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&WatchEvent{}).
		Where("user_id = ? AND media_type = ? AND media_id = ? AND season = ? AND episode = ?",
			userID, MediaTypeShow, showID, ep.Season, ep.Number).
		Count(&count).Error
	return count > 0, err
}

// DeleteEpisodeWatch deletes the watch event of a single episode
func (l *Ledger) DeleteEpisodeWatch(ctx context.Context, userID string, showID int64, ep EpisodeRef) (bool, error) {
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ? AND season = ? AND episode = ?",
			userID, MediaTypeShow, showID, ep.Season, ep.Number).
		Delete(&WatchEvent{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListEpisodeWatches returns the episode events of a show ordered by episode
func (l *Ledger) ListEpisodeWatches(ctx context.Context, userID string, showID int64) ([]*WatchEvent, error) {
	var events []*WatchEvent
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, MediaTypeShow, showID).
		Where("season IS NOT NULL AND episode IS NOT NULL").
		Order("season ASC").
		Order("episode ASC").
		Find(&events).Error
	return events, err
}

// ListHistory returns a user's watch events, most recent first
func (l *Ledger) ListHistory(ctx context.Context, userID string, limit int) ([]*WatchEvent, error) {
	query := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []*WatchEvent
	err := query.Order("watched_at DESC").Order("id DESC").Find(&events).Error
	return events, err
}

// Show progress operations

// GetShowProgress returns the stored progress of a show, nil if none
func (l *Ledger) GetShowProgress(ctx context.Context, userID string, showID int64) (*ShowProgress, error) {
	var progress ShowProgress
	res := l.db.WithContext(ctx).
		Where("user_id = ? AND show_id = ?", userID, showID).
		Limit(1).
		Find(&progress)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &progress, nil
}

// SaveShowProgress inserts or fully replaces the progress row of a show
func (l *Ledger) SaveShowProgress(ctx context.Context, progress *ShowProgress) error {
	progress.UpdatedAt = time.Now().UTC()
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "show_id"}},
			UpdateAll: true,
		}).
		Create(progress).Error
}

// DeleteShowProgress removes the progress row of a show
func (l *Ledger) DeleteShowProgress(ctx context.Context, userID string, showID int64) error {
	return l.db.WithContext(ctx).
		Where("user_id = ? AND show_id = ?", userID, showID).
		Delete(&ShowProgress{}).Error
}

// ListShowProgress returns stored progress rows; an empty userID returns the
// rows of every user
func (l *Ledger) ListShowProgress(ctx context.Context, userID string) ([]*ShowProgress, error) {
	query := l.db.WithContext(ctx)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var rows []*ShowProgress
	err := query.Order("user_id ASC").Order("show_id ASC").Find(&rows).Error
	return rows, err
}

// Activity operations

// AppendActivity writes an activity event
func (l *Ledger) AppendActivity(ctx context.Context, event *ActivityEvent) error {
	return l.db.WithContext(ctx).Create(event).Error
}

// ListActivities returns a user's activities, most recent first
func (l *Ledger) ListActivities(ctx context.Context, userID string, limit int) ([]*ActivityEvent, error) {
	query := l.db.WithContext(ctx).Where("user_id = ?", userID)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []*ActivityEvent
	err := query.Order("occurred_at DESC").Find(&events).Error
	return events, err
}

// Stats

// Stats returns raw counts for a user
func (l *Ledger) Stats(ctx context.Context, userID string) (*UserStats, error) {
	db := l.db.WithContext(ctx)
	stats := &UserStats{}

	if err := db.Model(&WatchEvent{}).
		Where("user_id = ? AND media_type = ?", userID, MediaTypeMovie).
		Distinct("media_id").
		Count(&stats.MoviesWatched).Error; err != nil {
		return nil, fmt.Errorf("failed to count movies: %w", err)
	}

	if err := db.Model(&WatchEvent{}).
		Where("user_id = ? AND media_type = ?", userID, MediaTypeShow).
		Count(&stats.EpisodesWatched).Error; err != nil {
		return nil, fmt.Errorf("failed to count episodes: %w", err)
	}

	if err := db.Model(&ShowProgress{}).
		Where("user_id = ? AND status = ?", userID, StatusCompleted).
		Count(&stats.ShowsCompleted).Error; err != nil {
		return nil, fmt.Errorf("failed to count completed shows: %w", err)
	}

	if err := db.Model(&ShowProgress{}).
		Where("user_id = ? AND status = ?", userID, StatusWatching).
		Count(&stats.ShowsWatching).Error; err != nil {
		return nil, fmt.Errorf("failed to count shows in progress: %w", err)
	}

	if err := db.Model(&WatchlistEntry{}).
		Where("user_id = ?", userID).
		Count(&stats.WatchlistSize).Error; err != nil {
		return nil, fmt.Errorf("failed to count watchlist: %w", err)
	}

	return stats, nil
}
