package models

import "time"

// WatchlistEntry represents a user's intent to watch something later
type WatchlistEntry struct {
	ID        uint64    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_watchlist_user_media,priority:1"`
	MediaType MediaType `gorm:"not null;uniqueIndex:idx_watchlist_user_media,priority:2"`
	MediaID   int64     `gorm:"not null;uniqueIndex:idx_watchlist_user_media,priority:3"`
	Priority  Priority  `gorm:"not null;default:2"`
	AddedAt   time.Time `gorm:"not null;index"`
}

// TableName overrides the gorm table name
func (WatchlistEntry) TableName() string { return "watchlist_entries" }

// Ref returns the media reference of the entry
func (w *WatchlistEntry) Ref() MediaRef {
	return MediaRef{Type: w.MediaType, ID: w.MediaID}
}

// WatchEvent is the immutable fact that a user watched a movie or an episode.
// Movie events leave Season and Episode nil; NULLs are distinct in the unique
// index so movie re-watches append freely while episodes stay unique.
type WatchEvent struct {
	ID        uint64    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_watch_event_episode,priority:1;index:idx_watch_event_media,priority:1"`
	MediaType MediaType `gorm:"not null;uniqueIndex:idx_watch_event_episode,priority:2;index:idx_watch_event_media,priority:2"`
	MediaID   int64     `gorm:"not null;uniqueIndex:idx_watch_event_episode,priority:3;index:idx_watch_event_media,priority:3"`
	Season    *int      `gorm:"uniqueIndex:idx_watch_event_episode,priority:4"`
	Episode   *int      `gorm:"uniqueIndex:idx_watch_event_episode,priority:5"`
	Rating    *int
	WatchedAt time.Time `gorm:"not null;index"`
}

// TableName overrides the gorm table name
func (WatchEvent) TableName() string { return "watch_events" }

// Ref returns the media reference of the event
func (e *WatchEvent) Ref() MediaRef {
	return MediaRef{Type: e.MediaType, ID: e.MediaID}
}

// EpisodeRef returns the episode of the event, nil for movies
func (e *WatchEvent) EpisodeRef() *EpisodeRef {
	if e.Season == nil || e.Episode == nil {
		return nil
	}
	return &EpisodeRef{Season: *e.Season, Number: *e.Episode}
}

// NewMovieWatch builds a movie watch event
func NewMovieWatch(userID string, movieID int64, rating *int, at time.Time) *WatchEvent {
	return &WatchEvent{
		UserID:    userID,
		MediaType: MediaTypeMovie,
		MediaID:   movieID,
		Rating:    rating,
		WatchedAt: at,
	}
}

// NewEpisodeWatch builds an episode watch event
func NewEpisodeWatch(userID string, showID int64, ep EpisodeRef, at time.Time) *WatchEvent {
	season, number := ep.Season, ep.Number
	return &WatchEvent{
		UserID:    userID,
		MediaType: MediaTypeShow,
		MediaID:   showID,
		Season:    &season,
		Episode:   &number,
		WatchedAt: at,
	}
}

// ShowProgress is the derived aggregate of a user's episode watches for a
// show. Only DroppedAt is authored; everything else is recomputed.
type ShowProgress struct {
	UserID              string `gorm:"primaryKey"`
	ShowID              int64  `gorm:"primaryKey;autoIncrement:false"`
	Status              Status `gorm:"not null;index"`
	WatchedEpisodeCount int    `gorm:"not null;default:0"`
	TotalEpisodes       int    `gorm:"not null;default:0"`
	LastWatchedSeason   *int
	LastWatchedEpisode  *int
	DroppedAt           *time.Time
	UpdatedAt           time.Time
}

// TableName overrides the gorm table name
func (ShowProgress) TableName() string { return "show_progress" }

// LastWatched returns the last watched episode, nil if none
func (p *ShowProgress) LastWatched() *EpisodeRef {
	if p.LastWatchedSeason == nil || p.LastWatchedEpisode == nil {
		return nil
	}
	return &EpisodeRef{Season: *p.LastWatchedSeason, Number: *p.LastWatchedEpisode}
}

// IsZero reports whether the progress carries no information worth storing
func (p *ShowProgress) IsZero() bool {
	return p.WatchedEpisodeCount == 0 && p.DroppedAt == nil
}

// ActivityEvent is an append-only log entry written once per successful
// transition
type ActivityEvent struct {
	ID         string       `gorm:"primaryKey"`
	UserID     string       `gorm:"not null;index:idx_activity_user_time,priority:1"`
	Kind       ActivityKind `gorm:"not null"`
	MediaType  MediaType    `gorm:"not null"`
	MediaID    int64        `gorm:"not null"`
	Season     *int
	Episode    *int
	Rating     *int
	OccurredAt time.Time `gorm:"not null;index:idx_activity_user_time,priority:2"`
}

// TableName overrides the gorm table name
func (ActivityEvent) TableName() string { return "activity_events" }

// Ref returns the media reference of the activity
func (a *ActivityEvent) Ref() MediaRef {
	return MediaRef{Type: a.MediaType, ID: a.MediaID}
}

// UserStats holds raw per-user counts
type UserStats struct {
	MoviesWatched   int64 `json:"movies_watched"`
	ShowsCompleted  int64 `json:"shows_completed"`
	ShowsWatching   int64 `json:"shows_watching"`
	EpisodesWatched int64 `json:"episodes_watched"`
	WatchlistSize   int64 `json:"watchlist_size"`
}
