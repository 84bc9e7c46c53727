package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaType represents the type of media (movie or show)
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// Valid reports whether the media type is part of the vocabulary
func (t MediaType) Valid() bool {
	return t == MediaTypeMovie || t == MediaTypeShow
}

// ParseMediaType parses "movie", "show" and the catalog alias "tv"
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return MediaTypeMovie, nil
	case "show", "shows", "tv":
		return MediaTypeShow, nil
	default:
		return "", fmt.Errorf("unknown media type %q", s)
	}
}

// Status represents a watch state of a media item for a user
type Status string

const (
	StatusUnwatched   Status = "unwatched"
	StatusPlanToWatch Status = "plan_to_watch"
	StatusWatching    Status = "watching"  // shows only
	StatusWatched     Status = "watched"   // movies only
	StatusCompleted   Status = "completed" // shows only
	StatusDropped     Status = "dropped"   // shows only
)

// Priority represents the watchlist priority of an entry
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Valid reports whether the priority is one of the three known tiers
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ActivityKind represents the kind of a recorded activity
type ActivityKind string

const (
	ActivityWatchlistAdd     ActivityKind = "watchlist_add"
	ActivityWatchlistRemove  ActivityKind = "watchlist_remove"
	ActivityWatchedMovie     ActivityKind = "watched_movie"
	ActivityWatchedEpisode   ActivityKind = "watched_episode"
	ActivityUnwatchedEpisode ActivityKind = "unwatched_episode"
	ActivityCompletedShow    ActivityKind = "completed_show"
	ActivityDroppedShow      ActivityKind = "dropped_show"
	ActivityUnwatched        ActivityKind = "unwatched"
	ActivityRated            ActivityKind = "rated"
)

// MediaRef identifies one piece of content in the catalog
type MediaRef struct {
	Type MediaType `json:"type"`
	ID   int64     `json:"id"`
}

// Movie returns a reference to a movie
func Movie(id int64) MediaRef {
	return MediaRef{Type: MediaTypeMovie, ID: id}
}

// Show returns a reference to a show
func Show(id int64) MediaRef {
	return MediaRef{Type: MediaTypeShow, ID: id}
}

// IsShow reports whether the reference points at a show
func (r MediaRef) IsShow() bool {
	return r.Type == MediaTypeShow
}

// Valid reports whether the reference has a known type and a positive id
func (r MediaRef) Valid() bool {
	return r.Type.Valid() && r.ID > 0
}

// Key returns the stable string key, e.g. "show:1399"
func (r MediaRef) Key() string {
	return string(r.Type) + ":" + strconv.FormatInt(r.ID, 10)
}

func (r MediaRef) String() string {
	return r.Key()
}

// EpisodeRef identifies an episode of a show by season and episode number.
// Season 0 holds specials.
type EpisodeRef struct {
	Season int `json:"season" validate:"min=0"`
	Number int `json:"number" validate:"min=1"`
}

// Valid reports whether the episode reference is well formed
func (e EpisodeRef) Valid() bool {
	return e.Season >= 0 && e.Number >= 1
}

// Less orders episodes by season then number
func (e EpisodeRef) Less(o EpisodeRef) bool {
	if e.Season != o.Season {
		return e.Season < o.Season
	}
	return e.Number < o.Number
}

func (e EpisodeRef) String() string {
	return fmt.Sprintf("S%02dE%02d", e.Season, e.Number)
}
