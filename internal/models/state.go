package models

import "time"

// TransitionOptions carries the optional parts of a transition request
type TransitionOptions struct {
	Rating   *int        `json:"rating,omitempty" validate:"omitempty,min=1,max=10"`
	Episode  *EpisodeRef `json:"episode,omitempty"`
	Priority Priority    `json:"priority,omitempty" validate:"omitempty,min=1,max=3"`
}

// Validate checks the option values, independent of the requested status
func (o TransitionOptions) Validate() error {
	if o.Rating != nil && (*o.Rating < 1 || *o.Rating > 10) {
		return ErrInvalidTransition
	}
	if o.Priority != 0 && !o.Priority.Valid() {
		return ErrInvalidTransition
	}
	if o.Episode != nil && !o.Episode.Valid() {
		return ErrInvalidTransition
	}
	return nil
}

// WatchState is the state of one media item for one user as the server
// derives it
type WatchState struct {
	Ref         MediaRef   `json:"ref"`
	Status      Status     `json:"status"`
	InWatchlist bool       `json:"in_watchlist"`
	Priority    Priority   `json:"priority,omitempty"`
	Rating      *int       `json:"rating,omitempty"`
	WatchedAt   *time.Time `json:"watched_at,omitempty"`

	// Shows only
	WatchedEpisodeCount *int         `json:"watched_episode_count,omitempty"`
	TotalEpisodes       *int         `json:"total_episodes,omitempty"`
	LastWatchedEpisode  *EpisodeRef  `json:"last_watched_episode,omitempty"`
	WatchedEpisodes     []EpisodeRef `json:"watched_episodes,omitempty"`
}

// Clone returns a deep copy of the state
func (s *WatchState) Clone() *WatchState {
	if s == nil {
		return nil
	}
	out := *s
	out.Rating = cloneInt(s.Rating)
	out.WatchedEpisodeCount = cloneInt(s.WatchedEpisodeCount)
	out.TotalEpisodes = cloneInt(s.TotalEpisodes)
	if s.WatchedAt != nil {
		t := *s.WatchedAt
		out.WatchedAt = &t
	}
	if s.LastWatchedEpisode != nil {
		ep := *s.LastWatchedEpisode
		out.LastWatchedEpisode = &ep
	}
	if s.WatchedEpisodes != nil {
		out.WatchedEpisodes = append([]EpisodeRef(nil), s.WatchedEpisodes...)
	}
	return &out
}

// HasEpisode reports whether the episode is in the watched set
func (s *WatchState) HasEpisode(ep EpisodeRef) bool {
	for _, e := range s.WatchedEpisodes {
		if e == ep {
			return true
		}
	}
	return false
}

// UnwatchedState returns the zero state of a media item
func UnwatchedState(ref MediaRef) *WatchState {
	state := &WatchState{Ref: ref, Status: StatusUnwatched}
	if ref.IsShow() {
		zero := 0
		state.WatchedEpisodeCount = &zero
	}
	return state
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
