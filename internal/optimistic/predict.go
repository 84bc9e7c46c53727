package optimistic

import (
	"sort"
	"time"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Predict guesses the state a transition will produce. The guess only has to
// be plausible: the authoritative state replaces it on success and the last
// confirmed state comes back on failure.
func Predict(current *models.WatchState, requested models.Status, opts models.TransitionOptions) *models.WatchState {
	next := current.Clone()

	switch requested {
	case models.StatusUnwatched:
		return models.UnwatchedState(current.Ref)

	case models.StatusPlanToWatch:
		next.Status = models.StatusPlanToWatch
		if !next.InWatchlist {
			next.Priority = models.PriorityNormal
		}
		next.InWatchlist = true
		if opts.Priority != 0 {
			next.Priority = opts.Priority
		}
		return next

	case models.StatusWatched:
		if current.Ref.IsShow() {
			return next
		}
		now := time.Now().UTC()
		next.Status = models.StatusWatched
		next.InWatchlist = false
		next.Priority = 0
		next.WatchedAt = &now
		if opts.Rating != nil {
			next.Rating = opts.Rating
		}
		return next

	case models.StatusDropped:
		if !current.Ref.IsShow() {
			return next
		}
		next.Status = models.StatusDropped
		next.InWatchlist = false
		next.Priority = 0
		return next

	case models.StatusWatching, models.StatusCompleted:
		if !current.Ref.IsShow() {
			return next
		}
		if opts.Episode != nil {
			next = withEpisode(next, *opts.Episode, true)
		}
		next.InWatchlist = false
		next.Priority = 0
		if requested == models.StatusCompleted {
			next.Status = models.StatusCompleted
		} else {
			next.Status = deriveShow(next)
		}
		return next
	}

	return next
}

// PredictToggle guesses the state after toggling one episode
func PredictToggle(current *models.WatchState, ep models.EpisodeRef) *models.WatchState {
	return PredictEpisodes(current, []models.EpisodeRef{ep}, !current.HasEpisode(ep))
}

// PredictEpisodes guesses the state after marking or unmarking a batch of
// episodes. Any episode change takes the show off the watchlist.
func PredictEpisodes(current *models.WatchState, episodes []models.EpisodeRef, watched bool) *models.WatchState {
	next := current.Clone()
	for _, ep := range episodes {
		next = withEpisode(next, ep, watched)
	}
	next.InWatchlist = false
	next.Priority = 0
	if watched && len(episodes) > 0 && next.Status == models.StatusDropped {
		next.Status = models.StatusWatching
	}
	if next.Status != models.StatusDropped {
		next.Status = deriveShow(next)
	}
	return next
}

func withEpisode(state *models.WatchState, ep models.EpisodeRef, watched bool) *models.WatchState {
	episodes := make([]models.EpisodeRef, 0, len(state.WatchedEpisodes)+1)
	for _, e := range state.WatchedEpisodes {
		if e != ep {
			episodes = append(episodes, e)
		}
	}
	if watched {
		episodes = append(episodes, ep)
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Less(episodes[j]) })

	state.WatchedEpisodes = episodes
	state.WatchedEpisodeCount = models.IntPtr(len(episodes))
	state.LastWatchedEpisode = nil
	if n := len(episodes); n > 0 {
		last := episodes[n-1]
		state.LastWatchedEpisode = &last
	}
	return state
}

func deriveShow(state *models.WatchState) models.Status {
	total := 0
	if state.TotalEpisodes != nil {
		total = *state.TotalEpisodes
	}
	return models.DeriveShowStatus(len(state.WatchedEpisodes), total, state.InWatchlist, false)
}
