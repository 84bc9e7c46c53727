package models

import "fmt"

// transitionRule describes how a requested status may be reached
type transitionRule struct {
	from         []Status // nil means any state
	needsEpisode bool     // request must carry an episode ref
	derived      bool     // only valid if the aggregate yields this status
}

// occupiable lists the states each media type can be in
var occupiable = map[MediaType][]Status{
	MediaTypeMovie: {StatusUnwatched, StatusPlanToWatch, StatusWatched},
	MediaTypeShow:  {StatusUnwatched, StatusPlanToWatch, StatusWatching, StatusCompleted, StatusDropped},
}

// transitions is the requestable transition table per media type
var transitions = map[MediaType]map[Status]transitionRule{
	MediaTypeMovie: {
		StatusPlanToWatch: {},
		StatusWatched:     {},
		StatusUnwatched:   {},
	},
	MediaTypeShow: {
		StatusPlanToWatch: {},
		StatusDropped:     {},
		StatusUnwatched:   {},
		StatusWatching: {
			needsEpisode: true,
		},
		// Only closes out a show already in progress; a first or resumed
		// episode goes through watching and rolls over on its own
		StatusCompleted: {
			from:    []Status{StatusWatching, StatusCompleted},
			derived: true,
		},
	},
}

// ValidFor reports whether a media type can occupy the status
func (s Status) ValidFor(t MediaType) bool {
	for _, st := range occupiable[t] {
		if st == s {
			return true
		}
	}
	return false
}

// Statuses returns the states a media type can occupy
func Statuses(t MediaType) []Status {
	out := make([]Status, len(occupiable[t]))
	copy(out, occupiable[t])
	return out
}

// CheckTransition validates a requested status change against the transition
// table. An empty from skips the source state check, so requests can be
// rejected before the current state is loaded. Aggregate conditions are not
// checked here; see RequiresAggregate.
func CheckTransition(t MediaType, from, to Status, hasEpisode bool) error {
	rules, ok := transitions[t]
	if !ok {
		return fmt.Errorf("%w: unknown media type %q", ErrInvalidTransition, t)
	}

	rule, ok := rules[to]
	if !ok {
		return fmt.Errorf("%w: %s cannot be set to %q", ErrInvalidTransition, t, to)
	}

	if rule.from != nil && from != "" {
		allowed := false
		for _, s := range rule.from {
			if s == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, t, from, to)
		}
	}

	if rule.needsEpisode && !hasEpisode {
		return fmt.Errorf("%w: %s requires an episode", ErrInvalidTransition, to)
	}

	if hasEpisode && to != StatusWatching && to != StatusCompleted {
		return fmt.Errorf("%w: an episode cannot be attached to %s", ErrInvalidTransition, to)
	}

	return nil
}

// RequiresAggregate reports whether the requested status is only valid when
// the recomputed show progress actually lands on it
func RequiresAggregate(t MediaType, to Status) bool {
	return transitions[t][to].derived
}

// DeriveShowStatus applies the show status precedence: dropped, then a
// watchlist entry, then completion, then any progress
func DeriveShowStatus(watchedCount, totalEpisodes int, inWatchlist, dropped bool) Status {
	switch {
	case dropped:
		return StatusDropped
	case inWatchlist:
		return StatusPlanToWatch
	case totalEpisodes > 0 && watchedCount >= totalEpisodes:
		return StatusCompleted
	case watchedCount > 0:
		return StatusWatching
	default:
		return StatusUnwatched
	}
}
