package controllers

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

const user = "user-1"

func TestMovieWatchedWithRating(t *testing.T) {
	env := setupTestEnv(t)
	movie := models.Movie(603)

	state := env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{})
	if state.Status != models.StatusPlanToWatch || !state.InWatchlist {
		t.Fatalf("expected plan_to_watch in watchlist, got %+v", state)
	}

	state = env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(9)})
	if state.Status != models.StatusWatched {
		t.Errorf("expected watched, got %s", state.Status)
	}
	if state.InWatchlist {
		t.Error("watched movie must leave the watchlist")
	}
	if state.Rating == nil || *state.Rating != 9 {
		t.Errorf("expected rating 9, got %v", state.Rating)
	}

	history, err := env.transition.History(context.Background(), user, 0)
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(history) != 1 || history[0].Rating == nil || *history[0].Rating != 9 {
		t.Fatalf("expected one watch event rated 9, got %+v", history)
	}

	kinds := env.activityKinds(t, user)
	if kinds[models.ActivityWatchlistAdd] != 1 || kinds[models.ActivityWatchedMovie] != 1 {
		t.Errorf("unexpected activities %v", kinds)
	}

	events, _ := env.db.ListActivities(context.Background(), user, 0)
	for _, ev := range events {
		if ev.Kind == models.ActivityWatchedMovie && (ev.Rating == nil || *ev.Rating != 9) {
			t.Errorf("watched_movie activity should carry the rating, got %v", ev.Rating)
		}
	}
}

func TestMovieWatchedIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	movie := models.Movie(603)

	env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(7)})
	env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{})
	env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(7)})

	history, _ := env.transition.History(context.Background(), user, 0)
	if len(history) != 1 {
		t.Fatalf("repeated watched must not append events, got %d", len(history))
	}
	if n := env.activityCount(t, user); n != 1 {
		t.Fatalf("no-ops must not emit activities, got %d", n)
	}

	t.Run("new rating updates the latest watch", func(t *testing.T) {
		state := env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(10)})
		if state.Rating == nil || *state.Rating != 10 {
			t.Errorf("expected rating 10, got %v", state.Rating)
		}
		history, _ := env.transition.History(context.Background(), user, 0)
		if len(history) != 1 {
			t.Errorf("re-rating must not append events, got %d", len(history))
		}
		if kinds := env.activityKinds(t, user); kinds[models.ActivityRated] != 1 {
			t.Errorf("expected one rated activity, got %v", kinds)
		}
	})
}

func TestMovieRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	movie := models.Movie(27205)

	env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{})
	state := env.apply(t, user, movie, models.StatusUnwatched, models.TransitionOptions{})

	if state.Status != models.StatusUnwatched || state.InWatchlist || state.WatchedAt != nil {
		t.Errorf("expected clean unwatched state, got %+v", state)
	}
	history, _ := env.transition.History(context.Background(), user, 0)
	if len(history) != 0 {
		t.Errorf("unwatched must delete watch events, got %d", len(history))
	}

	// Nothing left to delete
	env.apply(t, user, movie, models.StatusUnwatched, models.TransitionOptions{})

	kinds := env.activityKinds(t, user)
	if kinds[models.ActivityWatchedMovie] != 1 || kinds[models.ActivityUnwatched] != 1 || len(kinds) != 2 {
		t.Errorf("unexpected activities %v", kinds)
	}
}

func TestPlanToWatchKeepsHistory(t *testing.T) {
	env := setupTestEnv(t)
	movie := models.Movie(603)

	env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{})
	state := env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{Priority: models.PriorityHigh})

	if state.Status != models.StatusPlanToWatch || state.Priority != models.PriorityHigh {
		t.Errorf("expected high priority plan_to_watch, got %+v", state)
	}
	if state.WatchedAt == nil {
		t.Error("history must survive a watchlist add")
	}

	t.Run("same priority is a no-op", func(t *testing.T) {
		before := env.activityCount(t, user)
		env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{Priority: models.PriorityHigh})
		env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{})
		if after := env.activityCount(t, user); after != before {
			t.Errorf("expected no new activity, got %d -> %d", before, after)
		}
	})

	t.Run("priority change updates the entry", func(t *testing.T) {
		state := env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{Priority: models.PriorityLow})
		if state.Priority != models.PriorityLow {
			t.Errorf("expected low priority, got %d", state.Priority)
		}
	})

	t.Run("rewatch appends", func(t *testing.T) {
		env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{})
		history, _ := env.transition.History(context.Background(), user, 0)
		if len(history) != 2 {
			t.Errorf("expected two watch events after rewatch, got %d", len(history))
		}
	})
}

func TestInvalidTransitions(t *testing.T) {
	env := setupTestEnv(t)
	env.catalog.setTotal(1399, 10)

	cases := []struct {
		name   string
		ref    models.MediaRef
		status models.Status
		opts   models.TransitionOptions
	}{
		{"movie watching", models.Movie(1), models.StatusWatching, models.TransitionOptions{}},
		{"movie completed", models.Movie(1), models.StatusCompleted, models.TransitionOptions{}},
		{"movie dropped", models.Movie(1), models.StatusDropped, models.TransitionOptions{}},
		{"movie with episode", models.Movie(1), models.StatusWatched, models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 1}}},
		{"show watched", models.Show(1399), models.StatusWatched, models.TransitionOptions{}},
		{"show watching without episode", models.Show(1399), models.StatusWatching, models.TransitionOptions{}},
		{"show dropped with episode", models.Show(1399), models.StatusDropped, models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 1}}},
		{"unknown status", models.Movie(1), models.Status("paused"), models.TransitionOptions{}},
		{"rating out of range", models.Movie(1), models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(11)}},
		{"rating on show", models.Show(1399), models.StatusPlanToWatch, models.TransitionOptions{Rating: models.IntPtr(5)}},
		{"priority without watchlist", models.Movie(1), models.StatusWatched, models.TransitionOptions{Priority: models.PriorityHigh}},
		{"invalid ref", models.Movie(0), models.StatusWatched, models.TransitionOptions{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.transition.ApplyTransition(context.Background(), user, tc.ref, tc.status, tc.opts)
			expectKind(t, err, models.ErrInvalidTransition)
		})
	}

	if n := env.activityCount(t, user); n != 0 {
		t.Errorf("rejected transitions must not emit, got %d", n)
	}
}

func TestNotAuthenticated(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.transition.ApplyTransition(ctx, "", models.Movie(1), models.StatusWatched, models.TransitionOptions{})
	expectKind(t, err, models.ErrNotAuthenticated)

	_, err = env.transition.ToggleEpisode(ctx, "", 1, models.EpisodeRef{Season: 1, Number: 1})
	expectKind(t, err, models.ErrNotAuthenticated)

	_, err = env.transition.GetState(ctx, "", models.Movie(1))
	expectKind(t, err, models.ErrNotAuthenticated)

	_, err = env.transition.Stats(ctx, "")
	expectKind(t, err, models.ErrNotAuthenticated)
}

func TestShowCompletionScenario(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1396
	env.catalog.setTotal(showID, 62)

	var episodes []models.EpisodeRef
	episodes = append(episodes, episodeRange(1, 1, 7)...)
	episodes = append(episodes, episodeRange(2, 1, 13)...)
	episodes = append(episodes, episodeRange(3, 1, 13)...)
	episodes = append(episodes, episodeRange(4, 1, 13)...)
	episodes = append(episodes, episodeRange(5, 1, 16)...)

	last := episodes[len(episodes)-1]
	state, err := env.transition.SetEpisodes(context.Background(), user, showID, episodes[:len(episodes)-1], true)
	if err != nil {
		t.Fatalf("failed to set episodes: %v", err)
	}
	if state.Status != models.StatusWatching || *state.WatchedEpisodeCount != 61 {
		t.Fatalf("expected watching with 61 episodes, got %s %v", state.Status, *state.WatchedEpisodeCount)
	}

	t.Run("completed is rejected one episode short", func(t *testing.T) {
		_, err := env.transition.ApplyTransition(context.Background(), user, models.Show(showID), models.StatusCompleted, models.TransitionOptions{})
		expectKind(t, err, models.ErrInvalidTransition)
	})

	state, err = env.transition.ToggleEpisode(context.Background(), user, showID, last)
	if err != nil {
		t.Fatalf("failed to toggle final episode: %v", err)
	}
	if state.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", state.Status)
	}
	if *state.WatchedEpisodeCount != 62 || *state.TotalEpisodes != 62 {
		t.Errorf("expected 62/62, got %d/%d", *state.WatchedEpisodeCount, *state.TotalEpisodes)
	}
	if state.LastWatchedEpisode == nil || *state.LastWatchedEpisode != last {
		t.Errorf("expected last watched %s, got %v", last, state.LastWatchedEpisode)
	}

	kinds := env.activityKinds(t, user)
	if kinds[models.ActivityWatchedEpisode] != 1 || kinds[models.ActivityCompletedShow] != 1 {
		t.Errorf("expected one bulk watch and one completion, got %v", kinds)
	}

	t.Run("completed on a completed show is a no-op", func(t *testing.T) {
		before := env.activityCount(t, user)
		state := env.apply(t, user, models.Show(showID), models.StatusCompleted, models.TransitionOptions{})
		if state.Status != models.StatusCompleted {
			t.Errorf("expected completed, got %s", state.Status)
		}
		if after := env.activityCount(t, user); after != before {
			t.Errorf("expected no activity, got %d -> %d", before, after)
		}
	})

	t.Run("untoggling reopens the show", func(t *testing.T) {
		state, err := env.transition.ToggleEpisode(context.Background(), user, showID, last)
		if err != nil {
			t.Fatalf("toggle failed: %v", err)
		}
		if state.Status != models.StatusWatching || *state.WatchedEpisodeCount != 61 {
			t.Errorf("expected watching 61, got %s %d", state.Status, *state.WatchedEpisodeCount)
		}
	})
}

func TestDirectCompletedRejected(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 10)

	if _, err := env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 1, 3), true); err != nil {
		t.Fatalf("failed to set episodes: %v", err)
	}
	before := env.activityCount(t, user)

	_, err := env.transition.ApplyTransition(context.Background(), user, models.Show(showID), models.StatusCompleted,
		models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 4}})
	expectKind(t, err, models.ErrInvalidTransition)

	state, _ := env.transition.GetState(context.Background(), user, models.Show(showID))
	if *state.WatchedEpisodeCount != 3 {
		t.Errorf("rejected completion must not record its episode, got %d", *state.WatchedEpisodeCount)
	}
	if after := env.activityCount(t, user); after != before {
		t.Errorf("rejected completion must not emit, got %d -> %d", before, after)
	}

	t.Run("unknown total", func(t *testing.T) {
		_, err := env.transition.ApplyTransition(context.Background(), user, models.Show(42), models.StatusCompleted, models.TransitionOptions{})
		expectKind(t, err, models.ErrInvalidTransition)
	})

	t.Run("completed from the watchlist", func(t *testing.T) {
		env.catalog.setTotal(8, 1)
		env.apply(t, user, models.Show(8), models.StatusPlanToWatch, models.TransitionOptions{})
		_, err := env.transition.ApplyTransition(context.Background(), user, models.Show(8), models.StatusCompleted,
			models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 1}})
		expectKind(t, err, models.ErrInvalidTransition)

		state, _ := env.transition.GetState(context.Background(), user, models.Show(8))
		if state.Status != models.StatusPlanToWatch || !state.InWatchlist {
			t.Errorf("rejected completion must keep the watchlist entry, got %+v", state)
		}
	})

	t.Run("completing with the final episode", func(t *testing.T) {
		env.catalog.setTotal(7, 2)
		env.apply(t, user, models.Show(7), models.StatusWatching, models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 1}})
		state := env.apply(t, user, models.Show(7), models.StatusCompleted, models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 2}})
		if state.Status != models.StatusCompleted {
			t.Errorf("expected completed, got %s", state.Status)
		}
	})
}

func TestShowDroppedAndResumed(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 60625
	env.catalog.setTotal(showID, 20)
	show := models.Show(showID)

	env.apply(t, user, show, models.StatusPlanToWatch, models.TransitionOptions{})
	env.apply(t, user, show, models.StatusWatching, models.TransitionOptions{Episode: &models.EpisodeRef{Season: 1, Number: 1}})

	state := env.apply(t, user, show, models.StatusDropped, models.TransitionOptions{})
	if state.Status != models.StatusDropped || state.InWatchlist {
		t.Fatalf("expected dropped outside the watchlist, got %+v", state)
	}
	if *state.WatchedEpisodeCount != 1 {
		t.Errorf("dropping must keep episode history, got %d", *state.WatchedEpisodeCount)
	}

	// Dropping twice changes nothing
	env.apply(t, user, show, models.StatusDropped, models.TransitionOptions{})

	state, err := env.transition.ToggleEpisode(context.Background(), user, showID, models.EpisodeRef{Season: 1, Number: 2})
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if state.Status != models.StatusWatching {
		t.Errorf("watching an episode must clear dropped, got %s", state.Status)
	}

	kinds := env.activityKinds(t, user)
	if kinds[models.ActivityDroppedShow] != 1 || kinds[models.ActivityWatchedEpisode] != 2 {
		t.Errorf("unexpected activities %v", kinds)
	}

	t.Run("plan_to_watch clears dropped", func(t *testing.T) {
		env.apply(t, user, show, models.StatusDropped, models.TransitionOptions{})
		state := env.apply(t, user, show, models.StatusPlanToWatch, models.TransitionOptions{})
		if state.Status != models.StatusPlanToWatch || *state.WatchedEpisodeCount != 2 {
			t.Errorf("expected plan_to_watch keeping 2 episodes, got %s %v", state.Status, state.WatchedEpisodeCount)
		}
	})
}

func TestShowUnwatchedResets(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 10)
	show := models.Show(showID)

	env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 1, 5), true)
	env.apply(t, user, show, models.StatusDropped, models.TransitionOptions{})

	state := env.apply(t, user, show, models.StatusUnwatched, models.TransitionOptions{})
	if state.Status != models.StatusUnwatched || *state.WatchedEpisodeCount != 0 || len(state.WatchedEpisodes) != 0 {
		t.Errorf("expected zero state, got %+v", state)
	}

	progress, err := env.db.GetShowProgress(context.Background(), user, showID)
	if err != nil {
		t.Fatalf("failed to get progress: %v", err)
	}
	if progress != nil {
		t.Errorf("expected no residual progress row, got %+v", progress)
	}
}

func TestSetEpisodesUnwatch(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 10)

	env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 1, 10), true)
	state, err := env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 6, 10), false)
	if err != nil {
		t.Fatalf("failed to unset episodes: %v", err)
	}
	if state.Status != models.StatusWatching || *state.WatchedEpisodeCount != 5 {
		t.Errorf("expected watching with 5, got %s %d", state.Status, *state.WatchedEpisodeCount)
	}

	// Unsetting already unwatched episodes is a no-op
	before := env.activityCount(t, user)
	env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 6, 10), false)
	if after := env.activityCount(t, user); after != before {
		t.Errorf("expected no activity, got %d -> %d", before, after)
	}

	_, err = env.transition.SetEpisodes(context.Background(), user, showID, nil, true)
	expectKind(t, err, models.ErrInvalidTransition)
}

func TestConcurrentDoubleSubmit(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 10)
	ep := models.EpisodeRef{Season: 1, Number: 1}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.transition.ApplyTransition(context.Background(), user, models.Show(showID), models.StatusWatching,
				models.TransitionOptions{Episode: &ep})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := env.transition.ApplyTransition(context.Background(), user, models.Movie(603), models.StatusWatched, models.TransitionOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history, _ := env.transition.History(context.Background(), user, 0)
	if len(history) != 2 {
		t.Errorf("expected one episode and one movie event, got %d", len(history))
	}

	kinds := env.activityKinds(t, user)
	if kinds[models.ActivityWatchedEpisode] != 1 || kinds[models.ActivityWatchedMovie] != 1 {
		t.Errorf("expected exactly one activity per item, got %v", kinds)
	}

	if n := env.transition.locks.size(); n != 0 {
		t.Errorf("expected locks to be released, %d left", n)
	}
}

// TestRandomSequenceInvariants drives random transitions and checks the
// ledger invariants after every step
func TestRandomSequenceInvariants(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 100
	const total = 4
	env.catalog.setTotal(showID, total)

	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	show := models.Show(showID)
	movie := models.Movie(200)

	randomEpisode := func() models.EpisodeRef {
		return models.EpisodeRef{Season: 1, Number: rng.Intn(total) + 1}
	}
	showStatuses := []models.Status{
		models.StatusPlanToWatch, models.StatusDropped, models.StatusUnwatched,
		models.StatusWatching, models.StatusCompleted,
	}
	movieStatuses := []models.Status{models.StatusPlanToWatch, models.StatusWatched, models.StatusUnwatched}

	for step := 0; step < 150; step++ {
		var err error
		switch rng.Intn(4) {
		case 0:
			status := showStatuses[rng.Intn(len(showStatuses))]
			var opts models.TransitionOptions
			if status == models.StatusWatching || (status == models.StatusCompleted && rng.Intn(2) == 0) {
				ep := randomEpisode()
				opts.Episode = &ep
			}
			_, err = env.transition.ApplyTransition(ctx, user, show, status, opts)
		case 1:
			_, err = env.transition.ToggleEpisode(ctx, user, showID, randomEpisode())
		case 2:
			_, err = env.transition.SetEpisodes(ctx, user, showID, []models.EpisodeRef{randomEpisode(), randomEpisode()}, rng.Intn(2) == 0)
		case 3:
			status := movieStatuses[rng.Intn(len(movieStatuses))]
			var opts models.TransitionOptions
			if status == models.StatusWatched && rng.Intn(2) == 0 {
				opts.Rating = models.IntPtr(rng.Intn(10) + 1)
			}
			_, err = env.transition.ApplyTransition(ctx, user, movie, status, opts)
		}
		if err != nil && !errorsIsInvalid(err) {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}

		checkInvariants(t, env, step, show, movie, total)
	}
}

func errorsIsInvalid(err error) bool {
	return models.ErrorKind(err) == "invalid_transition"
}

func checkInvariants(t *testing.T, env *testEnv, step int, show, movie models.MediaRef, total int) {
	t.Helper()
	ctx := context.Background()

	for _, ref := range []models.MediaRef{show, movie} {
		state, err := env.transition.GetState(ctx, user, ref)
		if err != nil {
			t.Fatalf("step %d: failed to read state: %v", step, err)
		}
		if state.InWatchlist && (state.Status == models.StatusWatched || state.Status == models.StatusCompleted) {
			t.Fatalf("step %d: %s is %s while in the watchlist", step, ref, state.Status)
		}
		if state.InWatchlist != (state.Status == models.StatusPlanToWatch) {
			t.Fatalf("step %d: %s watchlist=%v but status %s", step, ref, state.InWatchlist, state.Status)
		}
	}

	events, err := env.db.ListEpisodeWatches(ctx, user, show.ID)
	if err != nil {
		t.Fatalf("step %d: failed to list episodes: %v", step, err)
	}
	progress, err := env.db.GetShowProgress(ctx, user, show.ID)
	if err != nil {
		t.Fatalf("step %d: failed to get progress: %v", step, err)
	}
	entry, _ := env.db.GetWatchlistEntry(ctx, user, show)

	if progress == nil {
		if len(events) != 0 {
			t.Fatalf("step %d: %d episode events but no progress row", step, len(events))
		}
		return
	}

	if progress.WatchedEpisodeCount != len(events) {
		t.Fatalf("step %d: progress count %d != %d events", step, progress.WatchedEpisodeCount, len(events))
	}

	shouldComplete := entry == nil && progress.DroppedAt == nil && len(events) >= total
	if (progress.Status == models.StatusCompleted) != shouldComplete {
		t.Fatalf("step %d: status %s with %d/%d, watchlist=%v dropped=%v",
			step, progress.Status, len(events), total, entry != nil, progress.DroppedAt != nil)
	}
}

func TestRemoveFromWatchlistKeepsHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("movie", func(t *testing.T) {
		env := setupTestEnv(t)
		movie := models.Movie(603)

		env.apply(t, user, movie, models.StatusWatched, models.TransitionOptions{Rating: models.IntPtr(9)})
		env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{})

		state, err := env.transition.RemoveFromWatchlist(ctx, user, movie)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if state.Status != models.StatusWatched || state.InWatchlist || state.Rating == nil || *state.Rating != 9 {
			t.Errorf("expected watched with history intact, got %+v", state)
		}

		history, _ := env.transition.History(ctx, user, 0)
		if len(history) != 1 {
			t.Errorf("expected the watch event kept, got %d", len(history))
		}
		if kinds := env.activityKinds(t, user); kinds[models.ActivityWatchlistRemove] != 1 {
			t.Errorf("expected one watchlist_remove activity, got %v", kinds)
		}

		if _, err := env.transition.RemoveFromWatchlist(ctx, user, movie); err != nil {
			t.Fatalf("second remove failed: %v", err)
		}
		if kinds := env.activityKinds(t, user); kinds[models.ActivityWatchlistRemove] != 1 {
			t.Errorf("removing a missing entry must be a no-op, got %v", kinds)
		}
	})

	t.Run("show falls back to its progress", func(t *testing.T) {
		env := setupTestEnv(t)
		show := models.Show(1399)
		env.catalog.setTotal(1399, 10)

		if _, err := env.transition.ToggleEpisode(ctx, user, 1399, models.EpisodeRef{Season: 1, Number: 1}); err != nil {
			t.Fatalf("toggle failed: %v", err)
		}
		if state := env.apply(t, user, show, models.StatusPlanToWatch, models.TransitionOptions{}); state.Status != models.StatusPlanToWatch {
			t.Fatalf("expected plan_to_watch, got %s", state.Status)
		}

		state, err := env.transition.RemoveFromWatchlist(ctx, user, show)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if state.Status != models.StatusWatching || state.InWatchlist || *state.WatchedEpisodeCount != 1 {
			t.Errorf("expected watching with one episode, got %+v", state)
		}
	})

	t.Run("unwatched show becomes unwatched", func(t *testing.T) {
		env := setupTestEnv(t)
		show := models.Show(1400)

		env.apply(t, user, show, models.StatusPlanToWatch, models.TransitionOptions{})
		state, err := env.transition.RemoveFromWatchlist(ctx, user, show)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if state.Status != models.StatusUnwatched || state.InWatchlist {
			t.Errorf("expected unwatched, got %+v", state)
		}
	})

	t.Run("requires a user", func(t *testing.T) {
		env := setupTestEnv(t)
		_, err := env.transition.RemoveFromWatchlist(ctx, "", models.Movie(1))
		expectKind(t, err, models.ErrNotAuthenticated)
	})
}

func TestStoreFailureRollsBackMovieTransition(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	movie := models.Movie(603)

	env.apply(t, user, movie, models.StatusPlanToWatch, models.TransitionOptions{})
	before := env.activityCount(t, user)

	// The watch event is written before the watchlist row is removed
	env.failWrites(t, "watchlist_entries", "DELETE")

	_, err := env.transition.ApplyTransition(ctx, user, movie, models.StatusWatched, models.TransitionOptions{})
	expectKind(t, err, models.ErrStoreUnavailable)
	if kind := models.ErrorKind(err); kind != "store_unavailable" {
		t.Errorf("expected store_unavailable, got %s", kind)
	}

	history, err := env.transition.History(ctx, user, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("the watch event must be rolled back, got %d", len(history))
	}

	state, err := env.transition.GetState(ctx, user, movie)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Status != models.StatusPlanToWatch || !state.InWatchlist {
		t.Errorf("expected the watchlist entry kept, got %+v", state)
	}
	if after := env.activityCount(t, user); after != before {
		t.Errorf("a failed transition must not emit activity, got %d -> %d", before, after)
	}
}

func TestStoreFailureRollsBackEpisodeToggle(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	show := models.Show(1399)
	env.catalog.setTotal(1399, 2)

	env.apply(t, user, show, models.StatusPlanToWatch, models.TransitionOptions{})
	before := env.activityCount(t, user)

	// Episode insert and watchlist delete succeed, the progress write fails
	env.failWrites(t, "show_progress", "INSERT")
	env.failWrites(t, "show_progress", "UPDATE")

	_, err := env.transition.ToggleEpisode(ctx, user, 1399, models.EpisodeRef{Season: 1, Number: 1})
	expectKind(t, err, models.ErrStoreUnavailable)

	watches, err := env.db.ListEpisodeWatches(ctx, user, 1399)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(watches) != 0 {
		t.Errorf("the episode watch must be rolled back, got %d", len(watches))
	}

	state, err := env.transition.GetState(ctx, user, show)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Status != models.StatusPlanToWatch || !state.InWatchlist {
		t.Errorf("expected plan_to_watch kept, got %+v", state)
	}
	if after := env.activityCount(t, user); after != before {
		t.Errorf("a failed transition must not emit activity, got %d -> %d", before, after)
	}
}
