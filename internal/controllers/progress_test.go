package controllers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vascoliveira2511/WatchLog/internal/models"
)

func TestRecomputeIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 3)

	env.transition.SetEpisodes(context.Background(), user, showID, episodeRange(1, 1, 2), true)

	first, err := env.progress.Recompute(context.Background(), user, showID)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	second, err := env.progress.Recompute(context.Background(), user, showID)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	if first.Status != second.Status || first.WatchedEpisodeCount != second.WatchedEpisodeCount {
		t.Errorf("recompute must be idempotent: %+v vs %+v", first, second)
	}
	if second.Status != models.StatusWatching || second.WatchedEpisodeCount != 2 || second.TotalEpisodes != 3 {
		t.Errorf("unexpected progress %+v", second)
	}
	if last := second.LastWatched(); last == nil || *last != (models.EpisodeRef{Season: 1, Number: 2}) {
		t.Errorf("unexpected last watched %v", last)
	}
}

func TestRecomputeWithoutEventsLeavesNoRow(t *testing.T) {
	env := setupTestEnv(t)

	progress, err := env.progress.Recompute(context.Background(), user, 5)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if progress.Status != models.StatusUnwatched {
		t.Errorf("expected unwatched, got %s", progress.Status)
	}

	stored, _ := env.db.GetShowProgress(context.Background(), user, 5)
	if stored != nil {
		t.Errorf("expected no row, got %+v", stored)
	}
}

func TestCatalogFailureFallsBackToStoredTotal(t *testing.T) {
	env := setupTestEnv(t)
	const showID = 1399
	env.catalog.setTotal(showID, 2)

	env.transition.ToggleEpisode(context.Background(), user, showID, models.EpisodeRef{Season: 1, Number: 1})

	env.catalog.fail(errors.New("catalog down"))
	state, err := env.transition.ToggleEpisode(context.Background(), user, showID, models.EpisodeRef{Season: 1, Number: 2})
	if err != nil {
		t.Fatalf("catalog outages must not fail transitions: %v", err)
	}
	if state.Status != models.StatusCompleted {
		t.Errorf("expected completion against the stored total, got %s", state.Status)
	}
}

func TestReconcileAll(t *testing.T) {
	env := setupTestEnv(t)
	env.catalog.setTotal(1, 2)
	env.catalog.setTotal(2, 5)

	env.transition.SetEpisodes(context.Background(), user, 1, episodeRange(1, 1, 2), true)
	env.transition.SetEpisodes(context.Background(), "user-2", 1, episodeRange(1, 1, 1), true)
	env.transition.SetEpisodes(context.Background(), user, 2, episodeRange(1, 1, 2), true)

	// A new season airs for show 1
	env.catalog.setTotal(1, 4)

	changed, err := env.progress.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected one status change, got %d", changed)
	}

	progress, _ := env.db.GetShowProgress(context.Background(), user, 1)
	if progress.Status != models.StatusWatching || progress.TotalEpisodes != 4 {
		t.Errorf("expected watching with total 4, got %+v", progress)
	}

	t.Run("cancelled context stops early", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := env.progress.ReconcileAll(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestKeyedLockerSerializesPerKey(t *testing.T) {
	locks := NewKeyedLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("user|show:1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxSeen)
	}
	if locks.size() != 0 {
		t.Errorf("expected all entries released, got %d", locks.size())
	}

	// Distinct keys do not block each other
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	unlockB()
	unlockA()
}

func TestActivityEmitterClose(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		env.emitter.Record(ctx, user, models.ActivityWatchedMovie, models.Movie(i), ActivityMeta{Rating: models.IntPtr(8)})
	}
	env.emitter.Record(ctx, user, models.ActivityWatchedEpisode, models.Show(9), ActivityMeta{
		Episode: &models.EpisodeRef{Season: 2, Number: 3},
	})

	if err := env.emitter.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	events, err := env.db.ListActivities(ctx, user, 0)
	if err != nil {
		t.Fatalf("failed to list activities: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("close must drain queued activities, got %d", len(events))
	}
	for _, ev := range events {
		if ev.ID == "" || ev.OccurredAt.IsZero() {
			t.Errorf("activity missing id or time: %+v", ev)
		}
		if ev.Kind == models.ActivityWatchedEpisode && (ev.Season == nil || *ev.Season != 2 || *ev.Episode != 3) {
			t.Errorf("episode activity lost its episode: %+v", ev)
		}
	}

	// Records after close are dropped, not persisted
	env.emitter.Record(ctx, user, models.ActivityUnwatched, models.Movie(1), ActivityMeta{})
	events, _ = env.db.ListActivities(ctx, user, 0)
	if len(events) != 6 {
		t.Errorf("expected closed emitter to drop records, got %d", len(events))
	}
}
