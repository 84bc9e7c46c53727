package controllers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vascoliveira2511/WatchLog/internal/models"
	"github.com/vascoliveira2511/WatchLog/internal/utils"
)

type fakeCatalog struct {
	mu     sync.Mutex
	totals map[int64]int
	err    error
	calls  int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{totals: make(map[int64]int)}
}

func (f *fakeCatalog) ResolveMedia(ctx context.Context, ref models.MediaRef) (*models.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.err != nil {
		return nil, f.err
	}
	entry := &models.CatalogEntry{Ref: ref, Title: ref.Key()}
	if total, ok := f.totals[ref.ID]; ok && ref.IsShow() {
		entry.TotalEpisodes = models.IntPtr(total)
	}
	return entry, nil
}

func (f *fakeCatalog) setTotal(showID int64, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[showID] = total
}

func (f *fakeCatalog) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type testEnv struct {
	path       string
	db         *models.Database
	catalog    *fakeCatalog
	emitter    *ActivityEmitter
	progress   *ProgressController
	transition *TransitionController
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := models.NewDatabase(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := utils.NewDiscardLogger()
	emitter, err := NewActivityEmitter(db, 16, logger)
	if err != nil {
		t.Fatalf("failed to create emitter: %v", err)
	}
	t.Cleanup(func() { emitter.Close() })

	catalog := newFakeCatalog()
	locks := NewKeyedLocker()
	progress := NewProgressController(db, catalog, locks, logger)

	return &testEnv{
		path:       path,
		db:         db,
		catalog:    catalog,
		emitter:    emitter,
		progress:   progress,
		transition: NewTransitionController(db, progress, emitter, locks, logger),
	}
}

// activityKinds flushes the emitter and counts the user's activities by kind
func (e *testEnv) activityKinds(t *testing.T, userID string) map[models.ActivityKind]int {
	t.Helper()
	e.emitter.Flush()

	events, err := e.db.ListActivities(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("failed to list activities: %v", err)
	}
	kinds := make(map[models.ActivityKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	return kinds
}

func (e *testEnv) activityCount(t *testing.T, userID string) int {
	t.Helper()
	total := 0
	for _, n := range e.activityKinds(t, userID) {
		total += n
	}
	return total
}

func (e *testEnv) apply(t *testing.T, userID string, ref models.MediaRef, status models.Status, opts models.TransitionOptions) *models.WatchState {
	t.Helper()
	state, err := e.transition.ApplyTransition(context.Background(), userID, ref, status, opts)
	if err != nil {
		t.Fatalf("%s -> %s failed: %v", ref, status, err)
	}
	return state
}

func episodeRange(season, from, to int) []models.EpisodeRef {
	var out []models.EpisodeRef
	for n := from; n <= to; n++ {
		out = append(out, models.EpisodeRef{Season: season, Number: n})
	}
	return out
}

func expectKind(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// failWrites installs a trigger that aborts every matching write on table, so
// a transaction fails after its earlier statements already ran
func (e *testEnv) failWrites(t *testing.T, table, op string) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(e.path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open second connection: %v", err)
	}
	defer func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	stmt := "CREATE TRIGGER fail_" + table + "_" + op + " BEFORE " + op + " ON " + table +
		" BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END"
	if err := conn.Exec(stmt).Error; err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
}
