package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/incidentsuite/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func storedResult(filename string, at time.Time) *models.PipelineResult {
	r := models.PipelineResult{
		RunID:        "run-" + filename,
		LogRecords:   []models.LogRecord{{LineNumber: 1, Level: models.LogLevelError, Service: "db", Message: "down", Raw: "raw"}},
		Issues:       []models.Issue{{Description: "DB down", Severity: models.SeverityCritical, SourceLineNumbers: []int{1}}},
		Runbook:      "# Runbook",
		Tickets:      []models.Ticket{},
		CurrentStage: models.StageComplete,
	}
	stamped := r.WithIngestion(filename, at, 1234*time.Millisecond, models.OriginWatcher)
	return &stamped
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	id, err := store.Save(ctx, storedResult("a.log", base), "a.log", models.OriginWatcher)
	require.NoError(t, err)
	assert.Equal(t, "a.log", id)
	assert.FileExists(t, filepath.Join(store.Dir(), "a.log.results.json"))

	_, err = store.Save(ctx, storedResult("b.log", base.Add(time.Hour)), "b.log", models.OriginWatcher)
	require.NoError(t, err)

	all, err := store.Load(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b.log", all[0].SourceFilename)
	assert.Equal(t, "a.log", all[1].SourceFilename)
	assert.Equal(t, 1.23, all[1].ProcessingTimeSeconds)

	ranged, err := store.Load(ctx, base, base)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "a.log", ranged[0].RecordID)

	got, err := store.Get(ctx, "a.log")
	require.NoError(t, err)
	want := storedResult("a.log", base)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.PipelineResult{}, "RecordID"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("stored result mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreNeverOverwritesDistinctRecord(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	first := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	id1, err := store.Save(ctx, storedResult("app.log", first), "app.log", models.OriginWatcher)
	require.NoError(t, err)

	again, err := store.Save(ctx, storedResult("app.log", first), "app.log", models.OriginWatcher)
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	id2, err := store.Save(ctx, storedResult("app.log", first.Add(time.Minute)), "app.log", models.OriginWatcher)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id2, "app.log."))

	all, err := store.Load(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestFileStoreGetRejectsPaths(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "results.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ResultRecord{}))
	return db
}

func TestGormStoreSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(openTestDB(t))
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	id1, err := store.Save(ctx, storedResult("app.log", at), "app.log", models.OriginUpload)
	require.NoError(t, err)
	assert.Len(t, id1, 26)

	id2, err := store.Save(ctx, storedResult("app.log", at), "app.log", models.OriginUpload)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	_, err = store.Save(ctx, storedResult("app.log", at.Add(time.Hour)), "app.log", models.OriginUpload)
	require.NoError(t, err)

	all, err := store.Load(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].ProcessedAt.After(all[1].ProcessedAt))

	got, err := store.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "app.log", got.SourceFilename)
	assert.Equal(t, models.SeverityCritical, got.Issues[0].Severity)
	assert.Equal(t, id1, got.RecordID)

	_, err = store.Get(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestMultiStoreSavesEverywhereAndMergesReads(t *testing.T) {
	ctx := context.Background()
	files := NewFileStore(t.TempDir())
	db := NewGormStore(openTestDB(t))
	multi := NewMultiStore(files, db, nil)
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	id, err := multi.Save(ctx, storedResult("app.log", at), "app.log", models.OriginWatcher)
	require.NoError(t, err)
	assert.Equal(t, "app.log", id)

	_, err = db.Save(ctx, storedResult("db-only.log", at.Add(time.Minute)), "db-only.log", models.OriginUpload)
	require.NoError(t, err)

	all, err := multi.Load(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "db-only.log", all[0].SourceFilename)

	got, err := multi.Get(ctx, "app.log")
	require.NoError(t, err)
	assert.Equal(t, "run-app.log", got.RunID)
}
