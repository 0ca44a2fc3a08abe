package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const resultFileSuffix = ".results.json"

// ErrResultNotFound is returned by Get for unknown ids.
var ErrResultNotFound = errors.New("result not found")

// ResultStore persists pipeline results for history and the watcher.
// Saving the same filename and processed time twice never creates a second
// record and never overwrites a different one.
type ResultStore interface {
	Save(ctx context.Context, result *models.PipelineResult, filename string, origin models.Origin) (string, error)
	Load(ctx context.Context, from, to time.Time) ([]models.PipelineResult, error)
	Get(ctx context.Context, id string) (*models.PipelineResult, error)
}

// stampResult copies result with the filename and origin filled in.
func stampResult(result *models.PipelineResult, filename string, origin models.Origin) models.PipelineResult {
	r := *result
	if r.SourceFilename == "" {
		r.SourceFilename = filename
	}
	if r.Origin == "" {
		r.Origin = origin
	}
	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = time.Now().UTC()
	}
	r.RecordID = ""
	return r
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func sortNewestFirst(results []models.PipelineResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ProcessedAt.After(results[j].ProcessedAt)
	})
}

// FileStore keeps one <filename>.results.json document per result in a
// directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

// Save writes through a temp file and rename, so the document is complete
// once Save returns. A record for the same filename with a different
// processed time is kept and the new one gets a unique suffix.
func (s *FileStore) Save(ctx context.Context, result *models.PipelineResult, filename string, origin models.Origin) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	record := stampResult(result, filename, origin)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}

	id := safeName(record.SourceFilename)
	existing, err := s.read(id)
	switch {
	case err == nil && existing.ProcessedAt.Equal(record.ProcessedAt):
		return id, nil
	case err == nil:
		id = id + "." + strings.ToLower(ulid.Make().String())
	case !errors.Is(err, ErrResultNotFound):
		return "", err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, id+resultFileSuffix), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) Load(ctx context.Context, from, to time.Time) ([]models.PipelineResult, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+resultFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	results := make([]models.PipelineResult, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(filepath.Base(path), resultFileSuffix)
		r, err := s.read(id)
		if err != nil {
			logger.WithError(err, "result_store").WithField("path", path).Warn("Skipping unreadable result file")
			continue
		}
		if inRange(r.ProcessedAt, from, to) {
			results = append(results, *r)
		}
	}
	sortNewestFirst(results)
	return results, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.PipelineResult, error) {
	if id == "" || id != filepath.Base(id) {
		return nil, ErrResultNotFound
	}
	return s.read(id)
}

func (s *FileStore) read(id string) (*models.PipelineResult, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+resultFileSuffix))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	var r models.PipelineResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", id, err)
	}
	r.RecordID = id
	return &r, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close result: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func safeName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "input"
	}
	return name
}

// GormStore keeps results in the history database, keyed by ULID.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Save(ctx context.Context, result *models.PipelineResult, filename string, origin models.Origin) (string, error) {
	record, err := models.NewResultRecord(ulid.Make().String(), stampResult(result, filename, origin))
	if err != nil {
		return "", err
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if tx.Error != nil {
		return "", fmt.Errorf("failed to save result: %w", tx.Error)
	}
	if tx.RowsAffected > 0 {
		return record.ID, nil
	}

	var existing models.ResultRecord
	if err := s.db.WithContext(ctx).
		Where("filename = ? AND processed_at = ?", record.Filename, record.ProcessedAt).
		First(&existing).Error; err != nil {
		return "", fmt.Errorf("failed to look up existing result: %w", err)
	}
	return existing.ID, nil
}

func (s *GormStore) Load(ctx context.Context, from, to time.Time) ([]models.PipelineResult, error) {
	query := s.db.WithContext(ctx).Model(&models.ResultRecord{})
	if !from.IsZero() {
		query = query.Where("processed_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("processed_at <= ?", to.UTC())
	}

	var records []models.ResultRecord
	if err := query.Order("processed_at desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	results := make([]models.PipelineResult, 0, len(records))
	for _, rec := range records {
		r, err := rec.PipelineResult()
		if err != nil {
			logger.WithError(err, "result_store").WithField("id", rec.ID).Warn("Skipping undecodable result record")
			continue
		}
		r.RecordID = rec.ID
		results = append(results, r)
	}
	return results, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.PipelineResult, error) {
	var rec models.ResultRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	r, err := rec.PipelineResult()
	if err != nil {
		return nil, err
	}
	r.RecordID = rec.ID
	return &r, nil
}

// MultiStore saves to every store and reads across all of them. The id of
// the first store is returned from Save.
type MultiStore struct {
	stores []ResultStore
}

func NewMultiStore(stores ...ResultStore) *MultiStore {
	var kept []ResultStore
	for _, s := range stores {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiStore{stores: kept}
}

func (m *MultiStore) Save(ctx context.Context, result *models.PipelineResult, filename string, origin models.Origin) (string, error) {
	var (
		primaryID string
		firstErr  error
	)
	for i, s := range m.stores {
		id, err := s.Save(ctx, result, filename, origin)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if i == 0 {
			primaryID = id
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return primaryID, nil
}

// Load merges all stores, dropping copies of the same result.
func (m *MultiStore) Load(ctx context.Context, from, to time.Time) ([]models.PipelineResult, error) {
	seen := make(map[string]bool)
	merged := []models.PipelineResult{}
	for _, s := range m.stores {
		results, err := s.Load(ctx, from, to)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			key := r.SourceFilename + "\x00" + r.ProcessedAt.UTC().Format(time.RFC3339Nano)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, r)
		}
	}
	sortNewestFirst(merged)
	return merged, nil
}

func (m *MultiStore) Get(ctx context.Context, id string) (*models.PipelineResult, error) {
	for _, s := range m.stores {
		r, err := s.Get(ctx, id)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrResultNotFound) {
			return nil, err
		}
	}
	return nil, ErrResultNotFound
}
