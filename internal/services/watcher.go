package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/metrics"
	"github.com/incidentsuite/backend/internal/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	defaultPollInterval = 5 * time.Second
	processedDirName    = "processed"
	// settleDelay gives a freshly created file time to be fully written
	// before a notify-triggered poll reads it.
	settleDelay = 500 * time.Millisecond
)

// AcceptedExtensions are the file types the watcher ingests.
var AcceptedExtensions = map[string]bool{
	".log":  true,
	".txt":  true,
	".csv":  true,
	".json": true,
}

// Runner runs the pipeline over one input.
type Runner interface {
	Run(ctx context.Context, raw, filename string) *models.PipelineResult
}

// WatcherOptions wires a Watcher.
type WatcherOptions struct {
	WatchDir     string
	PollInterval time.Duration
	Runner       Runner
	// Store defaults to a FileStore in the processed directory.
	Store ResultStore
	// FSNotify shortens the wait when files appear. Polling still drives
	// processing.
	FSNotify bool
}

// WatcherStatus is a point-in-time view of the watcher.
type WatcherStatus struct {
	Running      bool      `json:"running"`
	WatchDir     string    `json:"watch_dir"`
	ProcessedDir string    `json:"processed_dir"`
	PollInterval string    `json:"poll_interval"`
	FSNotify     bool      `json:"fsnotify"`
	LastPoll     time.Time `json:"last_poll,omitempty"`
	Processed    int       `json:"processed"`
	Failed       int       `json:"failed"`
	LastError    string    `json:"last_error,omitempty"`
}

// Watcher turns a drop folder into a queue. A file counts as processed once
// it has been moved into the processed directory, which happens only after
// its result is saved.
type Watcher struct {
	watchDir     string
	processedDir string
	pollInterval time.Duration
	runner       Runner
	store        ResultStore
	useNotify    bool

	mu     sync.RWMutex
	status WatcherStatus
}

func NewWatcher(opts WatcherOptions) *Watcher {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	processedDir := ProcessedDirFor(opts.WatchDir)
	store := opts.Store
	if store == nil {
		store = NewFileStore(processedDir)
	}
	w := &Watcher{
		watchDir:     opts.WatchDir,
		processedDir: processedDir,
		pollInterval: interval,
		runner:       opts.Runner,
		store:        store,
		useNotify:    opts.FSNotify,
	}
	w.status = WatcherStatus{
		WatchDir:     w.watchDir,
		ProcessedDir: w.processedDir,
		PollInterval: interval.String(),
		FSNotify:     opts.FSNotify,
	}
	return w
}

func (w *Watcher) ProcessedDir() string { return w.processedDir }

// ProcessedDirFor returns the processed directory of a watch directory.
func ProcessedDirFor(watchDir string) string {
	return filepath.Join(watchDir, processedDirName)
}

// Status returns a copy of the current status.
func (w *Watcher) Status() WatcherStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Run polls until ctx is cancelled. A file in progress is always finished
// before the stop is honoured.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.watchDir, w.processedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create watcher directory: %w", err)
		}
	}

	wake, stopNotify := w.startNotify(ctx)
	defer stopNotify()

	w.setRunning(true)
	defer w.setRunning(false)

	logger.Info("Ingestion watcher started", map[string]interface{}{
		"watch_dir":     w.watchDir,
		"poll_interval": w.pollInterval.String(),
	})

	for {
		if ctx.Err() != nil {
			break
		}
		w.PollOnce(ctx)

		if !w.wait(ctx, w.pollInterval, wake) {
			break
		}
	}

	logger.Info("Ingestion watcher stopped", map[string]interface{}{
		"watch_dir": w.watchDir,
	})
	return nil
}

// wait blocks for d or until a notify wake-up settles. It reports false
// when ctx is cancelled.
func (w *Watcher) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
	}

	settle := time.NewTimer(settleDelay)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-settle.C:
		return true
	}
}

// startNotify watches the inbox for new files. Without fsnotify the returned
// channel is nil and never fires.
func (w *Watcher) startNotify(ctx context.Context) (<-chan struct{}, func()) {
	if !w.useNotify {
		return nil, func() {}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err, "watcher").Warn("fsnotify unavailable, polling only")
		return nil, func() {}
	}
	if err := fw.Add(w.watchDir); err != nil {
		fw.Close()
		logger.WithError(err, "watcher").Warn("fsnotify could not watch directory, polling only")
		return nil, func() {}
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if !AcceptedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.WithError(err, "watcher").Warn("fsnotify error")
			case <-ctx.Done():
				return
			}
		}
	}()

	return wake, func() {
		fw.Close()
		<-done
	}
}

// PendingFiles lists inbox files not yet processed, sorted by name.
func (w *Watcher) PendingFiles() ([]string, error) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch directory: %w", err)
	}

	processed := make(map[string]bool)
	done, err := os.ReadDir(w.processedDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to list processed directory: %w", err)
	}
	for _, e := range done {
		processed[e.Name()] = true
	}

	var pending []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() {
			continue
		}
		if !AcceptedExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if processed[name] {
			continue
		}
		pending = append(pending, name)
	}
	sort.Strings(pending)
	return pending, nil
}

// PollOnce processes every pending file and returns how many succeeded. A
// failing file is left in place for the next poll. Cancellation is checked
// between files only.
func (w *Watcher) PollOnce(ctx context.Context) int {
	if err := os.MkdirAll(w.processedDir, 0755); err != nil {
		logger.WithError(err, "watcher").Error("Failed to create processed directory")
		w.recordPoll(0, 0, err)
		return 0
	}

	files, err := w.PendingFiles()
	if err != nil {
		logger.WithError(err, "watcher").Error("Poll failed")
		w.recordPoll(0, 0, err)
		return 0
	}

	var processed, failed int
	var lastErr error
	work := context.WithoutCancel(ctx)
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		if err := w.processFile(work, name); err != nil {
			failed++
			lastErr = err
			metrics.ObserveWatcherFile(metrics.FileFailed)
			logger.WithWatcher(name).WithError(err).Error("Failed to process file, will retry on next poll")
			continue
		}
		processed++
		metrics.ObserveWatcherFile(metrics.FileProcessed)
	}
	w.recordPoll(processed, failed, lastErr)
	return processed
}

func (w *Watcher) processFile(ctx context.Context, name string) error {
	log := logger.WithWatcher(name)
	src := filepath.Join(w.watchDir, name)
	startTime := time.Now()

	raw, err := readText(src)
	if err != nil {
		return err
	}

	log.Info("Processing file")
	result := w.runner.Run(ctx, raw, name)
	if result == nil {
		return fmt.Errorf("pipeline returned no result for %s", name)
	}
	stamped := result.WithIngestion(name, time.Now(), time.Since(startTime), models.OriginWatcher)

	id, err := w.store.Save(ctx, &stamped, name, models.OriginWatcher)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	if err := moveFile(src, filepath.Join(w.processedDir, name)); err != nil {
		return fmt.Errorf("failed to mark file processed: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"record_id": id,
		"issues":    len(stamped.Issues),
		"seconds":   stamped.ProcessingTimeSeconds,
	}).Info("File processed")
	return nil
}

func (w *Watcher) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Running = running
}

func (w *Watcher) recordPoll(processed, failed int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastPoll = time.Now().UTC()
	w.status.Processed += processed
	w.status.Failed += failed
	if err != nil {
		w.status.LastError = err.Error()
	}
}

// readText decodes a file as UTF-8, honouring UTF-8 and UTF-16 byte order
// marks and replacing invalid sequences with U+FFFD.
func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	text, err := DecodeText(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// DecodeText reads r as UTF-8 text the same way the watcher reads files.
func DecodeText(r io.Reader) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(r, decoder))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dst, data); err != nil {
		return err
	}
	return os.Remove(src)
}
