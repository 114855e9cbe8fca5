package dropdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldgrid/fieldgrid/agent/internal/config"
	"github.com/fieldgrid/fieldgrid/agent/internal/reader"
	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// DefaultRescanInterval is how often the directory is listed to pick up
// files that were left behind by a full queue or a failed send.
const DefaultRescanInterval = time.Minute

// Sender delivers one batch. *shipper.Shipper implements it.
type Sender interface {
	Send(ctx context.Context, req types.BatchRequest) (types.BatchResponse, error)
}

// Settings are the reloadable parts of the agent config.
type Settings struct {
	BatchSize int
	Defaults  reader.Defaults
}

// SettingsFrom extracts Settings from cfg.
func SettingsFrom(cfg config.AgentConfig) Settings {
	return Settings{
		BatchSize: cfg.BatchSize,
		Defaults:  reader.Defaults{Source: cfg.Source, Technician: cfg.Technician},
	}
}

// Watcher ships every export that appears in a drop directory, then moves it
// to the archive directory, or to the failed directory when the server
// rejects it.
type Watcher struct {
	dir        string
	archiveDir string
	failedDir  string
	settle     time.Duration
	rescan     time.Duration
	sender     Sender
	settings   atomic.Pointer[Settings]

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{} // queued or being processed
	timers  map[string]*time.Timer
}

// New builds a Watcher for cfg. Call Run to start it.
func New(cfg config.AgentConfig, sender Sender) *Watcher {
	w := &Watcher{
		dir:        cfg.WatchDir,
		archiveDir: cfg.ArchiveDir,
		failedDir:  cfg.FailedDir,
		settle:     cfg.SettleDelay,
		rescan:     DefaultRescanInterval,
		sender:     sender,
		queue:      make(chan string, cfg.BufferSize),
		pending:    make(map[string]struct{}),
		timers:     make(map[string]*time.Timer),
	}
	w.SetSettings(SettingsFrom(cfg))
	return w
}

// SetSettings swaps the batch size and item defaults used for files picked
// up from now on.
func (w *Watcher) SetSettings(s Settings) {
	w.settings.Store(&s)
}

// Run watches the directory until ctx is cancelled. Files already present
// are queued first. Run returns after the file in flight, if any, finishes.
func (w *Watcher) Run(ctx context.Context) error {
	for _, d := range []string{w.dir, w.archiveDir, w.failedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("dropdir: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dropdir: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("dropdir: watch %s: %w", w.dir, err)
	}
	slog.Info("dropdir: watching", "dir", w.dir, "archive", w.archiveDir, "failed", w.failedDir)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()
	defer func() {
		w.stopTimers()
		wg.Wait()
	}()

	w.scan()
	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			w.scan()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if candidate(event.Name) {
				w.debounce(event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("dropdir: watcher error", "err", err)
		}
	}
}

// candidate filters out directories, temp files and unknown formats.
func candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") || !reader.Supported(base) {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// scan queues every candidate in the directory, oldest name first.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("dropdir: scan failed", "dir", w.dir, "err", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(w.dir, name)
		if candidate(path) {
			w.enqueue(path)
		}
	}
}

// debounce queues path once it has been quiet for the settle delay.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

// enqueue is a no-op for paths already queued. A full queue leaves the file
// for the next scan.
func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[path]; ok {
		return
	}
	select {
	case w.queue <- path:
		w.pending[path] = struct{}{}
	default:
		slog.Warn("dropdir: queue full, file left for next scan", "file", path, "buffer_cap", cap(w.queue))
	}
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path)
			w.done(path)
		}
	}
}

// process ships one file. Transient failures leave the file in place; its
// keys are stable, so chunks the server already holds replay as duplicates.
func (w *Watcher) process(ctx context.Context, path string) {
	f, err := reader.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Error("dropdir: unreadable export", "file", path, "err", err)
		w.fail(path, report{Error: err.Error()})
		return
	}

	s := w.settings.Load()
	batches := f.Batches(s.BatchSize, s.Defaults)
	var total types.StatusCounts
	var created, duplicates int

	for i, b := range batches {
		resp, err := w.sender.Send(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rep, ok := rejection(err); ok {
				rep.IdempotencyKey, rep.Batch, rep.Delivered = b.IdempotencyKey, i, i
				slog.Error("dropdir: export rejected", "file", path, "key", b.IdempotencyKey, "err", err)
				w.fail(path, rep)
				return
			}
			slog.Warn("dropdir: send failed, file left for retry",
				"file", path, "key", b.IdempotencyKey, "delivered", i, "of", len(batches), "err", err)
			return
		}
		if resp.SkippedAsDuplicate {
			duplicates++
		}
		created += len(resp.Created)
		total.Pass += resp.Counts.Pass
		total.Warn += resp.Counts.Warn
		total.Fail += resp.Counts.Fail
	}

	dst, err := moveInto(path, w.archiveDir)
	if err != nil {
		slog.Error("dropdir: archive failed", "file", path, "err", err)
		return
	}
	slog.Info("dropdir: export delivered",
		"file", filepath.Base(path), "archived", dst, "batches", len(batches),
		"duplicates", duplicates, "created", created,
		"pass", total.Pass, "warn", total.Warn, "fail", total.Fail)
}

func (w *Watcher) fail(path string, rep report) {
	rep.File = filepath.Base(path)
	rep.FailedAt = time.Now().UTC()
	dst, err := moveInto(path, w.failedDir)
	if err != nil {
		slog.Error("dropdir: move to failed dir", "file", path, "err", err)
		return
	}
	if err := writeReport(dst+".error.json", rep); err != nil {
		slog.Error("dropdir: write error report", "file", dst, "err", err)
	}
}

// moveInto renames path into dir, suffixing the name when it is taken.
func moveInto(path, dir string) (string, error) {
	base := filepath.Base(path)
	dst := filepath.Join(dir, base)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(base)
		dst = filepath.Join(dir, fmt.Sprintf("%s.%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}
