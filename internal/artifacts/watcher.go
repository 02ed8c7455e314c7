package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/errs"
)

const (
	watcherPollInterval = 100 * time.Millisecond
	watcherPollCap      = 600 * time.Second
)

// WatcherCallbacks are how a StorageSizeWatcher reports back to the
// owning device: OnDelete for every file removed (by the watcher or
// observed removed externally), OnQuotaExceeded when the quota is
// breached and auto-deletion is off. Both may be nil.
type WatcherCallbacks struct {
	OnDelete        func(path string)
	OnQuotaExceeded func(err error)
}

// StorageSizeWatcher tracks the cumulative size of a device's
// artifact folders against a quota. With auto-deletion on, the oldest
// files are removed until the total fits; with it off, the breach is
// surfaced through OnQuotaExceeded so the caller can halt streaming.
type StorageSizeWatcher struct {
	dirs         []string
	quota        int64
	autoDeletion bool
	cb           WatcherCallbacks
	log          *logrus.Entry

	mu    sync.Mutex
	known map[string]fileInfo
	total int64
}

type fileInfo struct {
	size    int64
	modTime time.Time
}

// NewStorageSizeWatcher builds a watcher over dirs. A quota of 0
// disables enforcement (the watcher still tracks sizes and reports
// external deletions).
func NewStorageSizeWatcher(dirs []string, quota int64, autoDeletion bool, cb WatcherCallbacks, log *logrus.Logger) *StorageSizeWatcher {
	if log == nil {
		log = logrus.New()
	}
	return &StorageSizeWatcher{
		dirs:         dirs,
		quota:        quota,
		autoDeletion: autoDeletion,
		cb:           cb,
		log:          log.WithField("component", "artifacts.watcher"),
		known:        make(map[string]fileInfo),
	}
}

// Run polls the watched folders until ctx is cancelled. Polling backs
// off toward watcherPollCap while the folders stay quiet.
func (w *StorageSizeWatcher) Run(ctx context.Context) {
	interval := watcherPollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if changed := w.Scan(); changed {
			interval = watcherPollInterval
		} else if interval < watcherPollCap {
			interval *= 2
			if interval > watcherPollCap {
				interval = watcherPollCap
			}
		}
	}
}

// TotalSize reports the cumulative size observed at the last scan.
func (w *StorageSizeWatcher) TotalSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Incoming accounts for a file the webserver just wrote, without
// waiting for the next poll, and enforces the quota immediately.
func (w *StorageSizeWatcher) Incoming(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.track(path, fileInfo{size: fi.Size(), modTime: fi.ModTime()})
	w.mu.Unlock()
	w.enforce()
}

// Scan walks the watched folders, reconciling the tracked set with
// what is actually on disk. It returns whether anything changed.
func (w *StorageSizeWatcher) Scan() bool {
	seen := make(map[string]fileInfo)
	for _, dir := range w.dirs {
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				seen[path] = fileInfo{size: fi.Size(), modTime: fi.ModTime()}
			}
			return nil
		})
	}

	w.mu.Lock()
	changed := false
	for path := range w.known {
		if _, still := seen[path]; !still {
			w.untrack(path)
			changed = true
			if w.cb.OnDelete != nil {
				w.cb.OnDelete(path)
			}
		}
	}
	for path, fi := range seen {
		if prev, ok := w.known[path]; !ok || prev != fi {
			w.track(path, fi)
			changed = true
		}
	}
	w.mu.Unlock()

	if changed {
		w.enforce()
	}
	return changed
}

// enforce applies the quota policy to the current tracked set.
func (w *StorageSizeWatcher) enforce() {
	if w.quota <= 0 {
		return
	}

	w.mu.Lock()
	over := w.total > w.quota
	w.mu.Unlock()
	if !over {
		return
	}

	if !w.autoDeletion {
		if w.cb.OnQuotaExceeded != nil {
			w.cb.OnQuotaExceeded(errs.External(errs.ExternalStorageLimit,
				"storage quota exceeded: %d bytes used, %d allowed", w.TotalSize(), w.quota))
		}
		return
	}

	for _, path := range w.oldestFirst() {
		w.mu.Lock()
		done := w.total <= w.quota
		w.mu.Unlock()
		if done {
			return
		}
		if err := os.Remove(path); err != nil {
			w.log.WithError(err).WithField("path", path).Warn("failed to delete file for quota")
			continue
		}
		w.mu.Lock()
		w.untrack(path)
		w.mu.Unlock()
		if w.cb.OnDelete != nil {
			w.cb.OnDelete(path)
		}
	}
}

func (w *StorageSizeWatcher) oldestFirst() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.known))
	for path := range w.known {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return w.known[paths[i]].modTime.Before(w.known[paths[j]].modTime)
	})
	return paths
}

// track and untrack maintain known/total. Caller holds w.mu.
func (w *StorageSizeWatcher) track(path string, fi fileInfo) {
	if prev, ok := w.known[path]; ok {
		w.total -= prev.size
	}
	w.known[path] = fi
	w.total += fi.size
}

func (w *StorageSizeWatcher) untrack(path string) {
	if prev, ok := w.known[path]; ok {
		w.total -= prev.size
		delete(w.known, path)
	}
}
