// Package inbox watches a directory for diff plan files and hands settled
// files to subscribers. Files are dispatched once their writes have been
// quiet for the debounce window.
package inbox

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
)

// ChangeType describes how a file arrived in the inbox.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	// ChangeExisting marks files already present when the watcher started.
	ChangeExisting ChangeType = "existing"
)

// Subdirectories that Archive moves files into. They are never dispatched.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

const defaultDebounce = 500 * time.Millisecond

// PlanPatterns match the plan formats diffplan can parse.
var PlanPatterns = []string{"*.json", "*.yaml", "*.yml"}

// ErrRunning is returned by Start on a watcher that is already running.
var ErrRunning = errors.New("inbox: watcher already running")

// Change is a settled file in the inbox.
type Change struct {
	Path    string
	Type    ChangeType
	Size    int64
	ModTime time.Time
}

// Handler receives settled files. Handlers run on the watcher goroutine, one
// at a time.
type Handler func(ctx context.Context, change Change)

// Subscription binds a pattern to a handler.
type Subscription struct {
	ID      string
	Pattern string
	Handler Handler
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a file must be quiet before dispatch.
	Debounce time.Duration
	// ScanExisting dispatches files already in the directory on Start.
	ScanExisting bool
	Logger       *zap.Logger
}

type pending struct {
	typ  ChangeType
	seen time.Time
}

// Watcher dispatches files dropped into one directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	scan     bool
	logger   *zap.Logger

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	pending       map[string]pending
	watcher       *fsnotify.Watcher
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a watcher for dir. Nothing is watched until Start.
func New(dir string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Watcher{
		dir:           filepath.Clean(dir),
		debounce:      opts.Debounce,
		scan:          opts.ScanExisting,
		logger:        logging.ForCategory(logging.OrNop(opts.Logger), logging.CategoryStorage),
		subscriptions: make(map[string]*Subscription),
		pending:       make(map[string]pending),
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Subscribe registers handler for files whose base name matches pattern.
// An empty pattern or "*" matches every file.
func (w *Watcher) Subscribe(pattern string, handler Handler) string {
	if w == nil || handler == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subscriptions[id] = &Subscription{ID: id, Pattern: strings.TrimSpace(pattern), Handler: handler}
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (w *Watcher) Unsubscribe(id string) {
	if w == nil || strings.TrimSpace(id) == "" {
		return
	}
	w.mu.Lock()
	delete(w.subscriptions, id)
	w.mu.Unlock()
}

// Start creates the directory if needed, begins watching it and returns. The
// watch loop stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return ErrRunning
	}
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create inbox directory").WithContext("dir", w.dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInternal, "create file watcher")
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "watch inbox directory").WithContext("dir", w.dir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	if w.scan {
		w.queueExisting()
	}
	w.logger.Info("watching inbox", zap.String("dir", w.dir))
	go w.run(runCtx, fw, w.done)
	return nil
}

// Stop ends the watch loop and waits for the current dispatch to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	cancel()
	<-done
	if err := fw.Close(); err != nil {
		w.logger.Warn("close file watcher", zap.Error(err))
	}
}

// Wait blocks until the watch loop exits.
func (w *Watcher) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-ticker.C:
			w.dispatchSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var typ ChangeType
	switch {
	case event.Op&fsnotify.Create != 0:
		typ = ChangeCreated
	case event.Op&fsnotify.Write != 0:
		typ = ChangeModified
	default:
		return
	}
	if filepath.Dir(event.Name) != w.dir {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.pending[event.Name]; ok && prev.typ != ChangeModified {
		typ = prev.typ
	}
	w.pending[event.Name] = pending{typ: typ, seen: time.Now()}
}

func (w *Watcher) queueExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scan inbox", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// Zero time so the first tick dispatches them.
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.pending[filepath.Join(w.dir, entry.Name())] = pending{typ: ChangeExisting}
		}
	}
}

func (w *Watcher) dispatchSettled(ctx context.Context) {
	now := time.Now()
	w.mu.Lock()
	var ready []string
	types := make(map[string]ChangeType)
	for p, pend := range w.pending {
		if now.Sub(pend.seen) >= w.debounce {
			ready = append(ready, p)
			types[p] = pend.typ
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	sort.Strings(ready)
	for _, p := range ready {
		if ctx.Err() != nil {
			return
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		w.Notify(ctx, Change{Path: p, Type: types[p], Size: info.Size(), ModTime: info.ModTime()})
	}
}

// Notify dispatches change to every matching subscription.
func (w *Watcher) Notify(ctx context.Context, change Change) {
	if w == nil {
		return
	}
	w.mu.Lock()
	subs := make([]*Subscription, 0, len(w.subscriptions))
	for _, sub := range w.subscriptions {
		subs = append(subs, sub)
	}
	w.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	for _, sub := range subs {
		if matchesPattern(sub.Pattern, change.Path) {
			sub.Handler(ctx, change)
		}
	}
}

// Archive moves a dispatched file into the processed or failed
// subdirectory and returns its new path.
func (w *Watcher) Archive(p string, failed bool) (string, error) {
	sub := ProcessedDir
	if failed {
		sub = FailedDir
	}
	dir := filepath.Join(w.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create archive directory").WithContext("dir", dir)
	}
	dest := filepath.Join(dir, filepath.Base(p))
	if err := os.Rename(p, dest); err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "archive plan file").WithContext("path", p)
	}
	return dest, nil
}

func matchesPattern(pattern, filePath string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	base := path.Base(filepath.ToSlash(filePath))
	ok, _ := path.Match(filepath.ToSlash(pattern), base)
	return ok
}
