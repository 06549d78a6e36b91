// Package watcher implements the Hot-Reload Watcher: a debounced
// filesystem watch over a rule directory that emits {ruleId, change}
// events for the Local Loader to act on. It never touches the Cache
// itself.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies what happened to a rule file.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Event is one coalesced, debounced change notification.
type Event struct {
	RuleID string
	Change ChangeType
}

// Config controls what the watcher watches and how it debounces.
type Config struct {
	Root       string
	Extension  string
	MetaSuffix string
	// DebounceDelay overrides the platform default (500ms Windows, 200ms
	// macOS, 300ms Linux) when non-zero.
	DebounceDelay time.Duration
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Extension == "" {
		c.Extension = ".json"
	}
	if c.MetaSuffix == "" {
		c.MetaSuffix = ".meta.json"
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = platformDebounce()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func platformDebounce() time.Duration {
	switch runtime.GOOS {
	case "windows":
		return 500 * time.Millisecond
	case "darwin":
		return 200 * time.Millisecond
	default:
		return 300 * time.Millisecond
	}
}

type pendingChange struct {
	change ChangeType
	timer  *time.Timer
}

// Watcher debounces raw filesystem events into rule-change notifications.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	onEvent func(Event)

	mu      sync.Mutex
	pending map[string]*pendingChange
	started bool
	stopCh  chan struct{}
	events  chan Event
}

// New creates a Watcher. Call Start to begin watching cfg.Root.
func New(cfg Config, onEvent func(Event)) (*Watcher, error) {
	cfg = cfg.withDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		onEvent: onEvent,
		pending: make(map[string]*pendingChange),
		events:  make(chan Event, 64),
	}, nil
}

// Start begins watching cfg.Root. Calling Start again on an already
// started watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	if err := w.fsw.Add(w.cfg.Root); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Root, err)
	}

	go w.readRawEvents()
	go w.dispatchLoop()
	return nil
}

// Stop cancels any pending debounce timers and closes the underlying
// watcher. Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingChange)
	close(w.stopCh)
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) readRawEvents() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.cfg.Logger.Error("watcher error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, w.cfg.Extension) {
		return
	}

	isMeta := strings.HasSuffix(ev.Name, w.cfg.MetaSuffix)
	path := ev.Name
	if isMeta {
		path = strings.TrimSuffix(path, w.cfg.MetaSuffix) + w.cfg.Extension
	}

	ruleID := idFromPath(w.cfg.Root, path, w.cfg.Extension)

	var change ChangeType
	switch {
	case ev.Has(fsnotify.Remove) && !isMeta:
		change = Deleted
	case ev.Has(fsnotify.Create) && !isMeta:
		change = Added
	default:
		change = Modified
	}

	w.debounce(ruleID, change)
}

// debounce coalesces repeated events for the same ruleID within
// DebounceDelay into one, with the final change type winning.
func (w *Watcher) debounce(ruleID string, change ChangeType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}

	if p, ok := w.pending[ruleID]; ok {
		p.change = change
		p.timer.Reset(w.cfg.DebounceDelay)
		return
	}

	w.pending[ruleID] = &pendingChange{
		change: change,
		timer: time.AfterFunc(w.cfg.DebounceDelay, func() {
			w.fire(ruleID)
		}),
	}
}

func (w *Watcher) fire(ruleID string) {
	w.mu.Lock()
	p, ok := w.pending[ruleID]
	if ok {
		delete(w.pending, ruleID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.events <- Event{RuleID: ruleID, Change: p.change}:
	case <-w.stopCh:
	}
}

// dispatchLoop invokes onEvent serially on a single goroutine; a panicking
// callback is logged and does not halt the watcher.
func (w *Watcher) dispatchLoop() {
	for {
		select {
		case ev := <-w.events:
			w.invoke(ev)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("watcher callback panicked", "rule_id", ev.RuleID, "panic", r)
		}
	}()
	w.onEvent(ev)
}

func idFromPath(root, abs, ext string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		rel = abs
	}
	rel = strings.TrimSuffix(rel, ext)
	return filepath.ToSlash(rel)
}
