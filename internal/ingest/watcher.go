package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Importer receives documents built from files dropped into the inbox.
// The watch command wires this to the store and the sync reconciler.
type Importer func(pd *ParsedDocument) error

// WatcherConfig holds configuration for the inbox watcher.
type WatcherConfig struct {
	// DebounceInterval is how long a file must sit quiet before it is
	// imported. Editors and parsers often write in bursts; debouncing
	// batches those into one import.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher monitors an inbox directory for parsed-document files and
// imports them as they appear or change.
type Watcher struct {
	inboxDir string
	importFn Importer
	config   *WatcherConfig

	watcher *fsnotify.Watcher

	changeQueue   map[string]time.Time // path -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher for the given inbox directory. Use Start to
// begin watching.
func NewWatcher(inboxDir string, importFn Importer, config *WatcherConfig) (*Watcher, error) {
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if importFn == nil {
		return nil, fmt.Errorf("importFn cannot be nil")
	}
	if config == nil {
		config = DefaultWatcherConfig()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		inboxDir:    inboxDir,
		importFn:    importFn,
		config:      config,
		watcher:     fsw,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start imports everything already in the inbox, then watches for new and
// changed files. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.config.Logger.Println("Starting inbox watcher")

	if err := w.ImportAll(); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}

	if err := w.watcher.Add(w.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	w.config.Logger.Printf("Watching: %s", w.inboxDir)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	select {
	case <-ctx.Done():
		w.config.Logger.Println("Shutdown signal received")
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	w.config.Logger.Println("Stopping inbox watcher")
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	w.config.Logger.Println("Inbox watcher stopped")
	return nil
}

// ImportAll imports every parsed-document file currently in the inbox.
// Individual file failures are logged and skipped.
func (w *Watcher) ImportAll() error {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		if os.IsNotExist(err) {
			w.config.Logger.Printf("Inbox directory doesn't exist: %s (skipping)", w.inboxDir)
			return nil
		}
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !isParsedFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.inboxDir, entry.Name())
		if err := w.importFile(path); err != nil {
			w.config.Logger.Printf("WARNING: failed to import %s: %v", entry.Name(), err)
			continue
		}
		imported++
	}
	w.config.Logger.Printf("Initial import complete: %d documents", imported)
	return nil
}

// watchFileEvents queues filesystem events for debounced processing.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isParsedFile(event.Name) {
				continue
			}
			w.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a file change for debounced processing.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// processChangeQueue imports files whose changes have settled.
func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processPendingChanges()
		}
	}
}

// processPendingChanges imports queued files that have been quiet for at
// least the debounce interval.
func (w *Watcher) processPendingChanges() {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		w.config.Logger.Printf("Importing: %s", path)
		if err := w.importFile(path); err != nil {
			w.config.Logger.Printf("Error importing %s: %v", path, err)
		}
		delete(w.changeQueue, path)
	}
}

// importFile reads one parsed-document file and hands it to the importer.
func (w *Watcher) importFile(path string) error {
	pd, err := ReadFile(path)
	if err != nil {
		return err
	}
	return w.importFn(pd)
}

// isParsedFile reports whether the filename looks like a parsed document.
func isParsedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
