package planfile

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

// settleDelay gives writers a moment to finish before a dropped file is read.
const settleDelay = 100 * time.Millisecond

// SubmitFunc receives each valid plan document dropped into the watch
// directory.
type SubmitFunc func(doc *Document, path string)

// Watcher monitors a drop directory for plan files. External layers submit
// work by writing a *.yaml/*.yml/*.json plan document into the directory;
// each valid file is handed to the submit callback exactly once.
type Watcher struct {
	dir    string
	submit SubmitFunc

	mu   sync.Mutex
	seen map[string]bool
}

// NewWatcher creates a Watcher over the given directory, creating it if
// needed.
func NewWatcher(dir string, submit SubmitFunc) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create watch directory: %w", err)
	}
	return &Watcher{
		dir:    dir,
		submit: submit,
		seen:   make(map[string]bool),
	}, nil
}

// Run scans existing plan files, then watches for new ones until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	// Files already present when the watcher starts are submitted too.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.handle(filepath.Join(w.dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Let the writer finish before reading.
			time.Sleep(settleDelay)
			w.handle(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[planfile] watch error: %v", err)
		}
	}
}

// handle loads one candidate file and submits it if valid.
func (w *Watcher) handle(path string) {
	if !isPlanFile(path) {
		return
	}

	w.mu.Lock()
	if w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	doc, err := Load(path)
	if err != nil {
		log.Printf("[planfile] skipping %s: %v", path, err)
		return
	}

	log.Printf("[planfile] submitting plan from %s (%d subtasks)", path, len(doc.Subtasks))
	w.submit(doc, path)
}

func isPlanFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
