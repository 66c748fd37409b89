package knowledge

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
)

// Watcher invalidates an in-memory retrieval cache when a knowledge markdown
// file changes underneath the process, so a long-running host that serves
// multiple invocations against the same project never retrieves stale
// entries. This is reporting-only infrastructure: it never blocks a
// retrieval or write, matching the knowledge store's own fail-open posture.
type Watcher struct {
	fsw       *fsnotify.Watcher
	generation uint64
	mu        sync.Mutex
	done      chan struct{}
}

// NewWatcher starts watching rootDir for knowledge file changes. Callers
// should call Generation() before a retrieval and compare it after, to
// decide whether to refresh a cache; Close stops the underlying watch.
func NewWatcher(rootDir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(rootDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	log := logging.Get(logging.CategoryKnowledge)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				atomic.AddUint64(&w.generation, 1)
				log.Debug("knowledge file change detected: %s", event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("knowledge watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Generation returns a monotonically increasing counter bumped on every
// observed filesystem change. Callers compare generations across calls to
// detect whether a cached retrieval result might be stale.
func (w *Watcher) Generation() uint64 {
	return atomic.LoadUint64(&w.generation)
}

// Close stops the watcher and releases its file descriptor.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}
