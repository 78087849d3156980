package tail

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxWaitFactor bounds how long a continuously written log can
// hold back a signal, as a multiple of the debounce.
const maxWaitFactor = 5

// Watcher signals when logs of interest in one session directory
// are written. Bursts of writes are coalesced into one signal
// once the directory has been quiet for the debounce period, or
// after maxWaitFactor debounce periods of continuous writing.
type Watcher struct {
	dir      string
	match    func(name string) bool
	fsw      *fsnotify.Watcher
	debounce time.Duration
	changes  chan struct{}
	now      func() time.Time

	mu    sync.Mutex
	first time.Time // zero when nothing is pending
	last  time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches dir. match is called with the base name of
// each written file; nil matches everything.
func NewWatcher(
	dir string, debounce time.Duration, match func(name string) bool,
) (*Watcher, error) {
	if debounce <= 0 {
		return nil, fmt.Errorf("debounce must be positive: %w", os.ErrInvalid)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	return &Watcher{
		dir:      dir,
		match:    match,
		fsw:      fsw,
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Changes delivers one value per coalesced burst. A signal not
// yet received absorbs later ones.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %s: %v", w.dir, err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records writes and creates of matching logs. A log
// that is truncated and rewritten shows up as a write as well.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !w.match(filepath.Base(event.Name)) {
		return
	}
	now := w.now()
	w.mu.Lock()
	if w.first.IsZero() {
		w.first = now
	}
	w.last = now
	w.mu.Unlock()
}

// flush signals when the pending burst has settled or has been
// pending for too long. It reports whether a signal was sent.
func (w *Watcher) flush() bool {
	now := w.now()
	w.mu.Lock()
	if w.first.IsZero() {
		w.mu.Unlock()
		return false
	}
	quiet := now.Sub(w.last) >= w.debounce
	overdue := now.Sub(w.first) >= maxWaitFactor*w.debounce
	if !quiet && !overdue {
		w.mu.Unlock()
		return false
	}
	w.first = time.Time{}
	w.last = time.Time{}
	w.mu.Unlock()

	select {
	case w.changes <- struct{}{}:
	default:
	}
	return true
}
