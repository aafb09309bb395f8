package splitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eddielth/csv-device-split/logger"
)

// RunFunc processes one input file; the watcher calls it for every CSV that
// lands in the watched directory
type RunFunc func(ctx context.Context, inputPath string) error

// settleDelay is how long a file must stay quiet after its last write event
// before it is considered fully copied into the drop directory
const settleDelay = 2 * time.Second

// Watcher turns the engine into a long-lived service: monitoring equipment
// exports get dropped into a directory and are processed as they arrive,
// one file at a time, in arrival order.
type Watcher struct {
	dir string
	run RunFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over dir
func NewWatcher(dir string, run RunFunc) *Watcher {
	return &Watcher{
		dir:     dir,
		run:     run,
		pending: map[string]*time.Timer{},
	}
}

// Watch processes CSV files already present in the directory, then blocks
// consuming new ones until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	// backlog first, in name order, so restarts are deterministic. The
	// backlog stays in a slice and is drained from the loop below; a full
	// drop directory must never block startup or cancellation.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var backlog []string
	for _, entry := range entries {
		if !entry.IsDir() && isCSV(entry.Name()) {
			backlog = append(backlog, filepath.Join(w.dir, entry.Name()))
		}
	}
	queue := make(chan string, 256)

	logger.Info("watching directory for new CSV files: %s", w.dir)

	for {
		if len(backlog) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			path := backlog[0]
			backlog = backlog[1:]
			if err := w.run(ctx, path); err != nil {
				logger.Error("processing %s failed: %v", path, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case path := <-queue:
			if err := w.run(ctx, path); err != nil {
				logger.Error("processing %s failed: %v", path, err)
			}

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isCSV(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// wait for the copy to settle; each new write event restarts
			// the timer
			w.settle(event.Name, queue)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("directory watch error: %v", err)
		}
	}
}

// settle queues path after it has stayed quiet for settleDelay
func (w *Watcher) settle(path string, queue chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case queue <- path:
		default:
			logger.Error("input queue full, dropping %s", path)
		}
	})
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
