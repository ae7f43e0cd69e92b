package localdb

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskflow/taskflow/internal/task"
)

// DefaultDebounce coalesces bursts of file events into one notification.
const DefaultDebounce = 250 * time.Millisecond

// Subscribe returns a channel that receives a value after the task set
// changes. Writes made through this DB notify immediately; writes made by
// other processes are detected by watching the database and WAL files and
// are debounced. Notifications coalesce: a slow reader sees one value for
// many changes.
//
// The channel is closed when ctx is canceled or the DB is closed.
func (db *DB) Subscribe(ctx context.Context, debounce time.Duration) (<-chan struct{}, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(db.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch database directory %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)

	db.subMu.Lock()
	id := db.subID
	db.subID++
	db.subs[id] = ch
	db.subMu.Unlock()

	go db.watch(ctx, id, ch, watcher, debounce)

	return ch, nil
}

// SubscribeTasks is Subscribe delivering the task list, ordered by deadline.
// The current list is delivered first, then a fresh one after each change.
// A reader that falls behind only sees the newest list.
//
// The channel is closed when ctx is canceled or the DB is closed.
func (db *DB) SubscribeTasks(ctx context.Context, debounce time.Duration) (<-chan []*task.Task, error) {
	signals, err := db.Subscribe(ctx, debounce)
	if err != nil {
		return nil, err
	}

	out := make(chan []*task.Task, 1)
	go func() {
		defer close(out)
		db.deliverTasks(ctx, out)
		for range signals {
			db.deliverTasks(ctx, out)
		}
	}()
	return out, nil
}

func (db *DB) deliverTasks(ctx context.Context, out chan []*task.Task) {
	select {
	case <-db.closed:
		return
	default:
	}
	tasks, err := db.GetAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			db.logger.WithError(err).Warn("failed to read tasks for subscriber")
		}
		return
	}
	// Replace a list the reader has not taken yet.
	select {
	case <-out:
	default:
	}
	out <- tasks
}

func (db *DB) watch(ctx context.Context, id int, ch chan struct{}, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer func() {
		db.subMu.Lock()
		delete(db.subs, id)
		db.subMu.Unlock()
		_ = watcher.Close()
		close(ch)
	}()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-db.closed:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !db.isStoreFile(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			db.logger.WithError(err).Warn("database watcher error")

		case <-fire:
			fire = nil
			db.signal(id)
		}
	}
}

func (db *DB) isStoreFile(name string) bool {
	base := filepath.Base(name)
	file := filepath.Base(db.path)
	return base == file || base == file+"-wal"
}

// notify wakes every subscriber after an in-process write.
func (db *DB) notify() {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	for _, ch := range db.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (db *DB) signal(id int) {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	if ch, ok := db.subs[id]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (db *DB) closeSubscribers() {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	select {
	case <-db.closed:
	default:
		close(db.closed)
	}
}
