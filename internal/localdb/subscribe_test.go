package localdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/task"
)

func waitNotify(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
	case <-time.After(timeout):
		t.Fatal("timeout waiting for change notification")
	}
}

func TestSubscribe_InProcessWrite(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := db.Subscribe(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if _, err := db.Insert(ctx, newTask("watched", "01-01-2027", "09:00", 1)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	waitNotify(t, ch, 2*time.Second)
}

func TestSubscribe_OtherConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open watcher db: %v", err)
	}
	defer watcher.Close()

	writer, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open writer db: %v", err)
	}
	defer writer.Close()

	ch, err := watcher.Subscribe(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if _, err := writer.Insert(ctx, newTask("from elsewhere", "01-01-2027", "09:00", 1)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	waitNotify(t, ch, 5*time.Second)
}

func TestSubscribe_ClosedOnCancel(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := db.Subscribe(ctx, 0)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestSubscribe_ClosedOnDBClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	db, err := OpenWithOptions(context.Background(), path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}

	ch, err := db.Subscribe(context.Background(), 0)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	db.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after Close")
		}
	}
}

func waitTasks(t *testing.T, ch <-chan []*task.Task, want int) []*task.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tasks, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed unexpectedly")
			}
			if len(tasks) == want {
				return tasks
			}
		case <-deadline:
			t.Fatalf("timeout waiting for a list of %d tasks", want)
		}
	}
}

func TestSubscribeTasks_DeliversLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open watcher db: %v", err)
	}
	defer watcher.Close()
	writer, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open writer db: %v", err)
	}
	defer writer.Close()

	ch, err := watcher.SubscribeTasks(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SubscribeTasks() failed: %v", err)
	}
	waitTasks(t, ch, 0)

	if _, err := watcher.Insert(ctx, newTask("local", "02-01-2027", "09:00", 1)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	waitTasks(t, ch, 1)

	if _, err := writer.Insert(ctx, newTask("from elsewhere", "01-01-2027", "09:00", 2)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	tasks := waitTasks(t, ch, 2)
	if tasks[0].Title != "from elsewhere" || tasks[1].Title != "local" {
		t.Errorf("titles = %q, %q; want deadline order", tasks[0].Title, tasks[1].Title)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}
