package localdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/task"
)

// testDB opens a store in a temporary directory.
func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	db, err := OpenWithOptions(context.Background(), path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTask(title, dueDate, dueTime string, createdAt int64) *task.Task {
	return &task.Task{
		Title:       title,
		Description: task.DefaultDescription,
		Location:    task.DefaultLocation,
		DueDate:     dueDate,
		DueTime:     dueTime,
		Priority:    task.PriorityMedium,
		CreatedAt:   createdAt,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"tasks", "pending_publish", "meta"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := OpenWithOptions(context.Background(), filepath.Join(t.TempDir(), "x.db"), Options{Driver: "postgres"})
	if err == nil {
		t.Fatal("OpenWithOptions() should reject a driver that is not compiled in")
	}
}

func TestInsert_AssignsIncreasingIDs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := newTask("first", "01-01-2027", "09:00", 1)
	id1, err := db.Insert(ctx, first)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id1 <= 0 || first.ID != id1 {
		t.Fatalf("Insert() id = %d, task.ID = %d", id1, first.ID)
	}

	second := newTask("second", "01-01-2027", "10:00", 2)
	id2, err := db.Insert(ctx, second)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("second id %d should be greater than %d", id2, id1)
	}
}

func TestInsert_KeepsExplicitID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	pulled := newTask("from remote", "02-02-2027", "08:00", 5)
	pulled.ID = 42
	if _, err := db.Insert(ctx, pulled); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	got, err := db.GetByID(ctx, 42)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Title != "from remote" {
		t.Errorf("Title = %q", got.Title)
	}

	// Auto ids continue after the highest id seen.
	next := newTask("local", "02-02-2027", "08:00", 6)
	id, err := db.Insert(ctx, next)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id <= 42 {
		t.Errorf("auto id = %d, want > 42", id)
	}
}

func TestIDsNotReusedAfterDeleteAll(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := newTask("a", "01-01-2027", "09:00", 1)
	id1, _ := db.Insert(ctx, tk)
	if err := db.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() failed: %v", err)
	}
	id2, err := db.Insert(ctx, newTask("b", "01-01-2027", "09:00", 2))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id2 == id1 {
		t.Errorf("id %d was reused", id1)
	}
}

func TestInsert_RejectsInvalidTask(t *testing.T) {
	db := testDB(t)
	bad := newTask("", "01-01-2027", "09:00", 1)
	if _, err := db.Insert(context.Background(), bad); !errors.Is(err, task.ErrMissingTitle) {
		t.Errorf("Insert() error = %v, want ErrMissingTitle", err)
	}
}

func TestUpdate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := newTask("draft", "01-01-2027", "09:00", 1)
	if _, err := db.Insert(ctx, tk); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	tk.Title = "final"
	tk.Priority = task.PriorityHigh
	tk.IsCompleted = true
	tk.ReminderTime = 123
	tk.ReminderSet = true
	if err := db.Update(ctx, tk); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := db.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if *got != *tk {
		t.Errorf("GetByID() = %+v, want %+v", got, tk)
	}

	missing := tk.Clone()
	missing.ID = 999
	if err := db.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := newTask("imported", "01-01-2027", "09:00", 1)
	tk.ID = 10
	if err := db.Upsert(ctx, tk); err != nil {
		t.Fatalf("Upsert() insert failed: %v", err)
	}
	tk.Title = "imported again"
	if err := db.Upsert(ctx, tk); err != nil {
		t.Fatalf("Upsert() update failed: %v", err)
	}

	n, err := db.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1", n, err)
	}
	got, _ := db.GetByID(ctx, 10)
	if got.Title != "imported again" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestDelete_IsIdempotentAndClearsPending(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := newTask("gone", "01-01-2027", "09:00", 1)
	db.Insert(ctx, tk)
	if err := db.Pending().Add(ctx, tk.ID); err != nil {
		t.Fatalf("Pending().Add() failed: %v", err)
	}

	if err := db.Delete(ctx, tk.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, tk.ID); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}

	if _, err := db.GetByID(ctx, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	ids, _ := db.Pending().List(ctx)
	if len(ids) != 0 {
		t.Errorf("pending = %v, want empty", ids)
	}
}

func TestGetAll_OrderedByDeadline(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Inserted out of order; DD-MM-YYYY must not sort lexically.
	for _, tk := range []*task.Task{
		newTask("march", "01-03-2027", "09:00", 1),
		newTask("january late", "15-01-2027", "18:00", 2),
		newTask("next year", "01-01-2028", "00:00", 3),
		newTask("january early", "15-01-2027", "08:00", 4),
	} {
		if _, err := db.Insert(ctx, tk); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	all, err := db.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	want := []string{"january early", "january late", "march", "next year"}
	if len(all) != len(want) {
		t.Fatalf("GetAll() returned %d tasks, want %d", len(all), len(want))
	}
	for i, w := range want {
		if all[i].Title != w {
			t.Errorf("all[%d] = %q, want %q", i, all[i].Title, w)
		}
	}
}

func TestGetIncompleteAndSetCompleted(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := newTask("a", "01-01-2027", "09:00", 1)
	b := newTask("b", "02-01-2027", "09:00", 2)
	db.Insert(ctx, a)
	db.Insert(ctx, b)

	if err := db.SetCompleted(ctx, a.ID, true); err != nil {
		t.Fatalf("SetCompleted() failed: %v", err)
	}
	open, err := db.GetIncomplete(ctx)
	if err != nil {
		t.Fatalf("GetIncomplete() failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Errorf("GetIncomplete() = %v, want only %d", open, b.ID)
	}

	if err := db.SetCompleted(ctx, 999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetCompleted(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetAll_Empty(t *testing.T) {
	db := testDB(t)
	all, err := db.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("GetAll() = %v, want empty non-nil slice", all)
	}
}

func TestPendingQueue_DedupAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	q := db.Pending()

	clock := time.UnixMilli(1000)
	q.now = func() time.Time { clock = clock.Add(time.Millisecond); return clock }

	for _, id := range []int64{3, 1, 3, 2} {
		if err := q.Add(ctx, id); err != nil {
			t.Fatalf("Add(%d) failed: %v", id, err)
		}
	}

	ids, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	want := []int64{3, 1, 2}
	if len(ids) != len(want) {
		t.Fatalf("List() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("List()[%d] = %d, want %d", i, ids[i], want[i])
		}
	}

	if err := q.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := q.Remove(ctx, 1); err != nil {
		t.Errorf("second Remove() failed: %v", err)
	}
	ids, _ = q.List(ctx)
	if len(ids) != 2 {
		t.Errorf("List() after remove = %v", ids)
	}
}

func TestPendingQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Pending().Add(ctx, 7); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	ids, err := db.Pending().List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != 7 {
		t.Errorf("List() after reopen = %v, %v; want [7]", ids, err)
	}
}

func TestDeleteAll_WipesPending(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tk := newTask("x", "01-01-2027", "09:00", 1)
	db.Insert(ctx, tk)
	db.Pending().Add(ctx, tk.ID)

	if err := db.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() failed: %v", err)
	}
	n, _ := db.Count(ctx)
	ids, _ := db.Pending().List(ctx)
	if n != 0 || len(ids) != 0 {
		t.Errorf("after DeleteAll: %d tasks, pending %v", n, ids)
	}
}

func TestPendingQueue_AddGivesNewVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	q := db.Pending()

	if _, ok, err := q.Version(ctx, 4); err != nil || ok {
		t.Fatalf("Version() of unqueued id = %v, %v; want not queued", ok, err)
	}
	q.Add(ctx, 4)
	q.Add(ctx, 5)
	first, ok, err := q.Version(ctx, 4)
	if err != nil || !ok || first == "" {
		t.Fatalf("Version() = %q, %v, %v", first, ok, err)
	}

	q.Add(ctx, 4)
	second, _, _ := q.Version(ctx, 4)
	if second == first {
		t.Error("re-adding an id kept its version")
	}
	if ids, _ := q.List(ctx); len(ids) != 2 || ids[0] != 4 {
		t.Errorf("List() = %v, want [4 5] with 4 keeping its position", ids)
	}
}

func TestPendingQueue_RemoveVersionKeepsRequeuedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()

	publisher, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer publisher.Close()
	editor, err := OpenWithOptions(ctx, path, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer editor.Close()

	q := publisher.Pending()
	q.Add(ctx, 9)
	version, _, _ := q.Version(ctx, 9)

	// Saved again by another process while 9 is being published.
	if err := editor.Pending().Add(ctx, 9); err != nil {
		t.Fatal(err)
	}

	removed, err := q.RemoveVersion(ctx, 9, version)
	if err != nil {
		t.Fatalf("RemoveVersion() failed: %v", err)
	}
	if removed {
		t.Error("RemoveVersion() removed an entry queued again after its version was read")
	}
	if ids, _ := q.List(ctx); len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("List() = %v, want [9]", ids)
	}

	current, _, _ := q.Version(ctx, 9)
	if removed, err := q.RemoveVersion(ctx, 9, current); err != nil || !removed {
		t.Errorf("RemoveVersion(current) = %v, %v; want removed", removed, err)
	}
	if ids, _ := q.List(ctx); len(ids) != 0 {
		t.Errorf("List() = %v, want empty", ids)
	}
}

func TestInitSchema_MigratesPendingVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Table as created by builds without versioned entries.
	for _, stmt := range []string{
		`DROP TABLE pending_publish`,
		`CREATE TABLE pending_publish (task_id INTEGER PRIMARY KEY, enqueued_at INTEGER NOT NULL)`,
		`INSERT INTO pending_publish (task_id, enqueued_at) VALUES (3, 1)`,
	} {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	q := db.Pending()
	version, ok, err := q.Version(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("Version() = %q, %v, %v; want the old entry kept", version, ok, err)
	}
	if removed, err := q.RemoveVersion(ctx, 3, version); err != nil || !removed {
		t.Errorf("RemoveVersion() = %v, %v", removed, err)
	}
}

func TestOwner(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if owner, err := db.Owner(ctx); err != nil || owner != "" {
		t.Fatalf("Owner() of a new store = %q, %v; want unclaimed", owner, err)
	}
	if err := db.SetOwner(ctx, "u1"); err != nil {
		t.Fatalf("SetOwner() failed: %v", err)
	}
	tk := newTask("u1 task", "01-01-2027", "09:00", 1)
	db.Insert(ctx, tk)
	db.Pending().Add(ctx, tk.ID)

	if err := db.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if owner, _ := db.Owner(ctx); owner != "u1" {
		t.Errorf("Owner() after DeleteAll = %q, want u1", owner)
	}

	db.Insert(ctx, newTask("another", "01-01-2027", "09:00", 2))
	if err := db.Reassign(ctx, "u2"); err != nil {
		t.Fatalf("Reassign() failed: %v", err)
	}
	n, _ := db.Count(ctx)
	ids, _ := db.Pending().List(ctx)
	owner, _ := db.Owner(ctx)
	if n != 0 || len(ids) != 0 || owner != "u2" {
		t.Errorf("after Reassign: %d tasks, pending %v, owner %q", n, ids, owner)
	}
}
