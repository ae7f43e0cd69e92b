package sync_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskflow/taskflow/internal/localdb"
	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/netwatch"
	"github.com/taskflow/taskflow/internal/remote"
	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
)

func Example() {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "taskflow-example")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer os.RemoveAll(dir)

	db, err := localdb.OpenWithOptions(ctx, filepath.Join(dir, "tasks.db"), localdb.Options{Logger: logging.Discard()})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer db.Close()

	backend := remote.NewMemory()
	identity := remote.IdentityFunc(func() string { return "alice" })
	network := netwatch.NewStatic(true)

	cfg := tfsync.DefaultConfig()
	cfg.PostPublishDelay = 0
	cfg.Logger = logging.Discard()
	engine := tfsync.New(tfsync.Deps{
		Scheduler: tfsync.NewScheduler(network, identity, tfsync.SchedulerConfig{}),
		Local:     db,
		Remote:    remote.NewScoped(backend, identity),
		Pending:   db.Pending(),
		Network:   network,
	}, cfg)

	t := task.New("Finish report", time.Now())
	if _, err := db.Insert(ctx, t); err != nil {
		fmt.Println(err)
		return
	}
	report, err := engine.EnqueueAndMaybeSync(ctx, t)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(report.Message())
	fmt.Println(backend.Len("alice"))
	// Output:
	// All tasks synced (1)
	// 1
}
