package sync

import (
	"math/rand"
	"testing"

	"github.com/taskflow/taskflow/internal/task"
)

func mkTask(id, createdAt int64, title string) *task.Task {
	return &task.Task{
		ID:          id,
		Title:       title,
		Description: task.DefaultDescription,
		Location:    task.DefaultLocation,
		DueDate:     "01-01-2027",
		DueTime:     "09:00",
		Priority:    task.PriorityMedium,
		CreatedAt:   createdAt,
	}
}

func ids(tasks []*task.Task) []int64 {
	out := make([]int64, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReconcile_BothEmpty(t *testing.T) {
	if plan := Reconcile(nil, nil); !plan.Empty() {
		t.Errorf("Reconcile(nil, nil) = %+v, want empty", plan)
	}
}

func TestReconcile_FirstLoginHydration(t *testing.T) {
	remoteA := mkTask(1, 100, "A")
	plan := Reconcile(nil, []*task.Task{remoteA})

	if len(plan.RemoteUpserts) != 0 {
		t.Errorf("RemoteUpserts = %v, want none", ids(plan.RemoteUpserts))
	}
	if len(plan.LocalUpserts) != 1 || *plan.LocalUpserts[0] != *remoteA {
		t.Errorf("LocalUpserts = %v, want [TaskA]", plan.LocalUpserts)
	}
}

func TestReconcile_LocalNewerOrEqualKept(t *testing.T) {
	local := []*task.Task{mkTask(1, 100, "X")}
	remote := []*task.Task{mkTask(1, 50, "Y")}

	plan := Reconcile(local, remote)
	if !plan.Empty() {
		t.Errorf("Reconcile() = %+v, want no change", plan)
	}
	if local[0].Title != "X" {
		t.Errorf("local title = %q, want X", local[0].Title)
	}
}

func TestReconcile_FirstSyncPublication(t *testing.T) {
	localB := mkTask(2, 10, "B")
	plan := Reconcile([]*task.Task{localB}, nil)

	if len(plan.LocalUpserts) != 0 {
		t.Errorf("LocalUpserts = %v, want none", ids(plan.LocalUpserts))
	}
	if len(plan.RemoteUpserts) != 1 || *plan.RemoteUpserts[0] != *localB {
		t.Errorf("RemoteUpserts = %v, want [TaskB]", plan.RemoteUpserts)
	}
}

func TestReconcile_TieBreak(t *testing.T) {
	tests := []struct {
		name       string
		localAt    int64
		remoteAt   int64
		wantRemote bool
	}{
		{name: "remote created later wins", localAt: 100, remoteAt: 200, wantRemote: true},
		{name: "equal keeps local", localAt: 100, remoteAt: 100, wantRemote: false},
		{name: "local created later kept", localAt: 200, remoteAt: 100, wantRemote: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := mkTask(7, tt.localAt, "local")
			remote := mkTask(7, tt.remoteAt, "remote")
			plan := Reconcile([]*task.Task{local}, []*task.Task{remote})

			if len(plan.RemoteUpserts) != 0 {
				t.Errorf("RemoteUpserts = %v, want none", ids(plan.RemoteUpserts))
			}
			if tt.wantRemote {
				if len(plan.LocalUpserts) != 1 || plan.LocalUpserts[0].Title != "remote" {
					t.Errorf("LocalUpserts = %v, want remote copy", plan.LocalUpserts)
				}
			} else if len(plan.LocalUpserts) != 0 {
				t.Errorf("LocalUpserts = %v, want none", ids(plan.LocalUpserts))
			}
		})
	}
}

func TestReconcile_SortedAndCopied(t *testing.T) {
	local := []*task.Task{mkTask(5, 1, "l5"), mkTask(1, 1, "l1"), mkTask(3, 1, "l3")}
	remote := []*task.Task{mkTask(9, 1, "r9"), mkTask(4, 1, "r4")}

	plan := Reconcile(local, remote)
	if got := ids(plan.RemoteUpserts); !equalIDs(got, []int64{1, 3, 5}) {
		t.Errorf("RemoteUpserts ids = %v, want [1 3 5]", got)
	}
	if got := ids(plan.LocalUpserts); !equalIDs(got, []int64{4, 9}) {
		t.Errorf("LocalUpserts ids = %v, want [4 9]", got)
	}

	plan.RemoteUpserts[0].Title = "mutated"
	if local[1].Title != "l1" {
		t.Error("Reconcile output aliases its input")
	}
}

// apply merges the plan into copies of both snapshots the way the
// orchestrator does.
func apply(local, remote []*task.Task, plan Plan) ([]*task.Task, []*task.Task) {
	merge := func(base, upserts []*task.Task) []*task.Task {
		byID := make(map[int64]*task.Task)
		for _, t := range base {
			byID[t.ID] = t.Clone()
		}
		for _, t := range upserts {
			byID[t.ID] = t.Clone()
		}
		out := make([]*task.Task, 0, len(byID))
		for _, t := range byID {
			out = append(out, t)
		}
		return out
	}
	return merge(local, plan.LocalUpserts), merge(remote, plan.RemoteUpserts)
}

func randomSnapshot(r *rand.Rand, n int) []*task.Task {
	seen := make(map[int64]bool)
	var out []*task.Task
	for len(out) < n {
		id := int64(r.Intn(40) + 1)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, mkTask(id, int64(r.Intn(5)), "t"))
	}
	return out
}

func TestReconcile_IdempotentAndConvergent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		local := randomSnapshot(r, r.Intn(15))
		remote := randomSnapshot(r, r.Intn(15))

		first := Reconcile(local, remote)
		again := Reconcile(local, remote)
		if !equalIDs(ids(first.RemoteUpserts), ids(again.RemoteUpserts)) ||
			!equalIDs(ids(first.LocalUpserts), ids(again.LocalUpserts)) {
			t.Fatalf("round %d: Reconcile is not deterministic", i)
		}

		newLocal, newRemote := apply(local, remote, first)
		if plan := Reconcile(newLocal, newRemote); !plan.Empty() {
			t.Fatalf("round %d: not converged after one round: remote %v local %v",
				i, ids(plan.RemoteUpserts), ids(plan.LocalUpserts))
		}
	}
}
