package sync

import (
	"sort"

	"github.com/taskflow/taskflow/internal/task"
)

// Plan is the set of writes that brings both stores into agreement.
type Plan struct {
	// RemoteUpserts are local tasks the remote store lacks.
	RemoteUpserts []*task.Task
	// LocalUpserts are remote tasks the local store lacks or holds an older
	// copy of.
	LocalUpserts []*task.Task
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.RemoteUpserts) == 0 && len(p.LocalUpserts) == 0
}

// Reconcile merges two snapshots. For every id in either snapshot:
//
//	local only                      -> RemoteUpserts
//	remote only                     -> LocalUpserts
//	both, local.CreatedAt < remote  -> LocalUpserts (remote copy)
//	both, otherwise                 -> nothing
//
// Nothing is ever deleted. The result holds copies sorted by id, and the
// inputs are not modified.
func Reconcile(local, remote []*task.Task) Plan {
	localByID := make(map[int64]*task.Task, len(local))
	for _, t := range local {
		localByID[t.ID] = t
	}
	remoteByID := make(map[int64]*task.Task, len(remote))
	for _, t := range remote {
		remoteByID[t.ID] = t
	}

	var plan Plan
	for id, l := range localByID {
		if _, ok := remoteByID[id]; !ok {
			plan.RemoteUpserts = append(plan.RemoteUpserts, l.Clone())
		}
	}
	for id, r := range remoteByID {
		l, ok := localByID[id]
		if !ok || l.CreatedAt < r.CreatedAt {
			plan.LocalUpserts = append(plan.LocalUpserts, r.Clone())
		}
	}

	sortByID(plan.RemoteUpserts)
	sortByID(plan.LocalUpserts)
	return plan
}

func sortByID(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
