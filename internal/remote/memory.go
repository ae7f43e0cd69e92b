package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/taskflow/taskflow/internal/task"
)

// Op names a Backend call, for Memory fault hooks.
type Op string

const (
	OpUpsert   Op = "upsert"
	OpFetchAll Op = "fetch_all"
	OpDelete   Op = "delete"
)

// Memory is an in-process Backend. It keeps copies, so callers may mutate
// what they pass in or get back.
type Memory struct {
	mu    sync.Mutex
	users map[string]map[int64]*task.Task
	calls map[Op]int

	// Hook, when set, runs before every call and can fail it. id is 0 for
	// FetchAll. The hook runs without the lock held, so it may block.
	Hook func(ctx context.Context, op Op, id int64) error
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]map[int64]*task.Task),
		calls: make(map[Op]int),
	}
}

func (m *Memory) before(ctx context.Context, op Op, id int64) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, id); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Upsert implements Backend.
func (m *Memory) Upsert(ctx context.Context, uid string, t *task.Task) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	if err := m.before(ctx, OpUpsert, t.ID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.users[uid]
	if !ok {
		coll = make(map[int64]*task.Task)
		m.users[uid] = coll
	}
	coll[t.ID] = t.Clone()
	return nil
}

// FetchAll implements Backend.
func (m *Memory) FetchAll(ctx context.Context, uid string) ([]*task.Task, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	if err := m.before(ctx, OpFetchAll, 0); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*task.Task, 0, len(m.users[uid]))
	for _, t := range m.users[uid] {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, uid string, id int64) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	if err := m.before(ctx, OpDelete, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users[uid], id)
	return nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }

// Get returns a copy of one stored document, or nil.
func (m *Memory) Get(uid string, id int64) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[uid][id].Clone()
}

// Put stores t for uid directly, bypassing hooks and call counts.
func (m *Memory) Put(uid string, t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.users[uid]
	if !ok {
		coll = make(map[int64]*task.Task)
		m.users[uid] = coll
	}
	coll[t.ID] = t.Clone()
}

// Len returns the number of documents stored for uid.
func (m *Memory) Len(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users[uid])
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}
