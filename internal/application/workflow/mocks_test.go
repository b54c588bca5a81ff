package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

type txKey struct{}

// memStore backs the in-memory repositories. Reads and writes copy values,
// so the engine only changes stored state through repository calls.
type memStore struct {
	mu        sync.Mutex
	defs      map[string]*domainwf.Definition
	instances map[string]*entity.Instance
	tasks     map[string]*entity.Task
	taskOrder []string
	events    []publishedEvent

	// loseUpdates makes the next n instance updates report a lost race
	loseUpdates int
	updates     int

	// abortCommits makes the next n transactions roll back at commit with a
	// retryable conflict, as a postgres deadlock would
	abortCommits int
}

type publishedEvent struct {
	AggregateID string
	Type        event.Type
	Payload     map[string]interface{}
}

type memSnapshot struct {
	instances map[string]*entity.Instance
	tasks     map[string]*entity.Task
	taskOrder []string
	events    []publishedEvent
}

func newMemStore(defs ...*domainwf.Definition) *memStore {
	s := &memStore{
		defs:      make(map[string]*domainwf.Definition),
		instances: make(map[string]*entity.Instance),
		tasks:     make(map[string]*entity.Task),
	}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

func copyInstance(i *entity.Instance) *entity.Instance {
	c := *i
	c.Context = cloneMap(i.Context)
	return &c
}

func copyTask(t *entity.Task) *entity.Task {
	c := *t
	return &c
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		instances: make(map[string]*entity.Instance, len(s.instances)),
		tasks:     make(map[string]*entity.Task, len(s.tasks)),
		taskOrder: append([]string(nil), s.taskOrder...),
		events:    append([]publishedEvent(nil), s.events...),
	}
	for id, i := range s.instances {
		snap.instances[id] = copyInstance(i)
	}
	for id, t := range s.tasks {
		snap.tasks[id] = copyTask(t)
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = snap.instances
	s.tasks = snap.tasks
	s.taskOrder = snap.taskOrder
	s.events = snap.events
}

func (s *memStore) eventTypes(instanceID string) []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []event.Type
	for _, e := range s.events {
		if e.AggregateID == instanceID {
			types = append(types, e.Type)
		}
	}
	return types
}

func (s *memStore) countEvents(eventType event.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (s *memStore) instanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// tasksByApprover returns the tasks of an instance keyed by approver; the
// latest task wins when an approver holds several.
func (s *memStore) tasksByApprover(instanceID string) map[string]*entity.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*entity.Task)
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.InstanceID == instanceID {
			out[t.ApproverID] = copyTask(t)
		}
	}
	return out
}

// memTx serializes transactions and rolls the store back on error
type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (m *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.store.restore(snap)
		return err
	}
	m.store.mu.Lock()
	abort := m.store.abortCommits > 0
	if abort {
		m.store.abortCommits--
	}
	m.store.mu.Unlock()
	if abort {
		m.store.restore(snap)
		return fmt.Errorf("%w: deadlock detected", port.ErrTransactionConflict)
	}
	return nil
}

type memPublisher struct{ store *memStore }

func (p *memPublisher) Publish(ctx context.Context, aggregateType, aggregateID string, eventType event.Type, payload map[string]interface{}) (string, error) {
	if ctx.Value(txKey{}) == nil {
		return "", port.ErrNoTransaction
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.events = append(p.store.events, publishedEvent{AggregateID: aggregateID, Type: eventType, Payload: payload})
	return "evt", nil
}

type memDefs struct{ store *memStore }

func (r *memDefs) Create(ctx context.Context, def *domainwf.Definition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.defs[def.ID] = def
	return nil
}

func (r *memDefs) GetByID(ctx context.Context, id string) (*domainwf.Definition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.defs[id], nil
}

func (r *memDefs) GetActiveByName(ctx context.Context, name string) (*domainwf.Definition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, d := range r.store.defs {
		if d.Name == name && d.IsActive {
			return d, nil
		}
	}
	return nil, nil
}

func (r *memDefs) LatestVersion(ctx context.Context, name string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	latest := 0
	for _, d := range r.store.defs {
		if d.Name == name && d.Version > latest {
			latest = d.Version
		}
	}
	return latest, nil
}

func (r *memDefs) DeactivateAll(ctx context.Context, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, d := range r.store.defs {
		if d.Name == name {
			d.IsActive = false
		}
	}
	return nil
}

func (r *memDefs) List(ctx context.Context, limit, offset int) ([]*domainwf.Definition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domainwf.Definition
	for _, d := range r.store.defs {
		out = append(out, d)
	}
	return out, nil
}

type memInstances struct{ store *memStore }

func (r *memInstances) Create(ctx context.Context, inst *entity.Instance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if inst.TriggerKey != "" {
		for _, existing := range r.store.instances {
			if existing.EntityType == inst.EntityType && existing.EntityID == inst.EntityID && existing.TriggerKey == inst.TriggerKey {
				return port.ErrDuplicate
			}
		}
	}
	r.store.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (r *memInstances) GetByID(ctx context.Context, id string) (*entity.Instance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	inst, ok := r.store.instances[id]
	if !ok {
		return nil, nil
	}
	return copyInstance(inst), nil
}

func (r *memInstances) GetForUpdate(ctx context.Context, id string) (*entity.Instance, error) {
	if ctx.Value(txKey{}) == nil {
		return nil, port.ErrNoTransaction
	}
	return r.GetByID(ctx, id)
}

func (r *memInstances) GetByTrigger(ctx context.Context, entityType, entityID, triggerKey string) (*entity.Instance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, inst := range r.store.instances {
		if inst.EntityType == entityType && inst.EntityID == entityID && inst.TriggerKey == triggerKey {
			return copyInstance(inst), nil
		}
	}
	return nil, nil
}

func (r *memInstances) Update(ctx context.Context, inst *entity.Instance, expectedRevision int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.updates++
	if r.store.loseUpdates > 0 {
		r.store.loseUpdates--
		return false, nil
	}
	current, ok := r.store.instances[inst.ID]
	if !ok || current.Revision != expectedRevision || current.Status.IsTerminal() {
		return false, nil
	}
	inst.Revision = expectedRevision + 1
	r.store.instances[inst.ID] = copyInstance(inst)
	return true, nil
}

func (r *memInstances) List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.Instance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.Instance
	for _, inst := range r.store.instances {
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && inst.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && inst.EntityID != filter.EntityID {
			continue
		}
		out = append(out, copyInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memTasks struct{ store *memStore }

func (r *memTasks) CreateIfAbsent(ctx context.Context, task *entity.Task) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range r.store.tasks {
		if t.InstanceID == task.InstanceID && t.NodeID == task.NodeID && t.ApproverID == task.ApproverID &&
			t.Status == domainwf.TaskPending {
			return false, nil
		}
	}
	r.store.tasks[task.ID] = copyTask(task)
	r.store.taskOrder = append(r.store.taskOrder, task.ID)
	return true, nil
}

func (r *memTasks) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

func (r *memTasks) list(match func(*entity.Task) bool) []*entity.Task {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.Task
	for _, id := range r.store.taskOrder {
		if t := r.store.tasks[id]; match(t) {
			out = append(out, copyTask(t))
		}
	}
	return out
}

func (r *memTasks) ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error) {
	return r.list(func(t *entity.Task) bool { return t.InstanceID == instanceID }), nil
}

func (r *memTasks) ListByNode(ctx context.Context, instanceID, nodeID string) ([]*entity.Task, error) {
	return r.list(func(t *entity.Task) bool { return t.InstanceID == instanceID && t.NodeID == nodeID }), nil
}

func (r *memTasks) Transition(ctx context.Context, id string, from, to domainwf.TaskState, by, comment string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	decided := at
	t.Status = to
	t.DecidedBy = by
	t.Comment = comment
	t.DecidedAt = &decided
	return true, nil
}

func (r *memTasks) ExpirePending(ctx context.Context, instanceID string, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, t := range r.store.tasks {
		if t.InstanceID == instanceID && t.Status == domainwf.TaskPending {
			decided := at
			t.Status = domainwf.TaskExpired
			t.DecidedAt = &decided
			n++
		}
	}
	return n, nil
}

func (r *memTasks) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	out := r.list(func(t *entity.Task) bool { return t.IsOverdue(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockDirectory is a fixed organisation chart
type mockDirectory struct {
	roles    map[string][]string
	managers map[string]string
	err      error
}

func (d *mockDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.roles[role], nil
}

func (d *mockDirectory) ReportingManager(ctx context.Context, userID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.managers[userID], nil
}

var errDirectoryDown = errors.New("directory unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine WorkflowEngine
	store  *memStore
	dir    *mockDirectory
	clock  *testClock
}

func newTestEnv(defs ...*domainwf.Definition) *testEnv {
	return newTestEnvWith(nil, defs...)
}

func newTestEnvWith(opts []Option, defs ...*domainwf.Definition) *testEnv {
	store := newMemStore(defs...)
	dir := &mockDirectory{
		roles:    map[string][]string{"hr": {"hana", "hugo"}},
		managers: map[string]string{"emp-1": "mgr-1"},
	}
	clock := newTestClock()
	engine := NewEngine(
		&memDefs{store: store},
		&memInstances{store: store},
		&memTasks{store: store},
		&memTx{store: store},
		&memPublisher{store: store},
		dir,
		append([]Option{WithClock(clock.Now)}, opts...)...,
	)
	return &testEnv{engine: engine, store: store, dir: dir, clock: clock}
}
