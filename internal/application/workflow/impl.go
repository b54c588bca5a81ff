package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	"github.com/Ashour158/People-sub002/internal/domain/expr"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

const instrumentationName = "github.com/Ashour158/People-sub002/workflow"

// engineImpl is the default implementation of WorkflowEngine
type engineImpl struct {
	defs      port.DefinitionRepository
	instances port.InstanceRepository
	tasks     port.TaskRepository
	tx        port.TransactionManager
	publisher EventPublisher
	directory port.Directory

	actions         *ActionRegistry
	graphs          *graphCache
	cacheExpiry     time.Duration
	conflictRetries uint64
	logger          Logger
	now             func() time.Time
	tracer          trace.Tracer
	meterProvider   metric.MeterProvider
	metrics         *engineMetrics
}

// Option configures the engine
type Option func(*engineImpl)

// WithLogger sets the engine's logger
func WithLogger(logger Logger) Option {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithActions sets the registry used by action nodes
func WithActions(actions *ActionRegistry) Option {
	return func(e *engineImpl) {
		e.actions = actions
	}
}

// WithGraphCacheExpiry sets how long compiled definitions stay cached
func WithGraphCacheExpiry(d time.Duration) Option {
	return func(e *engineImpl) {
		e.cacheExpiry = d
	}
}

// WithConflictRetries sets how often an operation is replayed after losing
// an optimistic update race
func WithConflictRetries(n uint64) Option {
	return func(e *engineImpl) {
		e.conflictRetries = n
	}
}

// WithMeterProvider sets where engine counters are reported, the global
// provider by default
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *engineImpl) {
		e.meterProvider = mp
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	defs port.DefinitionRepository,
	instances port.InstanceRepository,
	tasks port.TaskRepository,
	tx port.TransactionManager,
	publisher EventPublisher,
	directory port.Directory,
	opts ...Option,
) WorkflowEngine {
	e := &engineImpl{
		defs:            defs,
		instances:       instances,
		tasks:           tasks,
		tx:              tx,
		publisher:       publisher,
		directory:       directory,
		cacheExpiry:     30 * time.Minute,
		conflictRetries: 3,
		logger:          nopLogger{},
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.actions == nil {
		e.actions = NewActionRegistry()
	}
	e.graphs = newGraphCache(defs, e.cacheExpiry)
	e.tracer = otel.Tracer(instrumentationName)
	if e.meterProvider == nil {
		e.meterProvider = otel.GetMeterProvider()
	}
	e.metrics = newEngineMetrics(e.meterProvider.Meter(instrumentationName))
	return e
}

// StartWorkflow creates an instance and advances it until it suspends
func (e *engineImpl) StartWorkflow(ctx context.Context, req StartRequest) (*entity.Instance, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return nil, fmt.Errorf("entity type and id are required")
	}

	ctx, span := e.tracer.Start(ctx, "workflow.start", trace.WithAttributes(
		attribute.String("workflow.entity_type", req.EntityType),
		attribute.String("workflow.entity_id", req.EntityID),
	))
	defer span.End()

	def, err := e.resolveDefinition(ctx, req)
	if err != nil {
		return nil, e.spanError(span, err)
	}
	g, err := e.graphs.forDefinition(def)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	var inst *entity.Instance
	var reused bool
	err = e.inTx(ctx, func(ctx context.Context) error {
		inst, reused = nil, false
		if req.TriggerKey != "" {
			existing, err := e.instances.GetByTrigger(ctx, req.EntityType, req.EntityID, req.TriggerKey)
			if err != nil {
				return fmt.Errorf("failed to look up instance by trigger: %w", err)
			}
			if existing != nil {
				inst, reused = existing, true
				return nil
			}
		}

		now := e.now()
		created := &entity.Instance{
			ID:                uuid.NewString(),
			DefinitionID:      def.ID,
			DefinitionName:    def.Name,
			DefinitionVersion: def.Version,
			EntityType:        req.EntityType,
			EntityID:          req.EntityID,
			TriggerKey:        req.TriggerKey,
			CurrentNodeID:     g.Start().ID,
			Status:            domainwf.StateRunning,
			Context:           cloneMap(req.Context),
			StartedAt:         now,
			UpdatedAt:         now,
		}
		if created.Context == nil {
			created.Context = make(map[string]interface{})
		}
		if err := e.instances.Create(ctx, created); err != nil {
			return err
		}
		if err := e.publish(ctx, created, event.TypeInstanceStarted, map[string]interface{}{
			"definition_id":      def.ID,
			"definition_name":    def.Name,
			"definition_version": def.Version,
			"entity_type":        created.EntityType,
			"entity_id":          created.EntityID,
		}); err != nil {
			return err
		}

		expected := created.Revision
		stepErr := e.advance(ctx, g, created, now)
		if err := e.commit(ctx, created, expected, stepErr, now); err != nil {
			return err
		}
		inst = created
		return nil
	})

	if errors.Is(err, port.ErrDuplicate) && req.TriggerKey != "" {
		// A concurrent start with the same trigger key won.
		existing, gerr := e.instances.GetByTrigger(ctx, req.EntityType, req.EntityID, req.TriggerKey)
		if gerr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, e.spanError(span, fmt.Errorf("failed to start workflow: %w", err))
	}
	if reused {
		return inst, nil
	}

	span.SetAttributes(attribute.String("workflow.instance_id", inst.ID), attribute.String("workflow.status", string(inst.Status)))
	e.metrics.started.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", def.Name)))
	e.logger.Info("Workflow started",
		"instance_id", inst.ID,
		"definition", def.Name,
		"version", def.Version,
		"status", inst.Status,
		"node", inst.CurrentNodeID,
	)
	return inst, nil
}

// DecideTask records an approver's decision and re-evaluates the node
func (e *engineImpl) DecideTask(ctx context.Context, taskID, approverID string, decision entity.Decision, comment string) (domainwf.State, error) {
	if !decision.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.decide", trace.WithAttributes(
		attribute.String("workflow.task_id", taskID),
		attribute.String("workflow.decision", string(decision)),
	))
	defer span.End()

	var state domainwf.State
	err := e.inTx(ctx, func(ctx context.Context) error {
		task, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if task.ApproverID != approverID {
			return ErrApproverMismatch
		}
		if !task.IsPending() {
			return fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrTaskNotPending)
		}

		inst, g, node, err := e.loadForTask(ctx, task)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.transitionTask(ctx, task, decision.TaskState(), approverID, comment, now); err != nil {
			return err
		}
		if err := e.publish(ctx, inst, event.TypeTaskDecided, map[string]interface{}{
			"task_id":     task.ID,
			"node_id":     task.NodeID,
			"approver_id": task.ApproverID,
			"decision":    string(decision),
			"comment":     comment,
		}); err != nil {
			return err
		}

		expected := inst.Revision
		stepErr := e.evaluateApproval(ctx, g, inst, node, now)
		if err := e.commit(ctx, inst, expected, stepErr, now); err != nil {
			return err
		}
		state = inst.Status
		return nil
	})
	if err != nil {
		return "", e.spanError(span, err)
	}

	e.logger.Info("Task decided", "task_id", taskID, "approver", approverID, "decision", decision, "instance_status", state)
	return state, nil
}

// EscalateTask applies the node's escalation policy to an overdue task
func (e *engineImpl) EscalateTask(ctx context.Context, taskID string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.escalate", trace.WithAttributes(
		attribute.String("workflow.task_id", taskID),
	))
	defer span.End()

	var escalated bool
	var action domainwf.EscalationAction
	err := e.inTx(ctx, func(ctx context.Context) error {
		escalated = false
		task, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}

		now := e.now()
		if !task.IsOverdue(now) {
			return nil
		}

		inst, g, node, err := e.loadForTask(ctx, task)
		if errors.Is(err, ErrTaskNotPending) {
			return nil
		}
		if err != nil {
			return err
		}
		policy := node.Approval.Escalation
		if policy == nil {
			return nil
		}
		action = policy.Action

		expected := inst.Revision
		var stepErr error
		var newTasks []string
		switch policy.Action {
		case domainwf.EscalateReassign:
			newTasks, stepErr = e.reassign(ctx, inst, node, task, now)
		case domainwf.EscalateAutoApprove:
			stepErr = e.transitionTask(ctx, task, domainwf.TaskApproved, entity.SystemActor, "auto-approved after timeout", now)
		case domainwf.EscalateAutoReject:
			stepErr = e.transitionTask(ctx, task, domainwf.TaskRejected, entity.SystemActor, "auto-rejected after timeout", now)
		default:
			stepErr = e.evalError(inst, fmt.Errorf("unknown escalation action %q", policy.Action))
		}

		if errors.Is(stepErr, ErrTaskNotPending) {
			// Decided concurrently.
			return nil
		}
		var evalErr *InstanceEvaluationError
		if stepErr != nil && !errors.As(stepErr, &evalErr) {
			return stepErr
		}
		if stepErr == nil {
			if err := e.publish(ctx, inst, event.TypeTaskEscalated, map[string]interface{}{
				"task_id":      task.ID,
				"node_id":      task.NodeID,
				"approver_id":  task.ApproverID,
				"action":       string(policy.Action),
				"new_task_ids": newTasks,
			}); err != nil {
				return err
			}
			stepErr = e.evaluateApproval(ctx, g, inst, node, now)
		}

		if err := e.commit(ctx, inst, expected, stepErr, now); err != nil {
			return err
		}
		escalated = true
		return nil
	})
	if err != nil {
		return false, e.spanError(span, err)
	}

	if escalated {
		e.metrics.escalated.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
		e.logger.Info("Task escalated", "task_id", taskID, "action", action)
	}
	return escalated, nil
}

// CancelInstance cancels a running instance and expires its open tasks
func (e *engineImpl) CancelInstance(ctx context.Context, instanceID, reason string) (domainwf.State, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.cancel", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
	))
	defer span.End()

	var state domainwf.State
	var cancelled bool
	err := e.inTx(ctx, func(ctx context.Context) error {
		cancelled = false
		inst, err := e.instances.GetByID(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to get instance: %w", err)
		}
		if inst == nil {
			return fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
		}
		if inst.IsTerminal() {
			state = inst.Status
			return nil
		}

		now := e.now()
		expected := inst.Revision
		if reason == "" {
			reason = "cancelled"
		}
		if err := e.finish(ctx, inst, domainwf.StateCancelled, reason, now); err != nil {
			return err
		}
		if err := e.save(ctx, inst, expected); err != nil {
			return err
		}
		state = inst.Status
		cancelled = true
		return nil
	})
	if err != nil {
		return "", e.spanError(span, err)
	}

	if cancelled {
		e.logger.Info("Workflow cancelled", "instance_id", instanceID, "reason", reason)
	}
	return state, nil
}

// GetInstanceState returns an instance with all of its tasks
func (e *engineImpl) GetInstanceState(ctx context.Context, instanceID string) (*InstanceState, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}

	tasks, err := e.tasks.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*entity.Task{}
	}

	return &InstanceState{
		Instance:    inst,
		Status:      inst.Status,
		CurrentNode: inst.CurrentNodeID,
		Tasks:       tasks,
	}, nil
}

// ListInstances returns instances matching the filter
func (e *engineImpl) ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.Instance, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	instances, err := e.instances.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// inTx runs fn in a transaction, replaying it when an optimistic update
// loses to a concurrent writer or the database aborts the transaction with a
// deadlock or serialization failure.
func (e *engineImpl) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	outer := pendingMetricsFrom(ctx)
	var pending *pendingMetrics

	b := retry.WithMaxRetries(e.conflictRetries, retry.NewExponential(10*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		pending = &pendingMetrics{}
		err := e.tx.WithTransaction(withPendingMetrics(ctx, pending), fn)
		if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, port.ErrTransactionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	// A nested call joined the outer transaction, which counts on its commit.
	if outer != nil {
		outer.merge(pending)
		return nil
	}
	e.metrics.flush(ctx, pending)
	return nil
}

func (e *engineImpl) resolveDefinition(ctx context.Context, req StartRequest) (*domainwf.Definition, error) {
	if req.DefinitionID != "" {
		def, err := e.defs.GetByID(ctx, req.DefinitionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get definition: %w", err)
		}
		if def == nil {
			return nil, fmt.Errorf("definition %s: %w", req.DefinitionID, ErrNotFound)
		}
		if !def.IsActive {
			return nil, fmt.Errorf("definition %s version %d: %w", def.Name, def.Version, ErrDefinitionInactive)
		}
		return def, nil
	}

	if req.DefinitionName == "" {
		return nil, fmt.Errorf("definition id or name is required")
	}
	def, err := e.defs.GetActiveByName(ctx, req.DefinitionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %s: %w", req.DefinitionName, ErrNotFound)
	}
	return def, nil
}

// loadForTask loads the instance and approval node a pending task belongs to.
// It reports ErrTaskNotPending when the instance has moved on.
func (e *engineImpl) loadForTask(ctx context.Context, task *entity.Task) (*entity.Instance, *domainwf.Graph, *domainwf.Node, error) {
	// Lock the instance before touching any task row, so concurrent decisions
	// on one node queue up instead of deadlocking.
	inst, err := e.instances.GetForUpdate(ctx, task.InstanceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if inst == nil {
		return nil, nil, nil, fmt.Errorf("instance %s: %w", task.InstanceID, ErrNotFound)
	}
	if inst.IsTerminal() || inst.CurrentNodeID != task.NodeID {
		return nil, nil, nil, fmt.Errorf("instance %s is %s at node %s: %w", inst.ID, inst.Status, inst.CurrentNodeID, ErrTaskNotPending)
	}

	g, err := e.graphs.get(ctx, inst.DefinitionID)
	if err != nil {
		return nil, nil, nil, err
	}
	node, ok := g.Node(task.NodeID)
	if !ok || node.Type != domainwf.NodeApproval || node.Approval == nil {
		return nil, nil, nil, fmt.Errorf("node %s of instance %s is not an approval node", task.NodeID, inst.ID)
	}
	return inst, g, node, nil
}

// advance walks the graph from the current node until the instance
// suspends on an approval node or terminates. A definition of n nodes
// takes at most n steps.
func (e *engineImpl) advance(ctx context.Context, g *domainwf.Graph, inst *entity.Instance, now time.Time) error {
	for steps := 0; steps < g.NodeCount(); steps++ {
		node, ok := g.Node(inst.CurrentNodeID)
		if !ok {
			return e.evalError(inst, fmt.Errorf("node %q is not part of the definition", inst.CurrentNodeID))
		}

		var next string
		var err error
		switch node.Type {
		case domainwf.NodeStart:
			next, err = g.Follow(node.ID)
		case domainwf.NodeCondition:
			next, err = g.Choose(node.ID, inst.Vars())
		case domainwf.NodeAction:
			if err = e.runAction(inst, node); err == nil {
				next, err = g.Follow(node.ID)
			}
		case domainwf.NodeApproval:
			return e.enterApproval(ctx, inst, node, now)
		case domainwf.NodeEnd:
			return e.finish(ctx, inst, node.Outcome, "", now)
		default:
			err = fmt.Errorf("unknown node type %q", node.Type)
		}
		if err != nil {
			return e.evalError(inst, err)
		}
		inst.CurrentNodeID = next
	}
	return e.evalError(inst, fmt.Errorf("no approval or end node reached within %d steps", g.NodeCount()))
}

func (e *engineImpl) runAction(inst *entity.Instance, node *domainwf.Node) error {
	var params map[string]interface{}
	name := ""
	if node.Action != nil {
		name = node.Action.Name
		params = node.Action.Params
	}
	out, err := e.actions.Execute(name, params, inst.Context)
	if err != nil {
		return err
	}
	inst.Context = out
	return nil
}

// enterApproval creates one pending task per resolved approver. Creation is
// keyed on (instance, node, approver), so re-entering a node is harmless.
func (e *engineImpl) enterApproval(ctx context.Context, inst *entity.Instance, node *domainwf.Node, now time.Time) error {
	cfg := node.Approval
	if cfg == nil {
		return e.evalError(inst, fmt.Errorf("approval node %s has no approval config", node.ID))
	}

	approvers, err := ResolveApprovers(ctx, cfg.Approvers, e.directory, inst.Vars())
	if err != nil {
		return e.resolutionError(inst, err)
	}
	if len(approvers) == 0 {
		return e.evalError(inst, fmt.Errorf("no approvers resolved for node %s", node.ID))
	}

	due := dueAt(cfg, now)
	for _, approver := range approvers {
		if _, err := e.createTask(ctx, inst, node.ID, approver, "", due, now); err != nil {
			return err
		}
	}
	return nil
}

// reassign escalates a task to the policy's target approvers. Targets that
// already hold another pending task at the node keep it. Under requires_all
// the escalated task's approval slot must move to a new task, so a reassign
// that would create none fails the instance instead of dropping the slot.
func (e *engineImpl) reassign(ctx context.Context, inst *entity.Instance, node *domainwf.Node, task *entity.Task, now time.Time) ([]string, error) {
	policy := node.Approval.Escalation
	if policy.Target == nil {
		return nil, e.evalError(inst, fmt.Errorf("escalation of node %s has no target", node.ID))
	}
	targets, err := ResolveApprovers(ctx, *policy.Target, e.directory, inst.Vars())
	if err != nil {
		return nil, e.resolutionError(inst, err)
	}
	if len(targets) == 0 {
		return nil, e.evalError(inst, fmt.Errorf("escalation target of node %s resolved no approvers", node.ID))
	}

	siblings, err := e.tasks.ListByNode(ctx, inst.ID, node.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	holding := make(map[string]bool)
	for _, t := range siblings {
		if t.ID != task.ID && t.IsPending() {
			holding[t.ApproverID] = true
		}
	}
	var fresh []string
	for _, approver := range targets {
		if !holding[approver] {
			fresh = append(fresh, approver)
		}
	}
	if len(fresh) == 0 && node.Approval.RequiresAll {
		return nil, e.evalError(inst, fmt.Errorf("escalation target of node %s already holds every pending task", node.ID))
	}

	if err := e.transitionTask(ctx, task, domainwf.TaskEscalated, entity.SystemActor, "escalated after timeout", now); err != nil {
		return nil, err
	}

	due := dueAt(node.Approval, now)
	var created []string
	for _, approver := range fresh {
		id, err := e.createTask(ctx, inst, node.ID, approver, task.ID, due, now)
		if err != nil {
			return nil, err
		}
		if id == "" {
			// A concurrent writer gave the approver a pending task after
			// the listing above.
			return nil, ErrConcurrentUpdate
		}
		created = append(created, id)
	}
	return created, nil
}

// createTask inserts a pending task unless the approver already holds one
// for the node. It returns the new task id, or "" when none was created.
func (e *engineImpl) createTask(ctx context.Context, inst *entity.Instance, nodeID, approver, escalatedFrom string, due *time.Time, now time.Time) (string, error) {
	task := &entity.Task{
		ID:            uuid.NewString(),
		InstanceID:    inst.ID,
		NodeID:        nodeID,
		ApproverID:    approver,
		Status:        domainwf.TaskPending,
		EscalatedFrom: escalatedFrom,
		CreatedAt:     now,
		DueAt:         due,
	}
	created, err := e.tasks.CreateIfAbsent(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	if !created {
		return "", nil
	}

	payload := map[string]interface{}{
		"task_id":     task.ID,
		"node_id":     nodeID,
		"approver_id": approver,
	}
	if due != nil {
		payload["due_at"] = due.Format(time.RFC3339)
	}
	if escalatedFrom != "" {
		payload["escalated_from"] = escalatedFrom
	}
	if err := e.publish(ctx, inst, event.TypeTaskCreated, payload); err != nil {
		return "", err
	}
	e.metrics.taskCreated(ctx)
	return task.ID, nil
}

// transitionTask moves a task out of pending. Losing the compare-and-set to
// a concurrent decision reports ErrTaskNotPending.
func (e *engineImpl) transitionTask(ctx context.Context, task *entity.Task, to domainwf.TaskState, by, comment string, now time.Time) error {
	sm, err := domainwf.TaskMachine(task.Status)
	if err != nil {
		return err
	}
	trigger, ok := domainwf.TaskTriggerFor(to)
	if !ok {
		return fmt.Errorf("no trigger reaches task state %s", to)
	}
	if err := sm.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("task %s: %w", task.ID, ErrTaskNotPending)
	}

	ok, err = e.tasks.Transition(ctx, task.ID, task.Status, to, by, comment, now)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, ErrTaskNotPending)
	}

	decidedAt := now
	task.Status = to
	task.DecidedBy = by
	task.Comment = comment
	task.DecidedAt = &decidedAt
	return nil
}

// evaluateApproval decides whether the instance leaves an approval node.
// With requires_all every approver must approve and one rejection rejects
// the instance. Otherwise one approval suffices and the instance is
// rejected only once no task is left pending.
func (e *engineImpl) evaluateApproval(ctx context.Context, g *domainwf.Graph, inst *entity.Instance, node *domainwf.Node, now time.Time) error {
	tasks, err := e.tasks.ListByNode(ctx, inst.ID, node.ID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	var approved, rejected, pending int
	for _, t := range tasks {
		switch t.Status {
		case domainwf.TaskApproved:
			approved++
		case domainwf.TaskRejected:
			rejected++
		case domainwf.TaskPending:
			pending++
		}
	}

	forward, reject := false, false
	if node.Approval.RequiresAll {
		reject = rejected > 0
		forward = !reject && pending == 0 && approved > 0
	} else {
		forward = approved > 0
		reject = !forward && pending == 0
	}

	switch {
	case reject:
		return e.finish(ctx, inst, domainwf.StateRejected, fmt.Sprintf("rejected at node %s", node.ID), now)
	case forward:
		if _, err := e.tasks.ExpirePending(ctx, inst.ID, now); err != nil {
			return fmt.Errorf("failed to expire tasks: %w", err)
		}
		next, err := g.Follow(node.ID)
		if err != nil {
			return e.evalError(inst, err)
		}
		inst.CurrentNodeID = next
		return e.advance(ctx, g, inst, now)
	}
	return nil
}

// finish moves the instance to a terminal state, expires open tasks and
// publishes the matching lifecycle event.
func (e *engineImpl) finish(ctx context.Context, inst *entity.Instance, target domainwf.State, reason string, now time.Time) error {
	trigger, ok := domainwf.TerminalTrigger(target)
	if !ok {
		return e.evalError(inst, fmt.Errorf("end node outcome %q is not terminal", target))
	}
	sm, err := domainwf.InstanceMachine(inst.Status)
	if err != nil {
		return err
	}
	if err := sm.Fire(ctx, trigger); err != nil {
		return err
	}

	if _, err := e.tasks.ExpirePending(ctx, inst.ID, now); err != nil {
		return fmt.Errorf("failed to expire tasks: %w", err)
	}

	ended := now
	inst.Status = sm.State()
	inst.Reason = reason
	inst.EndedAt = &ended

	if err := e.publish(ctx, inst, terminalEvent(inst.Status), map[string]interface{}{
		"entity_type": inst.EntityType,
		"entity_id":   inst.EntityID,
		"status":      string(inst.Status),
		"node_id":     inst.CurrentNodeID,
		"reason":      reason,
	}); err != nil {
		return err
	}
	e.metrics.instanceFinished(ctx, inst.Status)
	return nil
}

// commit settles the outcome of a step and persists the instance. An
// evaluation failure moves the instance to the error state; any other
// error aborts the transaction.
func (e *engineImpl) commit(ctx context.Context, inst *entity.Instance, expected int64, stepErr error, now time.Time) error {
	if stepErr != nil {
		var evalErr *InstanceEvaluationError
		if !errors.As(stepErr, &evalErr) {
			return stepErr
		}
		e.logger.Error("Workflow evaluation failed",
			"instance_id", inst.ID,
			"node", evalErr.NodeID,
			"error", evalErr.Err,
		)
		if err := e.finish(ctx, inst, domainwf.StateError, evalErr.Err.Error(), now); err != nil {
			return err
		}
	}
	return e.save(ctx, inst, expected)
}

func (e *engineImpl) save(ctx context.Context, inst *entity.Instance, expected int64) error {
	inst.UpdatedAt = e.now()
	ok, err := e.instances.Update(ctx, inst, expected)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if !ok {
		return ErrConcurrentUpdate
	}
	return nil
}

func (e *engineImpl) publish(ctx context.Context, inst *entity.Instance, eventType event.Type, payload map[string]interface{}) error {
	payload["instance_id"] = inst.ID
	if _, err := e.publisher.Publish(ctx, event.AggregateWorkflowInstance, inst.ID, eventType, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

func (e *engineImpl) evalError(inst *entity.Instance, err error) error {
	return &InstanceEvaluationError{InstanceID: inst.ID, NodeID: inst.CurrentNodeID, Err: err}
}

// resolutionError separates approver resolution failures caused by the
// instance's data from infrastructure failures such as a directory outage,
// which abort the operation instead of failing the instance.
func (e *engineImpl) resolutionError(inst *entity.Instance, err error) error {
	var evalErr *expr.EvaluationError
	var syntaxErr *expr.SyntaxError
	if errors.As(err, &evalErr) || errors.As(err, &syntaxErr) {
		return e.evalError(inst, err)
	}
	return fmt.Errorf("failed to resolve approvers: %w", err)
}

func (e *engineImpl) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func dueAt(cfg *domainwf.ApprovalConfig, now time.Time) *time.Time {
	if cfg.Timeout <= 0 || cfg.Escalation == nil {
		return nil
	}
	due := now.Add(cfg.Timeout)
	return &due
}

func terminalEvent(s domainwf.State) event.Type {
	switch s {
	case domainwf.StateCompleted:
		return event.TypeInstanceCompleted
	case domainwf.StateRejected:
		return event.TypeInstanceRejected
	case domainwf.StateCancelled:
		return event.TypeInstanceCancelled
	default:
		return event.TypeInstanceFailed
	}
}
