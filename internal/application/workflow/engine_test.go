package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

func approvalDef(id string, approval domainwf.ApprovalConfig) *domainwf.Definition {
	return &domainwf.Definition{
		ID:       id,
		Name:     id,
		Version:  1,
		IsActive: true,
		Nodes: []domainwf.Node{
			{ID: "start", Type: domainwf.NodeStart},
			{ID: "review", Type: domainwf.NodeApproval, Approval: &approval},
			{ID: "done", Type: domainwf.NodeEnd, Outcome: domainwf.StateCompleted},
		},
		Edges: []domainwf.Edge{
			{From: "start", To: "review"},
			{From: "review", To: "done"},
		},
	}
}

func staticApprovers(users ...string) domainwf.ApproverResolution {
	return domainwf.ApproverResolution{Kind: domainwf.ResolveStaticUser, Users: users}
}

func expenseDef() *domainwf.Definition {
	approval := domainwf.ApprovalConfig{Approvers: staticApprovers("finance")}
	return &domainwf.Definition{
		ID:       "expense",
		Name:     "expense",
		Version:  1,
		IsActive: true,
		Nodes: []domainwf.Node{
			{ID: "start", Type: domainwf.NodeStart},
			{ID: "check", Type: domainwf.NodeCondition},
			{ID: "review", Type: domainwf.NodeApproval, Approval: &approval},
			{ID: "done", Type: domainwf.NodeEnd, Outcome: domainwf.StateCompleted},
		},
		Edges: []domainwf.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "review", Condition: "amount > 1000"},
			{From: "check", To: "done"},
			{From: "review", To: "done"},
		},
	}
}

func startFor(t *testing.T, env *testEnv, defName string, vars map[string]interface{}) *entity.Instance {
	t.Helper()
	inst, err := env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionName: defName,
		EntityType:     "leave_request",
		EntityID:       "lr-1",
		Context:        vars,
	})
	require.NoError(t, err)
	return inst
}

func TestEngine_AnyOneApprovalCompletes(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice", "bob")}))
	ctx := context.Background()

	inst := startFor(t, env, "any", nil)
	assert.Equal(t, domainwf.StateRunning, inst.Status)
	assert.Equal(t, "review", inst.CurrentNodeID)

	tasks := env.store.tasksByApprover(inst.ID)
	require.Len(t, tasks, 2)

	state, err := env.engine.DecideTask(ctx, tasks["alice"].ID, "alice", entity.DecisionApprove, "fine by me")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, state)

	tasks = env.store.tasksByApprover(inst.ID)
	assert.Equal(t, domainwf.TaskApproved, tasks["alice"].Status)
	assert.Equal(t, "fine by me", tasks["alice"].Comment)
	assert.Equal(t, domainwf.TaskExpired, tasks["bob"].Status)

	_, err = env.engine.DecideTask(ctx, tasks["bob"].ID, "bob", entity.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrTaskNotPending)

	assert.Equal(t, []event.Type{
		event.TypeInstanceStarted,
		event.TypeTaskCreated,
		event.TypeTaskCreated,
		event.TypeTaskDecided,
		event.TypeInstanceCompleted,
	}, env.store.eventTypes(inst.ID))
}

func TestEngine_AnyOneRejectsOnlyWhenAllReject(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice", "bob")}))
	ctx := context.Background()

	inst := startFor(t, env, "any", nil)
	tasks := env.store.tasksByApprover(inst.ID)

	state, err := env.engine.DecideTask(ctx, tasks["alice"].ID, "alice", entity.DecisionReject, "no")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRunning, state)

	state, err = env.engine.DecideTask(ctx, tasks["bob"].ID, "bob", entity.DecisionReject, "no")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, state)

	got, err := env.engine.GetInstanceState(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, got.Status)
	assert.NotNil(t, got.Instance.EndedAt)
	assert.Contains(t, got.Instance.Reason, "review")
}

func TestEngine_RequiresAll(t *testing.T) {
	def := approvalDef("all", domainwf.ApprovalConfig{Approvers: staticApprovers("alice", "bob", "carol"), RequiresAll: true})
	ctx := context.Background()

	t.Run("unanimous approval completes", func(t *testing.T) {
		env := newTestEnv(def)
		inst := startFor(t, env, "all", nil)
		tasks := env.store.tasksByApprover(inst.ID)
		require.Len(t, tasks, 3)

		for i, approver := range []string{"alice", "bob", "carol"} {
			state, err := env.engine.DecideTask(ctx, tasks[approver].ID, approver, entity.DecisionApprove, "")
			require.NoError(t, err)
			if i < 2 {
				assert.Equal(t, domainwf.StateRunning, state)
			} else {
				assert.Equal(t, domainwf.StateCompleted, state)
			}
		}
	})

	t.Run("one rejection rejects and expires the rest", func(t *testing.T) {
		env := newTestEnv(def)
		inst := startFor(t, env, "all", nil)
		tasks := env.store.tasksByApprover(inst.ID)

		_, err := env.engine.DecideTask(ctx, tasks["alice"].ID, "alice", entity.DecisionApprove, "")
		require.NoError(t, err)
		state, err := env.engine.DecideTask(ctx, tasks["bob"].ID, "bob", entity.DecisionReject, "over budget")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateRejected, state)

		tasks = env.store.tasksByApprover(inst.ID)
		assert.Equal(t, domainwf.TaskExpired, tasks["carol"].Status)
		assert.Equal(t, 1, env.store.countEvents(event.TypeInstanceRejected))
	})
}

func TestEngine_ConditionRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("small amount skips approval", func(t *testing.T) {
		env := newTestEnv(expenseDef())
		inst := startFor(t, env, "expense", map[string]interface{}{"amount": 500})
		assert.Equal(t, domainwf.StateCompleted, inst.Status)
		assert.Equal(t, "done", inst.CurrentNodeID)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Tasks)
	})

	t.Run("large amount requires approval", func(t *testing.T) {
		env := newTestEnv(expenseDef())
		inst := startFor(t, env, "expense", map[string]interface{}{"amount": 5000})
		assert.Equal(t, domainwf.StateRunning, inst.Status)
		assert.Equal(t, "review", inst.CurrentNodeID)
		assert.Len(t, env.store.tasksByApprover(inst.ID), 1)
	})

	t.Run("type mismatch moves the instance to error", func(t *testing.T) {
		env := newTestEnv(expenseDef())
		inst := startFor(t, env, "expense", map[string]interface{}{"amount": "a lot"})
		assert.Equal(t, domainwf.StateError, inst.Status)
		assert.Equal(t, "check", inst.CurrentNodeID)
		assert.Contains(t, inst.Reason, "amount > 1000")
		assert.Equal(t, "a lot", inst.Context["amount"])
		assert.Equal(t, 1, env.store.countEvents(event.TypeInstanceFailed))
	})
}

func TestEngine_ActionNodeUpdatesContext(t *testing.T) {
	def := &domainwf.Definition{
		ID: "stamp", Name: "stamp", Version: 1, IsActive: true,
		Nodes: []domainwf.Node{
			{ID: "start", Type: domainwf.NodeStart},
			{ID: "mark", Type: domainwf.NodeAction, Action: &domainwf.ActionConfig{
				Name:   "set",
				Params: map[string]interface{}{"path": "flags.auto", "value": true},
			}},
			{ID: "count", Type: domainwf.NodeAction, Action: &domainwf.ActionConfig{
				Name:   "increment",
				Params: map[string]interface{}{"path": "runs"},
			}},
			{ID: "done", Type: domainwf.NodeEnd},
		},
		Edges: []domainwf.Edge{
			{From: "start", To: "mark"},
			{From: "mark", To: "count"},
			{From: "count", To: "done"},
		},
	}
	env := newTestEnv(def.Normalize())

	inst := startFor(t, env, "stamp", map[string]interface{}{"runs": 2})
	assert.Equal(t, domainwf.StateCompleted, inst.Status)
	assert.Equal(t, map[string]interface{}{"auto": true}, inst.Context["flags"])
	assert.Equal(t, 3.0, inst.Context["runs"])
}

func TestEngine_UnknownActionFailsInstance(t *testing.T) {
	def := &domainwf.Definition{
		ID: "broken", Name: "broken", Version: 1, IsActive: true,
		Nodes: []domainwf.Node{
			{ID: "start", Type: domainwf.NodeStart},
			{ID: "act", Type: domainwf.NodeAction, Action: &domainwf.ActionConfig{Name: "send_fax"}},
			{ID: "done", Type: domainwf.NodeEnd, Outcome: domainwf.StateCompleted},
		},
		Edges: []domainwf.Edge{{From: "start", To: "act"}, {From: "act", To: "done"}},
	}
	env := newTestEnv(def)

	inst := startFor(t, env, "broken", nil)
	assert.Equal(t, domainwf.StateError, inst.Status)
	assert.Contains(t, inst.Reason, "send_fax")
}

func TestEngine_StepBoundFailsCyclicDefinition(t *testing.T) {
	// Stored definitions are validated on create; this one bypasses that.
	def := &domainwf.Definition{
		ID: "loop", Name: "loop", Version: 1, IsActive: true,
		Nodes: []domainwf.Node{
			{ID: "start", Type: domainwf.NodeStart},
			{ID: "a", Type: domainwf.NodeCondition},
			{ID: "b", Type: domainwf.NodeCondition},
			{ID: "done", Type: domainwf.NodeEnd, Outcome: domainwf.StateCompleted},
		},
		Edges: []domainwf.Edge{
			{From: "start", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	env := newTestEnv(def)

	inst := startFor(t, env, "loop", nil)
	assert.Equal(t, domainwf.StateError, inst.Status)
	assert.Contains(t, inst.Reason, "within 4 steps")
}

func TestEngine_ApproverResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("reporting manager", func(t *testing.T) {
		env := newTestEnv(approvalDef("mgr", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
			Kind:    domainwf.ResolveReportingManager,
			Subject: "entity.owner_id",
		}}))
		inst := startFor(t, env, "mgr", map[string]interface{}{
			"entity": map[string]interface{}{"owner_id": "emp-1"},
		})
		tasks := env.store.tasksByApprover(inst.ID)
		require.Contains(t, tasks, "mgr-1")

		state, err := env.engine.DecideTask(ctx, tasks["mgr-1"].ID, "mgr-1", entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, state)
	})

	t.Run("role", func(t *testing.T) {
		env := newTestEnv(approvalDef("role", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
			Kind: domainwf.ResolveRole,
			Role: "hr",
		}}))
		inst := startFor(t, env, "role", nil)
		tasks := env.store.tasksByApprover(inst.ID)
		assert.Len(t, tasks, 2)
		assert.Contains(t, tasks, "hana")
		assert.Contains(t, tasks, "hugo")
	})

	t.Run("nobody resolved fails the instance", func(t *testing.T) {
		env := newTestEnv(approvalDef("empty", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
			Kind: domainwf.ResolveRole,
			Role: "board",
		}}))
		inst := startFor(t, env, "empty", nil)
		assert.Equal(t, domainwf.StateError, inst.Status)
		assert.Contains(t, inst.Reason, "no approvers")
	})

	t.Run("directory outage aborts the start", func(t *testing.T) {
		env := newTestEnv(approvalDef("role", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
			Kind: domainwf.ResolveRole,
			Role: "hr",
		}}))
		env.dir.err = errDirectoryDown

		_, err := env.engine.StartWorkflow(ctx, StartRequest{DefinitionName: "role", EntityType: "leave_request", EntityID: "lr-1"})
		assert.ErrorIs(t, err, errDirectoryDown)
		assert.Equal(t, 0, env.store.instanceCount())
		assert.Equal(t, 0, env.store.countEvents(event.TypeInstanceStarted))
	})
}

func TestEngine_StartIsIdempotentPerTriggerKey(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")}))
	ctx := context.Background()
	req := StartRequest{DefinitionName: "any", EntityType: "leave_request", EntityID: "lr-9", TriggerKey: "evt-1"}

	first, err := env.engine.StartWorkflow(ctx, req)
	require.NoError(t, err)
	second, err := env.engine.StartWorkflow(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.store.instanceCount())
	assert.Equal(t, 1, env.store.countEvents(event.TypeTaskCreated))

	req.TriggerKey = "evt-2"
	third, err := env.engine.StartWorkflow(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestEngine_StartErrors(t *testing.T) {
	inactive := approvalDef("old", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")})
	inactive.IsActive = false
	env := newTestEnv(inactive)
	ctx := context.Background()

	_, err := env.engine.StartWorkflow(ctx, StartRequest{DefinitionName: "missing", EntityType: "x", EntityID: "1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.engine.StartWorkflow(ctx, StartRequest{DefinitionID: "old", EntityType: "x", EntityID: "1"})
	assert.ErrorIs(t, err, ErrDefinitionInactive)

	_, err = env.engine.StartWorkflow(ctx, StartRequest{DefinitionName: "old"})
	assert.Error(t, err)
}

func TestEngine_DecideTaskErrors(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")}))
	ctx := context.Background()
	inst := startFor(t, env, "any", nil)
	task := env.store.tasksByApprover(inst.ID)["alice"]

	_, err := env.engine.DecideTask(ctx, task.ID, "mallory", entity.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrApproverMismatch)

	_, err = env.engine.DecideTask(ctx, task.ID, "alice", entity.Decision("maybe"), "")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = env.engine.DecideTask(ctx, "no-such-task", "alice", entity.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_CancelInstance(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice", "bob")}))
	ctx := context.Background()
	inst := startFor(t, env, "any", nil)

	state, err := env.engine.CancelInstance(ctx, inst.ID, "request withdrawn")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCancelled, state)

	for _, task := range env.store.tasksByApprover(inst.ID) {
		assert.Equal(t, domainwf.TaskExpired, task.Status)
	}

	state, err = env.engine.CancelInstance(ctx, inst.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCancelled, state)
	assert.Equal(t, 1, env.store.countEvents(event.TypeInstanceCancelled))

	got, err := env.engine.GetInstanceState(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "request withdrawn", got.Instance.Reason)

	_, err = env.engine.CancelInstance(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func escalatingDef(policy domainwf.EscalationPolicy) *domainwf.Definition {
	return approvalDef("esc", domainwf.ApprovalConfig{
		Approvers:  staticApprovers("alice"),
		Timeout:    time.Hour,
		Escalation: &policy,
	})
}

func TestEngine_EscalateTask(t *testing.T) {
	ctx := context.Background()
	target := staticApprovers("carol")

	t.Run("not yet due", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateAutoApprove}))
		inst := startFor(t, env, "esc", nil)
		task := env.store.tasksByApprover(inst.ID)["alice"]
		require.NotNil(t, task.DueAt)
		assert.Equal(t, env.clock.Now().Add(time.Hour), *task.DueAt)

		escalated, err := env.engine.EscalateTask(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, escalated)
	})

	t.Run("reassign", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &target}))
		inst := startFor(t, env, "esc", nil)
		original := env.store.tasksByApprover(inst.ID)["alice"]
		env.clock.Advance(2 * time.Hour)

		escalated, err := env.engine.EscalateTask(ctx, original.ID)
		require.NoError(t, err)
		assert.True(t, escalated)

		tasks := env.store.tasksByApprover(inst.ID)
		assert.Equal(t, domainwf.TaskEscalated, tasks["alice"].Status)
		assert.Equal(t, entity.SystemActor, tasks["alice"].DecidedBy)
		require.Contains(t, tasks, "carol")
		assert.Equal(t, original.ID, tasks["carol"].EscalatedFrom)
		assert.Equal(t, env.clock.Now().Add(time.Hour), *tasks["carol"].DueAt)

		state, err := env.engine.DecideTask(ctx, tasks["carol"].ID, "carol", entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, state)
	})

	t.Run("auto approve", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateAutoApprove}))
		inst := startFor(t, env, "esc", nil)
		task := env.store.tasksByApprover(inst.ID)["alice"]
		env.clock.Advance(time.Hour)

		escalated, err := env.engine.EscalateTask(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, escalated)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.Equal(t, domainwf.TaskApproved, got.Tasks[0].Status)
	})

	t.Run("auto reject", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateAutoReject}))
		inst := startFor(t, env, "esc", nil)
		task := env.store.tasksByApprover(inst.ID)["alice"]
		env.clock.Advance(3 * time.Hour)

		_, err := env.engine.EscalateTask(ctx, task.ID)
		require.NoError(t, err)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateRejected, got.Status)
	})

	t.Run("applied once under concurrency", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &target}))
		inst := startFor(t, env, "esc", nil)
		task := env.store.tasksByApprover(inst.ID)["alice"]
		env.clock.Advance(2 * time.Hour)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := env.engine.EscalateTask(ctx, task.ID)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, env.store.countEvents(event.TypeTaskEscalated))
		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, got.Tasks, 2)
	})

	t.Run("decided task is left alone", func(t *testing.T) {
		env := newTestEnv(escalatingDef(domainwf.EscalationPolicy{Action: domainwf.EscalateAutoReject}))
		inst := startFor(t, env, "esc", nil)
		task := env.store.tasksByApprover(inst.ID)["alice"]
		_, err := env.engine.DecideTask(ctx, task.ID, "alice", entity.DecisionApprove, "")
		require.NoError(t, err)
		env.clock.Advance(2 * time.Hour)

		escalated, err := env.engine.EscalateTask(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, escalated)
	})
}

func TestEngine_ReassignKeepsApprovalSlot(t *testing.T) {
	ctx := context.Background()
	carol := staticApprovers("carol")
	alice := staticApprovers("alice")

	for _, requiresAll := range []bool{false, true} {
		t.Run(fmt.Sprintf("same target twice requires_all=%v", requiresAll), func(t *testing.T) {
			env := newTestEnv(approvalDef("esc", domainwf.ApprovalConfig{
				Approvers:   staticApprovers("alice"),
				RequiresAll: requiresAll,
				Timeout:     time.Hour,
				Escalation:  &domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &carol},
			}))
			inst := startFor(t, env, "esc", nil)

			env.clock.Advance(2 * time.Hour)
			escalated, err := env.engine.EscalateTask(ctx, env.store.tasksByApprover(inst.ID)["alice"].ID)
			require.NoError(t, err)
			require.True(t, escalated)
			first := env.store.tasksByApprover(inst.ID)["carol"]

			env.clock.Advance(2 * time.Hour)
			escalated, err = env.engine.EscalateTask(ctx, first.ID)
			require.NoError(t, err)
			require.True(t, escalated)

			got, err := env.engine.GetInstanceState(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, domainwf.StateRunning, got.Status)

			second := env.store.tasksByApprover(inst.ID)["carol"]
			assert.NotEqual(t, first.ID, second.ID)
			assert.Equal(t, domainwf.TaskPending, second.Status)
			assert.Equal(t, first.ID, second.EscalatedFrom)

			state, err := env.engine.DecideTask(ctx, second.ID, "carol", entity.DecisionApprove, "")
			require.NoError(t, err)
			assert.Equal(t, domainwf.StateCompleted, state)
		})
	}

	t.Run("target already approved must approve again", func(t *testing.T) {
		env := newTestEnv(approvalDef("esc", domainwf.ApprovalConfig{
			Approvers:   staticApprovers("alice", "bob"),
			RequiresAll: true,
			Timeout:     time.Hour,
			Escalation:  &domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &alice},
		}))
		inst := startFor(t, env, "esc", nil)
		tasks := env.store.tasksByApprover(inst.ID)
		_, err := env.engine.DecideTask(ctx, tasks["alice"].ID, "alice", entity.DecisionApprove, "")
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)
		escalated, err := env.engine.EscalateTask(ctx, tasks["bob"].ID)
		require.NoError(t, err)
		require.True(t, escalated)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateRunning, got.Status, "bob's approval has not been given yet")

		replacement := env.store.tasksByApprover(inst.ID)["alice"]
		require.NotEqual(t, tasks["alice"].ID, replacement.ID)
		assert.Equal(t, tasks["bob"].ID, replacement.EscalatedFrom)

		state, err := env.engine.DecideTask(ctx, replacement.ID, "alice", entity.DecisionApprove, "on bob's behalf")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, state)
	})

	t.Run("target holding a pending task fails unanimous node", func(t *testing.T) {
		env := newTestEnv(approvalDef("esc", domainwf.ApprovalConfig{
			Approvers:   staticApprovers("alice", "bob"),
			RequiresAll: true,
			Timeout:     time.Hour,
			Escalation:  &domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &alice},
		}))
		inst := startFor(t, env, "esc", nil)
		bob := env.store.tasksByApprover(inst.ID)["bob"]

		env.clock.Advance(2 * time.Hour)
		_, err := env.engine.EscalateTask(ctx, bob.ID)
		require.NoError(t, err)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateError, got.Status)
		assert.Contains(t, got.Instance.Reason, "already holds")
		assert.NotEqual(t, domainwf.TaskEscalated, env.store.tasksByApprover(inst.ID)["bob"].Status)
	})

	t.Run("target holding a pending task merges under any-one", func(t *testing.T) {
		env := newTestEnv(approvalDef("esc", domainwf.ApprovalConfig{
			Approvers:  staticApprovers("alice", "bob"),
			Timeout:    time.Hour,
			Escalation: &domainwf.EscalationPolicy{Action: domainwf.EscalateReassign, Target: &alice},
		}))
		inst := startFor(t, env, "esc", nil)
		tasks := env.store.tasksByApprover(inst.ID)

		env.clock.Advance(2 * time.Hour)
		escalated, err := env.engine.EscalateTask(ctx, tasks["bob"].ID)
		require.NoError(t, err)
		require.True(t, escalated)

		got, err := env.engine.GetInstanceState(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateRunning, got.Status)
		assert.Equal(t, domainwf.TaskPending, env.store.tasksByApprover(inst.ID)["alice"].Status)

		state, err := env.engine.DecideTask(ctx, tasks["alice"].ID, "alice", entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, state)
	})
}

func TestEngine_RetriesLostUpdate(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")}))
	ctx := context.Background()
	inst := startFor(t, env, "any", nil)
	task := env.store.tasksByApprover(inst.ID)["alice"]

	env.store.mu.Lock()
	env.store.loseUpdates = 1
	env.store.mu.Unlock()

	state, err := env.engine.DecideTask(ctx, task.ID, "alice", entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, state)

	// The losing attempt rolled back, so the decision was recorded once.
	assert.Equal(t, 1, env.store.countEvents(event.TypeTaskDecided))
	assert.Equal(t, 1, env.store.countEvents(event.TypeInstanceCompleted))
}

func TestEngine_RetriesTransactionConflict(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")}))
	ctx := context.Background()
	inst := startFor(t, env, "any", nil)
	task := env.store.tasksByApprover(inst.ID)["alice"]

	env.store.mu.Lock()
	env.store.abortCommits = 1
	env.store.mu.Unlock()

	state, err := env.engine.DecideTask(ctx, task.ID, "alice", entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, state)
	assert.Equal(t, 1, env.store.countEvents(event.TypeTaskDecided))
	assert.Equal(t, domainwf.TaskApproved, env.store.tasksByApprover(inst.ID)["alice"].Status)
}

func TestEngine_GivesUpAfterConflictRetries(t *testing.T) {
	env := newTestEnv(approvalDef("any", domainwf.ApprovalConfig{Approvers: staticApprovers("alice")}))
	ctx := context.Background()
	inst := startFor(t, env, "any", nil)
	task := env.store.tasksByApprover(inst.ID)["alice"]

	env.store.mu.Lock()
	env.store.loseUpdates = 100
	env.store.mu.Unlock()

	_, err := env.engine.DecideTask(ctx, task.ID, "alice", entity.DecisionApprove, "")
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))
	assert.Equal(t, domainwf.TaskPending, env.store.tasksByApprover(inst.ID)["alice"].Status)
}

func TestEngine_ListInstances(t *testing.T) {
	env := newTestEnv(expenseDef())
	ctx := context.Background()

	startFor(t, env, "expense", map[string]interface{}{"amount": 10})
	startFor(t, env, "expense", map[string]interface{}{"amount": 10000})

	running, err := env.engine.ListInstances(ctx, entity.InstanceFilter{Status: domainwf.StateRunning})
	require.NoError(t, err)
	assert.Len(t, running, 1)

	all, err := env.engine.ListInstances(ctx, entity.InstanceFilter{EntityType: "leave_request"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
