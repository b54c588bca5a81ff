package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashour158/People-sub002/internal/application/dispatcher"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

const leaveSubmitted event.Type = "leave.request.submitted"

func TestRegisterTriggers(t *testing.T) {
	env := newTestEnv(approvalDef("leave", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
		Kind:    domainwf.ResolveReportingManager,
		Subject: "payload.employee_id",
	}}))
	reg := dispatcher.NewRegistry()
	RegisterTriggers(reg, env.engine, EventTrigger{
		EventType:      leaveSubmitted,
		DefinitionName: "leave",
		EntityType:     "leave_request",
	})

	handlers := reg.ListHandlers(leaveSubmitted)
	require.Len(t, handlers, 1)
	assert.Equal(t, "start:leave", handlers[0].Name)

	rec := event.NewRecord("leave_request", "lr-7", leaveSubmitted, map[string]interface{}{
		"employee_id": "emp-1",
		"days":        3,
	})
	ctx := context.Background()
	require.NoError(t, reg.Invoke(ctx, rec))

	// Redelivery of the same event is absorbed by the trigger key.
	require.NoError(t, reg.Invoke(ctx, rec))
	assert.Equal(t, 1, env.store.instanceCount())

	instances, err := env.engine.ListInstances(ctx, entity.InstanceFilter{EntityID: "lr-7"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	inst := instances[0]
	assert.Equal(t, "leave_request", inst.EntityType)
	assert.Equal(t, rec.ID, inst.TriggerKey)
	assert.Equal(t, "emp-1", inst.Context["payload"].(map[string]interface{})["employee_id"])
	assert.Contains(t, env.store.tasksByApprover(inst.ID), "mgr-1")
}

func TestRegisterTriggers_Classification(t *testing.T) {
	env := newTestEnv(approvalDef("leave", domainwf.ApprovalConfig{Approvers: domainwf.ApproverResolution{
		Kind: domainwf.ResolveRole,
		Role: "hr",
	}}))
	reg := dispatcher.NewRegistry()
	RegisterTriggers(reg, env.engine,
		EventTrigger{EventType: "leave.missing_definition", DefinitionName: "nope"},
		EventTrigger{EventType: leaveSubmitted, DefinitionName: "leave", EntityIDField: "request_id"},
	)
	ctx := context.Background()

	err := reg.Invoke(ctx, event.NewRecord("leave_request", "lr-1", "leave.missing_definition", nil))
	assert.True(t, dispatcher.IsPermanent(err))

	err = reg.Invoke(ctx, event.NewRecord("leave_request", "lr-1", leaveSubmitted, map[string]interface{}{}))
	assert.True(t, dispatcher.IsPermanent(err), "missing entity id field")

	env.dir.err = errDirectoryDown
	err = reg.Invoke(ctx, event.NewRecord("leave_request", "lr-1", leaveSubmitted, map[string]interface{}{"request_id": "lr-1"}))
	require.Error(t, err)
	assert.False(t, dispatcher.IsPermanent(err))
	assert.ErrorIs(t, err, errDirectoryDown)
}
