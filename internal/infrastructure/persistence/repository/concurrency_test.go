package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashour158/People-sub002/internal/application/outbox"
	appwf "github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/workflow"
)

const unanimousYAML = `
name: unanimous
nodes:
  - id: start
    type: start
  - id: board
    type: approval
    approval:
      approvers:
        kind: static_user
        users: [%s]
      requires_all: true
  - id: done
    type: end
edges:
  - from: start
    to: board
  - from: board
    to: done
`

type noDirectory struct{}

func (noDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}

func (noDirectory) ReportingManager(ctx context.Context, userID string) (string, error) {
	return "", nil
}

// testConcurrentDecisions approves every task of a unanimous node at once.
// Every decision must succeed and the instance must complete.
func testConcurrentDecisions(t *testing.T, r *repos) {
	ctx := context.Background()
	approvers := []string{"a1", "a2", "a3", "a4", "a5", "a6"}

	def, err := workflow.ParseDefinition([]byte(fmt.Sprintf(unanimousYAML, strings.Join(approvers, ", "))))
	require.NoError(t, err)
	def.ID = uuid.NewString()
	def.Version = 1
	def.IsActive = true
	def.CreatedAt = baseTime
	require.NoError(t, r.defs.Create(ctx, def))

	engine := appwf.NewEngine(r.defs, r.instances, r.tasks, r.db, outbox.NewPublisher(r.events), noDirectory{},
		appwf.WithConflictRetries(10))

	inst, err := engine.StartWorkflow(ctx, appwf.StartRequest{
		DefinitionID: def.ID,
		EntityType:   "policy",
		EntityID:     "pol-1",
	})
	require.NoError(t, err)

	tasks, err := r.tasks.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, tasks, len(approvers))

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *entity.Task) {
			defer wg.Done()
			_, errs[i] = engine.DecideTask(ctx, task.ID, task.ApproverID, entity.DecisionApprove, "")
		}(i, task)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "approver %s", tasks[i].ApproverID)
	}

	got, err := r.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, got.Status)

	tasks, err = r.tasks.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, workflow.TaskApproved, task.Status, "approver %s", task.ApproverID)
	}
}
