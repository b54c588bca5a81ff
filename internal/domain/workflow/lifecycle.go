package workflow

var (
	instanceLifecycle = buildInstanceLifecycle()
	taskLifecycle     = buildTaskLifecycle()
)

func buildInstanceLifecycle() *StateMachineBuilder[State, Trigger] {
	b := NewBuilder[State, Trigger](State.IsValid)
	b.Configure(StateRunning).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled).
		Permit(TriggerFail, StateError)
	return b
}

func buildTaskLifecycle() *StateMachineBuilder[TaskState, TaskTrigger] {
	b := NewBuilder[TaskState, TaskTrigger](TaskState.IsValid)
	b.Configure(TaskPending).
		Permit(TaskTriggerApprove, TaskApproved).
		Permit(TaskTriggerReject, TaskRejected).
		Permit(TaskTriggerEscalate, TaskEscalated).
		Permit(TaskTriggerExpire, TaskExpired)
	return b
}

// InstanceMachine returns a lifecycle machine positioned at the given state
func InstanceMachine(current State) (StateMachine[State, Trigger], error) {
	return instanceLifecycle.Build(current)
}

// TaskMachine returns a lifecycle machine positioned at the given state
func TaskMachine(current TaskState) (StateMachine[TaskState, TaskTrigger], error) {
	return taskLifecycle.Build(current)
}

// TerminalTrigger maps an end-node outcome to the instance trigger that reaches it
func TerminalTrigger(target State) (Trigger, bool) {
	switch target {
	case StateCompleted:
		return TriggerComplete, true
	case StateRejected:
		return TriggerReject, true
	case StateCancelled:
		return TriggerCancel, true
	case StateError:
		return TriggerFail, true
	}
	return "", false
}

// TaskTriggerFor maps a target task state to the trigger that reaches it
func TaskTriggerFor(target TaskState) (TaskTrigger, bool) {
	switch target {
	case TaskApproved:
		return TaskTriggerApprove, true
	case TaskRejected:
		return TaskTriggerReject, true
	case TaskEscalated:
		return TaskTriggerEscalate, true
	case TaskExpired:
		return TaskTriggerExpire, true
	}
	return "", false
}
