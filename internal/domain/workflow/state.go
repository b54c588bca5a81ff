package workflow

// State is the lifecycle status of a workflow instance
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

var validStates = map[State]bool{
	StateRunning:   true,
	StateCompleted: true,
	StateRejected:  true,
	StateCancelled: true,
	StateError:     true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateRejected:  true,
	StateCancelled: true,
	StateError:     true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid instance state
func (s State) IsValid() bool {
	return validStates[s]
}

// TaskState is the lifecycle status of an approval task
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskApproved  TaskState = "approved"
	TaskRejected  TaskState = "rejected"
	TaskEscalated TaskState = "escalated"
	TaskExpired   TaskState = "expired"
)

var validTaskStates = map[TaskState]bool{
	TaskPending:   true,
	TaskApproved:  true,
	TaskRejected:  true,
	TaskEscalated: true,
	TaskExpired:   true,
}

// IsTerminal returns true once a task can no longer be decided or escalated
func (s TaskState) IsTerminal() bool {
	return validTaskStates[s] && s != TaskPending
}

// String returns the string representation of the state
func (s TaskState) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid task state
func (s TaskState) IsValid() bool {
	return validTaskStates[s]
}
